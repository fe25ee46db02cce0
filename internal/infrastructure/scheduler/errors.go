package scheduler

import "errors"

var (
	// ErrInvalidConfig is returned when configuration is invalid
	ErrInvalidConfig = errors.New("invalid scheduler configuration")

	// ErrInvalidLookback is returned when a manual lookback is outside 1..365 days
	ErrInvalidLookback = errors.New("lookback days must be between 1 and 365")

	// ErrAllEntitiesRunning is returned by a manual sync when every requested
	// entity type already had a run in flight
	ErrAllEntitiesRunning = errors.New("sync already running for every requested entity type")
)
