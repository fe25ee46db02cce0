// Package wms implements integration.SourceAdapter for REST warehouse
// management systems that expose cursor-paginated entity listings.
package wms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gobbleclark/packr-cursor-sub005/internal/domain/integration"
	"go.uber.org/zap"
)

// errResponseTooLarge is returned when a body exceeds MaxResponseSize
var errResponseTooLarge = errors.New("wms: response exceeds maximum size")

// HTTPSourceAdapter talks to a generic paginated REST WMS:
//
//	GET {base}/v1/{entity}?updated_since=RFC3339&cursor=...&limit=N -> {"data":[...],"next_cursor":"..."}
//	GET {base}/v1/{entity}/{id}                                      -> {"data":{...}}
type HTTPSourceAdapter struct {
	config     *Config
	httpClient *http.Client
	limiters   *limiterSet
	logger     *zap.Logger
	now        func() time.Time
}

// Ensure HTTPSourceAdapter implements the interface
var _ integration.SourceAdapter = (*HTTPSourceAdapter)(nil)

// NewHTTPSourceAdapter creates a new adapter with the given configuration
func NewHTTPSourceAdapter(config *Config, logger *zap.Logger) (*HTTPSourceAdapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &HTTPSourceAdapter{
		config: config,
		httpClient: &http.Client{
			Timeout: config.RequestTimeout,
		},
		limiters: newLimiterSet(func() *RateLimiter {
			return NewRateLimiter(config.RateLimitPerSecond, config.RateLimitBurst, config.RateLimitBuffer, config.MaxRetryAfter)
		}),
		logger: logger.Named("wms"),
		now:    time.Now,
	}, nil
}

// Vendor returns the vendor code this adapter handles
func (a *HTTPSourceAdapter) Vendor() integration.VendorCode {
	return integration.VendorGenericREST
}

// VerifySignature checks an HMAC-SHA256 webhook signature
func (a *HTTPSourceAdapter) VerifySignature(payload []byte, signature, secret string) bool {
	return VerifyHMAC(payload, signature, secret)
}

// ---------------------------------------------------------------------------
// Listing
// ---------------------------------------------------------------------------

// ListEntities follows next_cursor from cursor until the vendor stops
// returning one or MaxPages pages were read. Records older than since are
// dropped even if the vendor ignored the updated_since filter.
func (a *HTTPSourceAdapter) ListEntities(ctx context.Context, tenant integration.Tenant, entityType integration.EntityType, since time.Time, cursor string) (*integration.ListResult, error) {
	if !entityType.IsValid() {
		return nil, integration.ErrInvalidEntityType
	}

	result := &integration.ListResult{}
	next := cursor
	dropped := 0
	for {
		if result.Pages >= a.config.MaxPages {
			result.PossibleTruncation = true
			result.NextCursor = next
			a.logger.Warn("Page limit reached with cursor remaining",
				zap.String("tenant_id", tenant.ID.String()),
				zap.String("entity_type", entityType.String()),
				zap.Int("pages", result.Pages))
			break
		}

		page, err := a.fetchPage(ctx, tenant, entityType, since, next)
		if err != nil {
			return nil, err
		}
		result.Pages++

		for _, data := range page.Data {
			raw, err := a.DecodeRecord(entityType, data)
			if err != nil {
				// Reconciliation reports it as a record error and writes nothing.
				raw = &integration.RawRecord{ExternalID: peekID(data), Payload: data, DecodeErr: err}
				a.logger.Warn("Failed to decode vendor record",
					zap.String("tenant_id", tenant.ID.String()),
					zap.String("entity_type", entityType.String()),
					zap.String("external_id", raw.ExternalID),
					zap.Error(err))
			}
			if !since.IsZero() && raw.UpdatedAtRemote != nil && raw.UpdatedAtRemote.Before(since) {
				dropped++
				continue
			}
			result.Records = append(result.Records, *raw)
		}

		if page.NextCursor == "" {
			if a.config.isTruncationCap(len(page.Data)) {
				result.PossibleTruncation = true
				a.logger.Warn("Page size equals vendor cap without a cursor; result may be truncated",
					zap.String("tenant_id", tenant.ID.String()),
					zap.String("entity_type", entityType.String()),
					zap.Int("page_records", len(page.Data)))
			}
			break
		}
		next = page.NextCursor
	}

	if dropped > 0 {
		a.logger.Debug("Dropped records older than window",
			zap.String("tenant_id", tenant.ID.String()),
			zap.String("entity_type", entityType.String()),
			zap.Int("dropped", dropped))
	}
	return result, nil
}

func (a *HTTPSourceAdapter) fetchPage(ctx context.Context, tenant integration.Tenant, entityType integration.EntityType, since time.Time, cursor string) (*listResponse, error) {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(a.config.PageSize))
	if !since.IsZero() {
		query.Set("updated_since", since.UTC().Format(time.RFC3339))
	}
	if cursor != "" {
		query.Set("cursor", cursor)
	}

	op := "list " + entityType.String()
	body, err := a.doRequest(ctx, tenant, op, "/v1/"+entityType.String(), query)
	if err != nil {
		return nil, err
	}

	var page listResponse
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, integration.NewPermanentSourceError(op, http.StatusOK, fmt.Errorf("malformed response: %w", err))
	}
	return &page, nil
}

// FetchOne loads a single entity by its vendor ID
func (a *HTTPSourceAdapter) FetchOne(ctx context.Context, tenant integration.Tenant, entityType integration.EntityType, externalID string) (*integration.RawRecord, error) {
	if !entityType.IsValid() {
		return nil, integration.ErrInvalidEntityType
	}
	if strings.TrimSpace(externalID) == "" {
		return nil, fmt.Errorf("%w: missing external ID", integration.ErrInvalidRecord)
	}

	op := "fetch " + entityType.String()
	body, err := a.doRequest(ctx, tenant, op, "/v1/"+entityType.String()+"/"+url.PathEscape(externalID), nil)
	if err != nil {
		return nil, err
	}

	var single singleResponse
	if err := json.Unmarshal(body, &single); err != nil || len(single.Data) == 0 {
		if err == nil {
			err = errors.New("missing data")
		}
		return nil, integration.NewPermanentSourceError(op, http.StatusOK, fmt.Errorf("malformed response: %w", err))
	}
	return a.DecodeRecord(entityType, single.Data)
}

// ---------------------------------------------------------------------------
// Decoding
// ---------------------------------------------------------------------------

// DecodeRecord turns one vendor entity into a RawRecord with its children
func (a *HTTPSourceAdapter) DecodeRecord(entityType integration.EntityType, data json.RawMessage) (*integration.RawRecord, error) {
	var wire wireRecord
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", integration.ErrInvalidRecord, err)
	}
	updatedAt, err := parseTimestamp(wire.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: updated_at: %v", integration.ErrInvalidRecord, err)
	}

	raw := &integration.RawRecord{
		ExternalID:      strings.TrimSpace(string(wire.ID)),
		VendorStatus:    wire.Status,
		UpdatedAtRemote: updatedAt,
		Payload:         data,
	}

	var items []json.RawMessage
	switch entityType.ChildKind() {
	case integration.ChildKindLineItem:
		items = wire.LineItems
	case integration.ChildKindTrackingEvent:
		items = wire.TrackingEvents
	case integration.ChildKindInboundLine:
		items = wire.Lines
	}
	for i, item := range items {
		child, err := decodeChild(entityType.ChildKind(), i, item)
		if err != nil {
			return nil, err
		}
		raw.Children = append(raw.Children, child)
	}
	return raw, nil
}

func decodeChild(kind integration.ChildKind, position int, data json.RawMessage) (integration.ChildRecord, error) {
	var wire wireChild
	if err := json.Unmarshal(data, &wire); err != nil {
		return integration.ChildRecord{}, fmt.Errorf("%w: %s[%d]: %v", integration.ErrInvalidRecord, kind, position, err)
	}
	occurredAt, err := parseTimestamp(wire.OccurredAt)
	if err != nil {
		return integration.ChildRecord{}, fmt.Errorf("%w: %s[%d].occurred_at: %v", integration.ErrInvalidRecord, kind, position, err)
	}
	child := integration.ChildRecord{
		Kind:       kind,
		Position:   position,
		ExternalID: string(wire.ID),
		SKU:        wire.SKU,
		Status:     wire.Status,
		OccurredAt: occurredAt,
		Payload:    data,
	}
	if wire.Quantity.Valid {
		child.Quantity = wire.Quantity.Decimal
	}
	return child, nil
}

// peekID extracts the id of an entity that failed to decode, for error reports
func peekID(data json.RawMessage) string {
	var head struct {
		ID flexString `json:"id"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return ""
	}
	return string(head.ID)
}

// ---------------------------------------------------------------------------
// Transport
// ---------------------------------------------------------------------------

// doRequest performs a GET with per-tenant throttling and retries transient
// failures. Permanent failures return immediately.
func (a *HTTPSourceAdapter) doRequest(ctx context.Context, tenant integration.Tenant, op, path string, query url.Values) ([]byte, error) {
	baseURL := tenant.Credentials.BaseURL
	if baseURL == "" {
		baseURL = a.config.BaseURL
	}
	if baseURL == "" {
		return nil, integration.NewPermanentSourceError(op, 0, errors.New("no base URL configured"))
	}
	endpoint := strings.TrimRight(baseURL, "/") + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	limiter := a.limiters.get(tenant.ID)
	hinted, policy := a.config.newRetryPolicy(ctx)
	attempt := 0

	var body []byte
	operation := func() error {
		attempt++
		if err := limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		b, err := a.send(ctx, tenant, op, endpoint, limiter)
		if err == nil {
			body = b
			return nil
		}

		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		var srcErr *integration.SourceError
		if errors.As(err, &srcErr) && !srcErr.Transient {
			return backoff.Permanent(err)
		}
		if srcErr != nil && srcErr.RetryAfter > 0 {
			hinted.setHint(min(srcErr.RetryAfter, a.config.MaxRetryAfter))
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		a.logger.Warn("Retrying WMS request",
			zap.String("tenant_id", tenant.ID.String()),
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
	}

	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return nil, err
	}
	return body, nil
}

// send performs one HTTP round trip and classifies the outcome
func (a *HTTPSourceAdapter) send(ctx context.Context, tenant integration.Tenant, op, endpoint string, limiter *RateLimiter) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, integration.NewPermanentSourceError(op, 0, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if tenant.Credentials.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+tenant.Credentials.AccessToken)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, integration.NewTransientSourceError(op, 0, err)
	}
	defer resp.Body.Close()
	limiter.Update(resp)

	body, err := io.ReadAll(io.LimitReader(resp.Body, a.config.MaxResponseSize+1))
	if err != nil {
		return nil, integration.NewTransientSourceError(op, resp.StatusCode, fmt.Errorf("read response: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		srcErr := integration.NewTransientSourceError(op, resp.StatusCode, errors.New("rate limited"))
		srcErr.RetryAfter = ParseRetryAfter(resp.Header.Get(HeaderRetryAfter), a.now())
		return nil, srcErr
	case resp.StatusCode >= 500:
		return nil, integration.NewTransientSourceError(op, resp.StatusCode, fmt.Errorf("server error: %s", snippet(body)))
	case resp.StatusCode == http.StatusNotFound:
		return nil, integration.NewPermanentSourceError(op, resp.StatusCode, integration.ErrRecordNotFound)
	case resp.StatusCode >= 400:
		return nil, integration.NewPermanentSourceError(op, resp.StatusCode, fmt.Errorf("client error: %s", snippet(body)))
	}

	if int64(len(body)) > a.config.MaxResponseSize {
		return nil, integration.NewPermanentSourceError(op, resp.StatusCode, errResponseTooLarge)
	}
	return body, nil
}

// snippet trims a response body for error messages
func snippet(body []byte) string {
	const maxLen = 256
	s := strings.TrimSpace(string(body))
	if len(s) > maxLen {
		return s[:maxLen] + "..."
	}
	return s
}
