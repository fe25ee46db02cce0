package wms

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// listResponse is the body of GET {base}/v1/{entity}
type listResponse struct {
	Data       []json.RawMessage `json:"data"`
	NextCursor string            `json:"next_cursor"`
}

// singleResponse is the body of GET {base}/v1/{entity}/{id}
type singleResponse struct {
	Data json.RawMessage `json:"data"`
}

// wireRecord holds the fields every vendor entity shares
type wireRecord struct {
	ID             flexString        `json:"id"`
	Status         string            `json:"status"`
	UpdatedAt      string            `json:"updated_at"`
	LineItems      []json.RawMessage `json:"line_items"`
	TrackingEvents []json.RawMessage `json:"tracking_events"`
	Lines          []json.RawMessage `json:"lines"`
}

// wireChild holds the fields of a line item, tracking event or inbound line
type wireChild struct {
	ID         flexString          `json:"id"`
	SKU        string              `json:"sku"`
	Quantity   decimal.NullDecimal `json:"quantity"`
	Status     string              `json:"status"`
	OccurredAt string              `json:"occurred_at"`
}

// flexString accepts IDs sent either as JSON strings or numbers
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*f = flexString(n.String())
	return nil
}

// parseTimestamp parses an optional RFC 3339 timestamp
func parseTimestamp(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, err
	}
	t = t.UTC()
	return &t, nil
}
