package wms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gobbleclark/packr-cursor-sub005/internal/domain/integration"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig(baseURL string) *Config {
	return &Config{
		BaseURL:              baseURL,
		RequestTimeout:       5 * time.Second,
		PageSize:             100,
		MaxPages:             10,
		TruncationCaps:       []int{1000},
		MaxResponseSize:      1 << 20,
		RetryInitialInterval: time.Millisecond,
		RetryMaxInterval:     5 * time.Millisecond,
		RetryMultiplier:      2,
		RetryJitter:          0,
		RetryMaxAttempts:     3,
		MaxRetryAfter:        20 * time.Millisecond,
		RateLimitPerSecond:   1000,
		RateLimitBurst:       100,
		RateLimitBuffer:      0,
	}
}

func newTestAdapter(t *testing.T, cfg *Config) *HTTPSourceAdapter {
	t.Helper()
	adapter, err := NewHTTPSourceAdapter(cfg, zap.NewNop())
	require.NoError(t, err)
	return adapter
}

func testTenant(baseURL string) integration.Tenant {
	return integration.Tenant{
		ID:           uuid.New(),
		ConnectionID: "conn-1",
		Vendor:       integration.VendorGenericREST,
		Credentials:  integration.Credentials{AccessToken: "secret-token", BaseURL: baseURL},
	}
}

func orderJSON(id string, updatedAt string) string {
	return fmt.Sprintf(`{"id":%q,"status":"open","updated_at":%q,"line_items":[{"sku":"SKU-1","quantity":2}]}`, id, updatedAt)
}

func writePage(w http.ResponseWriter, records []string, next string) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"data":[%s],"next_cursor":%q}`, strings.Join(records, ","), next)
}

func TestHTTPSourceAdapter_ListEntities(t *testing.T) {
	ctx := context.Background()

	t.Run("follows cursors and filters by since", func(t *testing.T) {
		var requests []*http.Request
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requests = append(requests, r)
			assert.Equal(t, "/v1/orders", r.URL.Path)
			assert.Equal(t, "Bearer secret-token", r.Header.Get("Authorization"))
			switch r.URL.Query().Get("cursor") {
			case "":
				writePage(w, []string{orderJSON("A", "2024-05-01T10:00:00Z"), orderJSON("B", "2024-04-01T00:00:00Z")}, "page-2")
			case "page-2":
				writePage(w, []string{orderJSON("C", "2024-05-02T10:00:00Z")}, "")
			}
		}))
		defer server.Close()

		adapter := newTestAdapter(t, testConfig(server.URL))
		since := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
		result, err := adapter.ListEntities(ctx, testTenant(server.URL), integration.EntityTypeOrders, since, "")
		require.NoError(t, err)

		assert.Equal(t, 2, result.Pages)
		assert.False(t, result.PossibleTruncation)
		assert.Empty(t, result.NextCursor)
		require.Len(t, result.Records, 2)
		assert.Equal(t, "A", result.Records[0].ExternalID)
		assert.Equal(t, "C", result.Records[1].ExternalID)
		require.Len(t, result.Records[0].Children, 1)
		assert.Equal(t, integration.ChildKindLineItem, result.Records[0].Children[0].Kind)
		assert.Equal(t, "2", result.Records[0].Children[0].Quantity.String())

		require.Len(t, requests, 2)
		assert.Equal(t, "2024-05-01T00:00:00Z", requests[0].URL.Query().Get("updated_since"))
		assert.Equal(t, "100", requests[0].URL.Query().Get("limit"))
	})

	t.Run("exactly the truncation cap without a cursor flags possible truncation", func(t *testing.T) {
		records := make([]string, 1000)
		for i := range records {
			records[i] = orderJSON(fmt.Sprintf("O-%d", i), "2024-05-01T10:00:00Z")
		}
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writePage(w, records, "")
		}))
		defer server.Close()

		adapter := newTestAdapter(t, testConfig(server.URL))
		result, err := adapter.ListEntities(ctx, testTenant(server.URL), integration.EntityTypeOrders, time.Time{}, "")
		require.NoError(t, err)
		assert.Len(t, result.Records, 1000)
		assert.True(t, result.PossibleTruncation)
	})

	t.Run("page limit stops with the remaining cursor", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			n := calls.Add(1)
			writePage(w, []string{orderJSON(fmt.Sprintf("P-%d", n), "2024-05-01T10:00:00Z")}, fmt.Sprintf("c-%d", n))
		}))
		defer server.Close()

		cfg := testConfig(server.URL)
		cfg.MaxPages = 3
		adapter := newTestAdapter(t, cfg)
		result, err := adapter.ListEntities(ctx, testTenant(server.URL), integration.EntityTypeOrders, time.Time{}, "")
		require.NoError(t, err)
		assert.Equal(t, 3, result.Pages)
		assert.True(t, result.PossibleTruncation)
		assert.Equal(t, "c-3", result.NextCursor)
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("undecodable records carry their decode error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writePage(w, []string{`{"id":"BAD","updated_at":"yesterday"}`, `"not an object"`}, "")
		}))
		defer server.Close()

		adapter := newTestAdapter(t, testConfig(server.URL))
		result, err := adapter.ListEntities(ctx, testTenant(server.URL), integration.EntityTypeOrders, time.Time{}, "")
		require.NoError(t, err)
		require.Len(t, result.Records, 2)
		assert.Equal(t, "BAD", result.Records[0].ExternalID)
		assert.Empty(t, result.Records[1].ExternalID)
		for _, raw := range result.Records {
			require.Error(t, raw.DecodeErr)
			assert.ErrorIs(t, raw.Validate(), integration.ErrInvalidRecord)
		}
	})

	t.Run("rejects unknown entity type", func(t *testing.T) {
		adapter := newTestAdapter(t, testConfig("http://127.0.0.1:1"))
		_, err := adapter.ListEntities(ctx, testTenant(""), integration.EntityType("invoices"), time.Time{}, "")
		assert.ErrorIs(t, err, integration.ErrInvalidEntityType)
	})
}

func TestHTTPSourceAdapter_Retries(t *testing.T) {
	ctx := context.Background()

	t.Run("retries server errors then succeeds", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			writePage(w, []string{orderJSON("A", "2024-05-01T10:00:00Z")}, "")
		}))
		defer server.Close()

		adapter := newTestAdapter(t, testConfig(server.URL))
		result, err := adapter.ListEntities(ctx, testTenant(server.URL), integration.EntityTypeOrders, time.Time{}, "")
		require.NoError(t, err)
		assert.Len(t, result.Records, 1)
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("exhausted retries surface a transient error", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		adapter := newTestAdapter(t, testConfig(server.URL))
		_, err := adapter.ListEntities(ctx, testTenant(server.URL), integration.EntityTypeOrders, time.Time{}, "")
		require.Error(t, err)
		assert.ErrorIs(t, err, integration.ErrTransientSource)
		assert.True(t, integration.IsTransient(err))
		assert.Equal(t, int32(3), calls.Load())

		var srcErr *integration.SourceError
		require.True(t, errors.As(err, &srcErr))
		assert.Equal(t, http.StatusServiceUnavailable, srcErr.StatusCode)
	})

	t.Run("client errors are permanent and not retried", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer server.Close()

		adapter := newTestAdapter(t, testConfig(server.URL))
		_, err := adapter.ListEntities(ctx, testTenant(server.URL), integration.EntityTypeOrders, time.Time{}, "")
		assert.ErrorIs(t, err, integration.ErrPermanentSource)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("honors Retry-After on 429", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			writePage(w, nil, "")
		}))
		defer server.Close()

		adapter := newTestAdapter(t, testConfig(server.URL))
		start := time.Now()
		_, err := adapter.ListEntities(ctx, testTenant(server.URL), integration.EntityTypeOrders, time.Time{}, "")
		require.NoError(t, err)
		assert.Equal(t, int32(2), calls.Load())
		// Retry-After is capped by MaxRetryAfter (20ms in tests).
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("malformed JSON is permanent", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			_, _ = w.Write([]byte(`{"data": [`))
		}))
		defer server.Close()

		adapter := newTestAdapter(t, testConfig(server.URL))
		_, err := adapter.ListEntities(ctx, testTenant(server.URL), integration.EntityTypeOrders, time.Time{}, "")
		assert.ErrorIs(t, err, integration.ErrPermanentSource)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("oversized response is permanent", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(strings.Repeat(" ", 2048)))
		}))
		defer server.Close()

		cfg := testConfig(server.URL)
		cfg.MaxResponseSize = 1024
		adapter := newTestAdapter(t, cfg)
		_, err := adapter.ListEntities(ctx, testTenant(server.URL), integration.EntityTypeOrders, time.Time{}, "")
		assert.ErrorIs(t, err, integration.ErrPermanentSource)
	})

	t.Run("deadline surfaces as context error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
			writePage(w, nil, "")
		}))
		defer server.Close()

		adapter := newTestAdapter(t, testConfig(server.URL))
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err := adapter.ListEntities(ctx, testTenant(server.URL), integration.EntityTypeOrders, time.Time{}, "")
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, integration.SyncErrorTimeout, integration.ClassifySyncError(err))
	})
}

func TestHTTPSourceAdapter_FetchOne(t *testing.T) {
	ctx := context.Background()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/shipments/S-1":
			_, _ = w.Write([]byte(`{"data":{"id":"S-1","status":"In Transit","updated_at":"2024-05-01T10:00:00.123456Z","tracking_events":[{"status":"picked_up","occurred_at":"2024-05-01T08:00:00Z"},{"status":"in_transit","occurred_at":"2024-05-01T09:00:00Z"}]}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	adapter := newTestAdapter(t, testConfig(server.URL))
	tenant := testTenant(server.URL)

	raw, err := adapter.FetchOne(ctx, tenant, integration.EntityTypeShipments, "S-1")
	require.NoError(t, err)
	assert.Equal(t, "S-1", raw.ExternalID)
	assert.Equal(t, "In Transit", raw.VendorStatus)
	require.NotNil(t, raw.UpdatedAtRemote)
	assert.Equal(t, 123456000, raw.UpdatedAtRemote.Nanosecond())
	require.Len(t, raw.Children, 2)
	assert.Equal(t, integration.ChildKindTrackingEvent, raw.Children[1].Kind)
	assert.Equal(t, 1, raw.Children[1].Position)
	assert.Equal(t, "in_transit", raw.Children[1].Status)

	_, err = adapter.FetchOne(ctx, tenant, integration.EntityTypeShipments, "missing")
	assert.ErrorIs(t, err, integration.ErrRecordNotFound)
	assert.ErrorIs(t, err, integration.ErrPermanentSource)

	_, err = adapter.FetchOne(ctx, tenant, integration.EntityTypeShipments, " ")
	assert.ErrorIs(t, err, integration.ErrInvalidRecord)
}

func TestHTTPSourceAdapter_DecodeRecord(t *testing.T) {
	adapter := newTestAdapter(t, testConfig("http://wms.test"))

	tests := []struct {
		name       string
		entityType integration.EntityType
		data       string
		wantID     string
		wantKids   int
		wantErr    bool
	}{
		{"numeric id", integration.EntityTypeProducts, `{"id":12345,"status":"active"}`, "12345", 0, false},
		{"inbound lines", integration.EntityTypeInboundShipments, `{"id":"IN-1","lines":[{"sku":"A","quantity":"10.5"},{"sku":"B"}]}`, "IN-1", 2, false},
		{"children ignored for inventory", integration.EntityTypeInventory, `{"id":"INV-1","line_items":[{"sku":"A"}]}`, "INV-1", 0, false},
		{"bad timestamp", integration.EntityTypeOrders, `{"id":"O-1","updated_at":"not-a-time"}`, "", 0, true},
		{"not an object", integration.EntityTypeOrders, `[1,2]`, "", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := adapter.DecodeRecord(tt.entityType, json.RawMessage(tt.data))
			if tt.wantErr {
				assert.ErrorIs(t, err, integration.ErrInvalidRecord)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, raw.ExternalID)
			assert.Len(t, raw.Children, tt.wantKids)
			assert.JSONEq(t, tt.data, string(raw.Payload))
		})
	}
}

func TestHTTPSourceAdapter_VerifySignature(t *testing.T) {
	adapter := newTestAdapter(t, testConfig("http://wms.test"))
	payload := []byte(`{"event_id":"evt-1"}`)
	sig := Sign(payload, "shh")

	assert.True(t, adapter.VerifySignature(payload, sig, "shh"))
	assert.True(t, adapter.VerifySignature(payload, "sha256="+sig, "shh"))
	assert.True(t, adapter.VerifySignature(payload, strings.ToUpper(sig), "shh"))
	assert.False(t, adapter.VerifySignature(payload, sig, "other"))
	assert.False(t, adapter.VerifySignature([]byte(`{"event_id":"evt-2"}`), sig, "shh"))
	assert.False(t, adapter.VerifySignature(payload, "", "shh"))
	assert.False(t, adapter.VerifySignature(payload, sig, ""))
	assert.False(t, adapter.VerifySignature(payload, "zz-not-hex", "shh"))
}
