package telemetry

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// memoryExporter keeps exported log bodies
type memoryExporter struct {
	mu     sync.Mutex
	bodies []string
}

func (e *memoryExporter) Export(_ context.Context, records []sdklog.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range records {
		e.bodies = append(e.bodies, r.Body().AsString())
	}
	return nil
}

func (e *memoryExporter) Shutdown(context.Context) error   { return nil }
func (e *memoryExporter) ForceFlush(context.Context) error { return nil }

func (e *memoryExporter) exported() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.bodies...)
}

func newTestLoggerProvider(t *testing.T) (*LoggerProvider, *memoryExporter) {
	t.Helper()
	exp := &memoryExporter{}
	lp := &LoggerProvider{
		provider: sdklog.NewLoggerProvider(sdklog.WithProcessor(sdklog.NewSimpleProcessor(exp))),
		config:   LogsConfig{Enabled: true},
	}
	t.Cleanup(func() { _ = lp.Shutdown(context.Background()) })
	return lp, exp
}

func TestLoggerProvider_Disabled(t *testing.T) {
	lp, err := NewLoggerProvider(context.Background(), LogsConfig{Enabled: false}, zap.NewNop())
	require.NoError(t, err)

	assert.False(t, lp.IsEnabled())
	assert.NoError(t, lp.Shutdown(context.Background()))

	base := zap.NewNop()
	assert.Same(t, base, lp.Bridge(base, "packr-sync"))
}

func TestLoggerProvider_BridgeExportsAndKeepsBase(t *testing.T) {
	lp, exp := newTestLoggerProvider(t)

	core, logs := observer.New(zapcore.InfoLevel)
	log := lp.Bridge(zap.New(core), "packr-sync")

	log.Info("Sync run completed", zap.String("entity_type", "orders"))
	log.Debug("Page fetched")
	log.With(zap.String("tenant_id", "t1")).Warn("Retrying request")

	assert.Equal(t, 2, logs.Len(), "base core still receives entries")
	assert.Equal(t, []string{"Sync run completed", "Retrying request"}, exp.exported())
}
