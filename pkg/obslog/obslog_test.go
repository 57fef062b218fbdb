package obslog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, "afu9-control-center", cfg.ServiceName)
	require.Equal(t, "development", cfg.Environment)
	require.False(t, cfg.Enabled)
	require.True(t, cfg.Insecure)
}

func TestNewProviderDisabled(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false, LogLevel: "INFO"})
	require.NoError(t, err)
	require.NotNil(t, p)
	require.NotNil(t, p.Logger())

	// Shutdown must be a no-op when no exporters were started.
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestNewProviderNilConfigUsesDefaults(t *testing.T) {
	p, err := New(context.Background(), nil)
	require.NoError(t, err)
	require.NotNil(t, p)
}

func TestTrackOperationRecordsSuccessAndFailure(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false, LogLevel: "DEBUG"})
	require.NoError(t, err)

	_, done := p.TrackOperation(context.Background(), "issue.transition")
	done(nil)

	_, done2 := p.TrackOperation(context.Background(), "issue.transition")
	done2(context.DeadlineExceeded)
}

func TestRecordDecisionAndTransitionNoopWhenDisabled(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	// Counters are nil when tracing/metrics are disabled; these must not panic.
	p.RecordDecision(context.Background(), "automation", "ALLOW")
	p.RecordTransition(context.Background(), "RUNNING", "DONE")
}
