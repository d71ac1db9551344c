package telemetry_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firewatch/firewatch/internal/telemetry"
)

func TestInit_Disabled(t *testing.T) {
	ctx := context.Background()

	provider, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:  "firewatch-test",
		OTLPEndpoint: "localhost:4317",
		Enabled:      false,
	})
	require.NoError(t, err)
	require.NotNil(t, provider.Meter)

	counter, err := provider.Meter.Int64Counter("firewatch.test.cycles")
	require.NoError(t, err)
	counter.Add(ctx, 1)

	assert.NoError(t, provider.Shutdown(ctx))
	assert.NoError(t, provider.Shutdown(ctx), "shutdown is idempotent")
}

func TestInit_EnabledShutsDown(t *testing.T) {
	ctx := context.Background()

	// gRPC dials lazily, so no collector is needed to build the exporters.
	provider, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    "firewatch-test",
		ServiceVersion: "1.2.3",
		Environment:    "test",
		OTLPEndpoint:   "127.0.0.1:1",
		Enabled:        true,
		SampleRatio:    0.5,
	})
	require.NoError(t, err)
	require.NotNil(t, provider.Meter)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_ = provider.Shutdown(cancelled)
}

func TestProvider_ZeroValueShutdown(t *testing.T) {
	assert.NoError(t, (&telemetry.Provider{}).Shutdown(context.Background()))
}

func TestSampler(t *testing.T) {
	tests := []struct {
		ratio float64
		want  string
	}{
		{ratio: 0, want: "AlwaysOnSampler"},
		{ratio: -1, want: "AlwaysOnSampler"},
		{ratio: 1, want: "AlwaysOnSampler"},
		{ratio: 0.25, want: "TraceIDRatioBased{0.25}"},
	}

	for _, tt := range tests {
		desc := telemetry.Sampler(tt.ratio).Description()
		assert.True(t, strings.HasPrefix(desc, "ParentBased{root:"+tt.want), desc)
	}
}
