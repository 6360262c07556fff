package observability

import (
	"context"
	"testing"

	"wealthwars/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	totals := make(map[string]int64)
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				totals[m.Name] += dp.Value
			}
		}
	}
	return totals
}

func TestMetricsProvider_RecordsCounters(t *testing.T) {
	t.Parallel()
	reader := sdkmetric.NewManualReader()
	mp := NewMetricsProvider(config.NewTestConfig())
	require.NoError(t, mp.InitializeWithReader(reader))

	mp.RecordLinkAttempt("ok")
	mp.RecordLinkAttempt("signature_invalid")
	mp.RecordBalanceLookup("live")
	mp.RecordEntry(7, 1_000_000)
	mp.RecordEntry(7, 2_000_000)
	mp.RecordRoundTransition("SETTLED")
	mp.RecordClaim("payout", "ok")

	totals := collect(t, reader)
	assert.Equal(t, int64(2), totals[LinkAttemptsTotal])
	assert.Equal(t, int64(1), totals[BalanceLookupsTotal])
	assert.Equal(t, int64(2), totals[EntriesTotal])
	assert.Equal(t, int64(3_000_000), totals[StakedTotal])
	assert.Equal(t, int64(1), totals[RoundTransitionsTotal])
	assert.Equal(t, int64(1), totals[ClaimsTotal])
}

func TestMetricsProvider_DisabledIsNoop(t *testing.T) {
	t.Parallel()
	cfg := config.NewTestConfig()
	cfg.OTelEnabled = false
	mp := NewMetricsProvider(cfg)
	require.NoError(t, mp.Initialize(context.Background()))

	assert.NotPanics(t, func() {
		mp.RecordClaim("refund", "ok")
		mp.RecordEntry(1, 10)
	})
	assert.NoError(t, mp.Shutdown(context.Background()))
}

func TestMetricsProvider_UnknownExporter(t *testing.T) {
	t.Parallel()
	cfg := config.NewTestConfig()
	cfg.OTelEnabled = true
	cfg.OTelExporterType = "carrier-pigeon"
	mp := NewMetricsProvider(cfg)
	assert.Error(t, mp.Initialize(context.Background()))
}
