package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorder_ExposesRecordedSeries(t *testing.T) {
	rec := NewPrometheusRecorder()
	rec.IncCounter(EndpointAttempt, map[string]string{"chain": "ethereum", "outcome": "ok"})
	rec.IncCounter(EndpointAttempt, map[string]string{"chain": "ethereum", "outcome": "ok"})
	rec.ObserveLatency("eth_blockNumber", 150*time.Millisecond, map[string]string{"chain": "ethereum"})

	srv := httptest.NewServer(rec.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `chainpay_events_total{chain="ethereum",outcome="ok",type="endpoint_attempt"} 2`)
	assert.Contains(t, string(body), `chainpay_latency_seconds_count{chain="ethereum",operation="eth_blockNumber"} 1`)
}

func TestPrometheusRecorder_IndependentRegistries(t *testing.T) {
	// two recorders in one process must not collide on registration
	assert.NotPanics(t, func() {
		NewPrometheusRecorder()
		NewPrometheusRecorder()
	})
}
