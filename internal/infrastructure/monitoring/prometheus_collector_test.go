package monitoring

import (
	"context"
	"strings"
	"testing"
	"time"

	"skillhub/internal/core/domain"
	"skillhub/internal/core/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ ports.SessionMetrics = (*PrometheusCollector)(nil)

func TestPrometheusCollector_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewPrometheusCollector(reg)

	c.MessageReceived()
	c.MessageReceived()
	c.DuplicateDropped()
	c.MessageSent()
	c.ICECandidateDropped()
	c.CallStarted(domain.DirectionOutgoing)
	c.CallStarted(domain.DirectionIncoming)
	c.CallStarted(domain.DirectionIncoming)
	c.SignalingError("ice_candidate")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.messagesReceived))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.duplicatesDropped))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.messagesSent))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.iceCandidatesDropped))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.callsStarted.WithLabelValues("incoming")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.signalingErrors.WithLabelValues("ice_candidate")))
}

func TestPrometheusCollector_CallEnded(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewPrometheusCollector(reg)

	c.CallEnded(false, 0)
	c.CallEnded(true, 42*time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.callsEnded.WithLabelValues("false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.callsEnded.WithLabelValues("true")))

	expected := `
# HELP skillhub_call_duration_seconds Duration of connected video calls
# TYPE skillhub_call_duration_seconds histogram
skillhub_call_duration_seconds_bucket{le="5"} 0
skillhub_call_duration_seconds_bucket{le="10"} 0
skillhub_call_duration_seconds_bucket{le="20"} 0
skillhub_call_duration_seconds_bucket{le="40"} 0
skillhub_call_duration_seconds_bucket{le="80"} 1
skillhub_call_duration_seconds_bucket{le="160"} 1
skillhub_call_duration_seconds_bucket{le="320"} 1
skillhub_call_duration_seconds_bucket{le="640"} 1
skillhub_call_duration_seconds_bucket{le="1280"} 1
skillhub_call_duration_seconds_bucket{le="2560"} 1
skillhub_call_duration_seconds_bucket{le="+Inf"} 1
skillhub_call_duration_seconds_sum 42
skillhub_call_duration_seconds_count 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "skillhub_call_duration_seconds"))
}

func TestPrometheusCollector_RegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewPrometheusCollector(reg)

	assert.Panics(t, func() { NewPrometheusCollector(reg) })
}

func TestHealthChecker_RelayCheck(t *testing.T) {
	connected := true
	h := NewHealthChecker()
	h.AddRelayCheck(func() bool { return connected })

	status := h.CheckAll(context.Background())
	assert.Equal(t, StatusHealthy, status.Status)
	assert.Equal(t, StatusHealthy, status.Checks["relay"])

	connected = false
	status = h.CheckAll(context.Background())
	assert.Equal(t, StatusUnhealthy, status.Status)
	assert.Equal(t, ErrRelayDisconnected.Error(), status.Checks["relay"])
}

func TestHealthChecker_FailedCheckWithoutError(t *testing.T) {
	h := NewHealthChecker()
	h.AddCheck("api", func(context.Context) (bool, error) { return false, nil }, 0)
	h.AddCheck("disk", func(context.Context) (bool, error) { return true, nil }, time.Second)

	status := h.CheckAll(context.Background())
	assert.Equal(t, StatusUnhealthy, status.Status)
	assert.Equal(t, "check failed", status.Checks["api"])
	assert.Equal(t, StatusHealthy, status.Checks["disk"])
}

func TestHealthChecker_TimeoutApplied(t *testing.T) {
	h := NewHealthChecker()
	h.AddCheck("slow", func(ctx context.Context) (bool, error) {
		<-ctx.Done()
		return false, ctx.Err()
	}, 10*time.Millisecond)

	status := h.CheckAll(context.Background())
	assert.Equal(t, context.DeadlineExceeded.Error(), status.Checks["slow"])
}
