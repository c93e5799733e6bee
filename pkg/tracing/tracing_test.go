package tracing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func withRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := tracesdk.NewTracerProvider(tracesdk.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return recorder
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "skillhub-client", cfg.ServiceName)
	assert.Equal(t, 1.0, cfg.SampleRate)
}

func TestInit_DisabledIsNoop(t *testing.T) {
	tp, err := Init(Config{Enabled: false})
	require.NoError(t, err)
	assert.NoError(t, tp.Shutdown(context.Background()))
}

func TestTraceCall_RecordsAttributes(t *testing.T) {
	recorder := withRecorder(t)

	ctx, span := TraceCall(context.Background(), "initiate", "u1_u2", "u2")
	MeasureDuration(ctx, time.Now().Add(-15*time.Millisecond))
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "call.initiate", ended[0].Name())

	attrs := map[string]string{}
	for _, kv := range ended[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "u1_u2", attrs["room.id"])
	assert.Equal(t, "u2", attrs["peer.id"])
	assert.Contains(t, attrs, "duration_ms")
}

func TestRecordError_SetsStatus(t *testing.T) {
	recorder := withRecorder(t)

	ctx, span := TraceHTTPRequest(context.Background(), "GET", "http://api/room/u1_u2/messages")
	RecordError(ctx, errors.New("timeout"))
	RecordError(ctx, nil)
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Equal(t, "timeout", ended[0].Status().Description)
	assert.Len(t, ended[0].Events(), 1)
}

func TestTraceRelayEvent_Name(t *testing.T) {
	recorder := withRecorder(t)

	_, span := TraceRelayEvent(context.Background(), "startVideoCall", "u1_u2")
	span.End()

	require.Len(t, recorder.Ended(), 1)
	assert.Equal(t, "relay.startVideoCall", recorder.Ended()[0].Name())
}
