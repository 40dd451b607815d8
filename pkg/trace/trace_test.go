package trace

import (
	"context"
	"errors"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitializeAndSpans(t *testing.T) {
	ctx := context.Background()

	bad := DefaultConfig()
	bad.ExporterType = "jaeger"
	require.Error(t, Initialize(ctx, bad))

	cfg := DefaultConfig()
	cfg.ExporterType = "none"
	require.NoError(t, Initialize(ctx, cfg))
	t.Cleanup(func() { _ = Shutdown(context.Background()) })

	assert.Error(t, Initialize(ctx, cfg), "second initialization is rejected")

	callCtx, span := InstrumentCall(ctx, "CA1", "MZ1")
	assert.NotEmpty(t, TraceID(callCtx))
	assert.NotEmpty(t, SpanID(callCtx))
	assert.Len(t, ZapFields(callCtx), 2)

	boom := errors.New("boom")
	err := WithSpan(callCtx, "crm.query", func(ctx context.Context) error {
		assert.Equal(t, TraceID(callCtx), TraceID(ctx), "child shares the trace")
		return boom
	})
	assert.ErrorIs(t, err, boom)
	span.End()
}

func TestHelpersWithoutSpan(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, TraceID(ctx))
	assert.Empty(t, SpanID(ctx))
	assert.Nil(t, ZapFields(ctx))
	RecordError(SpanFromContext(ctx), nil)
}

func TestRecordErrorAttributes(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	_, span := tp.Tracer("test").Start(context.Background(), "crm.create_event")
	RecordError(span, &url.Error{Op: "Post", URL: "https://crm.example", Err: errors.New("refused")})
	AddEvent(span, "retry", attribute.Int("retries_left", 1))
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	attrs := map[attribute.Key]string{}
	for _, kv := range ended[0].Attributes() {
		attrs[kv.Key] = kv.Value.Emit()
	}
	assert.Equal(t, "*url.Error", attrs[AttrErrorType])
	assert.Contains(t, attrs[AttrErrorMessage], "refused")
	assert.Equal(t, codes.Error, ended[0].Status().Code)

	var names []string
	for _, ev := range ended[0].Events() {
		names = append(names, ev.Name)
	}
	assert.Contains(t, names, "retry")
}
