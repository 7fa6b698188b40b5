package correlation

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type fixedIDs struct{ id string }

func (f fixedIDs) Generate() string { return f.id }

func newTestCorrelator(t *testing.T) (*Correlator, *tracetest.SpanRecorder) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return New(WithTracerProvider(tp)), recorder
}

func TestID_DefaultsToRoot(t *testing.T) {
	assert.Equal(t, "<main>", ID(context.Background()))
}

func TestScope_Nests(t *testing.T) {
	c, _ := newTestCorrelator(t)

	outer, endOuter := c.Scope(context.Background(), "abc")
	defer endOuter()
	inner, endInner := c.Scope(outer, "process")
	defer endInner()

	assert.Equal(t, "<main>::abc", ID(outer))
	assert.Equal(t, "<main>::abc::process", ID(inner))
}

func TestScope_RecordsSpan(t *testing.T) {
	c, recorder := newTestCorrelator(t)

	ctx, end := c.Scope(context.Background(), "abc")
	_, endInner := c.Scope(ctx, "utter")
	endInner()
	end()

	spans := recorder.Ended()
	require.Len(t, spans, 2)

	assert.Equal(t, "utter", spans[0].Name())
	assert.Contains(t, spans[0].Attributes(), attribute.String(AttributeKey, "<main>::abc::utter"))
	assert.Equal(t, spans[1].SpanContext().SpanID(), spans[0].Parent().SpanID(), "inner span should be a child of the outer span")

	assert.Equal(t, "abc", spans[1].Name())
	assert.Contains(t, spans[1].Attributes(), attribute.String(AttributeKey, "<main>::abc"))
}

func TestNewID_UsesGenerator(t *testing.T) {
	c := New(WithIDGenerator(fixedIDs{id: "corr-1"}))
	assert.Equal(t, "corr-1", c.NewID())
}

func TestNewID_DefaultIsUnique(t *testing.T) {
	c := New()
	assert.NotEqual(t, c.NewID(), c.NewID())
}

func TestLogger_AddsCorrelationID(t *testing.T) {
	c, _ := newTestCorrelator(t)
	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil))

	ctx, end := c.Scope(context.Background(), "abc")
	defer end()
	Logger(ctx, base).Info("dispatching")

	assert.Contains(t, buf.String(), "correlation_id=<main>::abc")
}
