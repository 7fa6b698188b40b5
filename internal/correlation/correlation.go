// Package correlation threads a correlation id through one dispatch.
//
// Scopes nest: opening scope "abc" inside scope "<main>" yields the id
// "<main>::abc". The id travels in the context, is attached to log records
// by Logger, and is recorded on an OpenTelemetry span for the lifetime of
// the scope.
package correlation

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/parley/internal/ir"
)

// Root is the correlation id outside of any scope.
const Root = "<main>"

// Separator joins nested scope ids.
const Separator = "::"

// AttributeKey is the span attribute holding the correlation id.
const AttributeKey = "correlation.id"

type ctxKey struct{}

// Correlator opens correlation scopes and generates fresh scope ids.
//
// Thread-safety: safe for concurrent use if its IDGenerator is.
type Correlator struct {
	tracer trace.Tracer
	ids    ir.IDGenerator
}

// Option configures a Correlator.
type Option func(*options)

type options struct {
	provider trace.TracerProvider
	ids      ir.IDGenerator
}

// WithTracerProvider sets where scope spans are recorded.
// Default: the global otel provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		o.provider = tp
	}
}

// WithIDGenerator sets the generator used by NewID. Default: UUIDv7.
func WithIDGenerator(g ir.IDGenerator) Option {
	return func(o *options) {
		o.ids = g
	}
}

// New creates a Correlator.
func New(opts ...Option) *Correlator {
	o := options{
		provider: otel.GetTracerProvider(),
		ids:      ir.UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Correlator{
		tracer: o.provider.Tracer("github.com/roach88/parley/internal/correlation"),
		ids:    o.ids,
	}
}

// NewID returns a fresh scope id.
func (c *Correlator) NewID() string {
	return c.ids.Generate()
}

// Scope opens a nested correlation scope named id. The returned context
// carries the combined id and an active span; end closes the span and must
// be called when the scope's work is done.
func (c *Correlator) Scope(ctx context.Context, id string) (_ context.Context, end func()) {
	full := ID(ctx) + Separator + id
	ctx = context.WithValue(ctx, ctxKey{}, full)
	ctx, span := c.tracer.Start(ctx, id,
		trace.WithAttributes(attribute.String(AttributeKey, full)),
	)
	return ctx, func() { span.End() }
}

// ID returns the correlation id carried by ctx, or Root outside any scope.
func ID(ctx context.Context) string {
	if id, ok := ctx.Value(ctxKey{}).(string); ok {
		return id
	}
	return Root
}

// Logger returns base with the correlation id of ctx attached.
// A nil base uses slog.Default().
func Logger(ctx context.Context, base *slog.Logger) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	return base.With("correlation_id", ID(ctx))
}
