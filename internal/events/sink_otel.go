package events

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelSink exports call-level events as OpenTelemetry metrics. It only
// records; exporter configuration belongs to the host process.
type OTelSink struct {
	calls     metric.Int64Counter
	errors    metric.Int64Counter
	retries   metric.Int64Counter
	cacheHits metric.Int64Counter
	tokens    metric.Int64Counter
	costUSD   metric.Float64Counter
	duration  metric.Float64Histogram
}

// NewOTelSink registers the instrument set on the global meter provider.
func NewOTelSink() (*OTelSink, error) {
	meter := otel.Meter("github.com/featherdev/feather")

	var s OTelSink
	var err error
	if s.calls, err = meter.Int64Counter("llm.calls",
		metric.WithDescription("Provider calls started")); err != nil {
		return nil, err
	}
	if s.errors, err = meter.Int64Counter("llm.errors",
		metric.WithDescription("Provider calls failed")); err != nil {
		return nil, err
	}
	if s.retries, err = meter.Int64Counter("llm.retries",
		metric.WithDescription("Retry attempts")); err != nil {
		return nil, err
	}
	if s.cacheHits, err = meter.Int64Counter("llm.cache.hits",
		metric.WithDescription("Prompt and tool cache hits")); err != nil {
		return nil, err
	}
	if s.tokens, err = meter.Int64Counter("llm.tokens",
		metric.WithDescription("Tokens consumed"),
		metric.WithUnit("{token}")); err != nil {
		return nil, err
	}
	if s.costUSD, err = meter.Float64Counter("llm.cost",
		metric.WithDescription("Estimated spend"),
		metric.WithUnit("USD")); err != nil {
		return nil, err
	}
	if s.duration, err = meter.Float64Histogram("llm.call.duration",
		metric.WithDescription("Provider call latency"),
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	return &s, nil
}

// Observe is the Observer to subscribe on a Bus.
func (s *OTelSink) Observe(e Event) {
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String("provider", e.Provider),
		attribute.String("model", e.Model),
	)

	switch e.Type {
	case CallStart:
		s.calls.Add(ctx, 1, attrs)
	case CallSuccess:
		s.tokens.Add(ctx, int64(e.Usage.Prompt), attrs,
			metric.WithAttributes(attribute.String("direction", "input")))
		s.tokens.Add(ctx, int64(e.Usage.Completion), attrs,
			metric.WithAttributes(attribute.String("direction", "output")))
		s.costUSD.Add(ctx, e.CostUSD, attrs)
		s.duration.Record(ctx, float64(e.Duration)/float64(time.Millisecond), attrs)
	case CallError:
		s.errors.Add(ctx, 1, attrs)
		s.duration.Record(ctx, float64(e.Duration)/float64(time.Millisecond), attrs)
	case CallRetry:
		s.retries.Add(ctx, 1, attrs)
	case CallCacheHit, ToolCacheHit:
		s.cacheHits.Add(ctx, 1, attrs)
	}
}
