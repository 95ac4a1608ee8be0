package metrics

import (
	"context"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/harunnryd/callbridge"

// latencyBuckets are histogram boundaries in seconds tuned for voice turns.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 0.75, 1, 1.5, 2, 3, 5, 8, 12,
}

// OTelObserver maps bridge events onto OpenTelemetry instruments.
type OTelObserver struct {
	events      metric.Int64Counter
	activeCalls metric.Int64UpDownCounter
	generation  metric.Float64Histogram
	firstAudio  metric.Float64Histogram
}

// NewOTelObserver creates the instruments on mp.
func NewOTelObserver(mp metric.MeterProvider) (*OTelObserver, error) {
	m := mp.Meter(meterName)
	var err error
	o := &OTelObserver{}

	if o.events, err = m.Int64Counter("callbridge.events",
		metric.WithDescription("Bridge events by name and tags."),
	); err != nil {
		return nil, err
	}
	if o.activeCalls, err = m.Int64UpDownCounter("callbridge.active_calls",
		metric.WithDescription("Number of live phone calls."),
	); err != nil {
		return nil, err
	}
	if o.generation, err = m.Float64Histogram("callbridge.generation.duration",
		metric.WithDescription("Latency of reply generation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if o.firstAudio, err = m.Float64Histogram("callbridge.synthesis.first_audio",
		metric.WithDescription("Latency from synthesis request to first audio chunk."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *OTelObserver) RecordEvent(ev MetricsEvent) {
	ctx := context.Background()
	attrs := tagAttributes(ev.Tags)

	switch ev.Name {
	case EventCallStarted:
		o.activeCalls.Add(ctx, 1)
	case EventCallEnded:
		o.activeCalls.Add(ctx, -1)
	case EventGenerationLatency:
		o.generation.Record(ctx, ev.Value, metric.WithAttributes(attrs...))
		return
	case EventSynthesisLatency:
		o.firstAudio.Record(ctx, ev.Value, metric.WithAttributes(attrs...))
		return
	}
	attrs = append(attrs, attribute.String("event", ev.Name))
	o.events.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// tagAttributes converts tags in key order. Per-call identifiers are skipped
// to keep cardinality bounded.
func tagAttributes(tags map[string]string) []attribute.KeyValue {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		switch k {
		case "stream_id", "call_sid", "trace_id":
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]attribute.KeyValue, 0, len(keys)+1)
	for _, k := range keys {
		out = append(out, attribute.String(k, tags[k]))
	}
	return out
}
