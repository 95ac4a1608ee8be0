package metrics

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestObserver(t *testing.T) (*OTelObserver, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	o, err := NewOTelObserver(mp)
	if err != nil {
		t.Fatalf("NewOTelObserver: %v", err)
	}
	return o, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestOTelObserverCountsEvents(t *testing.T) {
	o, reader := newTestObserver(t)
	Record(o, EventGenerationFallback, 0, map[string]string{"stream_id": "MZ1", "reason": "llm_timeout"})
	Record(o, EventGenerationFallback, 0, map[string]string{"stream_id": "MZ2", "reason": "llm_timeout"})

	m := findMetric(collect(t, reader), "callbridge.events")
	if m == nil {
		t.Fatalf("expected callbridge.events")
	}
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type %T", m.Data)
	}
	if len(sum.DataPoints) != 1 {
		t.Fatalf("expected stream ids to collapse into one series, got %d", len(sum.DataPoints))
	}
	if sum.DataPoints[0].Value != 2 {
		t.Fatalf("expected count 2, got %d", sum.DataPoints[0].Value)
	}
	if _, ok := sum.DataPoints[0].Attributes.Value("stream_id"); ok {
		t.Fatalf("expected stream_id to be dropped")
	}
}

func TestOTelObserverTracksActiveCalls(t *testing.T) {
	o, reader := newTestObserver(t)
	Record(o, EventCallStarted, 0, nil)
	Record(o, EventCallStarted, 0, nil)
	Record(o, EventCallEnded, 0, nil)

	m := findMetric(collect(t, reader), "callbridge.active_calls")
	if m == nil {
		t.Fatalf("expected callbridge.active_calls")
	}
	sum := m.Data.(metricdata.Sum[int64])
	if sum.DataPoints[0].Value != 1 {
		t.Fatalf("expected 1 active call, got %d", sum.DataPoints[0].Value)
	}
}

func TestOTelObserverRecordsLatency(t *testing.T) {
	o, reader := newTestObserver(t)
	Record(o, EventGenerationLatency, 0.4, map[string]string{"provider": "openai"})

	m := findMetric(collect(t, reader), "callbridge.generation.duration")
	if m == nil {
		t.Fatalf("expected generation histogram")
	}
	h := m.Data.(metricdata.Histogram[float64])
	if h.DataPoints[0].Count != 1 || h.DataPoints[0].Sum != 0.4 {
		t.Fatalf("unexpected histogram point %+v", h.DataPoints[0])
	}
}

func TestAsyncObserverDrainsOnClose(t *testing.T) {
	mem := NewMemoryObserver()
	a := NewAsyncObserver(mem, 8)
	for i := 0; i < 5; i++ {
		Record(a, EventAudioDropped, 1, nil)
	}
	a.Close()
	if mem.Count(EventAudioDropped) != 5 {
		t.Fatalf("expected 5 events, got %d", mem.Count(EventAudioDropped))
	}
	Record(a, EventAudioDropped, 1, nil)
	if mem.Count(EventAudioDropped) != 5 {
		t.Fatalf("expected events after close to be ignored")
	}
}

func TestMultiObserverFansOut(t *testing.T) {
	a, b := NewMemoryObserver(), NewMemoryObserver()
	Record(MultiObserver{a, nil, b}, EventCallStarted, 0, nil)
	if a.Count(EventCallStarted) != 1 || b.Count(EventCallStarted) != 1 {
		t.Fatalf("expected both observers to receive the event")
	}
}

func TestPrometheusHandlerServesInstruments(t *testing.T) {
	p, err := NewPrometheus()
	if err != nil {
		t.Fatalf("NewPrometheus: %v", err)
	}
	defer p.Provider.Shutdown(context.Background())
	o, err := NewOTelObserver(p.Provider)
	if err != nil {
		t.Fatalf("NewOTelObserver: %v", err)
	}
	Record(o, EventCallStarted, 0, nil)

	rec := httptest.NewRecorder()
	p.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "callbridge_active_calls") {
		t.Fatalf("expected active calls series in scrape output")
	}
}

func TestLogObserverWritesAtDebug(t *testing.T) {
	var buf strings.Builder
	o := NewLogObserver(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	o.RecordEvent(MetricsEvent{Name: EventAudioDropped, Value: 3, Tags: map[string]string{"stream_id": "MZ1"}})
	out := buf.String()
	if !strings.Contains(out, "event=audio_dropped") || !strings.Contains(out, "stream_id=MZ1") {
		t.Fatalf("unexpected log line %q", out)
	}

	buf.Reset()
	quiet := NewLogObserver(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))
	quiet.RecordEvent(MetricsEvent{Name: EventAudioDropped})
	if buf.Len() != 0 {
		t.Fatalf("expected nothing below debug, got %q", buf.String())
	}
}
