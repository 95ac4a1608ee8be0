package metrics

import "time"

// Event names emitted by the bridge.
const (
	EventCallStarted        = "call_started"
	EventCallEnded          = "call_ended"
	EventTurnState          = "turn_state"
	EventTranscriptPromoted = "transcript_promoted"
	EventTranscriptIgnored  = "transcript_ignored"
	EventAudioDropped       = "audio_dropped"
	EventTransportMalformed = "transport_malformed"

	// EventGenerationLatency and EventSynthesisLatency carry seconds in Value.
	EventGenerationLatency   = "generation_latency"
	EventGenerationFallback  = "generation_fallback"
	EventSynthesisLatency    = "synthesis_first_audio"
	EventSynthesisFallback   = "synthesis_fallback"
	EventSynthesisExhausted  = "synthesis_exhausted"
	EventSpeechChunksSent    = "speech_chunks_sent"
	EventTranscriptionFailed = "transcription_failed"

	EventRateLimit     = "rate_limit"
	EventBreakerOpen   = "breaker_open"
	EventBreakerClose  = "breaker_close"
	EventBreakerDenied = "breaker_denied"
)

type MetricsEvent struct {
	Name   string
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

type Observer interface {
	RecordEvent(ev MetricsEvent)
}

type Flusher interface {
	Flush() error
}

type NoopObserver struct{}

func (NoopObserver) RecordEvent(MetricsEvent) {}

// MultiObserver fans each event out to every inner observer.
type MultiObserver []Observer

func (m MultiObserver) RecordEvent(ev MetricsEvent) {
	for _, o := range m {
		if o != nil {
			o.RecordEvent(ev)
		}
	}
}

// Record is a helper for the common name/value/tags case. A nil observer is ignored.
func Record(obs Observer, name string, value float64, tags map[string]string) {
	if obs == nil {
		return
	}
	obs.RecordEvent(MetricsEvent{Name: name, Time: time.Now(), Value: value, Tags: tags})
}
