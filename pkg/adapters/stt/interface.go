package stt

import "context"

// StreamingSTT defines the contract for any STT vendor implementation.
type StreamingSTT interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Start initializes the STT connection.
	Start(ctx context.Context) error
	// Close shuts down the STT connection.
	Close() error
	// Ready reports whether audio can be accepted.
	Ready() bool
	// SendAudio forwards encoded audio to the STT service.
	SendAudio(payload []byte) error
	// Results returns a channel of transcripts.
	Results() <-chan Transcript
	// Errors reports channel-level failures after Start succeeded.
	Errors() <-chan error
}

// Transcript is one recognition result.
type Transcript struct {
	Text       string
	Confidence float64
	IsFinal    bool
}

// Config contains vendor-agnostic STT configuration.
type Config struct {
	StreamID   string
	CallSID    string
	TraceID    string
	SampleRate int
	Language   string
	// Encoding is the audio encoding the adapter expects from SendAudio.
	Encoding string
}

// Factory builds a fresh adapter for one call.
type Factory func(cfg Config) (StreamingSTT, error)
