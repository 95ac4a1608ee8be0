package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/harunnryd/callbridge/pkg/adapters/stt"
	"github.com/harunnryd/callbridge/pkg/audio"
	"github.com/harunnryd/callbridge/pkg/conversation"
	"github.com/harunnryd/callbridge/pkg/metrics"
	"github.com/harunnryd/callbridge/pkg/transcription"
	"github.com/harunnryd/callbridge/pkg/transports"
)

const (
	// DefaultEndOfSpeechMark names the playback marker sent after each utterance.
	DefaultEndOfSpeechMark = "bot_finished_speaking"
	DefaultChunkDelay      = 25 * time.Millisecond
	defaultInboxSize       = 256
)

// Config holds the per-call conversation settings.
type Config struct {
	SystemPrompt string
	// Greeting is spoken on start. Empty skips straight to listening.
	Greeting string
	Language string
	// STTEncoding is the audio encoding the transcription provider expects.
	STTEncoding     audio.Encoding
	STTSampleRate   int
	EndOfSpeechMark string
	// ChunkDelay paces outbound media frames. Negative disables pacing.
	ChunkDelay time.Duration
	// MaxHistory bounds session history. Zero uses the generator's bound.
	MaxHistory    int
	Transcription transcription.Options
	InboxSize     int
}

func (c Config) withDefaults() Config {
	if c.EndOfSpeechMark == "" {
		c.EndOfSpeechMark = DefaultEndOfSpeechMark
	}
	if c.ChunkDelay == 0 {
		c.ChunkDelay = DefaultChunkDelay
	}
	if c.ChunkDelay < 0 {
		c.ChunkDelay = 0
	}
	if c.STTEncoding == "" {
		c.STTEncoding = audio.EncodingMuLaw
	}
	if c.STTSampleRate <= 0 {
		c.STTSampleRate = audio.TransportSampleRate
	}
	if c.InboxSize <= 0 {
		c.InboxSize = defaultInboxSize
	}
	return c
}

// ReplyGenerator produces the assistant's next line.
type ReplyGenerator interface {
	Generate(ctx context.Context, history []conversation.Utterance, user conversation.Utterance) (string, error)
	MaxHistory() int
}

// SpeechSource turns text into transport-ready chunks ending with one EndOfSpeech marker.
type SpeechSource interface {
	Synthesize(ctx context.Context, text string) <-chan audio.Chunk
}

// FallbackPicker supplies the line spoken when generation fails.
type FallbackPicker interface {
	Pick() string
}

// Deps are the collaborators shared by every call.
type Deps struct {
	STT         stt.Factory
	Generator   ReplyGenerator
	Synthesizer SpeechSource
	Fallbacks   FallbackPicker
	Sender      transports.Sender
	Observer    metrics.Observer
	Logger      *slog.Logger
}

// Identity names one call's media stream.
type Identity struct {
	StreamID string
	CallSID  string
	TraceID  string
	From     string
}
