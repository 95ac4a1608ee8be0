// Package speech turns reply text into transport-sized audio chunks, falling
// back to a secondary voice when the primary cannot start.
package speech

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/harunnryd/callbridge/pkg/adapters/tts"
	"github.com/harunnryd/callbridge/pkg/audio"
	"github.com/harunnryd/callbridge/pkg/errorsx"
	"github.com/harunnryd/callbridge/pkg/logging"
	"github.com/harunnryd/callbridge/pkg/metrics"
	"github.com/harunnryd/callbridge/pkg/resilience"
)

// ErrNoAudio reports a provider stream that ended without a single byte.
var ErrNoAudio = errors.New("speech: provider returned no audio")

type Options struct {
	MaxFrameSize int
	// Breaker, when set, skips the primary provider while it is open.
	Breaker  *resilience.CircuitBreaker
	Observer metrics.Observer
	Logger   *slog.Logger
}

type Synthesizer struct {
	primary  tts.Provider
	fallback tts.Provider
	maxFrame int
	breaker  *resilience.CircuitBreaker
	obs      metrics.Observer
	logger   *slog.Logger
}

// NewSynthesizer builds a synthesizer. fallback may be nil.
func NewSynthesizer(primary, fallback tts.Provider, opts Options) *Synthesizer {
	if opts.MaxFrameSize <= 0 {
		opts.MaxFrameSize = audio.DefaultMaxFrameSize
	}
	if opts.Observer == nil {
		opts.Observer = metrics.NoopObserver{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Synthesizer{
		primary:  primary,
		fallback: fallback,
		maxFrame: opts.MaxFrameSize,
		breaker:  opts.Breaker,
		obs:      opts.Observer,
		logger:   logging.NewComponentLogger(opts.Logger, "speech"),
	}
}

// Synthesize streams audio for text. The channel always yields exactly one
// EndOfSpeech chunk as its last element and is then closed, including on
// cancellation and when every provider failed. Callers must drain it.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) <-chan audio.Chunk {
	out := make(chan audio.Chunk, 4)
	go func() {
		defer close(out)
		defer func() { out <- audio.EndOfSpeech() }()

		if strings.TrimSpace(text) == "" {
			return
		}
		candidates := s.candidates()
		for i, p := range candidates {
			sent, err := s.stream(ctx, p, text, out)
			if p == s.primary && s.breaker != nil {
				if err != nil && sent == 0 && ctx.Err() == nil {
					s.breaker.OnError(err)
				} else if err == nil {
					s.breaker.OnSuccess()
				}
			}
			if err == nil {
				return
			}
			if ctx.Err() != nil {
				return
			}
			if sent > 0 {
				s.logger.Warn("speech_stream_interrupted",
					slog.String("provider", p.Name()),
					slog.Int("chunks_sent", sent),
					slog.String("error", err.Error()))
				return
			}
			s.logger.Warn("speech_provider_failed",
				slog.String("provider", p.Name()),
				slog.String("reason", string(errorsx.Reason(err))),
				slog.String("error", err.Error()))
			if i < len(candidates)-1 {
				metrics.Record(s.obs, metrics.EventSynthesisFallback, 1, map[string]string{"provider": p.Name()})
			}
		}
		err := errorsx.New(errorsx.ReasonTTSExhausted, "all speech providers failed")
		s.logger.Error("speech_synthesis_failed", slog.String("error", err.Error()), slog.Int("providers", len(candidates)))
		metrics.Record(s.obs, metrics.EventSynthesisExhausted, 1, nil)
	}()
	return out
}

func (s *Synthesizer) candidates() []tts.Provider {
	out := make([]tts.Provider, 0, 2)
	if s.primary != nil {
		if s.breaker == nil || s.breaker.Allow() || s.fallback == nil {
			out = append(out, s.primary)
		} else {
			s.logger.Debug("speech_primary_skipped", slog.String("provider", s.primary.Name()))
		}
	}
	if s.fallback != nil {
		out = append(out, s.fallback)
	}
	return out
}

// stream copies one provider's audio into out and returns how many chunks it delivered.
func (s *Synthesizer) stream(ctx context.Context, p tts.Provider, text string, out chan<- audio.Chunk) (int, error) {
	enc, err := audio.ParseEncoding(p.Encoding())
	if err != nil {
		return 0, errorsx.Wrap(err, errorsx.ReasonTTSConnect)
	}
	codec := audio.Codec{Provider: enc}

	start := time.Now()
	rc, err := p.Synthesize(ctx, text)
	if err != nil {
		return 0, errorsx.Wrap(err, errorsx.ReasonTTSConnect)
	}
	defer rc.Close()

	reader := audio.NewChunkReader(rc, s.maxFrame*codec.ProviderBytesPerTransportByte())
	sent := 0
	for {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		b, err := reader.Next()
		if err == io.EOF {
			if sent == 0 {
				return 0, errorsx.Wrap(ErrNoAudio, errorsx.ReasonTTSStream)
			}
			metrics.Record(s.obs, metrics.EventSpeechChunksSent, float64(sent), map[string]string{"provider": p.Name()})
			return sent, nil
		}
		if err != nil {
			return sent, errorsx.Wrap(err, errorsx.ReasonTTSStream)
		}
		data := codec.EncodeOutbound(b)
		if len(data) == 0 {
			continue
		}
		if sent == 0 {
			metrics.Record(s.obs, metrics.EventSynthesisLatency, time.Since(start).Seconds(), map[string]string{"provider": p.Name()})
		}
		select {
		case out <- audio.Chunk{Data: data}:
			sent++
		case <-ctx.Done():
			return sent, ctx.Err()
		}
	}
}
