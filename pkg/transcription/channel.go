// Package transcription owns the per-call streaming speech-to-text channel
// and decides which transcripts are promoted to user turns.
package transcription

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/harunnryd/callbridge/pkg/adapters/stt"
	"github.com/harunnryd/callbridge/pkg/errorsx"
	"github.com/harunnryd/callbridge/pkg/logging"
	"github.com/harunnryd/callbridge/pkg/redact"
	"github.com/harunnryd/callbridge/pkg/resilience"
)

// Options configure promotion and recovery.
type Options struct {
	// MinConfidence is the threshold a final transcript's confidence must
	// exceed to count as a user turn. Zero is a valid threshold.
	MinConfidence float64
	// MinChars is the minimum number of non-space characters of a promoted transcript.
	MinChars int
	// ReopenAttempts bounds reconnects over the life of the channel, counting
	// a failed first connect as well as later channel-level failures.
	ReopenAttempts int
	ReopenBackoff  time.Duration
	Logger         *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.MinConfidence < 0 {
		o.MinConfidence = 0
	}
	if o.MinChars <= 0 {
		o.MinChars = 1
	}
	if o.ReopenAttempts < 0 {
		o.ReopenAttempts = 0
	}
	if o.ReopenBackoff <= 0 {
		o.ReopenBackoff = 250 * time.Millisecond
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Event is a transcript together with the promotion decision.
type Event struct {
	stt.Transcript
	Promoted bool
}

// Channel wraps one provider connection for the lifetime of a call.
type Channel struct {
	factory stt.Factory
	cfg     stt.Config
	opts    Options
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	events chan Event

	mu       sync.Mutex
	provider stt.StreamingSTT
	reopens  int

	disabled  atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
	dropped   atomic.Int64
}

// Open connects a provider built by factory. A failed first connect is
// retried within the ReopenAttempts budget; if that is exhausted the error
// is returned and the caller keeps running without transcription.
func Open(ctx context.Context, factory stt.Factory, cfg stt.Config, opts Options) (*Channel, error) {
	if factory == nil {
		return nil, errorsx.New(errorsx.ReasonSTTConnect, "transcription: no provider factory")
	}
	opts = opts.withDefaults()
	cctx, cancel := context.WithCancel(ctx)
	c := &Channel{
		factory: factory,
		cfg:     cfg,
		opts:    opts,
		logger:  logging.WithCall(logging.NewComponentLogger(opts.Logger, "transcription"), cfg.StreamID, cfg.CallSID, cfg.TraceID),
		ctx:     cctx,
		cancel:  cancel,
		events:  make(chan Event, 32),
	}
	p, err := c.connect()
	if err != nil {
		c.logger.Warn("transcription_open_failed", slog.String("error", err.Error()))
		if p, err = c.reopen(err); err != nil {
			cancel()
			return nil, err
		}
	}
	c.mu.Lock()
	c.provider = p
	c.mu.Unlock()
	go c.pump(p)
	return c, nil
}

func (c *Channel) connect() (stt.StreamingSTT, error) {
	p, err := c.factory(c.cfg)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonSTTConnect)
	}
	if err := p.Start(c.ctx); err != nil {
		_ = p.Close()
		return nil, errorsx.Wrap(err, errorsx.ReasonSTTConnect)
	}
	c.logger.Info("transcription_opened", slog.String("provider", p.Name()))
	return p, nil
}

// Events delivers every transcript, promoted or not, in arrival order.
func (c *Channel) Events() <-chan Event { return c.events }

// Submit forwards one frame of inbound audio. Frames are dropped when the
// provider is not ready, disabled or closed.
func (c *Channel) Submit(payload []byte) {
	if c.closed.Load() || c.disabled.Load() {
		c.dropped.Add(1)
		return
	}
	c.mu.Lock()
	p := c.provider
	c.mu.Unlock()
	if p == nil || !p.Ready() {
		c.dropped.Add(1)
		c.logger.Debug("transcription_not_ready_drop", slog.Int("size_bytes", len(payload)))
		return
	}
	if err := p.SendAudio(payload); err != nil {
		c.dropped.Add(1)
		c.logger.Debug("transcription_send_failed", slog.String("error", err.Error()))
	}
}

// Dropped counts audio frames that never reached the provider.
func (c *Channel) Dropped() int64 { return c.dropped.Load() }

// Disabled reports whether recovery gave up.
func (c *Channel) Disabled() bool { return c.disabled.Load() }

// Close releases the provider. Safe to call more than once.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.cancel()
		c.mu.Lock()
		p := c.provider
		c.provider = nil
		c.mu.Unlock()
		if p != nil {
			err = p.Close()
		}
		c.logger.Info("transcription_closed", slog.Int64("dropped_frames", c.dropped.Load()))
	})
	return err
}

// Promote applies the turn policy: final, confidence above MinConfidence, and
// not trivially short.
func (o Options) Promote(t stt.Transcript) bool {
	if !t.IsFinal {
		return false
	}
	if t.Confidence <= o.MinConfidence {
		return false
	}
	return utf8.RuneCountInString(strings.Join(strings.Fields(t.Text), "")) >= o.MinChars
}

func (c *Channel) pump(p stt.StreamingSTT) {
	for {
		select {
		case <-c.ctx.Done():
			return
		case t, ok := <-p.Results():
			if !ok {
				return
			}
			c.deliver(t)
		case err, ok := <-p.Errors():
			if !ok || c.closed.Load() {
				return
			}
			c.logger.Warn("transcription_channel_error", slog.String("error", err.Error()))
			c.recover(p)
			return
		}
	}
}

func (c *Channel) deliver(t stt.Transcript) {
	ev := Event{Transcript: t, Promoted: c.opts.Promote(t)}
	text := redact.Text(t.Text)
	if !t.IsFinal {
		c.logger.Debug("transcript_interim", slog.String("text", text))
	} else {
		c.logger.Info("transcript_final",
			slog.String("text", text),
			slog.Float64("confidence", t.Confidence),
			slog.Bool("promoted", ev.Promoted))
	}
	select {
	case c.events <- ev:
	case <-c.ctx.Done():
	}
}

// recover replaces a failed provider. When the reopen budget is exhausted the
// channel is disabled.
func (c *Channel) recover(failed stt.StreamingSTT) {
	_ = failed.Close()
	c.mu.Lock()
	if c.provider == failed {
		c.provider = nil
	}
	c.mu.Unlock()

	next, err := c.reopen(nil)
	if err != nil {
		c.logger.Error("transcription_reopen_failed", slog.String("error", err.Error()))
		c.disable()
		return
	}
	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		_ = next.Close()
		return
	}
	c.provider = next
	c.mu.Unlock()
	c.logger.Info("transcription_reopened")
	go c.pump(next)
}

// reopen waits ReopenBackoff and reconnects, spending the remaining reopen
// budget. cause is the failure that triggered it.
func (c *Channel) reopen(cause error) (stt.StreamingSTT, error) {
	c.mu.Lock()
	remaining := c.opts.ReopenAttempts - c.reopens
	c.mu.Unlock()
	if remaining <= 0 {
		if cause == nil {
			cause = errorsx.New(errorsx.ReasonSTTReopen, "transcription: reopen budget exhausted")
		}
		return nil, errorsx.Wrap(cause, errorsx.ReasonSTTReopen)
	}

	timer := time.NewTimer(c.opts.ReopenBackoff)
	select {
	case <-c.ctx.Done():
		timer.Stop()
		return nil, errorsx.Wrap(c.ctx.Err(), errorsx.ReasonSTTReopen)
	case <-timer.C:
	}

	var next stt.StreamingSTT
	err := resilience.NewRetryPolicy(remaining-1, c.opts.ReopenBackoff).Do(c.ctx, func(context.Context) error {
		c.mu.Lock()
		c.reopens++
		c.mu.Unlock()
		p, err := c.connect()
		if err != nil {
			return err
		}
		next = p
		return nil
	})
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonSTTReopen)
	}
	if next == nil {
		return nil, errorsx.Wrap(c.ctx.Err(), errorsx.ReasonSTTReopen)
	}
	return next, nil
}

func (c *Channel) disable() {
	if c.disabled.CompareAndSwap(false, true) {
		c.logger.Error("transcription_disabled", slog.String("reason", string(errorsx.ReasonSTTDisabled)))
	}
}
