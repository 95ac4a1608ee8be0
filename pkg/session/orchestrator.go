// Package session runs one call: it owns the turn-taking state machine,
// feeds caller audio to transcription while listening, asks the generator
// for replies and streams synthesized speech back to the transport.
package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/harunnryd/callbridge/pkg/adapters/stt"
	"github.com/harunnryd/callbridge/pkg/audio"
	"github.com/harunnryd/callbridge/pkg/conversation"
	"github.com/harunnryd/callbridge/pkg/errorsx"
	"github.com/harunnryd/callbridge/pkg/frames"
	"github.com/harunnryd/callbridge/pkg/llm"
	"github.com/harunnryd/callbridge/pkg/logging"
	"github.com/harunnryd/callbridge/pkg/metrics"
	"github.com/harunnryd/callbridge/pkg/transcription"
	"github.com/harunnryd/callbridge/pkg/turn"
)

var ErrAlreadyRunning = errors.New("session: orchestrator already running")

type reply struct {
	seq     uint64
	text    string
	err     error
	elapsed time.Duration
}

type opened struct {
	ch  *transcription.Channel
	err error
}

type speechJob struct {
	ctx  context.Context
	text string
}

// Orchestrator drives a single call. Frames go in through Deliver; Run owns
// the session until call_end, Stop or context cancellation.
type Orchestrator struct {
	id      Identity
	cfg     Config
	deps    Deps
	logger  *slog.Logger
	machine *turn.Machine
	codec   audio.Codec
	pts     *frames.PTSGen

	in      chan frames.Frame
	replies chan reply
	opened  chan opened
	speech  chan speechJob

	running  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	// owned by the event loop
	sess *Session

	snapMu sync.Mutex
	snap   Snapshot
}

// New builds an orchestrator. Missing collaborators fall back to no-ops
// where that is meaningful; Synthesizer and Sender are required to speak.
func New(id Identity, cfg Config, deps Deps) *Orchestrator {
	cfg = cfg.withDefaults()
	if deps.Observer == nil {
		deps.Observer = metrics.NoopObserver{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Fallbacks == nil {
		deps.Fallbacks = llm.NewFallbackUtterances(nil, 0)
	}
	if cfg.MaxHistory <= 0 && deps.Generator != nil {
		cfg.MaxHistory = deps.Generator.MaxHistory()
	}
	o := &Orchestrator{
		id:      id,
		cfg:     cfg,
		deps:    deps,
		logger:  logging.WithCall(logging.NewComponentLogger(deps.Logger, "session"), id.StreamID, id.CallSID, id.TraceID),
		machine: turn.NewMachine(),
		codec:   audio.Codec{Provider: cfg.STTEncoding},
		pts:     frames.NewPTSGen(),
		in:      make(chan frames.Frame, cfg.InboxSize),
		replies: make(chan reply),
		opened:  make(chan opened),
		speech:  make(chan speechJob, 4),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	o.machine.AddListener(turn.StateListenerFunc(o.onStateChange))
	return o
}

// Identity returns the call identity, completed from the start frame once seen.
func (o *Orchestrator) Identity() Identity {
	o.snapMu.Lock()
	defer o.snapMu.Unlock()
	return o.id
}

// State returns the current turn state. Safe for concurrent use.
func (o *Orchestrator) State() turn.State { return o.machine.State() }

// Done is closed when Run has returned.
func (o *Orchestrator) Done() <-chan struct{} { return o.done }

// Deliver queues an inbound frame. Audio is dropped when the inbox is full;
// control and system frames wait for room. It reports whether the frame was
// accepted.
func (o *Orchestrator) Deliver(f frames.Frame) bool {
	if f == nil {
		return false
	}
	select {
	case <-o.done:
		return false
	default:
	}
	if f.Kind() == frames.KindAudio {
		select {
		case o.in <- f:
			return true
		case <-o.done:
			return false
		default:
			o.logger.Debug("session_inbox_full_drop")
			return false
		}
	}
	select {
	case o.in <- f:
		return true
	case <-o.done:
		return false
	case <-o.stop:
		return false
	}
}

// Stop ends the call. Safe to call more than once and before Run.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() { close(o.stop) })
}

// Snapshot returns the last published view of the session.
func (o *Orchestrator) Snapshot() Snapshot {
	o.snapMu.Lock()
	defer o.snapMu.Unlock()
	s := o.snap
	s.History = append([]conversation.Utterance(nil), o.snap.History...)
	return s
}

// Run drives the call until it ends. It never returns provider errors; every
// failure has a degraded continuation.
func (o *Orchestrator) Run(ctx context.Context) error {
	if !o.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(o.done)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		o.loop(gctx)
		return nil
	})
	g.Go(func() error {
		o.speak(gctx)
		return nil
	})
	return g.Wait()
}

func (o *Orchestrator) loop(ctx context.Context) {
	reason := "context_done"
	defer func() { o.teardown(reason) }()
	for {
		var events <-chan transcription.Event
		if o.sess != nil && o.sess.transcription != nil {
			events = o.sess.transcription.Events()
		}
		select {
		case <-ctx.Done():
			return
		case <-o.stop:
			reason = "stopped"
			return
		case f := <-o.in:
			if end, why := o.handleFrame(ctx, f); end {
				reason = why
				return
			}
		case ev := <-events:
			o.handleTranscript(ctx, ev)
		case r := <-o.replies:
			o.handleReply(ctx, r)
		case op := <-o.opened:
			o.handleOpened(op)
		}
	}
}

func (o *Orchestrator) handleFrame(ctx context.Context, f frames.Frame) (bool, string) {
	switch v := f.(type) {
	case frames.SystemFrame:
		switch v.Name() {
		case frames.SystemCallStart:
			o.handleStart(ctx, v.Meta())
		case frames.SystemCallEnd:
			why := v.Meta()[frames.MetaCallEndReason]
			if why == "" {
				why = "completed"
			}
			return true, why
		}
	case frames.AudioFrame:
		o.handleMedia(v)
	case frames.ControlFrame:
		if v.Code() == frames.ControlMark {
			o.handleMark(v.Meta()[frames.MetaMarkName])
		}
	}
	return false, ""
}

func (o *Orchestrator) handleStart(ctx context.Context, meta map[string]string) {
	if o.sess != nil {
		o.logger.Warn("session_duplicate_start")
		return
	}
	id := o.id
	if id.CallSID == "" {
		id.CallSID = meta[frames.MetaCallSID]
	}
	if id.TraceID == "" {
		id.TraceID = meta[frames.MetaTraceID]
	}
	if id.From == "" {
		id.From = meta[frames.MetaFromNumber]
	}
	o.snapMu.Lock()
	o.id = id
	o.snapMu.Unlock()
	o.sess = newSession(id, o.cfg.SystemPrompt, o.cfg.MaxHistory)
	o.logger.Info("call_started", slog.Bool("greeting", o.cfg.Greeting != ""))
	metrics.Record(o.deps.Observer, metrics.EventCallStarted, 1, nil)
	o.publish()

	o.openTranscription(ctx)

	if strings.TrimSpace(o.cfg.Greeting) == "" {
		o.transition(turn.StateListening, "no_greeting")
		return
	}
	o.transition(turn.StateSpeaking, "greeting")
	o.say(ctx, o.cfg.Greeting)
}

// openTranscription connects off the loop so a slow provider never stalls
// frame handling. The result is posted back to the loop.
func (o *Orchestrator) openTranscription(ctx context.Context) {
	if o.deps.STT == nil {
		o.logger.Warn("transcription_unavailable", slog.String("reason", string(errorsx.ReasonSTTDisabled)))
		return
	}
	cfg := stt.Config{
		StreamID:   o.id.StreamID,
		CallSID:    o.id.CallSID,
		TraceID:    o.id.TraceID,
		SampleRate: o.cfg.STTSampleRate,
		Language:   o.cfg.Language,
		Encoding:   string(o.cfg.STTEncoding),
	}
	opts := o.cfg.Transcription
	opts.Logger = o.deps.Logger
	go func() {
		ch, err := transcription.Open(ctx, o.deps.STT, cfg, opts)
		select {
		case o.opened <- opened{ch: ch, err: err}:
		case <-ctx.Done():
			if ch != nil {
				_ = ch.Close()
			}
		}
	}()
}

func (o *Orchestrator) handleOpened(op opened) {
	if op.err != nil {
		o.logger.Error("transcription_open_failed",
			slog.String("reason", string(errorsx.Reason(op.err))),
			slog.String("error", op.err.Error()))
		metrics.Record(o.deps.Observer, metrics.EventTranscriptionFailed, 1, nil)
		return
	}
	if o.sess == nil {
		_ = op.ch.Close()
		return
	}
	o.sess.transcription = op.ch
}

func (o *Orchestrator) handleMedia(f frames.AudioFrame) {
	if o.sess == nil {
		return
	}
	if !o.machine.State().AcceptsAudio() {
		o.sess.droppedAudio++
		return
	}
	ch := o.sess.transcription
	if ch == nil || ch.Disabled() {
		o.sess.unheardAudio++
		return
	}
	ch.Submit(o.codec.DecodeInbound(f.RawPayload()))
}

func (o *Orchestrator) handleTranscript(ctx context.Context, ev transcription.Event) {
	if o.sess == nil || !ev.IsFinal {
		return
	}
	if !ev.Promoted {
		o.sess.ignoredFinals++
		metrics.Record(o.deps.Observer, metrics.EventTranscriptIgnored, ev.Confidence, nil)
		return
	}
	state := o.machine.State()
	if state != turn.StateListening {
		o.logger.Debug("transcript_outside_listening", slog.String("state", state.String()))
		return
	}
	if o.deps.Generator == nil {
		o.logger.Warn("generator_unavailable")
		return
	}

	user := o.sess.History.NewUtterance(conversation.RoleUser, strings.TrimSpace(ev.Text))
	prior := o.sess.History.Entries()
	o.sess.History.Append(user)
	o.sess.turnSeq++
	metrics.Record(o.deps.Observer, metrics.EventTranscriptPromoted, ev.Confidence, nil)
	o.transition(turn.StateGenerating, "transcript_promoted")
	o.publish()

	seq := o.sess.turnSeq
	gen := o.deps.Generator
	go func() {
		start := time.Now()
		text, err := gen.Generate(ctx, prior, user)
		r := reply{seq: seq, text: text, err: err, elapsed: time.Since(start)}
		select {
		case o.replies <- r:
		case <-ctx.Done():
		}
	}()
}

func (o *Orchestrator) handleReply(ctx context.Context, r reply) {
	if o.sess == nil || r.seq != o.sess.turnSeq || o.machine.State() != turn.StateGenerating {
		o.logger.Debug("reply_discarded", slog.Uint64("seq", r.seq))
		return
	}
	text := strings.TrimSpace(r.text)
	if r.err != nil || text == "" {
		text = o.deps.Fallbacks.Pick()
		reason := string(errorsx.ReasonLLMEmpty)
		if r.err != nil {
			reason = string(errorsx.Reason(r.err))
		}
		o.logger.Warn("reply_fallback", slog.String("reason", reason), slog.Duration("elapsed", r.elapsed))
		metrics.Record(o.deps.Observer, metrics.EventGenerationFallback, 1, map[string]string{"reason": reason})
	}
	o.sess.History.Append(o.sess.History.NewUtterance(conversation.RoleAssistant, text))
	o.transition(turn.StateSpeaking, "reply_ready")
	o.publish()
	o.say(ctx, text)
}

func (o *Orchestrator) handleMark(name string) {
	if o.sess == nil {
		return
	}
	if name != o.cfg.EndOfSpeechMark {
		o.logger.Debug("mark_ignored", slog.String("mark", name))
		return
	}
	if o.machine.State() != turn.StateSpeaking {
		return
	}
	o.sess.turns++
	o.transition(turn.StateListening, "playback_complete")
	o.publish()
}

// say hands text to the speech worker, superseding any utterance still in flight.
func (o *Orchestrator) say(ctx context.Context, text string) {
	o.sess.stopSpeech()
	jctx, cancel := context.WithCancel(ctx)
	o.sess.cancelSpeech = cancel
	select {
	case o.speech <- speechJob{ctx: jctx, text: text}:
	case <-ctx.Done():
		cancel()
	}
}

func (o *Orchestrator) transition(to turn.State, reason string) {
	if err := o.machine.Transition(to, reason); err != nil {
		o.logger.Error("turn_transition_rejected", slog.String("error", err.Error()))
	}
}

func (o *Orchestrator) onStateChange(ev turn.StateChange) {
	o.logger.Debug("turn_state_changed",
		slog.String("from", ev.FromState.String()),
		slog.String("to", ev.ToState.String()),
		slog.String("reason", ev.Reason))
	metrics.Record(o.deps.Observer, metrics.EventTurnState, 1, map[string]string{"state": ev.ToState.String()})
}

func (o *Orchestrator) teardown(reason string) {
	sess := o.sess
	if sess == nil {
		return
	}
	o.sess = nil
	sess.stopSpeech()
	if sess.transcription != nil {
		_ = sess.transcription.Close()
	}
	o.pts.Forget(o.id.StreamID)
	if sess.droppedAudio > 0 {
		metrics.Record(o.deps.Observer, metrics.EventAudioDropped, float64(sess.droppedAudio), nil)
	}
	metrics.Record(o.deps.Observer, metrics.EventCallEnded, time.Since(sess.StartedAt).Seconds(), map[string]string{"reason": reason})
	o.logger.Info("call_ended",
		slog.String("reason", reason),
		slog.Duration("duration", time.Since(sess.StartedAt)),
		slog.Int("turns", sess.turns),
		slog.Int("history", sess.History.Len()),
		slog.Int64("dropped_audio_frames", sess.droppedAudio),
		slog.Int64("unheard_audio_frames", sess.unheardAudio),
		slog.Int("ignored_transcripts", sess.ignoredFinals))
	o.publishFrom(sess)
}

func (o *Orchestrator) publish() {
	if o.sess != nil {
		o.publishFrom(o.sess)
	}
}

func (o *Orchestrator) publishFrom(s *Session) {
	snap := Snapshot{
		Identity:     s.Identity,
		History:      s.History.Entries(),
		Turns:        s.turns,
		DroppedAudio: s.droppedAudio,
	}
	o.snapMu.Lock()
	o.snap = snap
	o.snapMu.Unlock()
}
