package bridge

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/harunnryd/callbridge/pkg/frames"
	"github.com/harunnryd/callbridge/pkg/metrics"
	tmock "github.com/harunnryd/callbridge/pkg/transports/mock"
	"github.com/harunnryd/callbridge/pkg/turn"
)

const streamID = "MZ-engine"

func testConfig() Config {
	return Config{
		Environment: "test",
		Transports:  TransportsConfig{Provider: "mock"},
		Vendors: VendorsConfig{
			STT: VendorConfig{Provider: "mock", Settings: map[string]any{"transcript": "Dobrý den, potřebuji pomoc"}},
			LLM: VendorConfig{Provider: "mock", Settings: map[string]any{"response_text": "Jistě, s čím?"}},
			TTS: VendorConfig{Provider: "mock", Settings: map[string]any{"bytes_per_char": 4}},
		},
		Conversation: ConversationConfig{
			SystemPrompt: "Jsi Jana.",
			Greeting:     "Dobrý den! Jsem Jana.",
			Language:     "cs",
			MaxHistory:   10,
		},
		Transcription: TranscriptionConfig{MinConfidence: 0.5, MinChars: 2, ReopenAttempts: 1},
		Generation:    GenerationConfig{ResponseTimeoutMS: 2000},
		Speech:        SpeechConfig{MaxFrameSize: 160, EndOfSpeechMark: "bot_finished_speaking"},
		Metrics:       MetricsConfig{Enabled: true, Path: "/metrics"},
		Shutdown:      ShutdownConfig{DrainTimeoutMS: 1000},
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type engineHarness struct {
	engine *Engine
	tr     *tmock.Transport
	obs    *metrics.MemoryObserver
	done   chan error
	cancel context.CancelFunc
}

func startEngine(t *testing.T, cfg Config) *engineHarness {
	t.Helper()
	h := &engineHarness{tr: tmock.New(), obs: metrics.NewMemoryObserver(), done: make(chan error, 1)}
	e, err := NewEngine(EngineOptions{Config: cfg, Transport: h.tr, Logger: quietLogger(), Observer: h.obs})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	h.engine = e
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- e.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-h.done:
		case <-time.After(5 * time.Second):
			t.Errorf("engine did not stop")
		}
	})
	return h
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (h *engineHarness) marks() int {
	n := 0
	for _, f := range h.tr.Sent() {
		if cf, ok := f.(frames.ControlFrame); ok && cf.Code() == frames.ControlMark {
			n++
		}
	}
	return n
}

func (h *engineHarness) state(t *testing.T) turn.State {
	t.Helper()
	orch, ok := h.engine.Registry().Get(streamID)
	if !ok {
		return turn.StateIdle
	}
	return orch.State()
}

func TestEngineRoutesFullConversation(t *testing.T) {
	h := startEngine(t, testConfig())

	h.tr.Push(frames.NewSystemFrame(streamID, 1, frames.SystemCallStart, map[string]string{
		frames.MetaCallSID: "CA-engine",
		frames.MetaTraceID: "trace-engine",
	}))
	waitFor(t, "greeting mark", func() bool { return h.marks() == 1 })

	h.tr.Push(frames.NewControlFrame(streamID, 2, frames.ControlMark, map[string]string{frames.MetaMarkName: "bot_finished_speaking"}))
	waitFor(t, "listening", func() bool { return h.state(t) == turn.StateListening })

	waitFor(t, "reply mark", func() bool {
		if h.marks() >= 2 {
			return true
		}
		h.tr.Push(frames.NewAudioFrame(streamID, 3, []byte{0xFF, 0xFE}, 8000, 1, nil))
		return false
	})

	orch, ok := h.engine.Registry().Get(streamID)
	if !ok {
		t.Fatalf("expected live session")
	}
	h.tr.Push(frames.NewSystemFrame(streamID, 4, frames.SystemCallEnd, map[string]string{frames.MetaCallEndReason: "completed"}))
	select {
	case <-orch.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("session did not end")
	}
	snap := orch.Snapshot()
	if len(snap.History) != 3 {
		t.Fatalf("expected system, user and assistant entries, got %d", len(snap.History))
	}
	if snap.History[2].Text != "Jistě, s čím?" {
		t.Fatalf("unexpected reply %q", snap.History[2].Text)
	}
	if snap.Identity.CallSID != "CA-engine" {
		t.Fatalf("identity not taken from start frame: %+v", snap.Identity)
	}
	waitFor(t, "registry empty", func() bool { return h.engine.Registry().Count() == 0 })
	waitFor(t, "call events", func() bool {
		return h.obs.Count(metrics.EventCallStarted) == 1 && h.obs.Count(metrics.EventCallEnded) == 1
	})
}

func TestEngineIgnoresFramesForUnknownStreams(t *testing.T) {
	h := startEngine(t, testConfig())
	h.tr.Push(frames.NewAudioFrame("MZ-ghost", 1, []byte{1}, 8000, 1, nil))
	h.tr.Push(frames.NewSystemFrame("MZ-ghost", 2, frames.SystemCallEnd, nil))
	time.Sleep(50 * time.Millisecond)
	if n := h.engine.Registry().Count(); n != 0 {
		t.Fatalf("expected no sessions, got %d", n)
	}
	if len(h.tr.Sent()) != 0 {
		t.Fatalf("expected nothing sent")
	}
}

func TestEngineDrainEndsLiveCalls(t *testing.T) {
	cfg := testConfig()
	cfg.Shutdown.DrainTimeoutMS = 50
	h := startEngine(t, cfg)
	h.tr.Push(frames.NewSystemFrame(streamID, 1, frames.SystemCallStart, nil))
	waitFor(t, "session", func() bool { return h.engine.Registry().Count() == 1 })

	h.cancel()
	select {
	case err := <-h.done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("engine did not drain")
	}
	if n := h.engine.Registry().Count(); n != 0 {
		t.Fatalf("expected drained registry, got %d", n)
	}
	if err := h.engine.Health(); err == nil {
		t.Fatalf("expected unhealthy while drained")
	}
	h.done <- nil
}

func TestNewEngineUnknownProvider(t *testing.T) {
	cfg := testConfig()
	cfg.Vendors.LLM.Provider = "llama"
	_, err := NewEngine(EngineOptions{Config: cfg, Transport: tmock.New(), Logger: quietLogger()})
	if err == nil {
		t.Fatalf("expected error for unregistered provider")
	}
}

func TestNewEngineRequiresSupportedTransport(t *testing.T) {
	_, err := NewEngine(EngineOptions{Config: testConfig(), Logger: quietLogger()})
	if err == nil {
		t.Fatalf("expected error for mock transport provider without an instance")
	}
}

func TestEngineMetricsHandler(t *testing.T) {
	cfg := testConfig()
	e, err := NewEngine(EngineOptions{Config: cfg, Transport: tmock.New(), Logger: quietLogger()})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if e.MetricsHandler() == nil {
		t.Fatalf("expected metrics handler")
	}
	cfg.Metrics.Enabled = false
	e2, err := NewEngine(EngineOptions{Config: cfg, Transport: tmock.New(), Logger: quietLogger()})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if e2.MetricsHandler() != nil {
		t.Fatalf("expected no handler when disabled")
	}
	if errors.Is(e2.Health(), context.Canceled) {
		t.Fatalf("unexpected health error")
	}
}
