package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/harunnryd/callbridge/pkg/adapters/stt"
)

type STTConfig struct {
	// Transcript is emitted as a final result once EmitAfterFrames frames arrived.
	Transcript        string
	Confidence        float64
	InterimTranscript string
	EmitInterim       bool
	EmitAfterFrames   int
	StartErr          error
}

type StreamingSTT struct {
	cfg      STTConfig
	out      chan stt.Transcript
	errs     chan error
	mu       sync.Mutex
	started  bool
	closed   bool
	frames   int
	emitted  bool
	received [][]byte
}

func NewSTT(cfg STTConfig) *StreamingSTT {
	if cfg.Confidence == 0 {
		cfg.Confidence = 0.9
	}
	if cfg.EmitAfterFrames <= 0 {
		cfg.EmitAfterFrames = 1
	}
	return &StreamingSTT{
		cfg:  cfg,
		out:  make(chan stt.Transcript, 16),
		errs: make(chan error, 4),
	}
}

func (s *StreamingSTT) Name() string { return "mock_stt" }

func (s *StreamingSTT) Start(ctx context.Context) error {
	if s.cfg.StartErr != nil {
		return s.cfg.StartErr
	}
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	return nil
}

func (s *StreamingSTT) Close() error {
	s.mu.Lock()
	s.closed = true
	s.started = false
	s.mu.Unlock()
	return nil
}

func (s *StreamingSTT) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started && !s.closed
}

func (s *StreamingSTT) SendAudio(payload []byte) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return errors.New("not started")
	}
	s.received = append(s.received, append([]byte(nil), payload...))
	s.frames++
	emit := s.cfg.Transcript != "" && !s.emitted && s.frames >= s.cfg.EmitAfterFrames
	if emit {
		s.emitted = true
	}
	s.mu.Unlock()

	if !emit {
		return nil
	}
	if s.cfg.EmitInterim {
		interim := s.cfg.InterimTranscript
		if interim == "" {
			interim = s.cfg.Transcript
		}
		s.Emit(stt.Transcript{Text: interim, Confidence: s.cfg.Confidence})
	}
	s.Emit(stt.Transcript{Text: s.cfg.Transcript, Confidence: s.cfg.Confidence, IsFinal: true})
	return nil
}

// Emit pushes a transcript as if the provider produced it.
func (s *StreamingSTT) Emit(t stt.Transcript) {
	select {
	case s.out <- t:
	default:
	}
}

// Fail injects a channel-level error.
func (s *StreamingSTT) Fail(err error) {
	s.mu.Lock()
	s.started = false
	s.mu.Unlock()
	select {
	case s.errs <- err:
	default:
	}
}

// Received returns copies of every payload passed to SendAudio.
func (s *StreamingSTT) Received() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.received))
	copy(out, s.received)
	return out
}

func (s *StreamingSTT) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *StreamingSTT) Results() <-chan stt.Transcript { return s.out }

func (s *StreamingSTT) Errors() <-chan error { return s.errs }

// STTFactory hands out mock adapters and remembers them for assertions.
type STTFactory struct {
	mu        sync.Mutex
	cfg       STTConfig
	instances []*StreamingSTT
	// FailStarts makes the first n instances fail to start.
	FailStarts int
}

func NewSTTFactory(cfg STTConfig) *STTFactory {
	return &STTFactory{cfg: cfg}
}

func (f *STTFactory) New(_ stt.Config) (stt.StreamingSTT, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cfg := f.cfg
	if f.FailStarts > 0 {
		f.FailStarts--
		cfg.StartErr = errors.New("mock stt start failed")
	}
	s := NewSTT(cfg)
	f.instances = append(f.instances, s)
	return s, nil
}

func (f *STTFactory) Instances() []*StreamingSTT {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*StreamingSTT, len(f.instances))
	copy(out, f.instances)
	return out
}

// Last returns the most recently built adapter, or nil.
func (f *STTFactory) Last() *StreamingSTT {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.instances) == 0 {
		return nil
	}
	return f.instances[len(f.instances)-1]
}

var _ stt.StreamingSTT = (*StreamingSTT)(nil)
