package deepgram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/harunnryd/callbridge/pkg/adapters/stt"
	"github.com/harunnryd/callbridge/pkg/errorsx"
	"github.com/harunnryd/callbridge/pkg/logging"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
)

// ErrNotReady is returned by SendAudio before the socket is open or after Close.
var ErrNotReady = errors.New("deepgram: not ready")

type Config struct {
	APIKey      string
	Model       string
	Language    string
	SampleRate  int
	Encoding    string
	Interim     bool
	Punctuate   bool
	SmartFormat bool
	Endpointing int
	StreamID    string
	CallSID     string
	TraceID     string
}

type StreamingSTT struct {
	cfg        Config
	dgClient   *client.WSCallback
	out        chan stt.Transcript
	errs       chan error
	audio      chan []byte
	ctx        context.Context
	cancel     context.CancelFunc
	pipeReader *io.PipeReader
	pipeWriter *io.PipeWriter
	ready      atomic.Bool
	closing    atomic.Bool
	closeOnce  sync.Once
	metaLogged atomic.Bool
	logger     *slog.Logger
}

func New(cfg Config) *StreamingSTT {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 8000
	}
	if cfg.Encoding == "" {
		cfg.Encoding = "mulaw"
	}
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}

	logger := logging.WithCall(logging.NewComponentLogger(slog.Default(), "deepgram_stt"), cfg.StreamID, cfg.CallSID, cfg.TraceID)

	return &StreamingSTT{
		cfg:    cfg,
		out:    make(chan stt.Transcript, 64),
		errs:   make(chan error, 4),
		audio:  make(chan []byte, 256),
		logger: logger,
	}
}

func (s *StreamingSTT) Name() string { return "deepgram_streaming" }

func (s *StreamingSTT) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.pipeReader, s.pipeWriter = io.Pipe()

	clientOptions := &interfaces.ClientOptions{
		EnableKeepAlive: true,
	}

	transcriptOptions := &interfaces.LiveTranscriptionOptions{
		Model:          s.cfg.Model,
		Language:       s.cfg.Language,
		Encoding:       s.cfg.Encoding,
		SampleRate:     s.cfg.SampleRate,
		Channels:       1,
		InterimResults: s.cfg.Interim,
		Punctuate:      s.cfg.Punctuate,
		SmartFormat:    s.cfg.SmartFormat,
	}
	if s.cfg.Endpointing > 0 {
		transcriptOptions.Endpointing = fmt.Sprintf("%d", s.cfg.Endpointing)
	}

	s.logger.Info("deepgram_connecting",
		slog.String("model", s.cfg.Model),
		slog.String("language", s.cfg.Language),
		slog.Int("sample_rate", s.cfg.SampleRate))

	dgClient, err := client.NewWSUsingCallback(s.ctx, s.cfg.APIKey, clientOptions, transcriptOptions, &callback{parent: s})
	if err != nil {
		s.logger.Error("deepgram_client_create_error", slog.String("error", err.Error()))
		return errorsx.Wrap(err, errorsx.ReasonSTTConnect)
	}
	s.dgClient = dgClient

	if connected := s.dgClient.Connect(); !connected {
		s.logger.Error("deepgram_connect_failed")
		return errorsx.New(errorsx.ReasonSTTConnect, "deepgram connection failed")
	}
	s.ready.Store(true)
	s.logger.Info("deepgram_connected")

	go func() {
		if err := s.dgClient.Stream(s.pipeReader); err != nil && s.ctx.Err() == nil {
			s.logger.Error("deepgram_stream_error", slog.String("error", err.Error()))
			s.fail(errorsx.Wrap(err, errorsx.ReasonSTTStream))
		}
	}()
	go s.writeLoop()

	return nil
}

// writeLoop moves queued audio into the pipe so SendAudio never blocks the caller.
func (s *StreamingSTT) writeLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case b := <-s.audio:
			if _, err := s.pipeWriter.Write(b); err != nil {
				if s.ctx.Err() == nil {
					s.fail(errorsx.Wrap(err, errorsx.ReasonSTTSend))
				}
				return
			}
		}
	}
}

func (s *StreamingSTT) Close() error {
	s.closeOnce.Do(func() {
		s.closing.Store(true)
		s.ready.Store(false)
		s.logger.Info("deepgram_closing")
		if s.cancel != nil {
			s.cancel()
		}
		if s.pipeWriter != nil {
			_ = s.pipeWriter.Close()
		}
		if s.dgClient != nil {
			s.dgClient.Stop()
		}
	})
	return nil
}

func (s *StreamingSTT) Ready() bool { return s.ready.Load() }

func (s *StreamingSTT) SendAudio(payload []byte) error {
	if !s.ready.Load() {
		return errorsx.Wrap(ErrNotReady, errorsx.ReasonSTTSend)
	}
	select {
	case s.audio <- payload:
		return nil
	default:
		return errorsx.New(errorsx.ReasonSTTSend, "deepgram: audio queue full")
	}
}

func (s *StreamingSTT) Results() <-chan stt.Transcript { return s.out }

func (s *StreamingSTT) Errors() <-chan error { return s.errs }

func (s *StreamingSTT) fail(err error) {
	if s.closing.Load() {
		return
	}
	s.ready.Store(false)
	select {
	case s.errs <- err:
	default:
	}
}

type callback struct {
	parent *StreamingSTT
}

func (c *callback) Open(or *msginterfaces.OpenResponse) error {
	c.parent.ready.Store(true)
	c.parent.logger.Info("deepgram_connection_opened")
	return nil
}

func (c *callback) Message(mr *msginterfaces.MessageResponse) error {
	if mr == nil || len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	alt := mr.Channel.Alternatives[0]
	if alt.Transcript == "" {
		return nil
	}

	t := stt.Transcript{
		Text:       alt.Transcript,
		Confidence: alt.Confidence,
		IsFinal:    mr.IsFinal || mr.SpeechFinal,
	}
	select {
	case c.parent.out <- t:
	default:
		c.parent.logger.Warn("deepgram_out_channel_full")
	}
	return nil
}

func (c *callback) Metadata(md *msginterfaces.MetadataResponse) error {
	if md != nil && c.parent.metaLogged.CompareAndSwap(false, true) {
		c.parent.logger.Info("deepgram_metadata_received", slog.String("request_id", md.RequestID))
	}
	return nil
}

func (c *callback) SpeechStarted(ssr *msginterfaces.SpeechStartedResponse) error {
	return nil
}

func (c *callback) UtteranceEnd(ur *msginterfaces.UtteranceEndResponse) error {
	return nil
}

func (c *callback) Close(cr *msginterfaces.CloseResponse) error {
	c.parent.logger.Info("deepgram_connection_closed")
	c.parent.fail(errorsx.New(errorsx.ReasonSTTStream, "deepgram connection closed"))
	return nil
}

func (c *callback) Error(er *msginterfaces.ErrorResponse) error {
	if er == nil {
		return nil
	}
	c.parent.logger.Error("deepgram_error",
		slog.String("error_code", er.ErrCode),
		slog.String("error_message", er.ErrMsg))
	c.parent.fail(errorsx.New(errorsx.ReasonSTTStream, "deepgram %s: %s", er.ErrCode, er.ErrMsg))
	return nil
}

func (c *callback) UnhandledEvent(byData []byte) error {
	c.parent.logger.Debug("deepgram_unhandled_event", slog.Int("size_bytes", len(byData)))
	return nil
}

var _ stt.StreamingSTT = (*StreamingSTT)(nil)
