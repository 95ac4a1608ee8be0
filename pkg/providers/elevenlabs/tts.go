package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harunnryd/callbridge/pkg/adapters/tts"
	"github.com/harunnryd/callbridge/pkg/errorsx"
	"github.com/harunnryd/callbridge/pkg/logging"
	"github.com/harunnryd/callbridge/pkg/resilience"
)

const defaultBaseURL = "wss://api.elevenlabs.io"

type Config struct {
	Name            string
	APIKey          string
	VoiceID         string
	ModelID         string
	OutputFormat    string
	BaseURL         string
	Stability       float64
	SimilarityBoost float64
	Style           float64
	SpeakerBoost    bool
	// OptimizeLatency maps to optimize_streaming_latency (0-4).
	OptimizeLatency int
	ConnectTimeout  time.Duration
}

// ElevenLabsTTS opens one stream-input websocket per utterance and exposes
// the returned audio as a byte stream.
type ElevenLabsTTS struct {
	cfg    Config
	logger *slog.Logger
}

func New(cfg Config) *ElevenLabsTTS {
	if cfg.Name == "" {
		cfg.Name = "elevenlabs_tts"
	}
	if cfg.ModelID == "" {
		cfg.ModelID = "eleven_turbo_v2"
	}
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = "ulaw_8000"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	return &ElevenLabsTTS{
		cfg:    cfg,
		logger: logging.NewComponentLogger(slog.Default(), cfg.Name),
	}
}

func (s *ElevenLabsTTS) Name() string { return s.cfg.Name }

func (s *ElevenLabsTTS) Encoding() string { return s.cfg.OutputFormat }

func (s *ElevenLabsTTS) Synthesize(ctx context.Context, text string) (io.ReadCloser, error) {
	if s.cfg.APIKey == "" || s.cfg.VoiceID == "" {
		return nil, errorsx.Wrap(errors.New("missing elevenlabs config"), errorsx.ReasonTTSConnect)
	}
	u, err := s.buildURL()
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonTTSConnect)
	}

	dialer := websocket.Dialer{Proxy: http.ProxyFromEnvironment, HandshakeTimeout: s.cfg.ConnectTimeout}
	conn, resp, err := dialer.DialContext(ctx, u, http.Header{
		"xi-api-key": []string{s.cfg.APIKey},
	})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
			s.logger.Error("elevenlabs_rate_limited", slog.String("status", resp.Status))
			return nil, errorsx.Wrap(resilience.RateLimitError{Provider: "elevenlabs", Message: resp.Status}, errorsx.ReasonTTSRateLimit)
		}
		s.logger.Error("elevenlabs_connect_failed", slog.String("error", err.Error()))
		return nil, errorsx.Wrap(err, errorsx.ReasonTTSConnect)
	}

	if err := s.sendText(conn, text); err != nil {
		_ = conn.Close()
		return nil, errorsx.Wrap(err, errorsx.ReasonTTSConnect)
	}

	pr, pw := io.Pipe()
	st := &stream{pr: pr, conn: conn, done: make(chan struct{})}
	go st.watch(ctx)
	go s.readLoop(conn, pw)
	s.logger.Debug("elevenlabs_stream_opened", slog.Int("text_chars", len([]rune(text))))
	return st, nil
}

// sendText primes the voice, sends the whole utterance and signals end of input.
func (s *ElevenLabsTTS) sendText(conn *websocket.Conn, text string) error {
	text = strings.TrimSpace(text)
	msgs := []map[string]any{
		{
			"text": " ",
			"voice_settings": map[string]any{
				"stability":         s.cfg.Stability,
				"similarity_boost":  s.cfg.SimilarityBoost,
				"style":             s.cfg.Style,
				"use_speaker_boost": s.cfg.SpeakerBoost,
			},
		},
		{"text": text + " ", "try_trigger_generation": true},
		{"text": ""},
	}
	for _, m := range msgs {
		b, err := json.Marshal(m)
		if err != nil {
			return err
		}
		if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
			return err
		}
	}
	return nil
}

type streamMessage struct {
	Audio   string `json:"audio"`
	IsFinal *bool  `json:"isFinal"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (s *ElevenLabsTTS) readLoop(conn *websocket.Conn, pw *io.PipeWriter) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				_ = pw.Close()
				return
			}
			_ = pw.CloseWithError(errorsx.Wrap(err, errorsx.ReasonTTSStream))
			return
		}
		var msg streamMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn("elevenlabs_bad_message", slog.Int("size_bytes", len(data)))
			continue
		}
		if msg.Error != "" {
			_ = pw.CloseWithError(errorsx.New(errorsx.ReasonTTSStream, "elevenlabs %s: %s", msg.Error, msg.Message))
			return
		}
		if msg.Audio != "" {
			raw, err := base64.StdEncoding.DecodeString(msg.Audio)
			if err != nil {
				s.logger.Error("elevenlabs_audio_decode_error", slog.String("error", err.Error()))
				continue
			}
			if _, err := pw.Write(raw); err != nil {
				// reader closed
				return
			}
		}
		if msg.IsFinal != nil && *msg.IsFinal {
			_ = pw.Close()
			return
		}
	}
}

func (s *ElevenLabsTTS) buildURL() (string, error) {
	base, err := url.Parse(strings.TrimRight(s.cfg.BaseURL, "/"))
	if err != nil {
		return "", err
	}
	base.Path += "/v1/text-to-speech/" + url.PathEscape(s.cfg.VoiceID) + "/stream-input"
	q := url.Values{}
	q.Set("model_id", s.cfg.ModelID)
	q.Set("output_format", s.cfg.OutputFormat)
	if s.cfg.OptimizeLatency > 0 {
		q.Set("optimize_streaming_latency", fmt.Sprintf("%d", s.cfg.OptimizeLatency))
	}
	base.RawQuery = q.Encode()
	return base.String(), nil
}

type stream struct {
	pr   *io.PipeReader
	conn *websocket.Conn
	once sync.Once
	done chan struct{}
}

func (st *stream) Read(p []byte) (int, error) { return st.pr.Read(p) }

func (st *stream) Close() error {
	st.once.Do(func() {
		close(st.done)
		_ = st.pr.Close()
		_ = st.conn.Close()
	})
	return nil
}

// watch tears the socket down when the caller gives up.
func (st *stream) watch(ctx context.Context) {
	select {
	case <-ctx.Done():
		_ = st.Close()
	case <-st.done:
	}
}

var _ tts.Provider = (*ElevenLabsTTS)(nil)
