package mock

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"

	"github.com/harunnryd/callbridge/pkg/adapters/tts"
)

type TTSConfig struct {
	Name string
	// Audio is returned for every request. Empty means BytesPerChar per rune of text.
	Audio        []byte
	BytesPerChar int
	Encoding     string
	ConnectErr   error
	// StreamErr fails the stream after StreamErrAfter bytes.
	StreamErr      error
	StreamErrAfter int
}

type TTSProvider struct {
	cfg   TTSConfig
	mu    sync.Mutex
	texts []string
}

func NewTTS(cfg TTSConfig) *TTSProvider {
	if cfg.Name == "" {
		cfg.Name = "mock_tts"
	}
	if cfg.BytesPerChar <= 0 {
		cfg.BytesPerChar = 100
	}
	if cfg.Encoding == "" {
		cfg.Encoding = "ulaw_8000"
	}
	return &TTSProvider{cfg: cfg}
}

func (p *TTSProvider) Name() string { return p.cfg.Name }

func (p *TTSProvider) Encoding() string { return p.cfg.Encoding }

func (p *TTSProvider) Synthesize(ctx context.Context, text string) (io.ReadCloser, error) {
	p.mu.Lock()
	p.texts = append(p.texts, text)
	p.mu.Unlock()
	if p.cfg.ConnectErr != nil {
		return nil, p.cfg.ConnectErr
	}
	audio := p.cfg.Audio
	if len(audio) == 0 {
		audio = bytes.Repeat([]byte{0xFF}, len([]rune(text))*p.cfg.BytesPerChar)
	}
	var r io.Reader = bytes.NewReader(audio)
	if p.cfg.StreamErr != nil {
		n := p.cfg.StreamErrAfter
		if n > len(audio) {
			n = len(audio)
		}
		r = io.MultiReader(bytes.NewReader(audio[:n]), failingReader{err: p.cfg.StreamErr})
	}
	return io.NopCloser(r), nil
}

// Texts returns every text passed to Synthesize.
func (p *TTSProvider) Texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.texts...)
}

type failingReader struct{ err error }

func (f failingReader) Read([]byte) (int, error) {
	if f.err == nil {
		return 0, errors.New("mock stream failure")
	}
	return 0, f.err
}

var _ tts.Provider = (*TTSProvider)(nil)
