package tts

import (
	"context"
	"io"
)

// Provider synthesizes text into an audio byte stream.
type Provider interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Synthesize opens an audio stream for text. The caller closes the stream.
	Synthesize(ctx context.Context, text string) (io.ReadCloser, error)
	// Encoding names the byte format of the returned stream, e.g. "ulaw_8000".
	Encoding() string
}
