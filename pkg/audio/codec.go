package audio

import (
	"encoding/base64"
	"fmt"
	"io"
	"strings"
)

// TransportSampleRate is the telephony sample rate in Hz.
const TransportSampleRate = 8000

// DefaultMaxFrameSize is the default size of one outbound transport frame in bytes.
const DefaultMaxFrameSize = 8000

// Encoding names the byte format a provider consumes or produces.
type Encoding string

const (
	EncodingMuLaw    Encoding = "mulaw"
	EncodingLinear16 Encoding = "linear16"
)

// ParseEncoding accepts provider spellings such as "ulaw_8000" or "pcm_8000".
func ParseEncoding(s string) (Encoding, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	switch {
	case v == "", v == "mulaw", v == "ulaw", strings.HasPrefix(v, "ulaw_"), strings.HasPrefix(v, "mulaw_"):
		return EncodingMuLaw, nil
	case v == "linear16", v == "pcm", strings.HasPrefix(v, "pcm_"):
		return EncodingLinear16, nil
	default:
		return "", fmt.Errorf("unsupported audio encoding %q", s)
	}
}

// Codec converts between the transport's µ-law and a provider encoding.
// The zero value passes µ-law through unchanged.
type Codec struct {
	Provider Encoding
}

// EncodeOutbound converts provider audio into transport-ready µ-law.
func (c Codec) EncodeOutbound(b []byte) []byte {
	if c.Provider == EncodingLinear16 {
		return MuLawEncode(b)
	}
	return b
}

// DecodeInbound converts transport µ-law into the provider encoding.
func (c Codec) DecodeInbound(b []byte) []byte {
	if c.Provider == EncodingLinear16 {
		return MuLawDecode(b)
	}
	return b
}

// ProviderBytesPerTransportByte is the size ratio between provider and transport audio.
func (c Codec) ProviderBytesPerTransportByte() int {
	if c.Provider == EncodingLinear16 {
		return 2
	}
	return 1
}

// FrameForTransport splits b into consecutive chunks of at most maxFrameSize
// bytes. Empty input yields no chunks; a non-positive size yields one chunk.
func FrameForTransport(b []byte, maxFrameSize int) [][]byte {
	if len(b) == 0 {
		return nil
	}
	if maxFrameSize <= 0 || len(b) <= maxFrameSize {
		return [][]byte{b}
	}
	out := make([][]byte, 0, (len(b)+maxFrameSize-1)/maxFrameSize)
	for start := 0; start < len(b); start += maxFrameSize {
		end := start + maxFrameSize
		if end > len(b) {
			end = len(b)
		}
		out = append(out, b[start:end])
	}
	return out
}

// DecodePayload decodes a base64 media payload.
func DecodePayload(payload string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(payload)
}

// EncodePayload encodes audio as a base64 media payload.
func EncodePayload(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// ChunkReader re-slices a byte stream into chunks of a fixed size. Only the
// final chunk may be shorter.
type ChunkReader struct {
	r    io.Reader
	size int
	err  error
}

func NewChunkReader(r io.Reader, size int) *ChunkReader {
	if size <= 0 {
		size = DefaultMaxFrameSize
	}
	return &ChunkReader{r: r, size: size}
}

// Next returns the next chunk, or io.EOF once the stream is exhausted.
func (c *ChunkReader) Next() ([]byte, error) {
	if c.err != nil {
		return nil, c.err
	}
	buf := make([]byte, c.size)
	n, err := io.ReadFull(c.r, buf)
	switch err {
	case nil:
		return buf, nil
	case io.ErrUnexpectedEOF:
		c.err = io.EOF
		return buf[:n], nil
	case io.EOF:
		c.err = io.EOF
		return nil, io.EOF
	default:
		c.err = err
		if n > 0 {
			return buf[:n], nil
		}
		return nil, err
	}
}

// Chunk is one unit of synthesized audio, or the end-of-speech marker.
type Chunk struct {
	Data        []byte
	EndOfSpeech bool
}

// EndOfSpeech returns the terminal marker chunk.
func EndOfSpeech() Chunk {
	return Chunk{EndOfSpeech: true}
}
