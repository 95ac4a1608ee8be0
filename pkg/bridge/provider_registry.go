package bridge

import (
	"fmt"
	"strings"

	"github.com/harunnryd/callbridge/pkg/adapters/stt"
	"github.com/harunnryd/callbridge/pkg/adapters/tts"
	"github.com/harunnryd/callbridge/pkg/audio"
	"github.com/harunnryd/callbridge/pkg/llm"
)

// STTProvider is a built transcription backend together with the audio
// format it wants from the call.
type STTProvider struct {
	Factory    stt.Factory
	Encoding   audio.Encoding
	SampleRate int
}

type STTBuilder func(vendor VendorConfig, cfg Config) (STTProvider, error)
type TTSBuilder func(vendor VendorConfig, cfg Config) (tts.Provider, error)
type LLMBuilder func(vendor VendorConfig, cfg Config) (llm.LLMAdapter, error)

type ProviderRegistry struct {
	stt map[string]STTBuilder
	tts map[string]TTSBuilder
	llm map[string]LLMBuilder
}

// NewProviderRegistry returns an empty registry. Use DefaultProviders for
// the bundled vendors.
func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		stt: make(map[string]STTBuilder),
		tts: make(map[string]TTSBuilder),
		llm: make(map[string]LLMBuilder),
	}
}

func (r *ProviderRegistry) RegisterSTT(name string, b STTBuilder) {
	r.stt[providerKey(name)] = b
}

func (r *ProviderRegistry) RegisterTTS(name string, b TTSBuilder) {
	r.tts[providerKey(name)] = b
}

func (r *ProviderRegistry) RegisterLLM(name string, b LLMBuilder) {
	r.llm[providerKey(name)] = b
}

func (r *ProviderRegistry) BuildSTT(vendor VendorConfig, cfg Config) (STTProvider, error) {
	fn := r.stt[providerKey(vendor.Provider)]
	if fn == nil {
		return STTProvider{}, fmt.Errorf("stt provider not registered: %s", vendor.Provider)
	}
	p, err := fn(vendor, cfg)
	if err != nil {
		return STTProvider{}, fmt.Errorf("stt %s: %w", vendor.Provider, err)
	}
	if p.Encoding == "" {
		p.Encoding = audio.EncodingMuLaw
	}
	if p.SampleRate <= 0 {
		p.SampleRate = audio.TransportSampleRate
	}
	return p, nil
}

func (r *ProviderRegistry) BuildTTS(vendor VendorConfig, cfg Config) (tts.Provider, error) {
	fn := r.tts[providerKey(vendor.Provider)]
	if fn == nil {
		return nil, fmt.Errorf("tts provider not registered: %s", vendor.Provider)
	}
	p, err := fn(vendor, cfg)
	if err != nil {
		return nil, fmt.Errorf("tts %s: %w", vendor.Provider, err)
	}
	return p, nil
}

func (r *ProviderRegistry) BuildLLM(vendor VendorConfig, cfg Config) (llm.LLMAdapter, error) {
	fn := r.llm[providerKey(vendor.Provider)]
	if fn == nil {
		return nil, fmt.Errorf("llm provider not registered: %s", vendor.Provider)
	}
	a, err := fn(vendor, cfg)
	if err != nil {
		return nil, fmt.Errorf("llm %s: %w", vendor.Provider, err)
	}
	return a, nil
}

func providerKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
