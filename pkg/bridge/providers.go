package bridge

import (
	"time"

	"github.com/harunnryd/callbridge/pkg/adapters/stt"
	"github.com/harunnryd/callbridge/pkg/adapters/tts"
	"github.com/harunnryd/callbridge/pkg/audio"
	"github.com/harunnryd/callbridge/pkg/configutil"
	"github.com/harunnryd/callbridge/pkg/llm"
	"github.com/harunnryd/callbridge/pkg/providers/deepgram"
	"github.com/harunnryd/callbridge/pkg/providers/elevenlabs"
	"github.com/harunnryd/callbridge/pkg/providers/mock"
	"github.com/harunnryd/callbridge/pkg/providers/openai"
)

var (
	deepgramSchema = configutil.Schema{
		Required: []string{"api_key"},
		Optional: []string{"model", "language", "encoding", "interim", "punctuate", "smart_format", "endpointing"},
	}
	openaiSchema = configutil.Schema{
		Required: []string{"api_key"},
		Optional: []string{"model", "base_url", "max_tokens", "temperature", "max_retries", "timeout"},
	}
	elevenlabsSchema = configutil.Schema{
		Required: []string{"api_key", "voice_id"},
		Optional: []string{"name", "model_id", "output_format", "base_url", "stability", "similarity_boost", "style", "speaker_boost", "optimize_latency", "connect_timeout"},
	}
)

// DefaultProviders registers deepgram, openai, elevenlabs and the in-memory mocks.
func DefaultProviders() *ProviderRegistry {
	r := NewProviderRegistry()
	r.RegisterSTT("deepgram", buildDeepgram)
	r.RegisterSTT("mock", buildMockSTT)
	r.RegisterLLM("openai", buildOpenAI)
	r.RegisterLLM("mock", buildMockLLM)
	r.RegisterTTS("elevenlabs", buildElevenLabs)
	r.RegisterTTS("mock", buildMockTTS)
	return r
}

type deepgramSettings struct {
	APIKey      string `mapstructure:"api_key"`
	Model       string `mapstructure:"model"`
	Language    string `mapstructure:"language"`
	Encoding    string `mapstructure:"encoding"`
	Interim     *bool  `mapstructure:"interim"`
	Punctuate   *bool  `mapstructure:"punctuate"`
	SmartFormat *bool  `mapstructure:"smart_format"`
	Endpointing int    `mapstructure:"endpointing"`
}

func buildDeepgram(vendor VendorConfig, cfg Config) (STTProvider, error) {
	if err := configutil.ValidateSettings(vendor.Settings, deepgramSchema); err != nil {
		return STTProvider{}, err
	}
	var s deepgramSettings
	if err := configutil.DecodeSettings(vendor.Settings, &s); err != nil {
		return STTProvider{}, err
	}
	enc, err := audio.ParseEncoding(s.Encoding)
	if err != nil {
		return STTProvider{}, err
	}
	factory := func(c stt.Config) (stt.StreamingSTT, error) {
		lang := c.Language
		if s.Language != "" {
			lang = s.Language
		}
		return deepgram.New(deepgram.Config{
			APIKey:      s.APIKey,
			Model:       s.Model,
			Language:    lang,
			SampleRate:  c.SampleRate,
			Encoding:    c.Encoding,
			Interim:     configutil.BoolValue(s.Interim, true),
			Punctuate:   configutil.BoolValue(s.Punctuate, true),
			SmartFormat: configutil.BoolValue(s.SmartFormat, true),
			Endpointing: s.Endpointing,
			StreamID:    c.StreamID,
			CallSID:     c.CallSID,
			TraceID:     c.TraceID,
		}), nil
	}
	return STTProvider{Factory: factory, Encoding: enc, SampleRate: audio.TransportSampleRate}, nil
}

type openaiSettings struct {
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	BaseURL     string        `mapstructure:"base_url"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float64       `mapstructure:"temperature"`
	MaxRetries  *int          `mapstructure:"max_retries"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

func buildOpenAI(vendor VendorConfig, _ Config) (llm.LLMAdapter, error) {
	if err := configutil.ValidateSettings(vendor.Settings, openaiSchema); err != nil {
		return nil, err
	}
	var s openaiSettings
	if err := configutil.DecodeSettings(vendor.Settings, &s); err != nil {
		return nil, err
	}
	return openai.NewAdapter(openai.Config{
		APIKey:      s.APIKey,
		Model:       s.Model,
		BaseURL:     s.BaseURL,
		MaxTokens:   s.MaxTokens,
		Temperature: s.Temperature,
		MaxRetries:  configutil.IntValue(s.MaxRetries, 0),
		Timeout:     s.Timeout,
	})
}

type elevenlabsSettings struct {
	Name            string        `mapstructure:"name"`
	APIKey          string        `mapstructure:"api_key"`
	VoiceID         string        `mapstructure:"voice_id"`
	ModelID         string        `mapstructure:"model_id"`
	OutputFormat    string        `mapstructure:"output_format"`
	BaseURL         string        `mapstructure:"base_url"`
	Stability       float64       `mapstructure:"stability"`
	SimilarityBoost float64       `mapstructure:"similarity_boost"`
	Style           float64       `mapstructure:"style"`
	SpeakerBoost    *bool         `mapstructure:"speaker_boost"`
	OptimizeLatency int           `mapstructure:"optimize_latency"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
}

func buildElevenLabs(vendor VendorConfig, _ Config) (tts.Provider, error) {
	if err := configutil.ValidateSettings(vendor.Settings, elevenlabsSchema); err != nil {
		return nil, err
	}
	var s elevenlabsSettings
	if err := configutil.DecodeSettings(vendor.Settings, &s); err != nil {
		return nil, err
	}
	if _, err := audio.ParseEncoding(s.OutputFormat); err != nil {
		return nil, err
	}
	return elevenlabs.New(elevenlabs.Config{
		Name:            s.Name,
		APIKey:          s.APIKey,
		VoiceID:         s.VoiceID,
		ModelID:         s.ModelID,
		OutputFormat:    s.OutputFormat,
		BaseURL:         s.BaseURL,
		Stability:       s.Stability,
		SimilarityBoost: s.SimilarityBoost,
		Style:           s.Style,
		SpeakerBoost:    configutil.BoolValue(s.SpeakerBoost, true),
		OptimizeLatency: s.OptimizeLatency,
		ConnectTimeout:  s.ConnectTimeout,
	}), nil
}

type mockSTTSettings struct {
	Transcript      string  `mapstructure:"transcript"`
	Confidence      float64 `mapstructure:"confidence"`
	EmitAfterFrames int     `mapstructure:"emit_after_frames"`
	FailStarts      int     `mapstructure:"fail_starts"`
}

func buildMockSTT(vendor VendorConfig, _ Config) (STTProvider, error) {
	var s mockSTTSettings
	if err := configutil.DecodeSettings(vendor.Settings, &s); err != nil {
		return STTProvider{}, err
	}
	f := mock.NewSTTFactory(mock.STTConfig{
		Transcript:      s.Transcript,
		Confidence:      s.Confidence,
		EmitAfterFrames: s.EmitAfterFrames,
	})
	f.FailStarts = s.FailStarts
	return STTProvider{Factory: f.New}, nil
}

type mockLLMSettings struct {
	ResponseText string        `mapstructure:"response_text"`
	Responses    []string      `mapstructure:"responses"`
	Delay        time.Duration `mapstructure:"delay"`
}

func buildMockLLM(vendor VendorConfig, _ Config) (llm.LLMAdapter, error) {
	var s mockLLMSettings
	if err := configutil.DecodeSettings(vendor.Settings, &s); err != nil {
		return nil, err
	}
	return mock.NewLLMAdapter(mock.LLMConfig{
		ResponseText: s.ResponseText,
		Responses:    s.Responses,
		Delay:        s.Delay,
	}), nil
}

type mockTTSSettings struct {
	Name         string `mapstructure:"name"`
	BytesPerChar int    `mapstructure:"bytes_per_char"`
	Encoding     string `mapstructure:"encoding"`
}

func buildMockTTS(vendor VendorConfig, _ Config) (tts.Provider, error) {
	var s mockTTSSettings
	if err := configutil.DecodeSettings(vendor.Settings, &s); err != nil {
		return nil, err
	}
	return mock.NewTTS(mock.TTSConfig{
		Name:         s.Name,
		BytesPerChar: s.BytesPerChar,
		Encoding:     s.Encoding,
	}), nil
}
