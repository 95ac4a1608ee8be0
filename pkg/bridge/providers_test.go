package bridge

import (
	"context"
	"strings"
	"testing"

	"github.com/harunnryd/callbridge/pkg/adapters/stt"
	"github.com/harunnryd/callbridge/pkg/audio"
)

func TestDefaultProvidersBuildDeepgramFactory(t *testing.T) {
	r := DefaultProviders()
	p, err := r.BuildSTT(VendorConfig{Provider: "Deepgram", Settings: map[string]any{
		"api_key":     "dg",
		"endpointing": 300,
	}}, testConfig())
	if err != nil {
		t.Fatalf("BuildSTT: %v", err)
	}
	if p.Encoding != audio.EncodingMuLaw || p.SampleRate != 8000 {
		t.Fatalf("unexpected stt format %+v", p)
	}
	s, err := p.Factory(stt.Config{StreamID: "MZ1", SampleRate: 8000, Language: "cs", Encoding: "mulaw"})
	if err != nil || s == nil {
		t.Fatalf("factory: %v", err)
	}
	if s.Ready() {
		t.Fatalf("adapter must not be ready before Start")
	}
}

func TestDefaultProvidersValidateSettings(t *testing.T) {
	r := DefaultProviders()
	_, err := r.BuildTTS(VendorConfig{Provider: "elevenlabs", Settings: map[string]any{"api_key": "xi"}}, testConfig())
	if err == nil || !strings.Contains(err.Error(), "voice_id") {
		t.Fatalf("expected missing voice_id, got %v", err)
	}
	_, err = r.BuildSTT(VendorConfig{Provider: "deepgram", Settings: map[string]any{"api_key": "dg", "encoding": "opus"}}, testConfig())
	if err == nil {
		t.Fatalf("expected unsupported encoding")
	}
	_, err = r.BuildLLM(VendorConfig{Provider: "openai", Settings: map[string]any{"api_key": "sk", "temprature": 1}}, testConfig())
	if err == nil || !strings.Contains(err.Error(), "unknown: temprature") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestDefaultProvidersBuildOpenAIAndElevenLabs(t *testing.T) {
	r := DefaultProviders()
	a, err := r.BuildLLM(VendorConfig{Provider: "openai", Settings: map[string]any{
		"api_key":     "sk-test",
		"max_tokens":  "80",
		"temperature": 0.7,
		"timeout":     "5s",
	}}, testConfig())
	if err != nil || a.Name() != "openai" {
		t.Fatalf("BuildLLM: %v", err)
	}
	p, err := r.BuildTTS(VendorConfig{Provider: "elevenlabs", Settings: map[string]any{
		"api_key":       "xi",
		"voice_id":      "voice1",
		"output_format": "pcm_8000",
	}}, testConfig())
	if err != nil {
		t.Fatalf("BuildTTS: %v", err)
	}
	if p.Encoding() != "pcm_8000" {
		t.Fatalf("unexpected encoding %q", p.Encoding())
	}
}

func TestProviderRegistryUnknown(t *testing.T) {
	r := NewProviderRegistry()
	if _, err := r.BuildSTT(VendorConfig{Provider: "whisper"}, testConfig()); err == nil {
		t.Fatalf("expected unregistered stt")
	}
	if _, err := r.BuildTTS(VendorConfig{Provider: "polly"}, testConfig()); err == nil {
		t.Fatalf("expected unregistered tts")
	}
	if _, err := r.BuildLLM(VendorConfig{Provider: "llama"}, testConfig()); err == nil {
		t.Fatalf("expected unregistered llm")
	}
}

func TestMockProvidersFromSettings(t *testing.T) {
	r := DefaultProviders()
	a, err := r.BuildLLM(VendorConfig{Provider: "mock", Settings: map[string]any{"response_text": "Ahoj"}}, testConfig())
	if err != nil {
		t.Fatalf("BuildLLM: %v", err)
	}
	resp, err := a.Generate(context.Background(), nil)
	if err != nil || resp.Text != "Ahoj" {
		t.Fatalf("unexpected mock reply %+v %v", resp, err)
	}
}
