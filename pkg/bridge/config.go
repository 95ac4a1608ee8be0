package bridge

import (
	"fmt"
	"strings"

	"github.com/harunnryd/callbridge/pkg/configutil"
	"github.com/spf13/viper"
)

type Config struct {
	Environment   string              `mapstructure:"environment"`
	LogLevel      string              `mapstructure:"log_level"`
	LogFormat     string              `mapstructure:"log_format"`
	Transports    TransportsConfig    `mapstructure:"transports"`
	Vendors       VendorsConfig       `mapstructure:"vendors"`
	Conversation  ConversationConfig  `mapstructure:"conversation"`
	Transcription TranscriptionConfig `mapstructure:"transcription"`
	Generation    GenerationConfig    `mapstructure:"generation"`
	Speech        SpeechConfig        `mapstructure:"speech"`
	Metrics       MetricsConfig       `mapstructure:"metrics"`
	Privacy       PrivacyConfig       `mapstructure:"privacy"`
	Shutdown      ShutdownConfig      `mapstructure:"shutdown"`
}

type VendorConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type VendorsConfig struct {
	STT VendorConfig `mapstructure:"stt"`
	TTS VendorConfig `mapstructure:"tts"`
	// TTSFallback is tried once when the primary voice fails before any audio.
	TTSFallback VendorConfig `mapstructure:"tts_fallback"`
	LLM         VendorConfig `mapstructure:"llm"`
}

type TransportsConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type ConversationConfig struct {
	SystemPrompt string `mapstructure:"system_prompt"`
	Greeting     string `mapstructure:"greeting"`
	Language     string `mapstructure:"language"`
	MaxHistory   int    `mapstructure:"max_history"`
}

type TranscriptionConfig struct {
	MinConfidence   float64 `mapstructure:"min_confidence"`
	MinChars        int     `mapstructure:"min_chars"`
	ReopenAttempts  int     `mapstructure:"reopen_attempts"`
	ReopenBackoffMS int     `mapstructure:"reopen_backoff_ms"`
}

type GenerationConfig struct {
	ResponseTimeoutMS  int      `mapstructure:"response_timeout_ms"`
	Retries            int      `mapstructure:"retries"`
	RetryBackoffMS     int      `mapstructure:"retry_backoff_ms"`
	BreakerThreshold   int      `mapstructure:"breaker_threshold"`
	BreakerCooldownMS  int      `mapstructure:"breaker_cooldown_ms"`
	FallbackUtterances []string `mapstructure:"fallback_utterances"`
}

type SpeechConfig struct {
	MaxFrameSize int `mapstructure:"max_frame_size"`
	// ChunkDelayMS paces outbound frames; zero disables pacing.
	ChunkDelayMS      int    `mapstructure:"chunk_delay_ms"`
	EndOfSpeechMark   string `mapstructure:"end_of_speech_mark"`
	BreakerThreshold  int    `mapstructure:"breaker_threshold"`
	BreakerCooldownMS int    `mapstructure:"breaker_cooldown_ms"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
	Buffer  int    `mapstructure:"buffer"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

type ShutdownConfig struct {
	DrainTimeoutMS int `mapstructure:"drain_timeout_ms"`
}

func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	configutil.ExpandEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("transports.provider", "twilio")
	v.SetDefault("conversation.language", "cs")
	v.SetDefault("conversation.max_history", 10)
	v.SetDefault("transcription.min_confidence", 0.5)
	v.SetDefault("transcription.min_chars", 2)
	v.SetDefault("transcription.reopen_attempts", 1)
	v.SetDefault("transcription.reopen_backoff_ms", 250)
	v.SetDefault("generation.response_timeout_ms", 8000)
	v.SetDefault("generation.retries", 1)
	v.SetDefault("generation.retry_backoff_ms", 200)
	v.SetDefault("generation.breaker_threshold", 3)
	v.SetDefault("generation.breaker_cooldown_ms", 30000)
	v.SetDefault("speech.max_frame_size", 8000)
	v.SetDefault("speech.chunk_delay_ms", 25)
	v.SetDefault("speech.end_of_speech_mark", "bot_finished_speaking")
	v.SetDefault("speech.breaker_threshold", 3)
	v.SetDefault("speech.breaker_cooldown_ms", 30000)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.buffer", 2048)
	v.SetDefault("privacy.redact_pii", true)
	v.SetDefault("shutdown.drain_timeout_ms", 30000)
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Transports.Provider) == "" {
		return fmt.Errorf("transports.provider is required")
	}
	if strings.TrimSpace(c.Vendors.STT.Provider) == "" {
		return fmt.Errorf("vendors.stt.provider is required")
	}
	if strings.TrimSpace(c.Vendors.TTS.Provider) == "" {
		return fmt.Errorf("vendors.tts.provider is required")
	}
	if strings.TrimSpace(c.Vendors.LLM.Provider) == "" {
		return fmt.Errorf("vendors.llm.provider is required")
	}
	if c.Transcription.MinConfidence < 0 || c.Transcription.MinConfidence > 1 {
		return fmt.Errorf("transcription.min_confidence must be within [0,1], got %v", c.Transcription.MinConfidence)
	}
	if c.Speech.MaxFrameSize < 0 {
		return fmt.Errorf("speech.max_frame_size must not be negative")
	}
	if c.Speech.ChunkDelayMS < 0 {
		return fmt.Errorf("speech.chunk_delay_ms must not be negative")
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}
	return nil
}
