package twilio

import "strings"

type Config struct {
	ServerAddr         string   `mapstructure:"server_addr"`
	PublicURL          string   `mapstructure:"public_url"`
	AuthToken          string   `mapstructure:"auth_token"`
	AccountSID         string   `mapstructure:"account_sid"`
	VoicePath          string   `mapstructure:"voice_path"`
	WebsocketPath      string   `mapstructure:"ws_path"`
	StatusCallbackPath string   `mapstructure:"status_callback_path"`
	HealthPath         string   `mapstructure:"health_path"`
	VoiceGreeting      string   `mapstructure:"voice_greeting"`
	VoiceLanguage      string   `mapstructure:"voice_language"`
	AllowAnyOrigin     bool     `mapstructure:"allow_any_origin"`
	AllowedOrigins     []string `mapstructure:"allowed_origins"`
	// SendBuffer bounds queued outbound messages per stream.
	SendBuffer int `mapstructure:"send_buffer"`
}

func (c Config) withDefaults() Config {
	if c.ServerAddr == "" {
		c.ServerAddr = ":8080"
	}
	if c.VoicePath == "" {
		c.VoicePath = "/voice"
	}
	if c.WebsocketPath == "" {
		c.WebsocketPath = "/ws"
	}
	if c.StatusCallbackPath == "" {
		c.StatusCallbackPath = "/status"
	}
	if c.HealthPath == "" {
		c.HealthPath = "/health"
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 512
	}
	if !c.AllowAnyOrigin && len(c.AllowedOrigins) == 0 {
		c.AllowAnyOrigin = true
	}
	return c
}

// publicHost strips scheme and trailing slashes from PublicURL.
func (c Config) publicHost() string {
	return normalizePublicURL(c.PublicURL)
}

func (c Config) localBase() string {
	addr := c.ServerAddr
	if addr == "" {
		addr = ":8080"
	}
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr
}

func (c Config) httpURL(path string) string {
	if c.PublicURL != "" {
		return "https://" + c.publicHost() + path
	}
	return c.localBase() + path
}

func normalizePublicURL(v string) string {
	v = strings.TrimSpace(v)
	v = strings.TrimPrefix(v, "https://")
	v = strings.TrimPrefix(v, "http://")
	return strings.TrimRight(v, "/")
}
