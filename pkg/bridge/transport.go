package bridge

import (
	"fmt"
	"strings"

	"github.com/harunnryd/callbridge/pkg/configutil"
	"github.com/harunnryd/callbridge/pkg/transports"
	"github.com/harunnryd/callbridge/pkg/transports/twilio"
)

// TwilioConfig decodes the twilio transport settings. The conversation
// language is used for the optional TwiML greeting when none is set.
func TwilioConfig(cfg Config) (twilio.Config, error) {
	if p := strings.ToLower(strings.TrimSpace(cfg.Transports.Provider)); p != "twilio" {
		return twilio.Config{}, fmt.Errorf("transports.provider is %q, not twilio", cfg.Transports.Provider)
	}
	var tc twilio.Config
	if err := configutil.DecodeSettings(cfg.Transports.Settings, &tc); err != nil {
		return twilio.Config{}, fmt.Errorf("transports.settings: %w", err)
	}
	if tc.VoiceLanguage == "" {
		tc.VoiceLanguage = cfg.Conversation.Language
	}
	return tc, nil
}

// NewTransport builds the configured transport.
func NewTransport(cfg Config) (transports.Transport, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Transports.Provider)) {
	case "twilio":
		tc, err := TwilioConfig(cfg)
		if err != nil {
			return nil, err
		}
		return twilio.New(tc), nil
	default:
		return nil, fmt.Errorf("transport provider not supported: %s", cfg.Transports.Provider)
	}
}
