package configutil

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestValidateSettingsReportsMissingAndUnknown(t *testing.T) {
	err := ValidateSettings(map[string]any{
		"API-Key": "  ",
		"colour":  "blue",
	}, Schema{Required: []string{"api_key", "voice_id"}, Optional: []string{"model"}})
	if err == nil {
		t.Fatalf("expected validation error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "missing: api_key, voice_id") {
		t.Fatalf("unexpected missing list: %s", msg)
	}
	if !strings.Contains(msg, "unknown: colour") {
		t.Fatalf("unexpected unknown list: %s", msg)
	}
}

func TestValidateSettingsErrorIsTyped(t *testing.T) {
	err := ValidateSettings(map[string]any{"voice_id": ""}, Schema{Required: []string{"voice_id"}})
	var serr *SettingsError
	if !errors.As(err, &serr) {
		t.Fatalf("expected *SettingsError, got %T", err)
	}
	if len(serr.Missing) != 1 || serr.Missing[0] != "voice_id" || len(serr.Unknown) != 0 {
		t.Fatalf("unexpected settings error: %+v", serr)
	}
}

func TestValidateSettingsAllowUnknown(t *testing.T) {
	err := ValidateSettings(map[string]any{"api_key": "k", "extra": 1}, Schema{Required: []string{"api_key"}, AllowUnknown: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDecodeSettingsNormalizesKeys(t *testing.T) {
	var out struct {
		APIKey      string        `mapstructure:"api_key"`
		Endpointing int           `mapstructure:"endpointing"`
		Interim     bool          `mapstructure:"interim"`
		Timeout     time.Duration `mapstructure:"timeout"`
		Origins     []string      `mapstructure:"origins"`
	}
	err := DecodeSettings(map[string]any{
		"API-KEY":     "dg",
		"endpointing": "300",
		"interim":     "true",
		"timeout":     "250ms",
		"origins":     "a.example,b.example",
	}, &out)
	if err != nil {
		t.Fatalf("DecodeSettings: %v", err)
	}
	if out.APIKey != "dg" || out.Endpointing != 300 || !out.Interim {
		t.Fatalf("unexpected decode %+v", out)
	}
	if out.Timeout != 250*time.Millisecond {
		t.Fatalf("unexpected timeout %v", out.Timeout)
	}
	if len(out.Origins) != 2 || out.Origins[1] != "b.example" {
		t.Fatalf("unexpected origins %v", out.Origins)
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("CB_TEST_KEY", "secret")
	cfg := struct {
		Name     string
		Tags     []string
		Labels   map[string]string
		Settings map[string]any
	}{
		Name:   "${CB_TEST_KEY}",
		Tags:   []string{"x-$CB_TEST_KEY"},
		Labels: map[string]string{"k": "${CB_TEST_KEY}"},
		Settings: map[string]any{
			"api_key": "${CB_TEST_KEY}",
			"nested":  map[string]any{"v": "${CB_TEST_KEY}"},
			"list":    []any{"${CB_TEST_KEY}", 3},
		},
	}
	ExpandEnv(&cfg)
	if cfg.Name != "secret" || cfg.Tags[0] != "x-secret" || cfg.Labels["k"] != "secret" {
		t.Fatalf("unexpected expansion %+v", cfg)
	}
	if cfg.Settings["api_key"] != "secret" {
		t.Fatalf("settings not expanded: %v", cfg.Settings)
	}
	if cfg.Settings["nested"].(map[string]any)["v"] != "secret" {
		t.Fatalf("nested settings not expanded: %v", cfg.Settings["nested"])
	}
	if cfg.Settings["list"].([]any)[0] != "secret" {
		t.Fatalf("list not expanded: %v", cfg.Settings["list"])
	}
}

func TestMillis(t *testing.T) {
	if Millis(0, time.Second) != time.Second {
		t.Fatalf("expected fallback")
	}
	if Millis(40, time.Second) != 40*time.Millisecond {
		t.Fatalf("expected 40ms")
	}
}
