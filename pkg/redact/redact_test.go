package redact

import (
	"strings"
	"testing"
)

func TestRedactDisabled(t *testing.T) {
	SetEnabled(false)
	in := "email a@b.com and phone +420 603 123 456"
	if got := Text(in); got != in {
		t.Fatalf("expected no redaction, got %q", got)
	}
	if got := Phone("+420603123456"); got != "+420603123456" {
		t.Fatalf("expected phone untouched, got %q", got)
	}
}

func TestRedactEnabled(t *testing.T) {
	SetEnabled(true)
	defer SetEnabled(false)
	in := "email a@b.com, phone +420 603 123 456, rodné číslo 855612/1234"
	got := Text(in)
	for _, want := range []string{"[REDACTED_EMAIL]", "[REDACTED_PHONE]", "[REDACTED_ID]"} {
		if !strings.Contains(got, want) {
			t.Fatalf("expected %q in %q", want, got)
		}
	}
	if strings.Contains(got, "855612") || strings.Contains(got, "603") {
		t.Fatalf("expected digits removed, got %q", got)
	}
}

func TestPhoneMask(t *testing.T) {
	SetEnabled(true)
	defer SetEnabled(false)
	if got := Phone("+420603123456"); got != "+*********456" {
		t.Fatalf("unexpected mask %q", got)
	}
}
