package errorsx

import (
	"errors"
	"strings"
)

// Category sentinels. A ReasonedError matches the sentinel of its reason's
// family, so callers can write errors.Is(err, errorsx.ErrGeneration).
var (
	ErrTransport     = errors.New("transport error")
	ErrTranscription = errors.New("transcription error")
	ErrGeneration    = errors.New("generation error")
	ErrSynthesis     = errors.New("synthesis error")
)

// Category returns the sentinel for a reason code, or nil for unknown reasons.
func Category(reason ReasonCode) error {
	r := string(reason)
	switch {
	case strings.HasPrefix(r, "transport_"), strings.HasPrefix(r, "webhook_"):
		return ErrTransport
	case strings.HasPrefix(r, "stt_"):
		return ErrTranscription
	case strings.HasPrefix(r, "llm_"):
		return ErrGeneration
	case strings.HasPrefix(r, "tts_"):
		return ErrSynthesis
	default:
		return nil
	}
}

// Is reports whether target is the category sentinel of this error's reason.
func (e ReasonedError) Is(target error) bool {
	cat := Category(e.Reason)
	return cat != nil && cat == target
}
