package deepgram

import (
	"errors"
	"testing"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	"github.com/harunnryd/callbridge/pkg/errorsx"
)

func TestNewAppliesTelephonyDefaults(t *testing.T) {
	s := New(Config{Language: "cs"})
	if s.cfg.SampleRate != 8000 || s.cfg.Encoding != "mulaw" || s.cfg.Model != "nova-2" {
		t.Fatalf("unexpected defaults: %+v", s.cfg)
	}
}

func TestSendAudioBeforeStartIsRejected(t *testing.T) {
	s := New(Config{})
	err := s.SendAudio([]byte{1, 2})
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
	if !errors.Is(err, errorsx.ErrTranscription) {
		t.Fatalf("expected transcription category")
	}
}

func TestCallbackMessageMapsTranscript(t *testing.T) {
	s := New(Config{})
	cb := &callback{parent: s}
	_ = cb.Message(&msginterfaces.MessageResponse{
		IsFinal: true,
		Channel: msginterfaces.Channel{
			Alternatives: []msginterfaces.Alternative{{Transcript: "Dobrý den", Confidence: 0.93}},
		},
	})
	select {
	case tr := <-s.Results():
		if tr.Text != "Dobrý den" || tr.Confidence != 0.93 || !tr.IsFinal {
			t.Fatalf("unexpected transcript: %+v", tr)
		}
	default:
		t.Fatalf("expected a transcript")
	}
}

func TestCallbackSkipsEmptyTranscript(t *testing.T) {
	s := New(Config{})
	cb := &callback{parent: s}
	_ = cb.Message(&msginterfaces.MessageResponse{
		Channel: msginterfaces.Channel{Alternatives: []msginterfaces.Alternative{{Transcript: ""}}},
	})
	select {
	case tr := <-s.Results():
		t.Fatalf("expected nothing, got %+v", tr)
	default:
	}
}

func TestErrorCallbackReportsFailureUnlessClosing(t *testing.T) {
	s := New(Config{})
	cb := &callback{parent: s}
	s.ready.Store(true)
	_ = cb.Error(&msginterfaces.ErrorResponse{ErrCode: "1011", ErrMsg: "timeout"})
	select {
	case err := <-s.Errors():
		if !errors.Is(err, errorsx.ErrTranscription) {
			t.Fatalf("expected transcription error, got %v", err)
		}
	default:
		t.Fatalf("expected an error")
	}
	if s.Ready() {
		t.Fatalf("expected not ready after failure")
	}

	_ = s.Close()
	_ = cb.Close(&msginterfaces.CloseResponse{})
	select {
	case err := <-s.Errors():
		t.Fatalf("expected no error after Close, got %v", err)
	default:
	}
}
