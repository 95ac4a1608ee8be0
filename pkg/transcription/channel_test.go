package transcription

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/harunnryd/callbridge/pkg/adapters/stt"
	"github.com/harunnryd/callbridge/pkg/errorsx"
	"github.com/harunnryd/callbridge/pkg/providers/mock"
)

func TestPromotePolicy(t *testing.T) {
	opts := Options{MinConfidence: 0.6, MinChars: 2}.withDefaults()
	cases := []struct {
		name string
		in   stt.Transcript
		want bool
	}{
		{"final confident", stt.Transcript{Text: "Dobrý den", Confidence: 0.9, IsFinal: true}, true},
		{"interim", stt.Transcript{Text: "Dobrý den", Confidence: 0.9}, false},
		{"low confidence", stt.Transcript{Text: "Dobrý den", Confidence: 0.3, IsFinal: true}, false},
		{"too short", stt.Transcript{Text: " a ", Confidence: 0.9, IsFinal: true}, false},
		{"blank", stt.Transcript{Text: "   ", Confidence: 0.9, IsFinal: true}, false},
	}
	for _, tc := range cases {
		if got := opts.Promote(tc.in); got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestPromoteThresholdIsExclusive(t *testing.T) {
	opts := Options{MinConfidence: 0.5}.withDefaults()
	if opts.Promote(stt.Transcript{Text: "ano", Confidence: 0.5, IsFinal: true}) {
		t.Fatalf("expected confidence equal to the threshold to be rejected")
	}
	if !opts.Promote(stt.Transcript{Text: "ano", Confidence: 0.51, IsFinal: true}) {
		t.Fatalf("expected confidence above the threshold to be promoted")
	}
}

func TestPromoteZeroThresholdIsKept(t *testing.T) {
	opts := Options{MinConfidence: 0}.withDefaults()
	if opts.MinConfidence != 0 {
		t.Fatalf("expected zero threshold to be kept, got %v", opts.MinConfidence)
	}
	if !opts.Promote(stt.Transcript{Text: "ano", Confidence: 0.3, IsFinal: true}) {
		t.Fatalf("expected low confidence final to be promoted with a zero threshold")
	}
}

func TestSubmitForwardsAndEmitsEvents(t *testing.T) {
	factory := mock.NewSTTFactory(mock.STTConfig{Transcript: "Dobrý den", Confidence: 0.9, EmitInterim: true})
	ch, err := Open(context.Background(), factory.New, stt.Config{StreamID: "s1"}, Options{MinConfidence: 0.5})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer ch.Close()

	ch.Submit([]byte{1, 2, 3})

	first := waitEvent(t, ch)
	if first.IsFinal || first.Promoted {
		t.Fatalf("expected interim first, got %+v", first)
	}
	second := waitEvent(t, ch)
	if !second.IsFinal || !second.Promoted || second.Text != "Dobrý den" {
		t.Fatalf("expected promoted final, got %+v", second)
	}
	if got := len(factory.Last().Received()); got != 1 {
		t.Fatalf("expected 1 forwarded frame, got %d", got)
	}
}

func TestOpenFailureReturnsTranscriptionError(t *testing.T) {
	factory := mock.NewSTTFactory(mock.STTConfig{})
	factory.FailStarts = 1
	_, err := Open(context.Background(), factory.New, stt.Config{}, Options{})
	if !errors.Is(err, errorsx.ErrTranscription) {
		t.Fatalf("expected transcription error, got %v", err)
	}
}

func TestOpenReopensAfterFailedFirstConnect(t *testing.T) {
	factory := mock.NewSTTFactory(mock.STTConfig{})
	factory.FailStarts = 1
	ch, err := Open(context.Background(), factory.New, stt.Config{StreamID: "s"}, Options{ReopenAttempts: 1, ReopenBackoff: time.Millisecond})
	if err != nil {
		t.Fatalf("expected transient open failure to be reopened, got %v", err)
	}
	defer ch.Close()
	if got := len(factory.Instances()); got != 2 {
		t.Fatalf("expected 2 connects, got %d", got)
	}
	waitFor(t, func() bool { return factory.Last().Ready() })

	// The first connect spent the budget, so a later failure disables the channel.
	factory.Last().Fail(errors.New("socket reset"))
	waitFor(t, ch.Disabled)
	if got := len(factory.Instances()); got != 2 {
		t.Fatalf("expected no further reopen, got %d connects", got)
	}
}

func TestOpenFailsWhenReopenAlsoFails(t *testing.T) {
	factory := mock.NewSTTFactory(mock.STTConfig{})
	factory.FailStarts = 2
	_, err := Open(context.Background(), factory.New, stt.Config{}, Options{ReopenAttempts: 1, ReopenBackoff: time.Millisecond})
	if !errors.Is(err, errorsx.ErrTranscription) {
		t.Fatalf("expected transcription error, got %v", err)
	}
	if got := len(factory.Instances()); got != 2 {
		t.Fatalf("expected exactly one reopen, got %d connects", got)
	}
}

func TestReopenWaitsBackoffFirst(t *testing.T) {
	factory := mock.NewSTTFactory(mock.STTConfig{})
	factory.FailStarts = 1
	start := time.Now()
	ch, err := Open(context.Background(), factory.New, stt.Config{}, Options{ReopenAttempts: 1, ReopenBackoff: 60 * time.Millisecond})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer ch.Close()
	if elapsed := time.Since(start); elapsed < 60*time.Millisecond {
		t.Fatalf("expected reopen after the backoff, took %s", elapsed)
	}
}

func TestReopenStopsWhenContextEnds(t *testing.T) {
	factory := mock.NewSTTFactory(mock.STTConfig{})
	factory.FailStarts = 1
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)
	_, err := Open(ctx, factory.New, stt.Config{}, Options{ReopenAttempts: 1, ReopenBackoff: time.Second})
	if err == nil {
		t.Fatalf("expected open to fail once the context ends")
	}
	if got := len(factory.Instances()); got != 1 {
		t.Fatalf("expected no reopen after cancel, got %d connects", got)
	}
}

func TestCloseIsIdempotentAndDropsLateAudio(t *testing.T) {
	factory := mock.NewSTTFactory(mock.STTConfig{})
	ch, err := Open(context.Background(), factory.New, stt.Config{}, Options{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := ch.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := ch.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	ch.Submit([]byte{1})
	if ch.Dropped() != 1 {
		t.Fatalf("expected dropped frame, got %d", ch.Dropped())
	}
	if !factory.Last().Closed() {
		t.Fatalf("expected provider closed")
	}
}

func TestChannelReopensOnceThenDisables(t *testing.T) {
	factory := mock.NewSTTFactory(mock.STTConfig{})
	ch, err := Open(context.Background(), factory.New, stt.Config{}, Options{ReopenAttempts: 1, ReopenBackoff: time.Millisecond})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer ch.Close()

	factory.Last().Fail(errors.New("socket reset"))
	waitFor(t, func() bool { return len(factory.Instances()) == 2 })
	waitFor(t, func() bool { return factory.Last().Ready() })
	if ch.Disabled() {
		t.Fatalf("expected channel to recover after first failure")
	}

	factory.Last().Fail(errors.New("socket reset again"))
	waitFor(t, ch.Disabled)
	if len(factory.Instances()) != 2 {
		t.Fatalf("expected no further reopen, got %d instances", len(factory.Instances()))
	}
	ch.Submit([]byte{1})
	if ch.Dropped() == 0 {
		t.Fatalf("expected audio to be dropped while disabled")
	}
}

func TestChannelDisablesWhenReopenFails(t *testing.T) {
	factory := mock.NewSTTFactory(mock.STTConfig{})
	ch, err := Open(context.Background(), factory.New, stt.Config{}, Options{ReopenAttempts: 1, ReopenBackoff: time.Millisecond})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer ch.Close()
	factory.FailStarts = 1
	factory.Last().Fail(errors.New("socket reset"))
	waitFor(t, ch.Disabled)
}

func waitEvent(t *testing.T, ch *Channel) Event {
	t.Helper()
	select {
	case ev := <-ch.Events():
		return ev
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for transcript event")
	}
	return Event{}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}
