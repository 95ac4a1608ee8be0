package session

import (
	"context"
	"time"

	"github.com/harunnryd/callbridge/pkg/conversation"
	"github.com/harunnryd/callbridge/pkg/transcription"
)

// Session is the state of one live call. It is owned by the orchestrator's
// event loop and never touched from another goroutine.
type Session struct {
	Identity
	StartedAt time.Time
	History   *conversation.History

	transcription *transcription.Channel

	// turnSeq identifies the user turn a pending reply belongs to.
	turnSeq      uint64
	cancelSpeech context.CancelFunc

	turns         int
	droppedAudio  int64
	unheardAudio  int64
	ignoredFinals int
}

func newSession(id Identity, prompt string, maxHistory int) *Session {
	return &Session{
		Identity:  id,
		StartedAt: time.Now(),
		History:   conversation.NewHistory(prompt, maxHistory),
	}
}

func (s *Session) stopSpeech() {
	if s.cancelSpeech != nil {
		s.cancelSpeech()
		s.cancelSpeech = nil
	}
}

// Snapshot is a point-in-time copy of a session for inspection.
type Snapshot struct {
	Identity
	History      []conversation.Utterance
	Turns        int
	DroppedAudio int64
}
