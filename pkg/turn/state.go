package turn

// State is the conversational phase of one call.
type State int

const (
	StateIdle State = iota
	StateListening
	StateGenerating
	StateSpeaking
)

// String returns the string representation of a State
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateListening:
		return "LISTENING_FOR_USER"
	case StateGenerating:
		return "GENERATING_REPLY"
	case StateSpeaking:
		return "SPEAKING"
	default:
		return "UNKNOWN"
	}
}

// AcceptsAudio reports whether caller audio may reach transcription in s.
// Only listening forwards audio; there is no barge-in.
func (s State) AcceptsAudio() bool {
	return s == StateListening
}
