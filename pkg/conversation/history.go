package conversation

import "sync"

// Role identifies the speaker of an utterance.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// DefaultMaxHistory bounds the number of retained utterances, system prompt included.
const DefaultMaxHistory = 10

// Utterance is one conversational entry. Seq orders entries by creation.
type Utterance struct {
	Role Role
	Text string
	Seq  int64
}

// History is the bounded conversation of one call. Entry 0 is the system
// utterance and is never evicted.
type History struct {
	mu      sync.Mutex
	entries []Utterance
	max     int
	seq     int64
}

// NewHistory starts a history with the system prompt as its first entry.
func NewHistory(systemPrompt string, max int) *History {
	if max <= 0 {
		max = DefaultMaxHistory
	}
	h := &History{max: max}
	h.entries = append(h.entries, Utterance{Role: RoleSystem, Text: systemPrompt, Seq: h.nextSeq()})
	return h
}

func (h *History) nextSeq() int64 {
	h.seq++
	return h.seq
}

// NewUtterance stamps an utterance with the next sequence number without storing it.
func (h *History) NewUtterance(role Role, text string) Utterance {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Utterance{Role: role, Text: text, Seq: h.nextSeq()}
}

// Append stores u and applies the bound.
func (h *History) Append(u Utterance) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if u.Seq == 0 {
		u.Seq = h.nextSeq()
	}
	h.entries = Truncate(append(h.entries, u), h.max)
}

// Entries returns a copy of the stored utterances in order.
func (h *History) Entries() []Utterance {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Utterance, len(h.entries))
	copy(out, h.entries)
	return out
}

func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// Max returns the configured bound.
func (h *History) Max() int { return h.max }

// Truncate keeps the first entry and the most recent max-1 entries, in order.
// The input slice is not modified.
func Truncate(entries []Utterance, max int) []Utterance {
	if max < 1 {
		max = 1
	}
	if len(entries) <= max {
		out := make([]Utterance, len(entries))
		copy(out, entries)
		return out
	}
	out := make([]Utterance, 0, max)
	out = append(out, entries[0])
	out = append(out, entries[len(entries)-(max-1):]...)
	return out
}
