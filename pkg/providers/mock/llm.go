package mock

import (
	"context"
	"sync"
	"time"

	"github.com/harunnryd/callbridge/pkg/conversation"
	"github.com/harunnryd/callbridge/pkg/llm"
)

type LLMConfig struct {
	ResponseText string
	// Responses, when set, are returned in order; the last one repeats.
	Responses []string
	Err       error
	Delay     time.Duration
	// IgnoreContext keeps sleeping through cancellation, like a stuck upstream.
	IgnoreContext bool
}

type LLMAdapter struct {
	cfg   LLMConfig
	mu    sync.Mutex
	calls [][]conversation.Utterance
}

func NewLLMAdapter(cfg LLMConfig) *LLMAdapter {
	if cfg.ResponseText == "" && len(cfg.Responses) == 0 {
		cfg.ResponseText = "mock response"
	}
	return &LLMAdapter{cfg: cfg}
}

func (a *LLMAdapter) Name() string { return "mock_llm" }

func (a *LLMAdapter) Generate(ctx context.Context, messages []conversation.Utterance) (llm.Response, error) {
	a.mu.Lock()
	n := len(a.calls)
	a.calls = append(a.calls, append([]conversation.Utterance(nil), messages...))
	a.mu.Unlock()

	if a.cfg.Delay > 0 {
		if a.cfg.IgnoreContext {
			time.Sleep(a.cfg.Delay)
		} else {
			select {
			case <-ctx.Done():
				return llm.Response{}, ctx.Err()
			case <-time.After(a.cfg.Delay):
			}
		}
	}
	if a.cfg.Err != nil {
		return llm.Response{}, a.cfg.Err
	}
	text := a.cfg.ResponseText
	if len(a.cfg.Responses) > 0 {
		if n >= len(a.cfg.Responses) {
			n = len(a.cfg.Responses) - 1
		}
		text = a.cfg.Responses[n]
	}
	return llm.Response{Text: text, FinishReason: "stop"}, nil
}

// Calls returns the message windows received so far.
func (a *LLMAdapter) Calls() [][]conversation.Utterance {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([][]conversation.Utterance, len(a.calls))
	copy(out, a.calls)
	return out
}

var _ llm.LLMAdapter = (*LLMAdapter)(nil)
