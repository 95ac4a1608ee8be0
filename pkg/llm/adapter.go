package llm

import (
	"context"

	"github.com/harunnryd/callbridge/pkg/conversation"
)

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

type Response struct {
	Text         string
	Usage        Usage
	FinishReason string
}

// LLMAdapter turns an ordered conversation into one reply.
type LLMAdapter interface {
	Generate(ctx context.Context, messages []conversation.Utterance) (Response, error)
	Name() string
}
