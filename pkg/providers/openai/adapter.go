// Package openai generates replies with the OpenAI chat completions API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/harunnryd/callbridge/pkg/conversation"
	"github.com/harunnryd/callbridge/pkg/errorsx"
	"github.com/harunnryd/callbridge/pkg/llm"
	"github.com/harunnryd/callbridge/pkg/resilience"
)

type Config struct {
	APIKey      string
	Model       string
	BaseURL     string
	MaxTokens   int
	Temperature float64
	// MaxRetries is the SDK-level retry count; the generator retries on its own.
	MaxRetries int
	Timeout    time.Duration
}

type Adapter struct {
	client oai.Client
	cfg    Config
}

func NewAdapter(cfg Config) (*Adapter, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: api key must not be empty")
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 100
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
	}
	return &Adapter{client: oai.NewClient(reqOpts...), cfg: cfg}, nil
}

func (a *Adapter) Name() string { return "openai" }

func (a *Adapter) Generate(ctx context.Context, messages []conversation.Utterance) (llm.Response, error) {
	params, err := a.buildParams(messages)
	if err != nil {
		return llm.Response{}, errorsx.Wrap(err, errorsx.ReasonLLMGenerate)
	}
	resp, err := a.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *oai.Error
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
			return llm.Response{}, errorsx.Wrap(resilience.RateLimitError{Provider: a.Name(), Message: apiErr.Error()}, errorsx.ReasonLLMRateLimit)
		}
		return llm.Response{}, errorsx.Wrap(fmt.Errorf("openai: chat completion: %w", err), errorsx.ReasonLLMGenerate)
	}
	if len(resp.Choices) == 0 {
		return llm.Response{}, errorsx.New(errorsx.ReasonLLMEmpty, "openai: empty choices in response")
	}
	choice := resp.Choices[0]
	return llm.Response{
		Text:         choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

func (a *Adapter) buildParams(messages []conversation.Utterance) (oai.ChatCompletionNewParams, error) {
	out := make([]oai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		msg, err := convertMessage(m)
		if err != nil {
			return oai.ChatCompletionNewParams{}, err
		}
		out = append(out, msg)
	}
	params := oai.ChatCompletionNewParams{
		Model:               shared.ChatModel(a.cfg.Model),
		Messages:            out,
		MaxCompletionTokens: param.NewOpt(int64(a.cfg.MaxTokens)),
	}
	if a.cfg.Temperature != 0 {
		params.Temperature = param.NewOpt(a.cfg.Temperature)
	}
	return params, nil
}

func convertMessage(m conversation.Utterance) (oai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case conversation.RoleSystem:
		return oai.SystemMessage(m.Text), nil
	case conversation.RoleUser:
		return oai.UserMessage(m.Text), nil
	case conversation.RoleAssistant:
		asst := oai.ChatCompletionAssistantMessageParam{}
		asst.Content.OfString = oai.String(m.Text)
		return oai.ChatCompletionMessageParamUnion{OfAssistant: &asst}, nil
	default:
		return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("openai: unknown message role %q", m.Role)
	}
}

var _ llm.LLMAdapter = (*Adapter)(nil)
