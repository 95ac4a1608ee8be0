package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/harunnryd/callbridge/pkg/conversation"
	"github.com/harunnryd/callbridge/pkg/errorsx"
	"github.com/harunnryd/callbridge/pkg/resilience"
)

func TestConvertMessageRoles(t *testing.T) {
	sys, err := convertMessage(conversation.Utterance{Role: conversation.RoleSystem, Text: "persona"})
	if err != nil || sys.OfSystem == nil {
		t.Fatalf("expected system message, err=%v", err)
	}
	user, err := convertMessage(conversation.Utterance{Role: conversation.RoleUser, Text: "Dobrý den"})
	if err != nil || user.OfUser == nil {
		t.Fatalf("expected user message, err=%v", err)
	}
	asst, err := convertMessage(conversation.Utterance{Role: conversation.RoleAssistant, Text: "Ahoj"})
	if err != nil || asst.OfAssistant == nil {
		t.Fatalf("expected assistant message, err=%v", err)
	}
	if _, err := convertMessage(conversation.Utterance{Role: "tool"}); err == nil {
		t.Fatalf("expected unknown role error")
	}
}

func TestNewRequiresAPIKey(t *testing.T) {
	if _, err := NewAdapter(Config{}); err == nil {
		t.Fatalf("expected error for missing api key")
	}
}

func TestGenerateAgainstFakeServer(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"chatcmpl-1","object":"chat.completion","created":1,"model":"gpt-4o-mini",
"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"Dobrý den, jak vám mohu pomoci?"}}],
"usage":{"prompt_tokens":12,"completion_tokens":7,"total_tokens":19}}`))
	}))
	defer srv.Close()

	a, err := NewAdapter(Config{APIKey: "sk-test", BaseURL: srv.URL + "/v1/", Temperature: 0.7})
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	resp, err := a.Generate(context.Background(), []conversation.Utterance{
		{Role: conversation.RoleSystem, Text: "persona"},
		{Role: conversation.RoleUser, Text: "Dobrý den"},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.Text != "Dobrý den, jak vám mohu pomoci?" || resp.Usage.TotalTokens != 19 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if got["model"] != "gpt-4o-mini" {
		t.Fatalf("expected default model, got %v", got["model"])
	}
	if msgs, _ := got["messages"].([]any); len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %v", got["messages"])
	}
}

func TestGenerateMapsRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit","code":"rate_limit_exceeded"}}`))
	}))
	defer srv.Close()

	a, _ := NewAdapter(Config{APIKey: "sk-test", BaseURL: srv.URL + "/v1/"})
	_, err := a.Generate(context.Background(), []conversation.Utterance{{Role: conversation.RoleUser, Text: "x"}})
	if !resilience.IsRateLimit(err) {
		t.Fatalf("expected rate limit error, got %v", err)
	}
	if !errors.Is(err, errorsx.ErrGeneration) {
		t.Fatalf("expected generation category")
	}
}
