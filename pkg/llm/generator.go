package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/harunnryd/callbridge/pkg/conversation"
	"github.com/harunnryd/callbridge/pkg/errorsx"
	"github.com/harunnryd/callbridge/pkg/logging"
	"github.com/harunnryd/callbridge/pkg/metrics"
	"github.com/harunnryd/callbridge/pkg/resilience"
)

// DefaultResponseTimeout bounds one generation, retries included.
const DefaultResponseTimeout = 8 * time.Second

type GeneratorOptions struct {
	Timeout    time.Duration
	MaxHistory int
	// Retry is applied inside Timeout. Zero MaxAttempts means a single attempt.
	Retry    RetryConfig
	Observer metrics.Observer
	Logger   *slog.Logger
}

// Generator produces one assistant reply per user turn.
type Generator struct {
	adapter    LLMAdapter
	timeout    time.Duration
	maxHistory int
	retry      RetryConfig
	obs        metrics.Observer
	logger     *slog.Logger
}

func NewGenerator(adapter LLMAdapter, opts GeneratorOptions) *Generator {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultResponseTimeout
	}
	if opts.MaxHistory <= 0 {
		opts.MaxHistory = conversation.DefaultMaxHistory
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry.MaxAttempts = 1
	}
	if opts.Observer == nil {
		opts.Observer = metrics.NoopObserver{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Generator{
		adapter:    adapter,
		timeout:    opts.Timeout,
		maxHistory: opts.MaxHistory,
		retry:      opts.Retry,
		obs:        opts.Observer,
		logger:     logging.NewComponentLogger(opts.Logger, "generator"),
	}
}

// MaxHistory is the bound applied to the request window and to session history.
func (g *Generator) MaxHistory() int { return g.maxHistory }

// Generate asks the model for a reply to user given the prior history. Every
// failure, including an empty reply or an elapsed timeout, matches
// errorsx.ErrGeneration.
func (g *Generator) Generate(ctx context.Context, history []conversation.Utterance, user conversation.Utterance) (string, error) {
	messages := conversation.Truncate(append(append([]conversation.Utterance(nil), history...), user), g.maxHistory)

	tctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	type result struct {
		resp Response
		err  error
	}
	done := make(chan result, 1)
	start := time.Now()
	go func() {
		resp, err := Retry(tctx, g.retry, func(c context.Context) (Response, error) {
			return g.adapter.Generate(c, messages)
		})
		done <- result{resp: resp, err: err}
	}()

	var r result
	select {
	case r = <-done:
	case <-tctx.Done():
		r = result{err: tctx.Err()}
	}
	elapsed := time.Since(start)

	err := g.classify(ctx, tctx, r.resp, r.err)
	status := "ok"
	if err != nil {
		status = string(errorsx.Reason(err))
	}
	metrics.Record(g.obs, metrics.EventGenerationLatency, elapsed.Seconds(), map[string]string{
		"provider": g.adapter.Name(),
		"status":   status,
	})
	if err != nil {
		g.logger.Warn("generation_failed",
			slog.String("provider", g.adapter.Name()),
			slog.String("reason", status),
			slog.Duration("elapsed", elapsed),
			slog.String("error", err.Error()))
		return "", err
	}
	g.logger.Debug("generation_completed",
		slog.String("provider", g.adapter.Name()),
		slog.Duration("elapsed", elapsed),
		slog.Int("messages", len(messages)),
		slog.Int("total_tokens", r.resp.Usage.TotalTokens))
	return strings.TrimSpace(r.resp.Text), nil
}

func (g *Generator) classify(parent, tctx context.Context, resp Response, err error) error {
	if err != nil {
		if errors.Is(tctx.Err(), context.DeadlineExceeded) && parent.Err() == nil {
			return errorsx.ReasonedError{
				Err:    fmt.Errorf("generation timed out after %s: %w", g.timeout, err),
				Reason: errorsx.ReasonLLMTimeout,
			}
		}
		if errorsx.Reason(err) == errorsx.ReasonUnknown && resilience.IsRateLimit(err) {
			return errorsx.Wrap(err, errorsx.ReasonLLMRateLimit)
		}
		if errors.Is(err, errorsx.ErrGeneration) {
			return err
		}
		return errorsx.ReasonedError{Err: err, Reason: errorsx.ReasonLLMGenerate}
	}
	if strings.TrimSpace(resp.Text) == "" {
		return errorsx.New(errorsx.ReasonLLMEmpty, "model returned an empty reply")
	}
	return nil
}
