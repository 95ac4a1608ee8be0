// Package bridge wires configuration, providers, the transport and the
// per-call session registry into one running process.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/harunnryd/callbridge/pkg/adapters/tts"
	"github.com/harunnryd/callbridge/pkg/configutil"
	"github.com/harunnryd/callbridge/pkg/frames"
	"github.com/harunnryd/callbridge/pkg/llm"
	"github.com/harunnryd/callbridge/pkg/logging"
	"github.com/harunnryd/callbridge/pkg/metrics"
	"github.com/harunnryd/callbridge/pkg/redact"
	"github.com/harunnryd/callbridge/pkg/resilience"
	"github.com/harunnryd/callbridge/pkg/runner"
	"github.com/harunnryd/callbridge/pkg/session"
	"github.com/harunnryd/callbridge/pkg/speech"
	"github.com/harunnryd/callbridge/pkg/transcription"
	"github.com/harunnryd/callbridge/pkg/transports"
	"golang.org/x/sync/errgroup"
)

type EngineOptions struct {
	Config    Config
	Providers *ProviderRegistry
	// Transport overrides the one built from Config.Transports.
	Transport transports.Transport
	Logger    *slog.Logger
	// Observer receives every event next to the built-in metrics.
	Observer metrics.Observer
	// Banner prints the startup banner when Run begins.
	Banner bool
}

type Engine struct {
	cfg       Config
	registry  *session.Registry
	transport transports.Transport
	providers *ProviderRegistry
	runner    *runner.LifecycleRunner
	asyncObs  *metrics.AsyncObserver
	prom      *metrics.Prometheus
	logger    *slog.Logger

	// ctx outlives Run's context so live calls can finish while draining.
	ctx    context.Context
	cancel context.CancelFunc
}

type observable interface {
	SetObserver(metrics.Observer)
}

type drainable interface {
	SetDraining(bool)
}

func NewEngine(opts EngineOptions) (*Engine, error) {
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	redact.SetEnabled(cfg.Privacy.RedactPII)

	logger.Info("callbridge_init",
		slog.String("environment", cfg.Environment),
		slog.String("llm_provider", cfg.Vendors.LLM.Provider),
		slog.String("stt_provider", cfg.Vendors.STT.Provider),
		slog.String("tts_provider", cfg.Vendors.TTS.Provider),
		slog.String("tts_fallback_provider", cfg.Vendors.TTSFallback.Provider),
		slog.String("transport", cfg.Transports.Provider),
	)

	transport := opts.Transport
	if transport == nil {
		var err error
		if transport, err = NewTransport(cfg); err != nil {
			return nil, err
		}
	}

	obsList := []metrics.Observer{metrics.NewLogObserver(logging.NewComponentLogger(logger, "metrics"))}
	if opts.Observer != nil {
		obsList = append(obsList, opts.Observer)
	}
	var prom *metrics.Prometheus
	if cfg.Metrics.Enabled {
		var err error
		if prom, err = metrics.NewPrometheus(); err != nil {
			return nil, fmt.Errorf("metrics: %w", err)
		}
		otelObs, err := metrics.NewOTelObserver(prom.Provider)
		if err != nil {
			return nil, fmt.Errorf("metrics: %w", err)
		}
		obsList = append(obsList, otelObs)
		if m, ok := transport.(transports.RouteMounter); ok {
			m.Handle(cfg.Metrics.Path, prom.Handler)
		} else {
			logger.Warn("metrics_route_unavailable", slog.String("transport", transport.Name()))
		}
	}
	asyncObs := metrics.NewAsyncObserver(metrics.MultiObserver(obsList), cfg.Metrics.Buffer)
	if o, ok := transport.(observable); ok {
		o.SetObserver(asyncObs)
	}

	providers := opts.Providers
	if providers == nil {
		providers = DefaultProviders()
	}
	deps, sessCfg, err := buildSessionDeps(cfg, providers, transport, asyncObs, logger)
	if err != nil {
		asyncObs.Close()
		return nil, err
	}
	registry := session.NewRegistry(func(id session.Identity) (*session.Orchestrator, error) {
		return session.New(id, sessCfg, deps), nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:       cfg,
		registry:  registry,
		transport: transport,
		providers: providers,
		asyncObs:  asyncObs,
		prom:      prom,
		logger:    logging.NewComponentLogger(logger, "engine"),
		ctx:       ctx,
		cancel:    cancel,
	}

	drainTimeout := configutil.Millis(cfg.Shutdown.DrainTimeoutMS, 30*time.Second)
	hooks := runner.Hooks{
		OnStart: e.onStart,
		OnStop:  e.onStop,
	}
	e.runner = runner.NewLifecycleRunner(runner.DrainerFunc(func() error {
		return e.drain(drainTimeout)
	}), hooks, drainTimeout+5*time.Second)
	e.runner.SetBanner(opts.Banner)
	return e, nil
}

func buildSessionDeps(cfg Config, providers *ProviderRegistry, sender transports.Sender, obs metrics.Observer, logger *slog.Logger) (session.Deps, session.Config, error) {
	sttP, err := providers.BuildSTT(cfg.Vendors.STT, cfg)
	if err != nil {
		return session.Deps{}, session.Config{}, err
	}
	adapter, err := providers.BuildLLM(cfg.Vendors.LLM, cfg)
	if err != nil {
		return session.Deps{}, session.Config{}, err
	}
	primary, err := providers.BuildTTS(cfg.Vendors.TTS, cfg)
	if err != nil {
		return session.Deps{}, session.Config{}, err
	}
	var fallback tts.Provider
	if cfg.Vendors.TTSFallback.Provider != "" {
		if fallback, err = providers.BuildTTS(cfg.Vendors.TTSFallback, cfg); err != nil {
			return session.Deps{}, session.Config{}, err
		}
	}

	gen := cfg.Generation
	guarded := llm.NewCircuitBreakerAdapter(adapter,
		resilience.NewCircuitBreaker(gen.BreakerThreshold, configutil.Millis(gen.BreakerCooldownMS, 30*time.Second)))
	guarded.SetObserver(obs)
	generator := llm.NewGenerator(guarded, llm.GeneratorOptions{
		Timeout:    configutil.Millis(gen.ResponseTimeoutMS, llm.DefaultResponseTimeout),
		MaxHistory: cfg.Conversation.MaxHistory,
		Retry: llm.RetryConfig{
			MaxAttempts: gen.Retries + 1,
			BaseDelay:   configutil.Millis(gen.RetryBackoffMS, 200*time.Millisecond),
		},
		Observer: obs,
		Logger:   logger,
	})

	sp := cfg.Speech
	var breaker *resilience.CircuitBreaker
	if fallback != nil {
		breaker = resilience.NewCircuitBreaker(sp.BreakerThreshold, configutil.Millis(sp.BreakerCooldownMS, 30*time.Second)).CountAll()
	}
	synth := speech.NewSynthesizer(primary, fallback, speech.Options{
		MaxFrameSize: sp.MaxFrameSize,
		Breaker:      breaker,
		Observer:     obs,
		Logger:       logger,
	})

	chunkDelay := configutil.Millis(sp.ChunkDelayMS, -1)
	tc := cfg.Transcription
	sessCfg := session.Config{
		SystemPrompt:    cfg.Conversation.SystemPrompt,
		Greeting:        cfg.Conversation.Greeting,
		Language:        cfg.Conversation.Language,
		STTEncoding:     sttP.Encoding,
		STTSampleRate:   sttP.SampleRate,
		EndOfSpeechMark: sp.EndOfSpeechMark,
		ChunkDelay:      chunkDelay,
		MaxHistory:      cfg.Conversation.MaxHistory,
		Transcription: transcription.Options{
			MinConfidence:  tc.MinConfidence,
			MinChars:       tc.MinChars,
			ReopenAttempts: tc.ReopenAttempts,
			ReopenBackoff:  configutil.Millis(tc.ReopenBackoffMS, 0),
		},
	}
	deps := session.Deps{
		STT:         sttP.Factory,
		Generator:   generator,
		Synthesizer: synth,
		Fallbacks:   llm.NewFallbackUtterances(gen.FallbackUtterances, 0),
		Sender:      sender,
		Observer:    obs,
		Logger:      logger,
	}
	return deps, sessCfg, nil
}

// Run serves calls until ctx ends or Stop is called, then drains.
func (e *Engine) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := e.transport.Start(e.ctx); err != nil {
		return err
	}
	var g errgroup.Group
	g.Go(func() error {
		e.routeTransport(e.ctx)
		return nil
	})
	g.Go(func() error {
		defer e.cancel()
		return e.runner.Run(ctx)
	})
	return g.Wait()
}

func (e *Engine) Stop() error {
	err := e.runner.Stop()
	e.cancel()
	return err
}

func (e *Engine) onStart() {
	fields := []any{slog.String("version", runner.Version)}
	if rr, ok := e.transport.(transports.ReadyReporter); ok {
		for k, v := range rr.ReadyFields() {
			fields = append(fields, slog.Any(k, v))
		}
	}
	if e.prom != nil {
		fields = append(fields, slog.String("metrics_path", e.cfg.Metrics.Path))
	}
	e.logger.Info("engine_ready", fields...)
}

func (e *Engine) onStop() {
	e.asyncObs.Close()
	if e.prom != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := e.prom.Provider.Shutdown(ctx); err != nil {
			e.logger.Warn("metrics_shutdown_failed", slog.String("error", err.Error()))
		}
	}
	e.logger.Info("shutdown",
		slog.Int("goroutines", runtime.NumGoroutine()),
		slog.Int64("active_calls", e.registry.Count()),
		slog.Int64("metrics_dropped", e.asyncObs.Dropped()))
}

// drain refuses new calls, waits for live ones to hang up and then ends the rest.
func (e *Engine) drain(timeout time.Duration) error {
	e.registry.SetDraining(true)
	if d, ok := e.transport.(drainable); ok {
		d.SetDraining(true)
	}
	e.logger.Info("engine_draining", slog.Int64("active_calls", e.registry.Count()))

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	emptied := e.registry.WaitForEmpty(ctx, 200*time.Millisecond)
	cancel()
	if !emptied {
		e.logger.Warn("engine_drain_forced", slog.Int64("active_calls", e.registry.Count()))
		e.registry.CloseAll()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		emptied = e.registry.WaitForEmpty(ctx, 50*time.Millisecond)
		cancel()
	}
	err := e.transport.Stop()
	e.cancel()
	if !emptied {
		return errors.Join(err, fmt.Errorf("drain: %d calls still active", e.registry.Count()))
	}
	return err
}

// routeTransport hands every inbound frame to the orchestrator of its stream.
// Only call_start creates a session.
func (e *Engine) routeTransport(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-e.transport.Recv():
			if !ok {
				return
			}
			e.route(ctx, f)
		}
	}
}

func (e *Engine) route(ctx context.Context, f frames.Frame) {
	streamID := frames.StreamID(f)
	if streamID == "" {
		return
	}
	if sf, ok := f.(frames.SystemFrame); ok {
		switch sf.Name() {
		case frames.SystemCallStart:
			meta := sf.Meta()
			orch, _, err := e.registry.GetOrCreate(ctx, session.Identity{
				StreamID: streamID,
				CallSID:  meta[frames.MetaCallSID],
				TraceID:  meta[frames.MetaTraceID],
				From:     meta[frames.MetaFromNumber],
			})
			if err != nil {
				e.logger.Warn("session_create_failed",
					slog.String("stream_id", streamID),
					slog.String("error", err.Error()))
				return
			}
			orch.Deliver(f)
			return
		case frames.SystemCallEnd:
			if orch, ok := e.registry.Get(streamID); ok && !orch.Deliver(f) {
				e.registry.Remove(streamID)
			}
			return
		}
	}
	orch, ok := e.registry.Get(streamID)
	if !ok {
		return
	}
	orch.Deliver(f)
}

func (e *Engine) Registry() *session.Registry { return e.registry }

func (e *Engine) Transport() transports.Transport { return e.transport }

func (e *Engine) Config() Config { return e.cfg }

func (e *Engine) ProviderRegistry() *ProviderRegistry { return e.providers }

// MetricsHandler serves the Prometheus scrape endpoint, or nil when metrics are disabled.
func (e *Engine) MetricsHandler() http.Handler {
	if e.prom == nil {
		return nil
	}
	return e.prom.Handler
}

func (e *Engine) Health() error {
	if e.registry.Draining() {
		return errors.New("draining")
	}
	return nil
}
