// Package app wires the voicebank subsystems into a running service.
//
// The App struct owns the full lifecycle: New creates and connects the
// submission store, the transcription chain, the normalisation pipeline and
// the HTTP server; Run serves until the context ends; Shutdown tears
// everything down in order.
//
// For testing, inject doubles via functional options (WithStore,
// WithTranscriber, ...). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voicebank/internal/config"
	"github.com/MrWong99/voicebank/internal/health"
	"github.com/MrWong99/voicebank/internal/ingest"
	"github.com/MrWong99/voicebank/internal/observe"
	"github.com/MrWong99/voicebank/internal/pipeline"
	"github.com/MrWong99/voicebank/internal/resilience"
	"github.com/MrWong99/voicebank/internal/server"
	"github.com/MrWong99/voicebank/internal/store"
	"github.com/MrWong99/voicebank/pkg/audio"
	"github.com/MrWong99/voicebank/pkg/provider/stt"
)

// readHeaderTimeout bounds slow clients sending headers.
const readHeaderTimeout = 10 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg     *config.Config
	reg     *config.Registry
	log     *slog.Logger
	metrics *observe.Metrics

	level          *slog.LevelVar
	metricsHandler http.Handler

	// Subsystems, initialised in New and torn down in Shutdown.
	store       store.Store
	transcriber stt.Provider
	chain       *resilience.STTFallback
	ingester    swapIngester
	health      *health.Handler
	server      *server.Server
	httpServer  *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a submission store instead of creating one from config.
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithTranscriber injects a transcription backend instead of building the
// fallback chain from config.
func WithTranscriber(p stt.Provider) Option {
	return func(a *App) { a.transcriber = p }
}

// WithMetrics sets the metric instruments. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogger sets the base logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithLevelVar lets configuration reloads adjust the log level.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithMetricsHandler mounts h at the configured metrics path.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The registry comes
// from main.go and resolves provider names to constructors.
func New(ctx context.Context, cfg *config.Config, reg *config.Registry, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, reg: reg}
	for _, o := range opts {
		o(a)
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initStore(ctx); err != nil {
		return nil, err
	}
	if err := a.initTranscriber(); err != nil {
		a.closeAll()
		return nil, err
	}

	ctrl, err := NewIngestController(cfg, a.metrics, a.log)
	if err != nil {
		a.closeAll()
		return nil, err
	}
	a.ingester.p.Store(ctrl)

	a.initHealth()

	srv, err := server.New(server.Config{
		Ingester:       &a.ingester,
		Store:          a.store,
		Transcriber:    a.transcriber,
		Health:         a.health,
		MetricsHandler: a.metricsHandler,
		MetricsPath:    cfg.Telemetry.MetricsPath,
		MaxUploadBytes: cfg.Ingest.MaxUploadBytes,
		Metrics:        a.metrics,
		Logger:         a.log,
	})
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: create server: %w", err)
	}
	a.server = srv
	a.httpServer = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           srv,
		ReadHeaderTimeout: readHeaderTimeout,
		ErrorLog:          slog.NewLogLogger(a.log.Handler(), slog.LevelWarn),
	}
	return a, nil
}

// initStore opens PostgreSQL when a DSN is configured and falls back to an
// in-memory store otherwise.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	dsn := a.cfg.Storage.PostgresDSN
	if dsn == "" {
		a.log.Warn("no postgres_dsn configured, submissions are kept in memory only")
		a.store = store.NewMemoryStore()
		return nil
	}
	pg, err := store.Open(ctx, dsn)
	if err != nil {
		return fmt.Errorf("app: open submission store: %w", err)
	}
	a.store = pg
	a.closers = append(a.closers, func() error { pg.Close(); return nil })
	a.log.Info("submission store connected", "backend", "postgres")
	return nil
}

// initTranscriber builds the primary backend and its fallbacks behind
// circuit breakers. No configured primary leaves transcription disabled.
func (a *App) initTranscriber() error {
	if a.transcriber != nil {
		return nil
	}
	pc := a.cfg.Providers
	if pc.STT.Name == "" {
		a.log.Info("no stt provider configured, transcription disabled")
		return nil
	}
	if a.reg == nil {
		return errors.New("app: provider registry is required")
	}

	primary, err := a.createSTT(pc.STT)
	if err != nil {
		return err
	}
	fcfg := resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  pc.Breaker.MaxFailures,
			ResetTimeout: pc.Breaker.ResetTimeout,
			HalfOpenMax:  pc.Breaker.HalfOpenMax,
		},
		Logger: a.log,
	}
	chain := resilience.NewSTTFallback(primary, pc.STT.Label(), fcfg, a.metrics)
	for _, entry := range pc.STTFallbacks {
		p, err := a.createSTT(entry)
		if err != nil {
			return err
		}
		chain.AddFallback(entry.Label(), p)
	}
	a.chain = chain
	a.transcriber = chain
	a.log.Info("transcription configured", "primary", pc.STT.Label(), "fallbacks", len(pc.STTFallbacks))
	return nil
}

func (a *App) createSTT(entry config.ProviderEntry) (stt.Provider, error) {
	p, err := a.reg.CreateSTT(entry)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	if c, ok := p.(io.Closer); ok {
		a.closers = append(a.closers, c.Close)
	}
	a.log.Info("provider created", "kind", "stt", "name", entry.Name, "label", entry.Label())
	return p, nil
}

// initHealth registers the store as a critical dependency and the
// transcription chain as an optional one.
func (a *App) initHealth() {
	checkers := []health.Checker{{Name: "store", Check: a.store.Ping}}
	if a.chain != nil {
		chain := a.chain
		checkers = append(checkers, health.Checker{
			Name:     "stt",
			Optional: true,
			Check: func(context.Context) error {
				if !chain.Healthy() {
					return errors.New("every transcription backend has an open circuit")
				}
				return nil
			},
		})
	}
	a.health = health.New(checkers)
}

// NewIngestController builds the pipeline and ingestion controller described
// by cfg. It is also used by the record command.
func NewIngestController(cfg *config.Config, m *observe.Metrics, log *slog.Logger) (*ingest.Controller, error) {
	proc, err := pipeline.New(pipeline.Config{
		Thresholds: cfg.Quality.Resolved(),
		Metrics:    m,
		Logger:     log,
	})
	if err != nil {
		return nil, fmt.Errorf("app: create pipeline: %w", err)
	}
	ctrl, err := ingest.New(ingest.Config{
		Processor: proc,
		Options: pipeline.Options{
			TargetRate:     cfg.Audio.TargetSampleRate,
			TargetChannels: cfg.Audio.TargetChannels,
		},
		AllowFallback: cfg.Ingest.AllowFallback,
		Metrics:       m,
		Logger:        log,
	})
	if err != nil {
		return nil, fmt.Errorf("app: create ingest controller: %w", err)
	}
	return ctrl, nil
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// OnConfigChange applies the hot-reloadable parts of a new configuration. It
// matches [config.ChangeFunc].
func (a *App) OnConfigChange(_, newCfg *config.Config, diff config.ConfigDiff) {
	if diff.LogLevelChanged && a.level != nil {
		a.level.Set(diff.NewLogLevel.Slog())
		a.log.Info("log level changed", "level", diff.NewLogLevel)
	}
	if diff.QualityChanged || diff.FallbackChanged {
		ctrl, err := NewIngestController(newCfg, a.metrics, a.log)
		if err != nil {
			a.log.Error("config reload: keeping previous ingestion settings", "err", err)
			return
		}
		a.ingester.p.Store(ctrl)
		a.log.Info("ingestion settings reloaded",
			"quality_changed", diff.QualityChanged,
			"allow_fallback", newCfg.Ingest.AllowFallback,
		)
	}
	if len(diff.RestartRequired) > 0 {
		a.log.Warn("config changes need a restart to take effect", "sections", diff.RestartRequired)
	}
}

// swapIngester forwards to the current controller so reloads never race an
// in-flight request.
type swapIngester struct {
	p atomic.Pointer[ingest.Controller]
}

var _ server.Ingester = (*swapIngester)(nil)

func (s *swapIngester) IngestFile(ctx context.Context, f ingest.File) (audio.ProcessingResult, error) {
	return s.p.Load().IngestFile(ctx, f)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Handler returns the HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler { return a.server }

// Run listens on the configured address and serves until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", a.cfg.Server.ListenAddr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then drains
// in-flight requests within the configured shutdown timeout.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.log.Info("http server listening", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.httpServer.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.httpServer.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})

	g.Go(func() error {
		<-gctx.Done()
		timeout := a.cfg.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = config.DefaultShutdownTimeout
		}
		sctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := a.httpServer.Shutdown(sctx); err != nil {
			return fmt.Errorf("app: drain http server: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in init order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))
		if err := a.httpServer.Shutdown(ctx); err != nil {
			a.log.Warn("http shutdown error", "err", err)
		}
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
			}
		}
		a.log.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll releases whatever New managed to open before failing.
func (a *App) closeAll() {
	for _, c := range a.closers {
		_ = c()
	}
	a.closers = nil
}
