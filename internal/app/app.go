// Package app wires the npcforge subsystems into a running server.
//
// The App struct owns the full lifecycle: New opens the NPC store, seeds it
// and builds the HTTP routes; Run serves until the context is cancelled;
// Shutdown releases the store and any other resources in order.
//
// For testing, inject doubles via functional options (WithStore,
// WithListener, ...). When an option is not provided, New creates the real
// implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/npcforge/internal/api"
	"github.com/MrWong99/npcforge/internal/chatserver"
	"github.com/MrWong99/npcforge/internal/config"
	"github.com/MrWong99/npcforge/internal/health"
	"github.com/MrWong99/npcforge/internal/npc"
	"github.com/MrWong99/npcforge/internal/npc/pgstore"
	"github.com/MrWong99/npcforge/internal/npc/sqlitestore"
	"github.com/MrWong99/npcforge/internal/observe"
	"github.com/MrWong99/npcforge/internal/resilience"
)

// readHeaderTimeout bounds how long a client may take to send request
// headers.
const readHeaderTimeout = 10 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg *config.Config

	store    npc.Store
	rawStore npc.Store
	metrics  *observe.Metrics
	level    *slog.LevelVar
	listener net.Listener

	chat   *chatserver.Handler
	health *health.Handler
	server *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects an NPC store instead of opening one from config. The
// caller keeps ownership; Shutdown does not close it.
func WithStore(s npc.Store) Option {
	return func(a *App) { a.rawStore = s }
}

// WithMetrics injects a metrics instance instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithListener makes Run serve on ln instead of listening on
// cfg.Server.ListenAddr.
func WithListener(ln net.Listener) Option {
	return func(a *App) { a.listener = ln }
}

// WithLogLevel hands the logger's level variable to the App so [App.Reload]
// can change verbosity at runtime.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App: it opens the configured store, seeds it when empty and
// registers every HTTP route.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Store ─────────────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}
	a.store = npc.Instrument(a.rawStore, a.metrics)

	// ── 2. Seed ──────────────────────────────────────────────────────────
	if err := a.seed(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: seed store: %w", err)
	}

	// ── 3. HTTP ──────────────────────────────────────────────────────────
	a.chat = chatserver.NewHandler(
		chatserver.NewStoreResponder(a.store, a.metrics),
		chatserver.WithMetrics(a.metrics),
		chatserver.WithReadLimit(cfg.Chat.ReadLimit),
		chatserver.WithOriginPatterns(cfg.Server.AllowedOrigins...),
	)

	var checks []health.Checker
	if p, ok := a.rawStore.(health.Pinger); ok {
		checks = append(checks, health.PingCheck("store", p))
	}
	a.health = health.New(checks...)

	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(a.metrics)(a.routes()),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	slog.Info("app initialised",
		"store", cfg.Store.Backend,
		"listen_addr", cfg.Server.ListenAddr,
	)
	return a, nil
}

// routes builds the request multiplexer.
func (a *App) routes() *http.ServeMux {
	mux := http.NewServeMux()
	api.New(a.store, a.metrics).Register(mux)
	a.health.Register(mux)
	mux.Handle("GET /ws", a.chat)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// Handler returns the fully wrapped HTTP handler served by Run.
func (a *App) Handler() http.Handler {
	return a.server.Handler
}

// Store returns the instrumented NPC store.
func (a *App) Store() npc.Store {
	return a.store
}

func (a *App) initStore(ctx context.Context) error {
	if a.rawStore != nil {
		return nil
	}

	switch a.cfg.Store.Backend {
	case config.StorePostgres:
		s, err := pgstore.Open(ctx, a.cfg.Store.PostgresDSN)
		if err != nil {
			return err
		}
		a.rawStore = resilience.GuardStore(s, resilience.CircuitBreakerConfig{Name: "postgres"})
		a.closers = append(a.closers, s.Close)
	case config.StoreSQLite:
		s, err := sqlitestore.Open(a.cfg.Store.SQLitePath)
		if err != nil {
			return err
		}
		a.rawStore = resilience.GuardStore(s, resilience.CircuitBreakerConfig{Name: "sqlite"})
		a.closers = append(a.closers, s.Close)
	case config.StoreMemory, "":
		a.rawStore = npc.NewMemStore()
	default:
		return fmt.Errorf("unknown store backend %q", a.cfg.Store.Backend)
	}
	return nil
}

// seed fills an empty store from the seed file, or from the built-in sample
// NPCs when seed_defaults is set. A store that already holds NPCs is left
// alone.
func (a *App) seed(ctx context.Context) error {
	var fields []npc.Fields
	switch {
	case a.cfg.Store.SeedFile != "":
		sf, err := npc.LoadSeedFile(a.cfg.Store.SeedFile)
		if err != nil {
			return err
		}
		fields = sf.NPCs
	case a.cfg.Store.SeedDefaults:
		fields = npc.DefaultSeed()
	default:
		return nil
	}

	existing, err := a.store.List(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		slog.Info("store already populated, skipping seed", "npcs", len(existing))
		return nil
	}

	n, err := npc.Seed(ctx, a.store, fields)
	if err != nil {
		return err
	}
	slog.Info("store seeded", "npcs", n, "source", seedSource(a.cfg.Store))
	return nil
}

func seedSource(sc config.StoreConfig) string {
	if sc.SeedFile != "" {
		return sc.SeedFile
	}
	return "defaults"
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP and blocks until ctx is cancelled or the server fails.
// On cancellation it marks the server not ready, stops accepting requests,
// and closes open chat sessions before returning. A clean stop returns nil.
func (a *App) Run(ctx context.Context) error {
	ln := a.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", a.cfg.Server.ListenAddr)
		if err != nil {
			return fmt.Errorf("app: listen %s: %w", a.cfg.Server.ListenAddr, err)
		}
	}
	slog.Info("http server listening", "addr", ln.Addr().String())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return a.stopHTTP(context.WithoutCancel(ctx))
	})
	return g.Wait()
}

// stopHTTP drains the server within the configured shutdown timeout.
func (a *App) stopHTTP(ctx context.Context) error {
	a.health.Drain()

	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = config.DefaultShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Shutdown does not track hijacked connections, so chat sessions are
	// closed separately.
	err := a.server.Shutdown(ctx)
	if cerr := a.chat.Close(); cerr != nil {
		err = errors.Join(err, cerr)
	}
	if err != nil {
		return fmt.Errorf("app: stop http: %w", err)
	}
	return nil
}

// Reload applies the hot-reloadable parts of a changed config and warns
// about the rest. It is meant as a [config.Watcher] callback.
func (a *App) Reload(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.SlogLevel())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart to take effect", "keys", d.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the HTTP server if Run has not already done so, then runs
// the closers in order. It respects the context deadline: if ctx expires
// before all closers finish, remaining closers are skipped and the context
// error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.server.Shutdown(ctx); err != nil {
			slog.Warn("http shutdown error", "error", err)
		}
		_ = a.chat.Close()

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "error", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll runs every closer, ignoring errors. Used when New fails halfway.
func (a *App) closeAll() {
	for _, c := range a.closers {
		_ = c()
	}
}
