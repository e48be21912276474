// Command npcforge is the NPC management server: a JSON API over the NPC
// store plus the realtime chat endpoint.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/MrWong99/npcforge/internal/app"
	"github.com/MrWong99/npcforge/internal/config"
	"github.com/MrWong99/npcforge/internal/observe"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

// options holds the parsed command line.
type options struct {
	configPath string
	watch      bool
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := flag.NewFlagSet("npcforge", flag.ContinueOnError)
	fs.StringVar(&o.configPath, "config", "", "path to the YAML configuration file (optional; NPCFORGE_* env vars override it)")
	fs.BoolVar(&o.watch, "watch", false, "poll the configuration file and apply log level changes without a restart")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if o.watch && o.configPath == "" {
		return options{}, errors.New("-watch requires -config")
	}
	return o, nil
}

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "npcforge: %v\n", err)
		return 2
	}
	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "npcforge: config file %q not found; copy configs/npcforge.example.yaml to get started\n", opts.configPath)
		} else {
			fmt.Fprintf(os.Stderr, "npcforge: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(cfg.Server.LogLevel.SlogLevel())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	slog.Info("npcforge starting",
		"version", version,
		"config", opts.configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Observe.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Observe.OTLPEndpoint,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "error", err)
		return 1
	}

	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, app.WithLogLevel(&level))
	if err != nil {
		slog.Error("failed to initialise application", "error", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	if opts.watch {
		w, err := config.NewWatcher(opts.configPath, application.Reload)
		if err != nil {
			slog.Warn("config watcher disabled", "error", err)
		} else {
			defer w.Stop()
		}
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	code := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "error", err)
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
		code = 1
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "error", err)
	}
	if code == 0 {
		slog.Info("goodbye")
	}
	return code
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        npcforge - startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Listen addr", cfg.Server.ListenAddr)
	printRow("Store", storeSummary(cfg.Store))
	switch {
	case cfg.Store.SeedFile != "":
		printRow("Seed", cfg.Store.SeedFile)
	case cfg.Store.SeedDefaults:
		printRow("Seed", "built-in samples")
	default:
		printRow("Seed", "(none)")
	}
	if cfg.Observe.OTLPEndpoint != "" {
		printRow("OTLP traces", cfg.Observe.OTLPEndpoint)
	} else {
		printRow("OTLP traces", "(disabled)")
	}
	printRow("Metrics", "/metrics")
	fmt.Println("╚═══════════════════════════════════════╝")
}

func storeSummary(sc config.StoreConfig) string {
	switch sc.Backend {
	case config.StoreSQLite:
		return "sqlite " + sc.SQLitePath
	case config.StorePostgres:
		return "postgres"
	default:
		return "memory"
	}
}

func printRow(label, value string) {
	if r := []rune(value); len(r) > 19 {
		value = string(r[:18]) + "…"
	}
	fmt.Printf("║  %-14s: %-19s  ║\n", label, value)
}
