// Command redakt serves the transcript editing engine: fuzzy glossary
// matching, incremental spellcheck, filtering, search and replace, and the
// playback synchronizer, exposed to the browser UI over a websocket.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fabelwerk/redakt/internal/config"
	"github.com/fabelwerk/redakt/internal/health"
	"github.com/fabelwerk/redakt/internal/ingest"
	"github.com/fabelwerk/redakt/internal/lexicon"
	"github.com/fabelwerk/redakt/internal/observe"
	"github.com/fabelwerk/redakt/internal/playback"
	"github.com/fabelwerk/redakt/internal/server"
	"github.com/fabelwerk/redakt/internal/session"
	"github.com/fabelwerk/redakt/internal/spellcheck"
	"github.com/fabelwerk/redakt/internal/store"
	"github.com/fabelwerk/redakt/pkg/types"
)

// version is stamped by the release build; "dev" otherwise.
var version = "dev"

const shutdownTimeout = 15 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	importPath := flag.String("import", "", "import a transcript (whisper JSON or .vtt) and exit")
	importName := flag.String("name", "", "name for the imported transcript (default: file name)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "redakt: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "redakt: %v\n", err)
		}
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("redakt starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "redakt",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Store ─────────────────────────────────────────────────────────────────
	st, checks, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialise store", "err", err)
		return 1
	}
	defer closeStore()

	if *importPath != "" {
		if err := runImport(ctx, st, *importPath, *importName); err != nil {
			slog.Error("import failed", "path", *importPath, "err", err)
			return 1
		}
		return 0
	}

	// ── Glossary ──────────────────────────────────────────────────────────────
	var entries []types.LexiconEntry
	if cfg.Lexicon.Path != "" {
		entries, err = config.LoadGlossary(cfg.Lexicon.Path)
		if err != nil {
			slog.Error("failed to load glossary", "path", cfg.Lexicon.Path, "err", err)
			return 1
		}
		slog.Info("glossary loaded", "path", cfg.Lexicon.Path, "entries", len(entries))

		glossaryPath := cfg.Lexicon.Path
		checks = append(checks, health.Checker{
			Name: "glossary",
			Check: func(context.Context) error {
				_, err := os.Stat(glossaryPath)
				return err
			},
		})
	}

	// ── Sessions ──────────────────────────────────────────────────────────────
	spellCfg := spellcheckConfig(cfg.Spellcheck)
	mgr := server.NewManager(server.ManagerConfig{
		Store:          st,
		DictDir:        cfg.Spellcheck.DictDir,
		DefaultEntries: entries,
		SessionOptions: session.Options{
			SpellcheckConfig: spellCfg,
			Checkers:         spellcheck.LoadCheckers(cfg.Spellcheck.DictDir, spellCfg),
			LexiconOptions:   lexiconOptions(cfg.Lexicon),
		},
	})

	// ── Glossary hot reload ───────────────────────────────────────────────────
	if cfg.Lexicon.Path != "" {
		var watchOpts []config.WatcherOption
		if cfg.Lexicon.WatchIntervalS > 0 {
			watchOpts = append(watchOpts, config.WithInterval(time.Duration(cfg.Lexicon.WatchIntervalS)*time.Second))
		}
		watcher, err := config.NewGlossaryWatcher(cfg.Lexicon.Path, func(_, entries []types.LexiconEntry) {
			mgr.SetGlossary(context.Background(), entries)
		}, watchOpts...)
		if err != nil {
			slog.Error("failed to start glossary watcher", "err", err)
			return 1
		}
		defer watcher.Stop()
	}

	// ── Server ────────────────────────────────────────────────────────────────
	srv := server.New(server.Config{
		ListenAddr: cfg.Server.ListenAddr,
		Version:    version,
		Manager:    mgr,
		PlaybackOptions: playback.Options{
			ScrollCooldown:     time.Duration(cfg.Playback.ScrollCooldownMS) * time.Millisecond,
			VisibilityInterval: visibilityInterval(cfg.Playback.VisibilityHz),
			SeekJumpThreshold:  cfg.Playback.SeekJumpThresholdS,
		},
		RestrictToFiltered: cfg.Playback.RestrictToFiltered,
		Checks:             checks,
	})

	if cfg.Server.MetricsAddr != "" {
		go serveMetrics(ctx, cfg.Server.MetricsAddr)
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// runImport loads an STT export into the store. The format is picked by file
// extension: .vtt files are parsed as WebVTT, everything else as whisper
// verbose JSON.
func runImport(ctx context.Context, st store.Store, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	var tr *store.Transcript
	if strings.EqualFold(filepath.Ext(path), ".vtt") {
		tr, err = ingest.ImportWebVTT(ctx, st, name, f)
	} else {
		tr, err = ingest.ImportWhisperJSON(ctx, st, name, f)
	}
	if err != nil {
		return err
	}

	slog.Info("transcript imported", "id", tr.ID, "name", tr.Name, "segments", len(tr.Segments))
	fmt.Println(tr.ID)
	return nil
}

// buildStore selects the persistence backend from the configuration and
// returns it together with the readiness checks and a cleanup function.
func buildStore(ctx context.Context, cfg *config.Config) (store.Store, []health.Checker, func(), error) {
	if cfg.Store.PostgresDSN == "" {
		slog.Warn("no postgres_dsn configured — transcripts are held in memory only")
		return store.NewMemStore(), nil, func() {}, nil
	}

	pool, err := pgxpool.New(ctx, cfg.Store.PostgresDSN)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}

	pg := store.NewPostgresStore(pool)
	if err := pg.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, nil, fmt.Errorf("migrate schema: %w", err)
	}
	slog.Info("postgres store ready")

	checks := []health.Checker{{
		Name:  "store",
		Check: pool.Ping,
	}}
	return store.NewBreakerStore(pg, store.BreakerConfig{}), checks, pool.Close, nil
}

// serveMetrics runs a standalone Prometheus scrape listener until ctx ends.
func serveMetrics(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	slog.Info("metrics listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Warn("metrics listener error", "err", err)
	}
}

// spellcheckConfig maps the YAML spellcheck section onto the engine config.
func spellcheckConfig(sc config.SpellcheckConfig) spellcheck.Config {
	dicts := make([]spellcheck.CustomDictionary, len(sc.CustomDictionaries))
	for i, d := range sc.CustomDictionaries {
		dicts[i] = spellcheck.CustomDictionary{ID: d.ID, Name: d.Name, Path: d.Path}
	}
	return spellcheck.Config{
		Enabled:            sc.Enabled,
		Languages:          sc.Languages,
		CustomEnabled:      sc.CustomEnabled,
		CustomDictionaries: dicts,
		IgnoreWords:        sc.IgnoreWords,
		MatchLimit:         sc.MatchLimit,
	}
}

// visibilityInterval converts a checks-per-second rate into the
// synchronizer's throttle interval. Zero keeps the default.
func visibilityInterval(hz int) time.Duration {
	if hz <= 0 {
		return 0
	}
	return time.Second / time.Duration(hz)
}

// lexiconOptions maps the YAML lexicon section onto matcher options.
func lexiconOptions(lc config.LexiconConfig) []lexicon.Option {
	var opts []lexicon.Option
	if lc.Threshold > 0 {
		opts = append(opts, lexicon.WithThreshold(lc.Threshold))
	}
	if lc.MinWordLength > 0 {
		opts = append(opts, lexicon.WithMinWordLength(lc.MinWordLength))
	}
	return opts
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
