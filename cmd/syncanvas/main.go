package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/dmateu/syncanvas/internal/codec"
	"github.com/dmateu/syncanvas/internal/controller"
	"github.com/dmateu/syncanvas/internal/expressions"
	"github.com/dmateu/syncanvas/internal/infer"
	"github.com/dmateu/syncanvas/internal/logging"
	"github.com/dmateu/syncanvas/internal/positions"
	"github.com/dmateu/syncanvas/internal/store"
	"github.com/dmateu/syncanvas/internal/validation"
	"github.com/dmateu/syncanvas/pkg/mcp"
	"github.com/dmateu/syncanvas/pkg/schema"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "version" {
		printVersion()
		return
	}

	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "syncanvas:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	st, err := store.NewLibSQLStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}

	cache := positions.NewCache(st, logger, positions.Options{
		Debounce:   cfg.debounce(),
		MaxEntries: cfg.CacheEntries,
		IdleTTL:    cfg.idleTTL(),
	})
	defer cache.Close()

	janitor, err := positions.NewJanitor(cache, st, cfg.JanitorSchedule, cfg.retention(), logger)
	if err != nil {
		return err
	}
	if err := janitor.Start(ctx); err != nil {
		return err
	}
	defer janitor.Stop()

	evaluator, err := expressions.NewEvaluator()
	if err != nil {
		return fmt.Errorf("build evaluator: %w", err)
	}
	validator, err := validation.NewGraphValidator(evaluator)
	if err != nil {
		return fmt.Errorf("build validator: %w", err)
	}

	registry := controller.NewRegistry(func(kind schema.DiagramKind, projectID string) (*controller.Controller, error) {
		return controller.New(controller.Config{
			ProjectID: projectID,
			Kind:      kind,
			Store:     st,
			Cache:     cache,
			Codec:     codec.New(validator),
			Infer:     infer.New(logger),
			Validator: validator,
			Logger:    logger,
		})
	})
	defer registry.CloseAll(context.Background())

	if err := startWatch(ctx, cfg, registry, logger); err != nil {
		return err
	}

	srv := mcp.NewCanvasServer(mcp.CanvasServerDeps{
		Controllers: registry,
		Store:       st,
		Evaluator:   evaluator,
		Logger:      logger,
	})

	logger.Info("syncanvas started",
		slog.String("version", version),
		slog.String("db_path", cfg.DBPath))
	return srv.Serve(ctx)
}

// startWatch optionally imports and watches one document file configured at
// boot. Later edits to the file flow in through the controller's watcher.
func startWatch(ctx context.Context, cfg Config, registry *controller.Registry, logger *slog.Logger) error {
	if cfg.WatchPath == "" {
		return nil
	}
	kind := schema.DiagramKind(cfg.WatchKind)
	if !kind.Valid() {
		return fmt.Errorf("watch_kind must be schema or flow, got %q", cfg.WatchKind)
	}
	project := cfg.WatchProject
	if project == "" {
		project = "default"
	}

	c, err := registry.Get(kind, project)
	if err != nil {
		return err
	}
	if err := c.ImportFile(ctx, cfg.WatchPath); err != nil {
		return fmt.Errorf("import %s: %w", cfg.WatchPath, err)
	}
	if err := c.Watch(ctx, cfg.WatchPath); err != nil {
		return err
	}
	logger.Info("watching document",
		slog.String("path", cfg.WatchPath),
		slog.String("kind", string(kind)),
		slog.String("project_id", project))
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	// MCP owns stdout; logs go to stderr.
	inner := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}
