// Package app assembles the pipeline, its sinks and the runner from
// configuration. The CLI and the server share it.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/olivestudio/leadrecon/internal/archive"
	"github.com/olivestudio/leadrecon/internal/config"
	"github.com/olivestudio/leadrecon/internal/datanorm"
	"github.com/olivestudio/leadrecon/internal/notify"
	"github.com/olivestudio/leadrecon/internal/pkg/distlock"
	"github.com/olivestudio/leadrecon/internal/pkg/logger"
	"github.com/olivestudio/leadrecon/internal/publish"
	"github.com/olivestudio/leadrecon/internal/runner"
	"github.com/olivestudio/leadrecon/internal/storage"
)

// App is a fully wired pipeline.
type App struct {
	Config   *config.Config
	Runner   *runner.Runner
	Store    *storage.Storage
	Registry *prometheus.Registry

	redis   *redis.Client
	archive *archive.Archive
}

// Build wires every component enabled in cfg.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	logger.SetRedact(cfg.Log.RedactEnabled())

	a := &App{Config: cfg, Registry: prometheus.NewRegistry()}
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	store, err := storage.New(ctx, cfg.Storage, cfg.Pipeline.CachePath)
	if err != nil {
		return nil, err
	}
	a.Store = store

	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		a.redis = redis.NewClient(opt)
		if err := a.redis.Ping(ctx).Err(); err != nil {
			log.Printf("[app] redis unavailable, using local lock and progress: %v", err)
			a.redis.Close()
			a.redis = nil
		}
	}

	pipeline := datanorm.NewPipeline(datanorm.Options{
		ReportLabels:   cfg.Pipeline.ReportLabels,
		Pattern:        cfg.Pipeline.Pattern,
		SupplementPath: cfg.Pipeline.SupplementalPath,
	})
	schema := pipeline.Schema()

	deps := runner.Deps{
		Pipeline:    pipeline,
		Store:       store,
		DataDir:     cfg.Pipeline.DataDir,
		ColumnOrder: cfg.Pipeline.ColumnOrder,
		Metrics:     runner.NewMetrics(a.Registry),
	}

	if cfg.Sheets.Enabled {
		sp, err := publish.NewServiceAccountPublisher(ctx, cfg.Sheets.KeyFile, cfg.Sheets.BaseURL, cfg.Sheets.URL, schema.CreatedAt)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("sheets publisher: %w", err)
		}
		deps.Publishers = append(deps.Publishers, runner.NamedPublisher{Name: "sheets", Publisher: sp})
	}
	if cfg.Export.XLSXPath != "" {
		deps.Publishers = append(deps.Publishers, runner.NamedPublisher{
			Name:      "xlsx",
			Publisher: &publish.XLSXPublisher{Path: cfg.Export.XLSXPath, SortColumn: schema.CreatedAt, Sheet: cfg.Export.SheetName},
		})
	}

	var lockDB *sql.DB
	if cfg.Archive.Enabled && cfg.Archive.DatabaseURL != "" {
		arc, err := archive.Open(cfg.Archive.DatabaseURL, schema)
		if err != nil {
			a.Close()
			return nil, err
		}
		if err := arc.EnsureSchema(ctx); err != nil {
			log.Printf("[app] archive disabled: %v", err)
			arc.Close()
		} else {
			a.archive = arc
			deps.Archive = arc
			lockDB = arc.DB()
		}
	}

	if cfg.Notify.Enabled && len(cfg.Notify.To) > 0 {
		n, err := notify.NewSESNotifier(ctx, cfg.Notify)
		if err != nil {
			a.Close()
			return nil, err
		}
		deps.Notifier = n
	}

	deps.Lock = distlock.NewLock(a.redis, lockDB, cfg.Lock.Key, cfg.Lock.TTL())
	if a.redis != nil {
		deps.Tracker = runner.NewRedisTracker(a.redis, "", 24*time.Hour)
	}

	r, err := runner.New(deps)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Runner = r

	log.Printf("[app] storage=%s publishers=%d archive=%v notify=%v redis=%v",
		cfg.Storage.Type, len(deps.Publishers), deps.Archive != nil, deps.Notifier != nil, a.redis != nil)
	return a, nil
}

// Watcher returns a data-directory watcher that runs the full pipeline.
func (a *App) Watcher() *runner.Watcher {
	return runner.NewWatcher(a.Config.Pipeline.DataDir, a.Config.Pipeline.Pattern, a.Config.Watch.Debounce(),
		func(ctx context.Context) error {
			_, err := a.Runner.Run(ctx, true)
			if errors.Is(err, datanorm.ErrNoReports) {
				return nil
			}
			return err
		})
}

// Close releases connections.
func (a *App) Close() error {
	var errs []error
	if a.archive != nil {
		errs = append(errs, a.archive.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	return errors.Join(errs...)
}
