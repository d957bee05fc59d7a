package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/habitbot/internal/config"
	"github.com/ent0n29/habitbot/internal/dedupe"
	"github.com/ent0n29/habitbot/internal/events"
	"github.com/ent0n29/habitbot/internal/habit"
	"github.com/ent0n29/habitbot/internal/habitlink"
	"github.com/ent0n29/habitbot/internal/httpapi"
	"github.com/ent0n29/habitbot/internal/logging"
	"github.com/ent0n29/habitbot/internal/observability"
	"github.com/ent0n29/habitbot/internal/routine"
	"github.com/ent0n29/habitbot/internal/routinerun"
	"github.com/ent0n29/habitbot/internal/session"
	"github.com/ent0n29/habitbot/internal/sheet"
)

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Sessions *session.Manager
	Runs     *routinerun.Service
	Routines *routine.Repository
	Habits   *habit.Repository
	Metrics  *observability.Metrics
	Backends httpapi.Backends

	// Cleanup drains pending writes and releases external resources (DB, Redis, MQ).
	Cleanup func(ctx context.Context) error
}

// Options tune Build for entry points that do not serve HTTP.
type Options struct {
	// Metrics may be nil for one-shot commands that never expose /metrics.
	Metrics *observability.Metrics
	Logger  *zap.Logger
}

func Build(ctx context.Context, cfg config.Config, opts Options) (*BuildResult, error) {
	logger := logging.OrNop(opts.Logger)
	metrics := opts.Metrics

	store, err := sheet.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("row store init failed: %w", err)
	}
	storeMode := "in-memory"
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		storeMode = "postgres"
	}

	deduper, dedupeMode, err := dedupe.New(ctx, dedupe.Options{
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		RedisDB:       cfg.RedisDB,
		TTL:           cfg.DedupeTTL,
	}, logger)
	if err != nil {
		// Duplicate suppression degrades to process-local rather than blocking startup.
		logger.Warn("redis unavailable, using in-memory dedupe", zap.Error(err))
		deduper, dedupeMode = dedupe.NewMemoryDeduper(cfg.DedupeTTL), "in-memory"
	}

	publisher, eventsMode, err := events.NewPublisher(cfg.MQURL, cfg.MQExchange)
	if err != nil {
		logger.Warn("message bus unavailable, domain events disabled", zap.Error(err))
		publisher, eventsMode = events.NopPublisher{}, "disabled"
	}

	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	localNow := func() time.Time { return time.Now().In(loc) }

	routines := routine.NewRepository(store)
	habits := habit.NewRepository(store)
	links := habitlink.NewRegistry(store, habits, logger.Named("habitlink"), metrics)
	links.SetClock(localNow)

	sessions := session.NewManager(cfg.SessionIdleTimeout)
	runs := routinerun.New(routinerun.Config{
		LinkTimeout:    cfg.LinkTimeout,
		PersistTimeout: cfg.PersistTimeout,
		Location:       loc,
	}, routinerun.Deps{
		Routines:  routines,
		Links:     links,
		Sessions:  sessions,
		Publisher: publisher,
		Metrics:   metrics,
		Logger:    logger.Named("routinerun"),
	})

	backends := httpapi.Backends{Store: storeMode, Dedupe: dedupeMode, Events: eventsMode}
	api := httpapi.New(cfg, httpapi.Deps{
		Runs:     runs,
		Routines: routines,
		Habits:   habits,
		Deduper:  deduper,
		Metrics:  metrics,
		Logger:   logger.Named("httpapi"),
		Backends: backends,
	})

	cleanup := func(ctx context.Context) error {
		var errs []error
		if err := runs.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("routine runtime: %w", err))
		}
		if err := deduper.Close(); err != nil {
			errs = append(errs, fmt.Errorf("dedupe: %w", err))
		}
		if err := store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("row store: %w", err))
		}
		return errors.Join(errs...)
	}

	return &BuildResult{
		Config:   cfg,
		API:      api,
		Sessions: sessions,
		Runs:     runs,
		Routines: routines,
		Habits:   habits,
		Metrics:  metrics,
		Backends: backends,
		Cleanup:  cleanup,
	}, nil
}
