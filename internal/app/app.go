// Package app wires the orchestration core together: it loads pipeline
// definitions, validates their trigger graphs, seeds the in-memory
// repositories, and owns the process lifecycle around a simulated run.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/screwdriver-cd/screwdriver-sub003/internal/builds"
	"github.com/screwdriver-cd/screwdriver-sub003/internal/config"
	"github.com/screwdriver-cd/screwdriver-sub003/internal/ctxlog"
	"github.com/screwdriver-cd/screwdriver-sub003/internal/joinstore"
	"github.com/screwdriver-cd/screwdriver-sub003/internal/memrepo"
	"github.com/screwdriver-cd/screwdriver-sub003/internal/notify"
	"github.com/screwdriver-cd/screwdriver-sub003/internal/shutdown"
	"github.com/screwdriver-cd/screwdriver-sub003/internal/trigger"
	"github.com/screwdriver-cd/screwdriver-sub003/internal/workflow"
)

// App encapsulates the application's dependencies, configuration, and
// lifecycle.
type App struct {
	outW     io.Writer
	logger   *slog.Logger
	config   *config.Model
	store    *memrepo.Store
	resolver *trigger.Resolver
	lifecyc  *builds.Service
	tasks    *shutdown.Registry
}

// NewApp is the constructor for the main application. Configuration load or
// validation failures are fatal startup errors and panic; the CLI entry
// point recovers them into a clean exit.
func NewApp(outW io.Writer, appConfig *Config, loader config.Loader) *App {
	logger := newLogger(appConfig.LogLevel, appConfig.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	cfgModel, err := loader.Load(ctx, appConfig.PipelinesPath)
	if err != nil {
		panic(fmt.Errorf("failed to load pipeline definitions: %w", err))
	}
	logger.Debug("Pipeline definitions loaded.", "count", len(cfgModel.Pipelines))

	store := memrepo.New()
	for _, p := range cfgModel.Pipelines {
		seeded, err := store.SeedPipeline(p, cfgModel.OutboundExternalEdges(p.ID)...)
		if err != nil {
			panic(fmt.Errorf("pipeline %d (%s): %w", p.ID, p.Name, err))
		}
		g, err := workflow.New(seeded.WorkflowGraph)
		if err != nil {
			panic(fmt.Errorf("pipeline %d (%s): %w", p.ID, p.Name, err))
		}
		if err := g.DetectCycles(); err != nil {
			panic(fmt.Errorf("pipeline %d (%s): %w", p.ID, p.Name, err))
		}
	}
	logger.Debug("Trigger graphs validated and repositories seeded.")

	resolver := trigger.New(
		store, store.Jobs(), store.Builds(), store.Events(),
		joinstore.NewMemory(), trigger.DefaultOptions(),
	)

	notifier, err := newNotifier(appConfig.NotifyURL)
	if err != nil {
		panic(err)
	}
	lifecyc := builds.New(store, store.Jobs(), store.Builds(), store.Events(), resolver, notifier)

	return &App{
		outW:     outW,
		logger:   logger,
		config:   cfgModel,
		store:    store,
		resolver: resolver,
		lifecyc:  lifecyc,
		tasks:    shutdown.NewRegistry(),
	}
}

// newNotifier picks the build_status transport for the configured endpoint.
func newNotifier(notifyURL string) (notify.Notifier, error) {
	if notifyURL == "" {
		return notify.Noop{}, nil
	}
	return notify.NewSocketIO(notifyURL, "", 0)
}

// Store returns the application's repository store. This is primarily for
// testing.
func (a *App) Store() *memrepo.Store {
	return a.store
}
