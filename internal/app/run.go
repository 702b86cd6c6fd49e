package app

import (
	"context"
	"fmt"

	"github.com/screwdriver-cd/screwdriver-sub003/internal/ctxlog"
	"github.com/screwdriver-cd/screwdriver-sub003/internal/simulate"
)

// Run executes the main application logic based on the provided
// configuration: an end-to-end simulated run of the configured pipeline,
// printing the final event status.
func (a *App) Run(ctx context.Context, appConfig *Config) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	if appConfig.HealthcheckPort > 0 {
		a.startHealthcheckServer(appConfig.HealthcheckPort)
	}
	defer func() {
		if err := a.tasks.RunAll(ctx); err != nil {
			a.logger.Error("Shutdown tasks reported errors.", "error", err)
		}
	}()

	pipelineID := appConfig.PipelineID
	if pipelineID == 0 {
		if len(a.config.Pipelines) == 0 {
			return fmt.Errorf("no pipelines loaded from %s", appConfig.PipelinesPath)
		}
		pipelineID = a.config.Pipelines[0].ID
	}
	if a.config.Lookup(pipelineID) == nil {
		return fmt.Errorf("pipeline %d is not defined in %s", pipelineID, appConfig.PipelinesPath)
	}

	runner := simulate.New(a.lifecyc, a.store.Builds(), a.store.Events(), appConfig.WorkerCount)
	event, err := runner.Run(ctx, pipelineID, appConfig.StartFrom)
	if err != nil {
		return fmt.Errorf("simulation failed: %w", err)
	}

	fmt.Fprintf(a.outW, "event %d finished with status %s\n", event.ID, event.Status)
	a.printRunSummary(ctx, event.GroupEventID)
	a.logger.Debug("App.Run method finished.")
	return nil
}

// printRunSummary lists the final build per job across the whole trigger
// group, covering downstream events in other pipelines as well.
func (a *App) printRunSummary(ctx context.Context, groupEventID int64) {
	latest, err := a.store.Builds().ListLatestByGroupEvent(ctx, groupEventID)
	if err != nil {
		a.logger.Warn("Failed to collect run summary.", "groupEventID", groupEventID, "error", err)
		return
	}
	for _, b := range latest {
		job, err := a.store.Jobs().Get(ctx, b.JobID)
		if err != nil {
			a.logger.Warn("Run summary skipped a build with no job row.", "buildID", b.ID, "error", err)
			continue
		}
		fmt.Fprintf(a.outW, "  %s %s\n", job.Name, b.Status)
	}
}
