// Package simulate runs a pipeline set end-to-end without executors: a
// worker pool drains ready builds, completes each with SUCCESS through the
// lifecycle service, and enqueues whatever the resolver reports as ready.
// The run terminates when no in-flight work remains.
package simulate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/screwdriver-cd/screwdriver-sub003/internal/builds"
	"github.com/screwdriver-cd/screwdriver-sub003/internal/ctxlog"
	"github.com/screwdriver-cd/screwdriver-sub003/internal/model"
	"github.com/screwdriver-cd/screwdriver-sub003/internal/repo"
	"github.com/screwdriver-cd/screwdriver-sub003/internal/sderr"
	"github.com/screwdriver-cd/screwdriver-sub003/internal/status"
	"github.com/screwdriver-cd/screwdriver-sub003/internal/workflow"
)

// readyChanCapacity bounds the queue of builds waiting for a worker. Runs
// are bounded by the total builds a trigger group can produce, which is far
// below this for any realistic pipeline set.
const readyChanCapacity = 1024

// Runner drives one simulated run.
type Runner struct {
	svc     *builds.Service
	builds  repo.BuildRepository
	events  repo.EventRepository
	workers int

	wg        sync.WaitGroup
	readyChan chan int64

	mu   sync.Mutex
	errs []error
}

// New constructs a Runner. Worker count defaults to 1 when non-positive.
func New(svc *builds.Service, buildRepo repo.BuildRepository, eventRepo repo.EventRepository, workers int) *Runner {
	if workers < 1 {
		workers = 1
	}
	return &Runner{
		svc:     svc,
		builds:  buildRepo,
		events:  eventRepo,
		workers: workers,
	}
}

// Run creates the root event for pipelineID, seeds the startFrom builds,
// and drains the trigger graph to quiescence. It returns the root event in
// its final state; downstream events created by external triggers share its
// group id.
func (r *Runner) Run(ctx context.Context, pipelineID int64, startFrom string) (*model.Event, error) {
	logger := ctxlog.FromContext(ctx)

	event, err := r.events.Create(ctx, &model.Event{
		PipelineID:   pipelineID,
		StartFrom:    startFrom,
		CauseMessage: "Started by simulation",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create root event: %w", err)
	}
	logger.Info("Simulation started.",
		"pipelineID", pipelineID, "eventID", event.ID, "startFrom", startFrom, "workers", r.workers)

	seeds, err := r.startBuilds(ctx, event)
	if err != nil {
		return nil, err
	}
	if len(seeds) == 0 {
		return nil, fmt.Errorf("start-from %q matches no job in pipeline %d", startFrom, pipelineID)
	}

	r.readyChan = make(chan int64, readyChanCapacity)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var workersWG sync.WaitGroup
	for i := 0; i < r.workers; i++ {
		workersWG.Add(1)
		go func(workerID int) {
			defer workersWG.Done()
			r.worker(runCtx, workerID)
		}(i)
	}

	for _, id := range seeds {
		r.enqueue(id)
	}

	r.wg.Wait()
	close(r.readyChan)
	workersWG.Wait()

	event, err = r.events.Get(ctx, event.ID)
	if err != nil {
		return nil, err
	}
	logger.Info("Simulation finished.", "eventID", event.ID, "eventStatus", event.Status)
	return event, errors.Join(r.errs...)
}

// worker is the processing loop of one concurrent worker.
func (r *Runner) worker(ctx context.Context, workerID int) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Worker started.", "workerID", workerID)

	for id := range r.readyChan {
		workerLogger := logger.With("workerID", workerID, "buildID", id)

		if ctx.Err() != nil {
			r.wg.Done()
			continue
		}

		workerLogger.Debug("Worker picked up build.")
		if err := r.completeBuild(ctx, id); err != nil {
			workerLogger.Error("Build simulation failed.", "error", err)
			r.recordErr(err)
		}
		r.wg.Done()
	}
	logger.Debug("Worker finished.", "workerID", workerID)
}

// completeBuild walks one build through QUEUED, RUNNING, and SUCCESS, then
// enqueues whatever the final transition reported as ready to start. The
// QUEUED transition doubles as the claim: concurrent parents of a join can
// both report it ready, and the loser of the claim simply walks away.
func (r *Runner) completeBuild(ctx context.Context, id int64) error {
	if _, _, err := r.svc.UpdateBuildAndTriggerDownstreamJobs(ctx, builds.UpdateRequest{
		BuildID:  id,
		Status:   status.Queued,
		Username: "sd-simulator",
	}); err != nil {
		if sderr.KindOf(err) == sderr.KindBadRequest {
			ctxlog.FromContext(ctx).Debug("Build already claimed by another worker.", "buildID", id)
			return nil
		}
		return err
	}

	if _, _, err := r.svc.UpdateBuildAndTriggerDownstreamJobs(ctx, builds.UpdateRequest{
		BuildID:  id,
		Status:   status.Running,
		Username: "sd-simulator",
	}); err != nil {
		return err
	}

	_, resolutions, err := r.svc.UpdateBuildAndTriggerDownstreamJobs(ctx, builds.UpdateRequest{
		BuildID:  id,
		Status:   status.Success,
		Username: "sd-simulator",
	})
	if err != nil {
		return err
	}

	for _, res := range resolutions {
		if res.Err != nil || !res.ReadyToStart {
			continue
		}
		switch {
		case res.Event != nil:
			seeds, err := r.startBuilds(ctx, res.Event)
			if err != nil {
				r.recordErr(err)
				continue
			}
			for _, seed := range seeds {
				r.enqueue(seed)
			}
		case res.Build != nil:
			r.enqueue(res.Build.ID)
		}
	}
	return nil
}

// startBuilds creates the CREATED builds an event begins with. A startFrom
// naming a job seeds that job; a "~" trigger seeds every job the trigger
// fans out to.
func (r *Runner) startBuilds(ctx context.Context, event *model.Event) ([]int64, error) {
	g, err := workflow.New(event.WorkflowGraph)
	if err != nil {
		return nil, fmt.Errorf("invalid workflow graph for event %d: %w", event.ID, err)
	}

	// A startFrom naming a job seeds it directly. Trigger tokens keep
	// their "~" in the graph ("~commit") except qualified external names,
	// whose nodes are stored unprefixed.
	var names []string
	if !strings.HasPrefix(event.StartFrom, "~") && g.HasJob(event.StartFrom) {
		names = []string{event.StartFrom}
	} else {
		names = g.NextJobNames(event.StartFrom)
		if len(names) == 0 {
			names = g.NextJobNames(strings.TrimPrefix(event.StartFrom, "~"))
		}
	}

	var ids []int64
	for _, name := range names {
		jobID, ok := g.JobID(name)
		if !ok || jobID == 0 {
			continue
		}
		build, err := r.builds.Create(ctx, &model.Build{
			JobID:   jobID,
			EventID: event.ID,
			Status:  status.Created,
		})
		if err != nil {
			// A sibling resolution already left a placeholder here; that
			// path enqueues the build itself.
			if sderr.KindOf(err) == sderr.KindConflict {
				continue
			}
			return nil, fmt.Errorf("failed to seed build for job %q: %w", name, err)
		}
		ids = append(ids, build.ID)
	}
	return ids, nil
}

// enqueue registers one build as in-flight and hands it to the pool.
func (r *Runner) enqueue(id int64) {
	r.wg.Add(1)
	r.readyChan <- id
}

func (r *Runner) recordErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}
