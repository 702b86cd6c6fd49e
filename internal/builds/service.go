// Package builds owns the build lifecycle entrypoint: applying a reported
// status change, keeping the owning event's derived status current, and
// handing completed builds to the trigger resolver.
package builds

import (
	"context"
	"time"

	"github.com/screwdriver-cd/screwdriver-sub003/internal/ctxlog"
	"github.com/screwdriver-cd/screwdriver-sub003/internal/eventstatus"
	"github.com/screwdriver-cd/screwdriver-sub003/internal/model"
	"github.com/screwdriver-cd/screwdriver-sub003/internal/notify"
	"github.com/screwdriver-cd/screwdriver-sub003/internal/repo"
	"github.com/screwdriver-cd/screwdriver-sub003/internal/sderr"
	"github.com/screwdriver-cd/screwdriver-sub003/internal/status"
	"github.com/screwdriver-cd/screwdriver-sub003/internal/trigger"
)

// Service coordinates build status changes.
type Service struct {
	pipelines repo.PipelineRepository
	jobs      repo.JobRepository
	builds    repo.BuildRepository
	events    repo.EventRepository
	resolver  *trigger.Resolver
	notifier  notify.Notifier
	now       func() time.Time
}

// New constructs the service. A nil notifier falls back to the no-op
// implementation.
func New(
	pipelines repo.PipelineRepository,
	jobs repo.JobRepository,
	builds repo.BuildRepository,
	events repo.EventRepository,
	resolver *trigger.Resolver,
	notifier notify.Notifier,
) *Service {
	if notifier == nil {
		notifier = notify.Noop{}
	}
	return &Service{
		pipelines: pipelines,
		jobs:      jobs,
		builds:    builds,
		events:    events,
		resolver:  resolver,
		notifier:  notifier,
		now:       time.Now,
	}
}

// UpdateRequest describes one reported status change.
type UpdateRequest struct {
	BuildID  int64
	Status   status.Status
	Meta     map[string]any
	Username string
}

// UpdateBuildAndTriggerDownstreamJobs applies the status change, emits the
// build_status notification, recomputes the owning event's status, and,
// when the build ended in a non-failing terminal status, resolves what to
// trigger next. A failing terminal status (FAILURE or ABORTED) instead
// removes the not-yet-started join builds downstream of this one.
func (s *Service) UpdateBuildAndTriggerDownstreamJobs(ctx context.Context, req UpdateRequest) (*model.Build, []trigger.Resolution, error) {
	logger := ctxlog.FromContext(ctx).With("buildID", req.BuildID, "username", req.Username)

	// The write is versioned; a Conflict means another writer landed
	// between our read and write, so the transition is re-validated against
	// the fresh row. A lost QUEUED claim surfaces as BadRequest this way.
	var build *model.Build
	var event *model.Event
	for {
		var err error
		build, err = s.builds.Get(ctx, req.BuildID)
		if err != nil {
			return nil, nil, err
		}
		event, err = s.events.Get(ctx, build.EventID)
		if err != nil {
			return nil, nil, err
		}

		if err := validateTransition(build.Status, req.Status); err != nil {
			return nil, nil, err
		}

		switch {
		case req.Status == status.Running:
			build.StartTime = s.now()
		case req.Status.IsTerminal():
			build.EndTime = s.now()
			if req.Meta != nil {
				build.Meta = req.Meta
			}
		}
		build.Status = req.Status

		build, err = s.builds.Update(ctx, build)
		if err == nil {
			break
		}
		if sderr.KindOf(err) == sderr.KindConflict {
			logger.Debug("Build modified concurrently, retrying transition.")
			continue
		}
		logger.Error("Failed to persist build status.", "error", err)
		return nil, nil, sderr.Wrap(err, sderr.KindInternal, "failed to update build %d", req.BuildID)
	}

	if build.Status.IsTerminal() && req.Meta != nil {
		if event.Meta == nil {
			event.Meta = make(map[string]any, len(req.Meta))
		}
		for k, v := range req.Meta {
			event.Meta[k] = v
		}
		if _, err := s.events.Update(ctx, event); err != nil {
			logger.Error("Failed to persist event meta.", "eventID", event.ID, "error", err)
			return nil, nil, sderr.Wrap(err, sderr.KindInternal, "failed to update event %d", event.ID)
		}
	}

	s.emit(ctx, build, event)

	pipeline, err := s.pipelines.Get(ctx, event.PipelineID)
	if err != nil {
		return nil, nil, err
	}
	job, err := s.jobs.Get(ctx, build.JobID)
	if err != nil {
		return nil, nil, err
	}
	current := &trigger.Current{Pipeline: pipeline, Event: event, Job: job, Build: build}

	var resolutions []trigger.Resolution
	switch {
	case build.Status.IsFailing():
		if err := s.resolver.RemoveJoinBuilds(ctx, current); err != nil {
			logger.Error("Failed to remove pending join builds after failure.", "error", err)
		}
	case build.Status.IsTerminal() && !build.Status.IsFailing():
		resolutions, err = s.resolver.ResolveNextJobs(ctx, current)
		if err != nil {
			return nil, nil, err
		}
		for _, res := range resolutions {
			if res.Err != nil {
				logger.Warn("Trigger edge failed to resolve.",
					"destPipelineID", res.PipelineID, "destJobName", res.JobName, "error", res.Err)
			}
		}
	}

	if err := s.RefreshEventStatus(ctx, event.ID); err != nil {
		return nil, nil, err
	}

	return build, resolutions, nil
}

// RefreshEventStatus recomputes the derived status of an event from its
// current build snapshot and persists it when it changed. Derivation is
// idempotent, so racing refreshes settle on the next status change.
func (s *Service) RefreshEventStatus(ctx context.Context, eventID int64) error {
	event, err := s.events.Get(ctx, eventID)
	if err != nil {
		return err
	}
	snapshot, err := s.builds.ListByEvent(ctx, eventID)
	if err != nil {
		return err
	}

	derived, ok := eventstatus.Derive(snapshot)
	if !ok || event.Status == derived {
		return nil
	}
	event.Status = derived
	if _, err := s.events.Update(ctx, event); err != nil {
		return sderr.Wrap(err, sderr.KindInternal, "failed to update status of event %d", eventID)
	}
	ctxlog.FromContext(ctx).Info("Event status updated.", "eventID", eventID, "status", derived)
	return nil
}

// emit sends the build_status notification; failures are logged only.
func (s *Service) emit(ctx context.Context, build *model.Build, event *model.Event) {
	err := s.notifier.BuildStatus(ctx, notify.Payload{
		BuildID:     build.ID,
		PipelineID:  event.PipelineID,
		EventID:     event.ID,
		Status:      build.Status,
		EventStatus: event.Status,
	})
	if err != nil {
		ctxlog.FromContext(ctx).Warn("build_status notification failed.",
			"buildID", build.ID, "error", err)
	}
}

// validateTransition rejects transitions that cannot happen in a healthy
// lifecycle: reviving a terminal build, forcing QUEUED onto a build that is
// already past it, and repeated BLOCKED reports from the queue service.
func validateTransition(current, desired status.Status) error {
	if _, err := status.Parse(string(desired)); err != nil {
		return sderr.BadRequest("invalid status %q", desired)
	}
	if current.IsTerminal() {
		return sderr.BadRequest("build is already %s and cannot transition to %s", current, desired)
	}
	if desired == status.Queued && current != status.Created {
		return sderr.BadRequest("cannot update builds to %s", desired)
	}
	if desired == status.Blocked && current == status.Blocked {
		return sderr.BadRequest("cannot update builds to %s", desired)
	}
	return nil
}
