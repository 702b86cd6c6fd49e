package trigger

import (
	"context"
	"fmt"

	"github.com/screwdriver-cd/screwdriver-sub003/internal/ctxlog"
	"github.com/screwdriver-cd/screwdriver-sub003/internal/joinstore"
	"github.com/screwdriver-cd/screwdriver-sub003/internal/model"
	"github.com/screwdriver-cd/screwdriver-sub003/internal/workflow"
)

// externalSourceName is the qualified name of the current job as seen from
// another pipeline.
func externalSourceName(current *Current) string {
	return workflow.ExternalName(current.Pipeline.ID, current.Job.Name)
}

// resolveExternal handles one destination living in another pipeline (or
// addressed with the external notation). With no downstream event in the
// trigger group yet, a fresh event is created in the destination pipeline
// and readiness is immediate: the new event starts the destination job.
// When the group already has an event there, the destination is treated as
// a join inside that event.
func (r *Resolver) resolveExternal(
	ctx context.Context,
	current *Current,
	destPipelineID int64,
	jp *JoinPipeline,
	destName string,
	jj *JoinJob,
) Resolution {
	logger := ctxlog.FromContext(ctx)
	res := Resolution{
		PipelineID: destPipelineID,
		JobName:    destName,
		JobID:      jj.ID,
		External:   true,
	}

	if _, err := r.pipelines.Get(ctx, destPipelineID); err != nil {
		res.Err = fmt.Errorf("external trigger references pipeline %d: %w", destPipelineID, err)
		return res
	}

	source := externalSourceName(current)

	if jp.Event == nil {
		event, err := r.events.Create(ctx, &model.Event{
			PipelineID:    destPipelineID,
			GroupEventID:  current.Event.GroupEventID,
			ParentEventID: current.Event.ID,
			StartFrom:     "~" + source,
			CauseMessage:  fmt.Sprintf("Triggered by %s", source),
			SHA:           current.Event.SHA,
		})
		if err != nil {
			res.Err = fmt.Errorf("failed to create downstream event in pipeline %d: %w", destPipelineID, err)
			return res
		}
		logger.Info("Created downstream event for external trigger.",
			"pipelineID", destPipelineID, "eventID", event.ID, "startFrom", event.StartFrom)
		jp.Event = event
		res.Event = event
		res.ReadyToStart = true
		return res
	}

	// Resolve the destination job inside the existing downstream event.
	destGraph, err := workflow.New(jp.Event.WorkflowGraph)
	if err != nil {
		res.Err = fmt.Errorf("invalid workflow graph for downstream event %d: %w", jp.Event.ID, err)
		return res
	}
	jobID := jj.ID
	if jobID == 0 {
		jobID, _ = destGraph.JobID(destName)
	}
	if jobID == 0 {
		job, err := r.jobs.GetByName(ctx, destPipelineID, destName)
		if err != nil {
			res.Err = fmt.Errorf("external trigger references job %q in pipeline %d: %w",
				destName, destPipelineID, err)
			return res
		}
		jobID = job.ID
	}
	res.JobID = jobID

	parentBuilds := seedParentBuilds(current, jj.Join, destPipelineID)

	if len(jj.Join) == 0 {
		build, started, err := r.createOrUpdateBuild(ctx, jp.Event, jobID, parentBuilds, current.Build.ID)
		if err != nil {
			res.Err = err
			return res
		}
		res.Build = build
		res.ReadyToStart = !started
		return res
	}

	key := joinstore.Key{
		GroupEventID: current.Event.GroupEventID,
		PipelineID:   destPipelineID,
		JobName:      destName,
	}
	record, err := r.recordParentCompletion(ctx, key, current, jj.Join, jp.Event.ID, jobID)
	if err != nil {
		res.Err = err
		return res
	}

	build, started, err := r.createOrUpdateBuild(ctx, jp.Event, jobID, parentBuilds, current.Build.ID)
	if err != nil {
		res.Err = err
		return res
	}
	res.Build = build

	done, hasFailure, err := r.joinStatus(ctx, record, jj.Join)
	if err != nil {
		res.Err = err
		return res
	}
	switch {
	case hasFailure:
		if build != nil && !build.Status.IsStarted() {
			logger.Info("Upstream failure in remote join, removing pending build.",
				"buildID", build.ID, "jobName", destName, "pipelineID", destPipelineID)
			if err := r.builds.Remove(ctx, build.ID); err != nil {
				res.Err = fmt.Errorf("failed to remove pending join build %d: %w", build.ID, err)
				return res
			}
			res.Build = nil
		}
	case done && !started:
		res.ReadyToStart = true
	}
	return res
}
