package trigger

import (
	"context"
	"fmt"
	"sort"

	"github.com/screwdriver-cd/screwdriver-sub003/internal/ctxlog"
	"github.com/screwdriver-cd/screwdriver-sub003/internal/joinstore"
	"github.com/screwdriver-cd/screwdriver-sub003/internal/model"
	"github.com/screwdriver-cd/screwdriver-sub003/internal/sderr"
	"github.com/screwdriver-cd/screwdriver-sub003/internal/status"
	"github.com/screwdriver-cd/screwdriver-sub003/internal/workflow"
)

// ResolveNextJobs computes, for every downstream edge of the completed
// build, whether the destination is ready to start. Plain triggers are
// ready immediately; join destinations are ready only once their full
// parent set has reported non-failing terminal builds within the same
// trigger group. Configuration problems on one edge are reported on its
// Resolution and never abort the siblings.
//
// The resolver does not start anything itself: callers create or queue
// work for entries with ReadyToStart set.
func (r *Resolver) ResolveNextJobs(ctx context.Context, current *Current) ([]Resolution, error) {
	logger := ctxlog.FromContext(ctx).With(
		"pipelineID", current.Pipeline.ID,
		"jobName", current.Job.Name,
		"buildID", current.Build.ID,
	)

	if !current.Build.Status.IsTerminal() || current.Build.Status.IsFailing() {
		logger.Debug("Source build is not a non-failing terminal build; nothing to trigger.",
			"status", current.Build.Status)
		return nil, nil
	}

	index, err := r.BuildJoinIndex(ctx, current)
	if err != nil {
		return nil, err
	}

	var resolutions []Resolution

	internal := currentJoinData(index, current.Pipeline.ID)
	for _, name := range sortedKeys(internal) {
		res := r.resolveInternal(ctx, current, name, internal[name])
		resolutions = append(resolutions, res)
	}

	external := externalJoinData(index, current.Pipeline.ID)
	for _, pid := range sortedPipelineIDs(external) {
		jp := external[pid]
		for _, name := range sortedKeys(jp.Jobs) {
			res := r.resolveExternal(ctx, current, pid, jp, name, jp.Jobs[name])
			resolutions = append(resolutions, res)
		}
	}

	return resolutions, nil
}

// resolveInternal handles one destination inside the current pipeline.
func (r *Resolver) resolveInternal(ctx context.Context, current *Current, destName string, jj *JoinJob) Resolution {
	logger := ctxlog.FromContext(ctx)
	res := Resolution{
		PipelineID: current.Pipeline.ID,
		JobName:    destName,
		JobID:      jj.ID,
	}

	if jj.ID == 0 {
		res.Err = fmt.Errorf("trigger references job %q which does not exist in pipeline %d",
			destName, current.Pipeline.ID)
		return res
	}

	job, err := r.jobs.Get(ctx, jj.ID)
	if err != nil {
		res.Err = fmt.Errorf("failed to load job %d: %w", jj.ID, err)
		return res
	}
	if job.State != model.JobEnabled {
		logger.Info("Skipping disabled job.", "jobName", destName, "jobID", jj.ID)
		return res
	}

	parentBuilds := seedParentBuilds(current, jj.Join, current.Pipeline.ID)

	// Plain OR trigger: the non-failing terminal source is reason enough.
	if len(jj.Join) == 0 {
		build, started, err := r.createOrUpdateBuild(ctx, current.Event, jj.ID, parentBuilds, current.Build.ID)
		if err != nil {
			res.Err = err
			return res
		}
		res.Build = build
		res.ReadyToStart = !started
		return res
	}

	// Fan-in: record this completion atomically, then test the full set.
	key := joinstore.Key{
		GroupEventID: current.Event.GroupEventID,
		PipelineID:   current.Pipeline.ID,
		JobName:      destName,
	}
	record, err := r.recordParentCompletion(ctx, key, current, jj.Join, current.Event.ID, jj.ID)
	if err != nil {
		res.Err = err
		return res
	}

	build, started, err := r.createOrUpdateBuild(ctx, current.Event, jj.ID, parentBuilds, current.Build.ID)
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
		// Policy: one failing parent blocks the join permanently; the
		// pending build is removed so it cannot be started later.
		if build != nil && !build.Status.IsStarted() {
			logger.Info("Upstream failure in join, removing pending build.",
				"buildID", build.ID, "jobName", destName, "pipelineID", current.Pipeline.ID)
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

// createOrUpdateBuild returns the downstream placeholder build for
// (event, job), creating it in CREATED state when absent, otherwise
// folding the new parent bookkeeping into the existing row. The second
// return reports whether the build had already left CREATED.
//
// Concurrent parents race on the same row, so the read-modify-write runs
// under the repository's optimistic version check: a Conflict on write
// means another parent landed in between and the merge is replayed on the
// fresh row. The create branch races the same way and falls back to the
// merge when it loses.
func (r *Resolver) createOrUpdateBuild(
	ctx context.Context,
	event *model.Event,
	jobID int64,
	parentBuilds model.ParentBuilds,
	parentBuildID int64,
) (*model.Build, bool, error) {
	for {
		existing, err := r.builds.GetByEventAndJob(ctx, event.ID, jobID)
		if err != nil {
			if !sderr.IsNotFound(err) {
				return nil, false, err
			}
			created, err := r.builds.Create(ctx, &model.Build{
				JobID:         jobID,
				EventID:       event.ID,
				Status:        status.Created,
				ParentBuilds:  parentBuilds,
				ParentBuildID: []int64{parentBuildID},
			})
			if err != nil {
				if sderr.KindOf(err) == sderr.KindConflict {
					continue
				}
				return nil, false, fmt.Errorf("failed to create downstream build: %w", err)
			}
			return created, false, nil
		}

		started := existing.Status.IsStarted()
		existing.ParentBuilds = parentBuilds.Merge(existing.ParentBuilds)
		existing.ParentBuildID = appendUnique(existing.ParentBuildID, parentBuildID)
		updated, err := r.builds.Update(ctx, existing)
		if err != nil {
			if sderr.KindOf(err) == sderr.KindConflict {
				continue
			}
			return nil, started, fmt.Errorf("failed to update downstream build %d: %w", existing.ID, err)
		}
		return updated, started, nil
	}
}

// seedParentBuilds constructs the bookkeeping carried on a downstream
// build: an empty slot per join parent grouped by owning pipeline, with
// the current completion filled in.
func seedParentBuilds(current *Current, join []JoinItem, destPipelineID int64) model.ParentBuilds {
	pb := make(model.ParentBuilds)
	slot := func(pipelineID int64) *model.ParentBuild {
		p, ok := pb[pipelineID]
		if !ok {
			p = &model.ParentBuild{Jobs: make(map[string]*int64)}
			pb[pipelineID] = p
		}
		return p
	}

	for _, item := range join {
		pipelineID := destPipelineID
		jobName := item.Name
		if workflow.IsExternalName(item.Name) {
			if pid, name, err := workflow.ParseExternalName(item.Name); err == nil {
				pipelineID = pid
				jobName = name
			}
		}
		p := slot(pipelineID)
		if _, ok := p.Jobs[jobName]; !ok {
			p.Jobs[jobName] = nil
		}
	}

	cur := slot(current.Pipeline.ID)
	cur.EventID = current.Event.ID
	id := current.Build.ID
	cur.Jobs[current.Job.Name] = &id

	return pb.Merge(current.Build.ParentBuilds)
}

func appendUnique(ids []int64, id int64) []int64 {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

func sortedKeys(m map[string]*JoinJob) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedPipelineIDs(m JoinPipelines) []int64 {
	ids := make([]int64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
