package trigger

import (
	"context"
	"fmt"

	"github.com/screwdriver-cd/screwdriver-sub003/internal/joinstore"
	"github.com/screwdriver-cd/screwdriver-sub003/internal/status"
)

// recordParentCompletion writes the current build id into the join record
// for key under the store's atomic read-modify-write, seeding the expected
// parent set on first touch. The source is keyed by the name it carries in
// the destination's join list (qualified for cross-pipeline parents).
//
// When the in-memory record is absent but a placeholder row already exists
// (the bookkeeping store restarted mid-join), the record is rebuilt from
// the row's persisted parentBuilds so earlier completions are not lost.
func (r *Resolver) recordParentCompletion(
	ctx context.Context,
	key joinstore.Key,
	current *Current,
	join []JoinItem,
	destEventID, destJobID int64,
) (*joinstore.Record, error) {
	sourceName := joinSourceName(current, key.PipelineID)

	var seed *joinstore.Record
	if existing, err := r.builds.GetByEventAndJob(ctx, destEventID, destJobID); err == nil {
		seed = joinstore.RecordFromParentBuilds(existing.ParentBuilds[key.PipelineID])
	}

	record, err := r.joins.Update(ctx, key, func(rec *joinstore.Record) *joinstore.Record {
		if rec == nil {
			rec = seed
		}
		if rec == nil {
			rec = &joinstore.Record{Jobs: make(map[string]*int64, len(join))}
		}
		if rec.EventID == 0 {
			rec.EventID = current.Event.ID
		}
		for _, item := range join {
			if _, ok := rec.Jobs[item.Name]; !ok {
				rec.Jobs[item.Name] = nil
			}
		}
		id := current.Build.ID
		rec.Jobs[sourceName] = &id
		return rec
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record parent completion for %s/%s: %w",
			sourceName, key.JobName, err)
	}
	return record, nil
}

// joinSourceName is the name under which the current job appears in a
// join list owned by destPipelineID.
func joinSourceName(current *Current, destPipelineID int64) string {
	if destPipelineID == current.Pipeline.ID {
		return current.Job.Name
	}
	return externalSourceName(current)
}

// joinStatus inspects the recorded parent set. done means every parent in
// the join list has a recorded terminal build; hasFailure means at least
// one recorded parent ended in a blocking status.
func (r *Resolver) joinStatus(ctx context.Context, record *joinstore.Record, join []JoinItem) (done, hasFailure bool, err error) {
	done = true
	for _, item := range join {
		id, ok := record.Jobs[item.Name]
		if !ok || id == nil {
			done = false
			continue
		}

		build, err := r.builds.Get(ctx, *id)
		if err != nil {
			return false, false, fmt.Errorf("failed to load join parent build %d: %w", *id, err)
		}
		if !build.Status.IsTerminal() {
			done = false
		}
		if r.blocksJoin(build.Status) {
			hasFailure = true
		}
	}
	return done, hasFailure, nil
}

// blocksJoin applies the failure policy: FAILURE and ABORTED always block;
// COLLAPSED blocks only under the strict option. UNSTABLE satisfies.
func (r *Resolver) blocksJoin(s status.Status) bool {
	if s.IsFailing() {
		return true
	}
	if s == status.Collapsed && !r.opts.CollapsedSatisfiesJoin {
		return true
	}
	return false
}

// RemoveJoinBuilds deletes the not-yet-started placeholder builds
// downstream of the current build. Invoked when the current build fails or
// is aborted so that pending fan-in work cannot linger in CREATED forever.
func (r *Resolver) RemoveJoinBuilds(ctx context.Context, current *Current) error {
	index, err := r.BuildJoinIndex(ctx, current)
	if err != nil {
		return err
	}

	jp, ok := index[current.Pipeline.ID]
	if !ok {
		return nil
	}
	for _, jj := range jp.Jobs {
		if jj.IsExternal || jj.ID == 0 {
			continue
		}
		build, err := r.builds.GetByEventAndJob(ctx, current.Event.ID, jj.ID)
		if err != nil {
			continue
		}
		if build.Status == status.Created {
			if err := r.builds.Remove(ctx, build.ID); err != nil {
				return fmt.Errorf("failed to remove pending build %d: %w", build.ID, err)
			}
		}
	}
	return nil
}
