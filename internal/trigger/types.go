// Package trigger resolves what to start next when a build completes: it
// walks the workflow graph's outgoing edges, keeps the join bookkeeping
// for fan-in destinations, and decides readiness. Cross-pipeline edges are
// resolved through downstream events rather than builds in the current
// event.
package trigger

import (
	"github.com/screwdriver-cd/screwdriver-sub003/internal/joinstore"
	"github.com/screwdriver-cd/screwdriver-sub003/internal/model"
	"github.com/screwdriver-cd/screwdriver-sub003/internal/repo"
)

// JoinItem names one parent a join destination waits on. External parents
// carry their qualified "sd@id:job" name.
type JoinItem struct {
	Name string
	ID   int64
}

// JoinJob describes one downstream job from the perspective of the
// completed source: its id in the owning pipeline, the parents of its join
// (empty for plain OR triggers), and whether it lives in another pipeline.
type JoinJob struct {
	ID         int64
	Join       []JoinItem
	IsExternal bool
}

// JoinPipeline groups the downstream jobs belonging to one pipeline.
// Event is the downstream event context for external pipelines, when one
// already exists in the trigger group.
type JoinPipeline struct {
	Event *model.Event
	Jobs  map[string]*JoinJob
}

// JoinPipelines is the join index keyed by destination pipeline id.
type JoinPipelines map[int64]*JoinPipeline

// Current bundles the completed build with its owning job, event, and
// pipeline.
type Current struct {
	Pipeline *model.Pipeline
	Event    *model.Event
	Job      *model.Job
	Build    *model.Build
}

// Resolution is the outcome for one downstream edge. Err carries a
// per-edge configuration problem; it never aborts sibling edges.
type Resolution struct {
	PipelineID   int64
	JobName      string
	JobID        int64
	External     bool
	ReadyToStart bool
	// Build is the downstream build created or updated for internal
	// destinations (nil when the edge failed to resolve or the pending
	// build was removed after an upstream failure).
	Build *model.Build
	// Event is the downstream event created for external destinations
	// with no event in the trigger group yet.
	Event *model.Event
	Err   error
}

// Options tune resolver policy.
type Options struct {
	// CollapsedSatisfiesJoin counts COLLAPSED parents as satisfied,
	// consistent with their neutral treatment in event aggregation. When
	// false a collapsed parent blocks the join the way a failure does.
	CollapsedSatisfiesJoin bool
}

// DefaultOptions returns the documented default policy.
func DefaultOptions() Options {
	return Options{CollapsedSatisfiesJoin: true}
}

// Resolver owns join resolution. All persistence flows through the
// injected repositories; join bookkeeping goes through the atomic store.
type Resolver struct {
	pipelines repo.PipelineRepository
	jobs      repo.JobRepository
	builds    repo.BuildRepository
	events    repo.EventRepository
	joins     joinstore.Store
	opts      Options
}

// New constructs a Resolver.
func New(
	pipelines repo.PipelineRepository,
	jobs repo.JobRepository,
	builds repo.BuildRepository,
	events repo.EventRepository,
	joins joinstore.Store,
	opts Options,
) *Resolver {
	return &Resolver{
		pipelines: pipelines,
		jobs:      jobs,
		builds:    builds,
		events:    events,
		joins:     joins,
		opts:      opts,
	}
}
