package trigger

import (
	"context"
	"fmt"

	"github.com/screwdriver-cd/screwdriver-sub003/internal/ctxlog"
	"github.com/screwdriver-cd/screwdriver-sub003/internal/model"
	"github.com/screwdriver-cd/screwdriver-sub003/internal/workflow"
)

// BuildJoinIndex precomputes, per destination pipeline, the descriptor of
// every downstream job of the completed source: job id, join parent list,
// and externality. For external destinations the index also resolves the
// downstream event context recorded in the source build's bookkeeping, so
// callers can tell "start a new event" apart from "join an event already
// in flight".
func (r *Resolver) BuildJoinIndex(ctx context.Context, current *Current) (JoinPipelines, error) {
	logger := ctxlog.FromContext(ctx)

	graph, err := workflow.New(current.Event.WorkflowGraph)
	if err != nil {
		return nil, fmt.Errorf("invalid workflow graph for event %d: %w", current.Event.ID, err)
	}

	index := make(JoinPipelines)
	for _, nextName := range graph.NextJobNames(current.Job.Name) {
		destPipelineID := current.Pipeline.ID
		destJobName := nextName
		isExternal := false

		if workflow.IsExternalName(nextName) {
			pid, name, err := workflow.ParseExternalName(nextName)
			if err != nil {
				return nil, err
			}
			destPipelineID = pid
			destJobName = name
			isExternal = true
		}

		jp, ok := index[destPipelineID]
		if !ok {
			jp = &JoinPipeline{Jobs: make(map[string]*JoinJob)}
			index[destPipelineID] = jp
		}

		var join []JoinItem
		if isExternal {
			// The destination's join list lives in its own pipeline's
			// graph, reachable only through a downstream event.
			if jp.Event == nil {
				jp.Event = r.externalEventFor(ctx, current.Build, destPipelineID)
			}
			if jp.Event != nil {
				destGraph, err := workflow.New(jp.Event.WorkflowGraph)
				if err != nil {
					logger.Warn("Skipping join lookup for external event with invalid graph.",
						"eventID", jp.Event.ID, "error", err)
				} else {
					join = joinItems(destGraph, destJobName)
				}
			}
		} else {
			join = joinItems(graph, destJobName)
		}

		var jobID int64
		if isExternal {
			if jp.Event != nil {
				if destGraph, err := workflow.New(jp.Event.WorkflowGraph); err == nil {
					jobID, _ = destGraph.JobID(destJobName)
				}
			}
		} else {
			jobID, _ = graph.JobID(workflow.TrimJobName(nextName))
		}

		jp.Jobs[destJobName] = &JoinJob{ID: jobID, Join: join, IsExternal: isExternal}
	}

	return index, nil
}

// joinItems collects the join parents of dest from the given graph.
func joinItems(g *workflow.Graph, dest string) []JoinItem {
	names := g.SrcForJoin(dest)
	items := make([]JoinItem, 0, len(names))
	for _, n := range names {
		id, _ := g.JobID(n)
		items = append(items, JoinItem{Name: n, ID: id})
	}
	return items
}

// externalEventFor fetches the downstream event recorded for pipelineID in
// the build's parent bookkeeping, or nil when this trigger group has not
// touched that pipeline yet.
func (r *Resolver) externalEventFor(ctx context.Context, build *model.Build, pipelineID int64) *model.Event {
	pb, ok := build.ParentBuilds[pipelineID]
	if !ok || pb.EventID == 0 {
		return nil
	}
	event, err := r.events.Get(ctx, pb.EventID)
	if err != nil {
		ctxlog.FromContext(ctx).Warn("Recorded external event missing.",
			"pipelineID", pipelineID, "eventID", pb.EventID, "error", err)
		return nil
	}
	return event
}

// currentJoinData returns the non-external entries of the index for the
// current pipeline.
func currentJoinData(index JoinPipelines, pipelineID int64) map[string]*JoinJob {
	jp, ok := index[pipelineID]
	if !ok {
		return map[string]*JoinJob{}
	}
	out := make(map[string]*JoinJob, len(jp.Jobs))
	for name, j := range jp.Jobs {
		if !j.IsExternal {
			out[name] = j
		}
	}
	return out
}

// externalJoinData returns every entry that must be resolved through a
// downstream event: whole foreign pipelines plus same-pipeline jobs
// addressed with the external notation.
func externalJoinData(index JoinPipelines, pipelineID int64) JoinPipelines {
	out := make(JoinPipelines)
	for pid, jp := range index {
		if pid != pipelineID {
			out[pid] = jp
			continue
		}
		external := make(map[string]*JoinJob)
		for name, j := range jp.Jobs {
			if j.IsExternal {
				external[name] = j
			}
		}
		if len(external) > 0 {
			out[pid] = &JoinPipeline{Event: jp.Event, Jobs: external}
		}
	}
	return out
}
