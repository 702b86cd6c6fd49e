// Package config declares the format-agnostic model for pipeline
// definitions and the Loader interface that produces it. The HCL loader in
// internal/hclconf is the concrete implementation; everything downstream
// consumes only this model.
package config

import (
	"context"
	"strings"

	"github.com/screwdriver-cd/screwdriver-sub003/internal/model"
	"github.com/screwdriver-cd/screwdriver-sub003/internal/workflow"
)

// Job is one unit of work declared in a pipeline definition.
type Job struct {
	Name        string
	Image       string
	Commands    []string
	Requires    []string
	Annotations map[string]string
}

// Pipeline is one pipeline definition.
type Pipeline struct {
	ID          int64
	Name        string
	Annotations map[string]string
	Jobs        []*Job
}

// Model is the complete set of loaded pipeline definitions.
type Model struct {
	Pipelines []*Pipeline
}

// Loader loads pipeline definitions from one or more paths (files or
// directories) into the agnostic model.
type Loader interface {
	Load(ctx context.Context, paths ...string) (*Model, error)
}

// startTriggers are requires tokens that start a job from an event rather
// than from another job's completion. They stay in the graph as "~" named
// nodes so an event's startFrom can fan out through them.
var startTriggers = map[string]bool{
	"~commit": true,
	"~pr":     true,
}

// WorkflowGraph derives the trigger graph of one pipeline from its job
// requires lists. Bare requires entries become join edges (fan-in), "~"
// prefixed entries become plain OR trigger edges. External parents keep
// their qualified "sd@id:job" name as a node of their own. Node ids are
// zero here; they are stamped when jobs are persisted.
func (p *Pipeline) WorkflowGraph() *model.WorkflowGraph {
	wg := &model.WorkflowGraph{}
	seen := make(map[string]bool)
	addNode := func(name string) {
		if !seen[name] {
			seen[name] = true
			wg.Nodes = append(wg.Nodes, model.WorkflowNode{Name: name})
		}
	}

	for _, j := range p.Jobs {
		addNode(j.Name)
	}
	for _, j := range p.Jobs {
		for _, req := range j.Requires {
			join := true
			src := req
			if strings.HasPrefix(req, "~") {
				join = false
				if !startTriggers[req] {
					src = strings.TrimPrefix(req, "~")
				}
			}
			addNode(src)
			wg.Edges = append(wg.Edges, model.WorkflowEdge{Src: src, Dest: j.Name, Join: join})
		}
	}
	return wg
}

// OutboundExternalEdges collects the cross-pipeline trigger edges that
// originate in pipelineID, discovered from the external requires declared
// by every other pipeline. A job elsewhere requiring "sd@<id>:<job>" (bare
// or "~" prefixed) means <job> here triggers that pipeline; the source
// graph needs the edge to fan out on completion.
func (m *Model) OutboundExternalEdges(pipelineID int64) []model.WorkflowEdge {
	var edges []model.WorkflowEdge
	seen := make(map[string]bool)

	for _, p := range m.Pipelines {
		if p.ID == pipelineID {
			continue
		}
		for _, j := range p.Jobs {
			for _, req := range j.Requires {
				name := strings.TrimPrefix(req, "~")
				pid, srcJob, err := workflow.ParseExternalName(name)
				if err != nil || pid != pipelineID {
					continue
				}
				dest := workflow.ExternalName(p.ID, j.Name)
				key := srcJob + "->" + dest
				if seen[key] {
					continue
				}
				seen[key] = true
				edges = append(edges, model.WorkflowEdge{Src: srcJob, Dest: dest})
			}
		}
	}
	return edges
}

// Lookup returns the pipeline with the given id.
func (m *Model) Lookup(id int64) *Pipeline {
	for _, p := range m.Pipelines {
		if p.ID == id {
			return p
		}
	}
	return nil
}
