// Package workflow wraps a pipeline's static trigger graph with the
// queries the resolver needs: downstream jobs of a source, join parents of
// a destination, and cycle detection over the whole graph.
package workflow

import (
	"fmt"

	"github.com/screwdriver-cd/screwdriver-sub003/internal/model"
)

// Graph indexes a model.WorkflowGraph for lookups. It is immutable after
// construction and safe for concurrent readers.
type Graph struct {
	nodes map[string]model.WorkflowNode
	// next maps a source job name to its outgoing edges in definition order.
	next map[string][]model.WorkflowEdge
	// joinSrc maps a destination job name to the sources of its join edges.
	joinSrc map[string][]string
}

// New builds an indexed graph. Edges referencing undeclared nodes are
// rejected so dangling trigger configuration is caught at load time.
func New(wg *model.WorkflowGraph) (*Graph, error) {
	g := &Graph{
		nodes:   make(map[string]model.WorkflowNode, len(wg.Nodes)),
		next:    make(map[string][]model.WorkflowEdge),
		joinSrc: make(map[string][]string),
	}
	for _, n := range wg.Nodes {
		g.nodes[n.Name] = n
	}
	for _, e := range wg.Edges {
		if _, ok := g.nodes[e.Src]; !ok {
			return nil, fmt.Errorf("edge %s -> %s references undeclared source job %q", e.Src, e.Dest, e.Src)
		}
		if _, ok := g.nodes[e.Dest]; !ok {
			return nil, fmt.Errorf("edge %s -> %s references undeclared destination job %q", e.Src, e.Dest, e.Dest)
		}
		g.next[e.Src] = append(g.next[e.Src], e)
		if e.Join {
			g.joinSrc[e.Dest] = append(g.joinSrc[e.Dest], e.Src)
		}
	}
	return g, nil
}

// HasJob reports whether the graph declares the named job.
func (g *Graph) HasJob(name string) bool {
	_, ok := g.nodes[name]
	return ok
}

// JobID returns the job id recorded for a node, or zero for external
// destinations that live in another pipeline.
func (g *Graph) JobID(name string) (int64, bool) {
	n, ok := g.nodes[name]
	return n.ID, ok
}

// NextJobNames returns the destinations of all outgoing trigger edges of
// the given job, in definition order.
func (g *Graph) NextJobNames(src string) []string {
	edges := g.next[src]
	names := make([]string, 0, len(edges))
	for _, e := range edges {
		names = append(names, e.Dest)
	}
	return names
}

// SrcForJoin returns the named parents a join destination waits on. An
// empty result means the destination is an OR trigger from this source's
// perspective.
func (g *Graph) SrcForJoin(dest string) []string {
	return append([]string(nil), g.joinSrc[dest]...)
}

// IsOrTrigger reports whether the edge from src to dest is a plain
// (non-join) trigger.
func (g *Graph) IsOrTrigger(src, dest string) bool {
	for _, e := range g.next[src] {
		if e.Dest == dest && !e.Join {
			return true
		}
	}
	return false
}

// DetectCycles walks the graph depth-first and returns an error naming a
// node on the first cycle found. Classic three-state DFS: permanent nodes
// are fully visited, temporary nodes are on the current recursion stack.
func (g *Graph) DetectCycles() error {
	permanent := make(map[string]bool)
	temporary := make(map[string]bool)

	var visit func(name string) error
	visit = func(name string) error {
		if permanent[name] {
			return nil
		}
		if temporary[name] {
			return fmt.Errorf("cycle detected involving job %q", name)
		}
		temporary[name] = true
		for _, e := range g.next[name] {
			// External destinations are roots of other graphs; a cross
			// pipeline cycle cannot be detected from one side alone.
			if IsExternalName(e.Dest) {
				continue
			}
			if err := visit(e.Dest); err != nil {
				return err
			}
		}
		delete(temporary, name)
		permanent[name] = true
		return nil
	}

	for name := range g.nodes {
		if !permanent[name] {
			if err := visit(name); err != nil {
				return err
			}
		}
	}
	return nil
}
