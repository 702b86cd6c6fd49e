package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/screwdriver-cd/screwdriver-sub003/internal/model"
)

func edgesOf(wg *model.WorkflowGraph) map[string]model.WorkflowEdge {
	out := make(map[string]model.WorkflowEdge, len(wg.Edges))
	for _, e := range wg.Edges {
		out[e.Src+"->"+e.Dest] = e
	}
	return out
}

func nodeNames(wg *model.WorkflowGraph) []string {
	out := make([]string, 0, len(wg.Nodes))
	for _, n := range wg.Nodes {
		out = append(out, n.Name)
	}
	return out
}

func TestWorkflowGraph_JoinAndOrEdges(t *testing.T) {
	p := &Pipeline{
		ID:   1,
		Name: "svc",
		Jobs: []*Job{
			{Name: "main", Requires: []string{"~commit"}},
			{Name: "build", Requires: []string{"~main"}},
			{Name: "test", Requires: []string{"~main"}},
			{Name: "publish", Requires: []string{"build", "test"}},
		},
	}

	wg := p.WorkflowGraph()
	edges := edgesOf(wg)
	require.Len(t, edges, 5)

	// "~" requires are plain OR triggers.
	assert.False(t, edges["main->build"].Join)
	assert.False(t, edges["main->test"].Join)

	// Bare requires are join edges.
	assert.True(t, edges["build->publish"].Join)
	assert.True(t, edges["test->publish"].Join)

	// Start triggers keep their "~" node so events can fan out through it.
	assert.False(t, edges["~commit->main"].Join)
	assert.Contains(t, nodeNames(wg), "~commit")
}

func TestWorkflowGraph_ExternalParents(t *testing.T) {
	p := &Pipeline{
		ID:   2,
		Name: "downstream",
		Jobs: []*Job{
			{Name: "deploy", Requires: []string{"~sd@1:publish"}},
			{Name: "verify", Requires: []string{"sd@1:publish", "deploy"}},
		},
	}

	wg := p.WorkflowGraph()
	edges := edgesOf(wg)

	// The qualified parent is a node of its own, unprefixed.
	assert.Contains(t, nodeNames(wg), "sd@1:publish")
	assert.False(t, edges["sd@1:publish->deploy"].Join)
	assert.True(t, edges["sd@1:publish->verify"].Join)
	assert.True(t, edges["deploy->verify"].Join)
}

func TestWorkflowGraph_NoDuplicateNodes(t *testing.T) {
	p := &Pipeline{
		ID:   3,
		Name: "dup",
		Jobs: []*Job{
			{Name: "a", Requires: []string{"~commit"}},
			{Name: "b", Requires: []string{"~commit", "a"}},
		},
	}

	names := nodeNames(p.WorkflowGraph())
	seen := make(map[string]int)
	for _, n := range names {
		seen[n]++
	}
	for name, count := range seen {
		assert.Equal(t, 1, count, "node %q declared %d times", name, count)
	}
}

func TestModel_Lookup(t *testing.T) {
	m := &Model{Pipelines: []*Pipeline{{ID: 1, Name: "a"}, {ID: 2, Name: "b"}}}

	require.NotNil(t, m.Lookup(2))
	assert.Equal(t, "b", m.Lookup(2).Name)
	assert.Nil(t, m.Lookup(99))
}
