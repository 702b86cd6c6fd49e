package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/screwdriver-cd/screwdriver-sub003/internal/model"
)

func diamondGraph() *model.WorkflowGraph {
	return &model.WorkflowGraph{
		Nodes: []model.WorkflowNode{
			{Name: "main", ID: 1},
			{Name: "build", ID: 2},
			{Name: "test", ID: 3},
			{Name: "publish", ID: 4},
		},
		Edges: []model.WorkflowEdge{
			{Src: "main", Dest: "build"},
			{Src: "main", Dest: "test"},
			{Src: "build", Dest: "publish", Join: true},
			{Src: "test", Dest: "publish", Join: true},
		},
	}
}

func TestNew_RejectsDanglingEdges(t *testing.T) {
	testCases := []struct {
		name string
		wg   *model.WorkflowGraph
	}{
		{
			name: "undeclared source",
			wg: &model.WorkflowGraph{
				Nodes: []model.WorkflowNode{{Name: "a"}},
				Edges: []model.WorkflowEdge{{Src: "ghost", Dest: "a"}},
			},
		},
		{
			name: "undeclared destination",
			wg: &model.WorkflowGraph{
				Nodes: []model.WorkflowNode{{Name: "a"}},
				Edges: []model.WorkflowEdge{{Src: "a", Dest: "ghost"}},
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.wg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "ghost")
		})
	}
}

func TestGraph_Queries(t *testing.T) {
	g, err := New(diamondGraph())
	require.NoError(t, err)

	assert.Equal(t, []string{"build", "test"}, g.NextJobNames("main"))
	assert.Empty(t, g.NextJobNames("publish"))

	assert.ElementsMatch(t, []string{"build", "test"}, g.SrcForJoin("publish"))
	assert.Empty(t, g.SrcForJoin("build"))

	assert.False(t, g.IsOrTrigger("build", "publish"))
	assert.False(t, g.IsOrTrigger("main", "missing"))

	id, ok := g.JobID("publish")
	assert.True(t, ok)
	assert.Equal(t, int64(4), id)

	assert.True(t, g.HasJob("main"))
	assert.False(t, g.HasJob("missing"))
}

func TestGraph_OrTrigger(t *testing.T) {
	g, err := New(&model.WorkflowGraph{
		Nodes: []model.WorkflowNode{{Name: "a", ID: 1}, {Name: "b", ID: 2}},
		Edges: []model.WorkflowEdge{{Src: "a", Dest: "b", Join: false}},
	})
	require.NoError(t, err)

	assert.True(t, g.IsOrTrigger("a", "b"))
	assert.Empty(t, g.SrcForJoin("b"))
}

func TestDetectCycles(t *testing.T) {
	t.Run("acyclic diamond passes", func(t *testing.T) {
		g, err := New(diamondGraph())
		require.NoError(t, err)
		assert.NoError(t, g.DetectCycles())
	})

	t.Run("two node cycle is reported", func(t *testing.T) {
		g, err := New(&model.WorkflowGraph{
			Nodes: []model.WorkflowNode{{Name: "a"}, {Name: "b"}},
			Edges: []model.WorkflowEdge{
				{Src: "a", Dest: "b"},
				{Src: "b", Dest: "a"},
			},
		})
		require.NoError(t, err)

		err = g.DetectCycles()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cycle")
	})

	t.Run("self loop is reported", func(t *testing.T) {
		g, err := New(&model.WorkflowGraph{
			Nodes: []model.WorkflowNode{{Name: "a"}},
			Edges: []model.WorkflowEdge{{Src: "a", Dest: "a"}},
		})
		require.NoError(t, err)
		assert.Error(t, g.DetectCycles())
	})

	t.Run("external destinations are skipped", func(t *testing.T) {
		g, err := New(&model.WorkflowGraph{
			Nodes: []model.WorkflowNode{{Name: "a"}, {Name: "sd@5:deploy"}},
			Edges: []model.WorkflowEdge{{Src: "a", Dest: "sd@5:deploy"}},
		})
		require.NoError(t, err)
		assert.NoError(t, g.DetectCycles())
	})
}

func TestExternalNames(t *testing.T) {
	assert.True(t, IsExternalName("sd@123:main"))
	assert.True(t, IsExternalName("sd@1:deploy-prod"))
	assert.False(t, IsExternalName("main"))
	assert.False(t, IsExternalName("~sd@123:main"))
	assert.False(t, IsExternalName("sd@abc:main"))

	assert.Equal(t, "sd@42:publish", ExternalName(42, "publish"))

	pid, job, err := ParseExternalName("sd@42:publish")
	require.NoError(t, err)
	assert.Equal(t, int64(42), pid)
	assert.Equal(t, "publish", job)

	_, _, err = ParseExternalName("publish")
	assert.Error(t, err)
}

func TestTrimJobName(t *testing.T) {
	assert.Equal(t, "main", TrimJobName("PR-15:main"))
	assert.Equal(t, "main", TrimJobName("main"))
	assert.Equal(t, "PR-15", TrimJobName("PR-15"))
}
