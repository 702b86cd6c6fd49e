package memrepo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/screwdriver-cd/screwdriver-sub003/internal/config"
	"github.com/screwdriver-cd/screwdriver-sub003/internal/model"
	"github.com/screwdriver-cd/screwdriver-sub003/internal/sderr"
	"github.com/screwdriver-cd/screwdriver-sub003/internal/status"
)

func seedStore(t *testing.T) *Store {
	t.Helper()
	s := New()
	_, err := s.SeedPipeline(&config.Pipeline{
		ID:   1,
		Name: "svc",
		Jobs: []*config.Job{
			{Name: "main", Requires: []string{"~commit"}},
			{Name: "deploy", Requires: []string{"main"}},
		},
	})
	require.NoError(t, err)
	return s
}

func TestSeedPipeline_StampsJobIDsIntoGraph(t *testing.T) {
	s := seedStore(t)
	ctx := context.Background()

	p, err := s.Get(ctx, 1)
	require.NoError(t, err)

	main, err := s.Jobs().GetByName(ctx, 1, "main")
	require.NoError(t, err)

	var found bool
	for _, n := range p.WorkflowGraph.Nodes {
		if n.Name == "main" {
			found = true
			assert.Equal(t, main.ID, n.ID)
		}
	}
	assert.True(t, found)
}

func TestSeedPipeline_DuplicateIsConflict(t *testing.T) {
	s := seedStore(t)
	_, err := s.SeedPipeline(&config.Pipeline{ID: 1, Name: "again"})
	require.Error(t, err)
	assert.Equal(t, sderr.KindConflict, sderr.KindOf(err))
}

func TestSeedPipeline_ExternalEdgesAreMergedIn(t *testing.T) {
	s := New()
	_, err := s.SeedPipeline(&config.Pipeline{
		ID:   1,
		Name: "svc",
		Jobs: []*config.Job{{Name: "publish"}},
	}, model.WorkflowEdge{Src: "publish", Dest: "sd@2:deploy"})
	require.NoError(t, err)

	p, err := s.Get(context.Background(), 1)
	require.NoError(t, err)

	var node, edge bool
	for _, n := range p.WorkflowGraph.Nodes {
		if n.Name == "sd@2:deploy" {
			node = true
		}
	}
	for _, e := range p.WorkflowGraph.Edges {
		if e.Src == "publish" && e.Dest == "sd@2:deploy" {
			edge = true
		}
	}
	assert.True(t, node)
	assert.True(t, edge)
}

func TestMissingRowsAreNotFound(t *testing.T) {
	s := seedStore(t)
	ctx := context.Background()

	_, err := s.Get(ctx, 99)
	assert.True(t, sderr.IsNotFound(err))
	_, err = s.Jobs().Get(ctx, 99)
	assert.True(t, sderr.IsNotFound(err))
	_, err = s.Jobs().GetByName(ctx, 1, "ghost")
	assert.True(t, sderr.IsNotFound(err))
	_, err = s.Builds().Get(ctx, 99)
	assert.True(t, sderr.IsNotFound(err))
	_, err = s.Events().Get(ctx, 99)
	assert.True(t, sderr.IsNotFound(err))
	_, err = s.Clusters().GetByName(ctx, "ghost")
	assert.True(t, sderr.IsNotFound(err))
	_, err = s.Users().Get(ctx, "ghost")
	assert.True(t, sderr.IsNotFound(err))
}

func TestEventCreate_Defaults(t *testing.T) {
	s := seedStore(t)
	ctx := context.Background()

	event, err := s.Events().Create(ctx, &model.Event{PipelineID: 1, StartFrom: "~commit"})
	require.NoError(t, err)

	assert.Equal(t, event.ID, event.GroupEventID, "a root event anchors its own group")
	assert.NotEmpty(t, event.SHA)
	require.NotNil(t, event.WorkflowGraph, "the pipeline graph is snapshotted onto the event")

	// An explicit group id is preserved.
	child, err := s.Events().Create(ctx, &model.Event{PipelineID: 1, GroupEventID: event.GroupEventID})
	require.NoError(t, err)
	assert.Equal(t, event.GroupEventID, child.GroupEventID)
	assert.NotEqual(t, event.ID, child.ID)
}

func TestBuildRepo_RoundTripAndIsolation(t *testing.T) {
	s := seedStore(t)
	ctx := context.Background()

	event, err := s.Events().Create(ctx, &model.Event{PipelineID: 1})
	require.NoError(t, err)
	main, err := s.Jobs().GetByName(ctx, 1, "main")
	require.NoError(t, err)

	id := int64(7)
	build, err := s.Builds().Create(ctx, &model.Build{
		JobID:        main.ID,
		EventID:      event.ID,
		Status:       status.Created,
		ParentBuilds: model.ParentBuilds{1: &model.ParentBuild{EventID: event.ID, Jobs: map[string]*int64{"x": &id}}},
	})
	require.NoError(t, err)

	// Mutating the returned copy must not leak into the store.
	build.Status = status.Failure
	*build.ParentBuilds[1].Jobs["x"] = 999

	stored, err := s.Builds().Get(ctx, build.ID)
	require.NoError(t, err)
	assert.Equal(t, status.Created, stored.Status)
	assert.Equal(t, int64(7), *stored.ParentBuilds[1].Jobs["x"])

	byEventAndJob, err := s.Builds().GetByEventAndJob(ctx, event.ID, main.ID)
	require.NoError(t, err)
	assert.Equal(t, build.ID, byEventAndJob.ID)

	list, err := s.Builds().ListByEvent(ctx, event.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestBuildRepo_ListLatestByGroupEvent(t *testing.T) {
	s := seedStore(t)
	ctx := context.Background()

	event, err := s.Events().Create(ctx, &model.Event{PipelineID: 1})
	require.NoError(t, err)
	restart, err := s.Events().Create(ctx, &model.Event{PipelineID: 1, GroupEventID: event.GroupEventID})
	require.NoError(t, err)
	unrelated, err := s.Events().Create(ctx, &model.Event{PipelineID: 1})
	require.NoError(t, err)

	main, err := s.Jobs().GetByName(ctx, 1, "main")
	require.NoError(t, err)

	_, err = s.Builds().Create(ctx, &model.Build{JobID: main.ID, EventID: event.ID, Status: status.Failure})
	require.NoError(t, err)
	second, err := s.Builds().Create(ctx, &model.Build{JobID: main.ID, EventID: restart.ID, Status: status.Success})
	require.NoError(t, err)
	_, err = s.Builds().Create(ctx, &model.Build{JobID: main.ID, EventID: unrelated.ID, Status: status.Running})
	require.NoError(t, err)

	latest, err := s.Builds().ListLatestByGroupEvent(ctx, event.GroupEventID)
	require.NoError(t, err)
	require.Len(t, latest, 1, "one entry per job across the group")
	assert.Equal(t, second.ID, latest[0].ID, "the restart's build supersedes the original")
}

func TestBuildRepo_CreateRejectsSecondBuildForEventAndJob(t *testing.T) {
	s := seedStore(t)
	ctx := context.Background()

	event, err := s.Events().Create(ctx, &model.Event{PipelineID: 1})
	require.NoError(t, err)
	main, err := s.Jobs().GetByName(ctx, 1, "main")
	require.NoError(t, err)

	first, err := s.Builds().Create(ctx, &model.Build{JobID: main.ID, EventID: event.ID, Status: status.Created})
	require.NoError(t, err)

	_, err = s.Builds().Create(ctx, &model.Build{JobID: main.ID, EventID: event.ID, Status: status.Created})
	require.Error(t, err)
	assert.Equal(t, sderr.KindConflict, sderr.KindOf(err))

	// Removing the row frees the slot again.
	require.NoError(t, s.Builds().Remove(ctx, first.ID))
	_, err = s.Builds().Create(ctx, &model.Build{JobID: main.ID, EventID: event.ID, Status: status.Created})
	require.NoError(t, err)
}

func TestBuildRepo_UpdateRejectsStaleVersion(t *testing.T) {
	s := seedStore(t)
	ctx := context.Background()

	event, err := s.Events().Create(ctx, &model.Event{PipelineID: 1})
	require.NoError(t, err)
	main, err := s.Jobs().GetByName(ctx, 1, "main")
	require.NoError(t, err)

	created, err := s.Builds().Create(ctx, &model.Build{JobID: main.ID, EventID: event.ID, Status: status.Created})
	require.NoError(t, err)

	first, err := s.Builds().Get(ctx, created.ID)
	require.NoError(t, err)
	second, err := s.Builds().Get(ctx, created.ID)
	require.NoError(t, err)

	first.Status = status.Queued
	_, err = s.Builds().Update(ctx, first)
	require.NoError(t, err)

	// The second reader's copy is now stale; its write must not clobber
	// the first one.
	second.Status = status.Running
	_, err = s.Builds().Update(ctx, second)
	require.Error(t, err)
	assert.Equal(t, sderr.KindConflict, sderr.KindOf(err))

	stored, err := s.Builds().Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, status.Queued, stored.Status)
}

func TestNewSHA_Shape(t *testing.T) {
	sha := NewSHA()
	assert.Len(t, sha, 32)
	assert.NotEqual(t, sha, NewSHA())
}
