package cluster

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/screwdriver-cd/screwdriver-sub003/internal/config"
	"github.com/screwdriver-cd/screwdriver-sub003/internal/memrepo"
	"github.com/screwdriver-cd/screwdriver-sub003/internal/model"
	"github.com/screwdriver-cd/screwdriver-sub003/internal/sderr"
)

func newService(t *testing.T, pipelineAnnotations map[string]string) (*Service, *memrepo.Store, int64) {
	t.Helper()
	store := memrepo.New()
	_, err := store.SeedPipeline(&config.Pipeline{
		ID:          1,
		Name:        "svc",
		Annotations: pipelineAnnotations,
		Jobs:        []*config.Job{{Name: "main", Image: "golang:1.24"}},
	})
	require.NoError(t, err)

	store.SeedCluster(model.BuildCluster{Name: "gq1", IsActive: true})
	store.SeedCluster(model.BuildCluster{Name: "retired", IsActive: false})
	store.SeedUser(model.User{Username: "admin", ClusterAdmin: true})
	store.SeedUser(model.User{Username: "mortal", ClusterAdmin: false})

	job, err := store.Jobs().GetByName(context.Background(), 1, "main")
	require.NoError(t, err)

	svc := New(store, store.Jobs(), store.Clusters(), store.Users())
	return svc, store, job.ID
}

func overrideOf(t *testing.T, store *memrepo.Store, jobID int64) (string, bool) {
	t.Helper()
	job, err := store.Jobs().Get(context.Background(), jobID)
	require.NoError(t, err)
	for _, p := range job.Permutations {
		if v, ok := p.Annotations[OverrideAnnotation]; ok {
			return v, true
		}
	}
	return "", false
}

func TestRequestOverride_AppliesAnnotation(t *testing.T) {
	svc, store, jobID := newService(t, nil)

	err := svc.RequestOverride(context.Background(), "admin", jobID, "gq1")
	require.NoError(t, err)

	value, ok := overrideOf(t, store, jobID)
	assert.True(t, ok)
	assert.Equal(t, "gq1", value)
}

func TestRequestOverride_NonAdminIsForbiddenAndMutatesNothing(t *testing.T) {
	svc, store, jobID := newService(t, nil)

	for _, username := range []string{"mortal", "stranger"} {
		err := svc.RequestOverride(context.Background(), username, jobID, "gq1")
		require.Error(t, err)
		assert.Equal(t, sderr.KindForbidden, sderr.KindOf(err), "user %q", username)

		_, ok := overrideOf(t, store, jobID)
		assert.False(t, ok, "state must not change for user %q", username)
	}
}

func TestRequestOverride_ClusterValidation(t *testing.T) {
	svc, store, jobID := newService(t, nil)

	testCases := []struct {
		name        string
		clusterName string
	}{
		{name: "unknown cluster", clusterName: "nope"},
		{name: "inactive cluster", clusterName: "retired"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := svc.RequestOverride(context.Background(), "admin", jobID, tc.clusterName)
			require.Error(t, err)
			assert.Equal(t, sderr.KindBadRequest, sderr.KindOf(err))

			_, ok := overrideOf(t, store, jobID)
			assert.False(t, ok, "state must not change")
		})
	}

	// The unknown-cluster rejection names the valid choices.
	err := svc.RequestOverride(context.Background(), "admin", jobID, "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gq1")
	assert.NotContains(t, err.Error(), "retired")
}

func TestRequestOverride_StaticAnnotationWinsWithConflict(t *testing.T) {
	svc, store, jobID := newService(t, map[string]string{
		OverrideAnnotation: "pinned-cluster",
	})

	err := svc.RequestOverride(context.Background(), "admin", jobID, "gq1")
	require.Error(t, err)
	assert.Equal(t, sderr.KindConflict, sderr.KindOf(err))

	_, ok := overrideOf(t, store, jobID)
	assert.False(t, ok)
}

func TestRequestOverride_UnknownJob(t *testing.T) {
	svc, _, _ := newService(t, nil)

	err := svc.RequestOverride(context.Background(), "admin", 424242, "gq1")
	require.Error(t, err)
	assert.Equal(t, sderr.KindNotFound, sderr.KindOf(err))
}

func TestRemoveOverride(t *testing.T) {
	svc, store, jobID := newService(t, nil)
	ctx := context.Background()

	require.NoError(t, svc.RequestOverride(ctx, "admin", jobID, "gq1"))

	require.NoError(t, svc.RemoveOverride(ctx, "admin", jobID))
	_, ok := overrideOf(t, store, jobID)
	assert.False(t, ok)

	// Removing again is a clean no-op.
	assert.NoError(t, svc.RemoveOverride(ctx, "admin", jobID))
}

func TestRemoveOverride_NonAdminIsForbidden(t *testing.T) {
	svc, _, jobID := newService(t, nil)

	err := svc.RemoveOverride(context.Background(), "mortal", jobID)
	require.Error(t, err)
	assert.Equal(t, sderr.KindForbidden, sderr.KindOf(err))
}
