// Package cluster implements the administrative build-cluster override
// workflow: privileged actors may pin a job's builds to a named cluster at
// runtime, unless the pipeline's checked-in configuration already does so.
package cluster

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/screwdriver-cd/screwdriver-sub003/internal/ctxlog"
	"github.com/screwdriver-cd/screwdriver-sub003/internal/model"
	"github.com/screwdriver-cd/screwdriver-sub003/internal/repo"
	"github.com/screwdriver-cd/screwdriver-sub003/internal/sderr"
)

// OverrideAnnotation is the annotation key carrying a runtime build-cluster
// override on a job's permutations.
const OverrideAnnotation = "screwdriver.cd/sdAdminBuildClusterOverride"

// Service validates and applies build-cluster overrides.
type Service struct {
	pipelines repo.PipelineRepository
	jobs      repo.JobRepository
	clusters  repo.BuildClusterRepository
	users     repo.UserRepository
}

// New constructs the service.
func New(
	pipelines repo.PipelineRepository,
	jobs repo.JobRepository,
	clusters repo.BuildClusterRepository,
	users repo.UserRepository,
) *Service {
	return &Service{pipelines: pipelines, jobs: jobs, clusters: clusters, users: users}
}

// RequestOverride pins jobID's builds to clusterName. Ordering of the
// checks matters: authorization first, then cluster validity, then the
// static-configuration precedence check. Nothing is persisted until all
// three pass.
func (s *Service) RequestOverride(ctx context.Context, username string, jobID int64, clusterName string) error {
	logger := ctxlog.FromContext(ctx).With("username", username, "jobID", jobID)

	actor, err := s.authorize(ctx, username)
	if err != nil {
		return err
	}

	bc, err := s.clusters.GetByName(ctx, clusterName)
	if err != nil {
		if sderr.IsNotFound(err) {
			return sderr.BadRequest("build cluster %q does not exist; active clusters: %s",
				clusterName, strings.Join(s.activeClusterNames(ctx), ", "))
		}
		return err
	}
	if !bc.IsActive {
		return sderr.BadRequest("build cluster %q is not active", clusterName)
	}

	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	pipeline, err := s.pipelines.Get(ctx, job.PipelineID)
	if err != nil {
		return err
	}
	if static, ok := pipeline.Annotations[OverrideAnnotation]; ok {
		return sderr.Conflict("pipeline %d configuration already sets build cluster %q", pipeline.ID, static)
	}

	previous := setAnnotation(job, clusterName)
	if _, err := s.jobs.Update(ctx, job); err != nil {
		logger.Error("Failed to persist build cluster override.",
			"clusterName", clusterName, "error", err)
		return sderr.Internal("failed to apply build cluster override")
	}

	logger.Info(fmt.Sprintf("[Audit] %s for job:%d set to %q by %s (previous: %q). id=%s.",
		OverrideAnnotation, jobID, clusterName, actor.Username, previous, uuid.NewString()))
	return nil
}

// RemoveOverride clears the override on jobID. Removing an override that is
// not set succeeds without touching storage.
func (s *Service) RemoveOverride(ctx context.Context, username string, jobID int64) error {
	logger := ctxlog.FromContext(ctx).With("username", username, "jobID", jobID)

	actor, err := s.authorize(ctx, username)
	if err != nil {
		return err
	}

	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	previous := clearAnnotation(job)
	if previous == "" {
		return nil
	}
	if _, err := s.jobs.Update(ctx, job); err != nil {
		logger.Error("Failed to persist build cluster override removal.", "error", err)
		return sderr.Internal("failed to remove build cluster override")
	}

	logger.Info(fmt.Sprintf("[Audit] %s for job:%d removed by %s (previous: %q). id=%s.",
		OverrideAnnotation, jobID, actor.Username, previous, uuid.NewString()))
	return nil
}

// activeClusterNames lists the clusters an override may target, for the
// rejection message.
func (s *Service) activeClusterNames(ctx context.Context) []string {
	clusters, err := s.clusters.List(ctx)
	if err != nil {
		return nil
	}
	var names []string
	for _, c := range clusters {
		if c.IsActive {
			names = append(names, c.Name)
		}
	}
	sort.Strings(names)
	return names
}

// authorize resolves the actor and requires the cluster-admin privilege.
func (s *Service) authorize(ctx context.Context, username string) (*model.User, error) {
	actor, err := s.users.Get(ctx, username)
	if err != nil {
		if sderr.IsNotFound(err) {
			return nil, sderr.Forbidden("user %q lacks cluster admin privilege", username)
		}
		return nil, err
	}
	if !actor.ClusterAdmin {
		return nil, sderr.Forbidden("user %q lacks cluster admin privilege", username)
	}
	return actor, nil
}

// setAnnotation stamps the override on every permutation and returns the
// previous value, if any. Jobs without permutations get one to carry the
// annotation.
func setAnnotation(job *model.Job, clusterName string) (previous string) {
	if len(job.Permutations) == 0 {
		job.Permutations = []model.Permutation{{}}
	}
	for i := range job.Permutations {
		if job.Permutations[i].Annotations == nil {
			job.Permutations[i].Annotations = make(map[string]string, 1)
		}
		if prev, ok := job.Permutations[i].Annotations[OverrideAnnotation]; ok && previous == "" {
			previous = prev
		}
		job.Permutations[i].Annotations[OverrideAnnotation] = clusterName
	}
	return previous
}

// clearAnnotation removes the override from every permutation and returns
// the value that was set.
func clearAnnotation(job *model.Job) (previous string) {
	for i := range job.Permutations {
		if prev, ok := job.Permutations[i].Annotations[OverrideAnnotation]; ok {
			if previous == "" {
				previous = prev
			}
			delete(job.Permutations[i].Annotations, OverrideAnnotation)
		}
	}
	return previous
}
