package memrepo

import (
	"context"

	"github.com/screwdriver-cd/screwdriver-sub003/internal/model"
	"github.com/screwdriver-cd/screwdriver-sub003/internal/sderr"
)

// Get implements repo.PipelineRepository.
func (s *Store) Get(ctx context.Context, id int64) (*model.Pipeline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pipelines[id]
	if !ok {
		return nil, sderr.NotFound("pipeline %d does not exist", id)
	}
	cp := *p
	return &cp, nil
}

// Jobs returns the job repository view of the store.
func (s *Store) Jobs() *JobRepo { return &JobRepo{s} }

// Builds returns the build repository view of the store.
func (s *Store) Builds() *BuildRepo { return &BuildRepo{s} }

// Events returns the event repository view of the store.
func (s *Store) Events() *EventRepo { return &EventRepo{s} }

// Clusters returns the build cluster repository view of the store.
func (s *Store) Clusters() *ClusterRepo { return &ClusterRepo{s} }

// Users returns the user repository view of the store.
func (s *Store) Users() *UserRepo { return &UserRepo{s} }

// JobRepo implements repo.JobRepository.
type JobRepo struct{ s *Store }

func (r *JobRepo) Get(ctx context.Context, id int64) (*model.Job, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	j, ok := r.s.jobs[id]
	if !ok {
		return nil, sderr.NotFound("job %d does not exist", id)
	}
	cp := cloneJob(j)
	return cp, nil
}

func (r *JobRepo) GetByName(ctx context.Context, pipelineID int64, name string) (*model.Job, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, j := range r.s.jobs {
		if j.PipelineID == pipelineID && j.Name == name {
			return cloneJob(j), nil
		}
	}
	return nil, sderr.NotFound("job %q does not exist in pipeline %d", name, pipelineID)
}

func (r *JobRepo) Update(ctx context.Context, job *model.Job) (*model.Job, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.jobs[job.ID]; !ok {
		return nil, sderr.NotFound("job %d does not exist", job.ID)
	}
	r.s.jobs[job.ID] = cloneJob(job)
	return cloneJob(job), nil
}

// BuildRepo implements repo.BuildRepository.
type BuildRepo struct{ s *Store }

func (r *BuildRepo) Get(ctx context.Context, id int64) (*model.Build, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.builds[id]
	if !ok {
		return nil, sderr.NotFound("build %d does not exist", id)
	}
	return cloneBuild(b), nil
}

func (r *BuildRepo) GetByEventAndJob(ctx context.Context, eventID, jobID int64) (*model.Build, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, b := range r.s.builds {
		if b.EventID == eventID && b.JobID == jobID {
			return cloneBuild(b), nil
		}
	}
	return nil, sderr.NotFound("no build for event %d job %d", eventID, jobID)
}

func (r *BuildRepo) ListByEvent(ctx context.Context, eventID int64) ([]model.Build, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []model.Build
	for _, b := range r.s.builds {
		if b.EventID == eventID {
			out = append(out, *cloneBuild(b))
		}
	}
	sortBuilds(out)
	return out, nil
}

func (r *BuildRepo) ListLatestByGroupEvent(ctx context.Context, groupEventID int64) ([]model.Build, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	latest := make(map[int64]*model.Build)
	for _, b := range r.s.builds {
		ev, ok := r.s.events[b.EventID]
		if !ok || ev.GroupEventID != groupEventID {
			continue
		}
		if prev, ok := latest[b.JobID]; !ok || b.ID > prev.ID {
			latest[b.JobID] = b
		}
	}

	out := make([]model.Build, 0, len(latest))
	for _, b := range latest {
		out = append(out, *cloneBuild(b))
	}
	sortBuilds(out)
	return out, nil
}

// Create allocates an id and stamps the initial version. One build per
// (event, job) pair: a second create for the same pair is the losing side
// of a placeholder race and is rejected so the winner's row stays the only
// one.
func (r *BuildRepo) Create(ctx context.Context, build *model.Build) (*model.Build, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, b := range r.s.builds {
		if b.EventID == build.EventID && b.JobID == build.JobID {
			return nil, sderr.Conflict("build for event %d job %d already exists", build.EventID, build.JobID)
		}
	}
	cp := cloneBuild(build)
	cp.ID = r.s.allocID()
	cp.Version = 1
	r.s.builds[cp.ID] = cp
	return cloneBuild(cp), nil
}

// Update applies an optimistic version check: the caller must present the
// version it read. A stale version means another writer landed in between;
// the caller re-reads and retries.
func (r *BuildRepo) Update(ctx context.Context, build *model.Build) (*model.Build, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored, ok := r.s.builds[build.ID]
	if !ok {
		return nil, sderr.NotFound("build %d does not exist", build.ID)
	}
	if build.Version != stored.Version {
		return nil, sderr.Conflict("build %d was modified concurrently", build.ID)
	}
	cp := cloneBuild(build)
	cp.Version = stored.Version + 1
	r.s.builds[build.ID] = cp
	return cloneBuild(cp), nil
}

func (r *BuildRepo) Remove(ctx context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.builds, id)
	return nil
}

// EventRepo implements repo.EventRepository.
type EventRepo struct{ s *Store }

func (r *EventRepo) Get(ctx context.Context, id int64) (*model.Event, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.events[id]
	if !ok {
		return nil, sderr.NotFound("event %d does not exist", id)
	}
	return cloneEvent(e), nil
}

func (r *EventRepo) Create(ctx context.Context, event *model.Event) (*model.Event, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	cp := cloneEvent(event)
	cp.ID = r.s.allocID()
	if cp.GroupEventID == 0 {
		cp.GroupEventID = cp.ID
	}
	if cp.SHA == "" {
		cp.SHA = NewSHA()
	}
	if cp.WorkflowGraph == nil {
		if p, ok := r.s.pipelines[cp.PipelineID]; ok {
			cp.WorkflowGraph = p.WorkflowGraph
		}
	}
	r.s.events[cp.ID] = cp
	return cloneEvent(cp), nil
}

func (r *EventRepo) Update(ctx context.Context, event *model.Event) (*model.Event, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.events[event.ID]; !ok {
		return nil, sderr.NotFound("event %d does not exist", event.ID)
	}
	r.s.events[event.ID] = cloneEvent(event)
	return cloneEvent(event), nil
}

// ClusterRepo implements repo.BuildClusterRepository.
type ClusterRepo struct{ s *Store }

func (r *ClusterRepo) GetByName(ctx context.Context, name string) (*model.BuildCluster, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.clusters[name]
	if !ok {
		return nil, sderr.NotFound("build cluster %q does not exist", name)
	}
	cp := *c
	return &cp, nil
}

func (r *ClusterRepo) List(ctx context.Context) ([]model.BuildCluster, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]model.BuildCluster, 0, len(r.s.clusters))
	for _, c := range r.s.clusters {
		out = append(out, *c)
	}
	return out, nil
}

// UserRepo implements repo.UserRepository.
type UserRepo struct{ s *Store }

func (r *UserRepo) Get(ctx context.Context, username string) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[username]
	if !ok {
		return nil, sderr.NotFound("user %q does not exist", username)
	}
	cp := *u
	return &cp, nil
}

func cloneJob(j *model.Job) *model.Job {
	cp := *j
	cp.Permutations = make([]model.Permutation, len(j.Permutations))
	for i, p := range j.Permutations {
		cp.Permutations[i] = model.Permutation{
			Image:       p.Image,
			Commands:    append([]string(nil), p.Commands...),
			Annotations: cloneStrMap(p.Annotations),
		}
	}
	return &cp
}

func cloneBuild(b *model.Build) *model.Build {
	cp := *b
	cp.ParentBuildID = append([]int64(nil), b.ParentBuildID...)
	cp.ParentBuilds = b.ParentBuilds.Clone()
	if b.Meta != nil {
		cp.Meta = make(map[string]any, len(b.Meta))
		for k, v := range b.Meta {
			cp.Meta[k] = v
		}
	}
	return &cp
}

func cloneEvent(e *model.Event) *model.Event {
	cp := *e
	if e.Meta != nil {
		cp.Meta = make(map[string]any, len(e.Meta))
		for k, v := range e.Meta {
			cp.Meta[k] = v
		}
	}
	return &cp
}
