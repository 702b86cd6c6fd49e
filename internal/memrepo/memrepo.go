// Package memrepo provides mutex-guarded in-memory implementations of the
// repository ports. They back the CLI simulator and the test suites;
// production deployments substitute database-backed adapters with the same
// contracts.
package memrepo

import (
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/screwdriver-cd/screwdriver-sub003/internal/config"
	"github.com/screwdriver-cd/screwdriver-sub003/internal/model"
	"github.com/screwdriver-cd/screwdriver-sub003/internal/sderr"
)

// Store holds every collection behind one lock. Contention is irrelevant
// at simulator scale and the single lock keeps cross-collection reads
// consistent.
type Store struct {
	mu        sync.Mutex
	nextID    int64
	pipelines map[int64]*model.Pipeline
	jobs      map[int64]*model.Job
	builds    map[int64]*model.Build
	events    map[int64]*model.Event
	clusters  map[string]*model.BuildCluster
	users     map[string]*model.User
}

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:    1000,
		pipelines: make(map[int64]*model.Pipeline),
		jobs:      make(map[int64]*model.Job),
		builds:    make(map[int64]*model.Build),
		events:    make(map[int64]*model.Event),
		clusters:  make(map[string]*model.BuildCluster),
		users:     make(map[string]*model.User),
	}
}

// allocID hands out monotonically increasing ids across all collections.
// Callers must hold s.mu.
func (s *Store) allocID() int64 {
	s.nextID++
	return s.nextID
}

// SeedPipeline registers a pipeline definition: the pipeline row, one job
// row per declared job, and the workflow graph with node ids stamped in.
// Extra edges carry the outbound cross-pipeline triggers stitched in from
// the other pipelines' external requires.
func (s *Store) SeedPipeline(p *config.Pipeline, external ...model.WorkflowEdge) (*model.Pipeline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.pipelines[p.ID]; exists {
		return nil, sderr.Conflict("pipeline %d already seeded", p.ID)
	}

	wg := p.WorkflowGraph()
	for _, e := range external {
		hasNode := false
		for _, n := range wg.Nodes {
			if n.Name == e.Dest {
				hasNode = true
				break
			}
		}
		if !hasNode {
			wg.Nodes = append(wg.Nodes, model.WorkflowNode{Name: e.Dest})
		}
		wg.Edges = append(wg.Edges, e)
	}
	pipeline := &model.Pipeline{
		ID:            p.ID,
		Name:          p.Name,
		Annotations:   p.Annotations,
		WorkflowGraph: wg,
	}

	jobIDs := make(map[string]int64, len(p.Jobs))
	for _, j := range p.Jobs {
		job := &model.Job{
			ID:         s.allocID(),
			PipelineID: p.ID,
			Name:       j.Name,
			State:      model.JobEnabled,
			Permutations: []model.Permutation{{
				Image:       j.Image,
				Commands:    j.Commands,
				Annotations: cloneStrMap(j.Annotations),
			}},
		}
		s.jobs[job.ID] = job
		jobIDs[j.Name] = job.ID
	}

	for i, n := range wg.Nodes {
		if id, ok := jobIDs[n.Name]; ok {
			wg.Nodes[i].ID = id
		}
	}

	s.pipelines[p.ID] = pipeline
	return pipeline, nil
}

// SeedCluster registers a build cluster.
func (s *Store) SeedCluster(c model.BuildCluster) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == 0 {
		c.ID = s.allocID()
	}
	s.clusters[c.Name] = &c
}

// SeedUser registers a user.
func (s *Store) SeedUser(u model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == 0 {
		u.ID = s.allocID()
	}
	s.users[u.Username] = &u
}

// NewSHA fabricates a commit-sha-shaped correlation token for simulated
// events.
func NewSHA() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func cloneStrMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func sortBuilds(builds []model.Build) {
	sort.Slice(builds, func(i, j int) bool { return builds[i].ID < builds[j].ID })
}
