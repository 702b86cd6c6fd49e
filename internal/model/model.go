// Package model declares the persisted data shapes shared by the
// orchestration components: pipelines, jobs, events, builds, and the join
// bookkeeping that ties them together. The structs mirror what the
// repositories store; behavior lives in the packages that operate on them.
package model

import (
	"time"

	"github.com/screwdriver-cd/screwdriver-sub003/internal/status"
)

// Build is one execution of a job within an event. Version is the
// optimistic concurrency stamp maintained by the build repository; writers
// must present the version they read or the update is rejected.
type Build struct {
	ID            int64          `json:"id"`
	JobID         int64          `json:"jobId"`
	EventID       int64          `json:"eventId"`
	Status        status.Status  `json:"status"`
	StartTime     time.Time      `json:"startTime,omitzero"`
	EndTime       time.Time      `json:"endTime,omitzero"`
	ParentBuildID []int64        `json:"parentBuildId,omitempty"`
	ParentBuilds  ParentBuilds   `json:"parentBuilds,omitempty"`
	Meta          map[string]any `json:"meta,omitempty"`
	Version       uint64         `json:"-"`
}

// Event is a single trigger of a pipeline, grouping the builds it causes.
type Event struct {
	ID            int64              `json:"id"`
	PipelineID    int64              `json:"pipelineId"`
	GroupEventID  int64              `json:"groupEventId"`
	ParentEventID int64              `json:"parentEventId,omitempty"`
	StartFrom     string             `json:"startFrom"`
	Status        status.EventStatus `json:"status,omitempty"`
	SHA           string             `json:"sha"`
	CauseMessage  string             `json:"causeMessage,omitempty"`
	WorkflowGraph *WorkflowGraph     `json:"workflowGraph"`
	Meta          map[string]any     `json:"meta,omitempty"`
}

// JobState is the administrative state of a job.
type JobState string

const (
	JobEnabled  JobState = "ENABLED"
	JobDisabled JobState = "DISABLED"
)

// Permutation is one execution config of a job. Annotations carry
// administrative overrides such as the build-cluster routing key.
type Permutation struct {
	Image       string            `json:"image,omitempty"`
	Commands    []string          `json:"commands,omitempty"`
	Annotations map[string]string `json:"annotations,omitempty"`
}

// Job is a named unit of work within a pipeline's workflow graph.
type Job struct {
	ID           int64         `json:"id"`
	PipelineID   int64         `json:"pipelineId"`
	Name         string        `json:"name"`
	State        JobState      `json:"state"`
	Permutations []Permutation `json:"permutations"`
}

// Pipeline is a workflow of jobs triggered by events. Annotations mirror
// the static configuration checked in with the pipeline; a build-cluster
// annotation here takes precedence over any runtime override.
type Pipeline struct {
	ID            int64             `json:"id"`
	Name          string            `json:"name"`
	Annotations   map[string]string `json:"annotations,omitempty"`
	WorkflowGraph *WorkflowGraph    `json:"workflowGraph"`
}

// BuildCluster is a worker pool builds can be routed to.
type BuildCluster struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	IsActive bool   `json:"isActive"`
}

// User is an acting identity. ClusterAdmin grants the build-cluster
// override privilege.
type User struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	ClusterAdmin bool   `json:"clusterAdmin"`
}

// WorkflowNode is a vertex in a pipeline's workflow graph. External
// destinations keep their qualified name ("sd@123:job") and a zero ID.
type WorkflowNode struct {
	Name string `json:"name"`
	ID   int64  `json:"id,omitempty"`
}

// WorkflowEdge is a trigger edge. Join marks the destination as a fan-in
// that must wait for all of its join parents.
type WorkflowEdge struct {
	Src  string `json:"src"`
	Dest string `json:"dest"`
	Join bool   `json:"join,omitempty"`
}

// WorkflowGraph is the static trigger graph of one pipeline, as produced
// by the pipeline definition loader.
type WorkflowGraph struct {
	Nodes []WorkflowNode `json:"nodes"`
	Edges []WorkflowEdge `json:"edges"`
}

// ParentBuild records, for one upstream pipeline, which named parent jobs
// have completed with which build id. A nil build id means the parent has
// not reported yet.
type ParentBuild struct {
	EventID int64             `json:"eventId"`
	Jobs    map[string]*int64 `json:"jobs"`
}

// ParentBuilds is join bookkeeping keyed by upstream pipeline id.
type ParentBuilds map[int64]*ParentBuild

// Clone returns a deep copy so concurrent readers never observe partial
// merges.
func (p ParentBuilds) Clone() ParentBuilds {
	if p == nil {
		return nil
	}
	out := make(ParentBuilds, len(p))
	for pid, pb := range p {
		jobs := make(map[string]*int64, len(pb.Jobs))
		for name, id := range pb.Jobs {
			if id == nil {
				jobs[name] = nil
				continue
			}
			v := *id
			jobs[name] = &v
		}
		out[pid] = &ParentBuild{EventID: pb.EventID, Jobs: jobs}
	}
	return out
}

// Merge folds other into p without overwriting ids already recorded.
// Missing pipelines and jobs are added; recorded build ids win over nil.
func (p ParentBuilds) Merge(other ParentBuilds) ParentBuilds {
	out := p.Clone()
	if out == nil {
		out = make(ParentBuilds)
	}
	for pid, pb := range other {
		dst, ok := out[pid]
		if !ok {
			dst = &ParentBuild{EventID: pb.EventID, Jobs: make(map[string]*int64)}
			out[pid] = dst
		}
		if dst.EventID == 0 {
			dst.EventID = pb.EventID
		}
		for name, id := range pb.Jobs {
			if existing, ok := dst.Jobs[name]; ok && existing != nil {
				continue
			}
			if id == nil {
				if _, ok := dst.Jobs[name]; !ok {
					dst.Jobs[name] = nil
				}
				continue
			}
			v := *id
			dst.Jobs[name] = &v
		}
	}
	return out
}
