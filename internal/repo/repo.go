// Package repo declares the persistence ports the orchestration core
// depends on. Implementations own storage and transactional concerns; the
// core only relies on these call contracts. A missing row is reported as a
// sderr NotFound error, never as a nil model with nil error.
package repo

import (
	"context"

	"github.com/screwdriver-cd/screwdriver-sub003/internal/model"
)

// PipelineRepository resolves pipelines.
type PipelineRepository interface {
	Get(ctx context.Context, id int64) (*model.Pipeline, error)
}

// JobRepository resolves and mutates jobs.
type JobRepository interface {
	Get(ctx context.Context, id int64) (*model.Job, error)
	GetByName(ctx context.Context, pipelineID int64, name string) (*model.Job, error)
	Update(ctx context.Context, job *model.Job) (*model.Job, error)
}

// BuildRepository resolves and mutates builds.
type BuildRepository interface {
	Get(ctx context.Context, id int64) (*model.Build, error)
	GetByEventAndJob(ctx context.Context, eventID, jobID int64) (*model.Build, error)
	ListByEvent(ctx context.Context, eventID int64) ([]model.Build, error)
	// ListLatestByGroupEvent returns the latest build per job across every
	// event correlated by groupEventID.
	ListLatestByGroupEvent(ctx context.Context, groupEventID int64) ([]model.Build, error)
	Create(ctx context.Context, build *model.Build) (*model.Build, error)
	Update(ctx context.Context, build *model.Build) (*model.Build, error)
	Remove(ctx context.Context, id int64) error
}

// EventRepository resolves and mutates events.
type EventRepository interface {
	Get(ctx context.Context, id int64) (*model.Event, error)
	Create(ctx context.Context, event *model.Event) (*model.Event, error)
	Update(ctx context.Context, event *model.Event) (*model.Event, error)
}

// BuildClusterRepository resolves build clusters.
type BuildClusterRepository interface {
	GetByName(ctx context.Context, name string) (*model.BuildCluster, error)
	List(ctx context.Context) ([]model.BuildCluster, error)
}

// UserRepository resolves acting users for authorization decisions.
type UserRepository interface {
	Get(ctx context.Context, username string) (*model.User, error)
}
