// Package joinstore holds the join bookkeeping records the resolver
// mutates as parent builds complete. Multiple workers can report parent
// completions for the same join target near-simultaneously, so every
// mutation goes through an atomic read-modify-write: records carry a
// version, and updates for one key are serialized behind a per-key lock.
// Lost updates between concurrent writers are therefore impossible.
package joinstore

import (
	"context"
	"sync"

	"github.com/screwdriver-cd/screwdriver-sub003/internal/model"
)

// Key identifies one join target within one logical trigger group.
type Key struct {
	GroupEventID int64
	PipelineID   int64
	JobName      string
}

// Record tracks which named parent jobs have reported for a join target.
// A nil build id means the parent is expected but has not completed.
type Record struct {
	EventID int64
	Jobs    map[string]*int64
	Version uint64
}

// clone keeps readers isolated from subsequent updates.
func (r *Record) clone() *Record {
	if r == nil {
		return nil
	}
	jobs := make(map[string]*int64, len(r.Jobs))
	for name, id := range r.Jobs {
		if id == nil {
			jobs[name] = nil
			continue
		}
		v := *id
		jobs[name] = &v
	}
	return &Record{EventID: r.EventID, Jobs: jobs, Version: r.Version}
}

// Store is the port the resolver depends on.
type Store interface {
	// Get returns a copy of the record for key, or nil when absent.
	Get(ctx context.Context, key Key) (*Record, error)
	// Update applies fn to the current record (nil when absent) under the
	// key's lock and persists the result with a bumped version. fn
	// receives a private copy and returns the record to store.
	Update(ctx context.Context, key Key, fn func(*Record) *Record) (*Record, error)
	// Delete removes the record for key. Deleting an absent key is a
	// no-op.
	Delete(ctx context.Context, key Key) error
}

// Memory is the in-memory Store used by the simulator and tests. A
// database-backed implementation would enforce the same discipline with an
// optimistic version check on write.
type Memory struct {
	mu      sync.Mutex
	records map[Key]*Record
	locks   map[Key]*sync.Mutex
}

// NewMemory creates an empty in-memory join store.
func NewMemory() *Memory {
	return &Memory{
		records: make(map[Key]*Record),
		locks:   make(map[Key]*sync.Mutex),
	}
}

// keyLock returns the mutex serializing writers of one key.
func (m *Memory) keyLock(key Key) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[key]
	if !ok {
		l = &sync.Mutex{}
		m.locks[key] = l
	}
	return l
}

// Get implements Store.
func (m *Memory) Get(ctx context.Context, key Key) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[key].clone(), nil
}

// Update implements Store.
func (m *Memory) Update(ctx context.Context, key Key, fn func(*Record) *Record) (*Record, error) {
	lock := m.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	current := m.records[key].clone()
	m.mu.Unlock()

	next := fn(current)
	if next == nil {
		return nil, nil
	}
	if current != nil {
		next.Version = current.Version + 1
	} else {
		next.Version = 1
	}

	m.mu.Lock()
	m.records[key] = next
	m.mu.Unlock()
	return next.clone(), nil
}

// Delete implements Store.
func (m *Memory) Delete(ctx context.Context, key Key) error {
	lock := m.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	delete(m.records, key)
	m.mu.Unlock()
	return nil
}

// RecordFromParentBuilds seeds a record from the persisted parentBuilds
// field of a build, used when bookkeeping is rebuilt after a restart.
func RecordFromParentBuilds(pb *model.ParentBuild) *Record {
	if pb == nil {
		return nil
	}
	jobs := make(map[string]*int64, len(pb.Jobs))
	for name, id := range pb.Jobs {
		if id == nil {
			jobs[name] = nil
			continue
		}
		v := *id
		jobs[name] = &v
	}
	return &Record{EventID: pb.EventID, Jobs: jobs}
}
