// Package status is the single source of truth for build and event status
// values and their completion semantics. All classification helpers are
// pure functions.
package status

import "fmt"

// Status is the state of a single build.
type Status string

const (
	Created   Status = "CREATED"
	Queued    Status = "QUEUED"
	Blocked   Status = "BLOCKED"
	Frozen    Status = "FROZEN"
	Running   Status = "RUNNING"
	Collapsed Status = "COLLAPSED"
	Success   Status = "SUCCESS"
	Unstable  Status = "UNSTABLE"
	Failure   Status = "FAILURE"
	Aborted   Status = "ABORTED"
)

// All lists every valid build status.
var All = []Status{
	Created, Queued, Blocked, Frozen, Running,
	Collapsed, Success, Unstable, Failure, Aborted,
}

// EventStatus is the aggregate state of an event, derived from the statuses
// of its builds.
type EventStatus string

const (
	EventInProgress EventStatus = "IN_PROGRESS"
	EventSuccess    EventStatus = "SUCCESS"
	EventFailure    EventStatus = "FAILURE"
	EventAborted    EventStatus = "ABORTED"
)

// IsTerminal reports whether a build in this status will never transition
// again.
func (s Status) IsTerminal() bool {
	switch s {
	case Collapsed, Success, Unstable, Failure, Aborted:
		return true
	}
	return false
}

// IsFailing reports whether this status counts as a failing outcome.
// UNSTABLE is terminal but deliberately not failing.
func (s Status) IsFailing() bool {
	return s == Failure || s == Aborted
}

// IsInFlight reports whether a build in this status is actively owned by
// the execution system (queued or running in some form).
func (s Status) IsInFlight() bool {
	switch s {
	case Queued, Blocked, Frozen, Running:
		return true
	}
	return false
}

// IsStarted reports whether the build has left the CREATED state.
func (s Status) IsStarted() bool {
	return s != "" && s != Created
}

// Parse validates a raw status string.
func Parse(raw string) (Status, error) {
	for _, s := range All {
		if string(s) == raw {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown build status %q", raw)
}
