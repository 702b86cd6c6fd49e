// Package eventstatus reduces the builds of one event to a single
// event-level status.
package eventstatus

import (
	"github.com/screwdriver-cd/screwdriver-sub003/internal/model"
	"github.com/screwdriver-cd/screwdriver-sub003/internal/status"
)

// Derive computes the aggregate status for the given build snapshot.
// The second return value is false when the event has not effectively
// started: every build is still CREATED or COLLAPSED (an empty snapshot
// counts as not started). Callers should leave the stored event status
// untouched in that case.
//
// Priority, first match wins:
//
//  1. any ABORTED build                      -> ABORTED
//  2. any FAILURE build                      -> FAILURE
//  3. nothing started (CREATED/COLLAPSED)    -> (no status)
//  4. all builds terminal                    -> SUCCESS
//  5. otherwise                              -> IN_PROGRESS
//
// ABORTED outranks FAILURE because a user cancellation is the stronger
// signal; UNSTABLE and COLLAPSED never block a SUCCESS verdict. The
// function is pure and total: same snapshot in, same answer out.
func Derive(builds []model.Build) (status.EventStatus, bool) {
	var anyAborted, anyFailure bool
	allTerminal := true
	noneStarted := true

	for _, b := range builds {
		switch b.Status {
		case status.Aborted:
			anyAborted = true
		case status.Failure:
			anyFailure = true
		}
		if !b.Status.IsTerminal() {
			allTerminal = false
		}
		if b.Status != status.Created && b.Status != status.Collapsed {
			noneStarted = false
		}
	}

	switch {
	case anyAborted:
		return status.EventAborted, true
	case anyFailure:
		return status.EventFailure, true
	case noneStarted:
		return "", false
	case allTerminal:
		return status.EventSuccess, true
	default:
		return status.EventInProgress, true
	}
}
