// Package notify publishes build_status notifications when a build's
// persisted status changes. Delivery failures are reported to the caller
// for logging but must never abort the lifecycle flow that produced them.
package notify

import (
	"context"

	"github.com/screwdriver-cd/screwdriver-sub003/internal/status"
)

// Payload is one build_status notification.
type Payload struct {
	BuildID     int64              `json:"buildId"`
	JobName     string             `json:"jobName"`
	PipelineID  int64              `json:"pipelineId"`
	EventID     int64              `json:"eventId"`
	Status      status.Status      `json:"status"`
	EventStatus status.EventStatus `json:"eventStatus,omitempty"`
	BuildLink   string             `json:"buildLink,omitempty"`
}

// Notifier is the port the build lifecycle service emits through.
type Notifier interface {
	BuildStatus(ctx context.Context, p Payload) error
}

// Noop discards notifications. Used when no notification endpoint is
// configured.
type Noop struct{}

// BuildStatus implements Notifier.
func (Noop) BuildStatus(ctx context.Context, p Payload) error { return nil }
