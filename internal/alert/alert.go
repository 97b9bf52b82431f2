// Package alert turns matched rules into delivered notifications. The
// dispatcher owns the only pool of worker goroutines in the pipeline;
// everything upstream of it runs on the per-camera frame loop.
package alert

import (
	"context"
	"time"
)

// Status is the lifecycle state of an alert.
type Status string

const (
	StatusPending      Status = "pending"
	StatusDispatched   Status = "dispatched"
	StatusFailed       Status = "failed"
	StatusAcknowledged Status = "acknowledged"
)

// ActionOutcome records the delivery result of one action, kept per
// alert as an audit trail.
type ActionOutcome struct {
	Type        string    `json:"type"`
	Attempts    int       `json:"attempts"`
	Succeeded   bool      `json:"succeeded"`
	Optional    bool      `json:"optional,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

// Alert is one rule match on one event. Status transitions are
// Pending to Dispatched or Failed when delivery finishes, and either
// of those to Acknowledged by an operator.
type Alert struct {
	ID        string          `json:"alert_id"`
	RuleID    string          `json:"rule_id"`
	RuleName  string          `json:"rule_name"`
	EventID   string          `json:"event_id"`
	EventType string          `json:"event_type"`
	CameraID  string          `json:"camera_id"`
	TrackID   int64           `json:"track_id"`
	Status    Status          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	Context   map[string]any  `json:"context,omitempty"`
	Outcomes  []ActionOutcome `json:"outcomes,omitempty"`
}

// Channel delivers an alert through one notification mechanism. Send
// must be safe for concurrent use; the dispatcher calls it from
// multiple workers.
type Channel interface {
	// Type is the action type name rules reference, e.g. "webhook".
	Type() string

	// Send delivers the alert using the action's configuration. A nil
	// return means delivered; any error is retried up to the attempt
	// limit.
	Send(ctx context.Context, cfg map[string]string, a Alert) error
}
