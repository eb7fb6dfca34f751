// Package taskstore implements the Task Registry (spec §4.2): a
// mapping from task-id to TaskInfo, a secondary thread-id index, and
// TTL eviction of finalized tasks.
package taskstore

import (
	"context"
	"errors"
	"time"
)

// Status is a closed string-enum matching the state graph of spec §4.5.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether status is one of the three terminal states.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// transitions enumerates the edges of the graph in spec §4.5. Once a
// status is terminal it has no outgoing edges: it is frozen.
var transitions = map[Status]map[Status]bool{
	StatusPending: {StatusPending: true, StatusRunning: true, StatusCancelled: true},
	StatusRunning: {StatusCompleted: true, StatusFailed: true, StatusCancelled: true},
}

// CanTransition reports whether moving from `from` to `to` is a legal
// edge of the task state machine (or a no-op self-transition).
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	if from.Terminal() {
		return false
	}
	return transitions[from][to]
}

// ErrInvalidTransition is returned by Update when a status change
// would violate the state machine.
var ErrInvalidTransition = errors.New("taskstore: invalid status transition")

// ErrNotFound is returned when a task-id is unknown (spec §7 NotFound).
var ErrNotFound = errors.New("taskstore: task not found")

// TTL is the retention window for a finalized task (spec §3.1, §6.4).
const TTL = 7 * 24 * time.Hour

// Info is the TaskInfo entity of spec §3.1.
type Info struct {
	TaskID       string                 `json:"task_id"`
	ThreadID     string                 `json:"thread_id"`
	UserInput    string                 `json:"user_input"`
	Status       Status                 `json:"status"`
	Progress     float64                `json:"progress"`
	CurrentStep  string                 `json:"current_step"`
	CreatedAt    time.Time              `json:"created_at"`
	StartedAt    *time.Time             `json:"started_at,omitempty"`
	CompletedAt  *time.Time             `json:"completed_at,omitempty"`
	ErrorMessage *string                `json:"error_message,omitempty"`
	Config       map[string]interface{} `json:"config,omitempty"`
}

// Fields is a sparse update: only non-nil members are applied by
// Update, so concurrent updates to disjoint fields don't clobber each
// other through a single struct.
type Fields struct {
	Status       *Status
	Progress     *float64
	CurrentStep  *string
	StartedAt    *time.Time
	CompletedAt  *time.Time
	ErrorMessage *string
}

// Filter narrows List (spec §6.1 GET /tasks).
type Filter struct {
	ThreadID string
	Status   Status
	Limit    int
}

// Store is the Task Registry contract.
type Store interface {
	Create(ctx context.Context, info Info) error
	Get(ctx context.Context, taskID string) (Info, error)
	Update(ctx context.Context, taskID string, fields Fields) (Info, error)
	List(ctx context.Context, filter Filter) ([]Info, error)
	Delete(ctx context.Context, taskID string) error
	// FindLatestByThread returns the most-recently-created task on
	// threadID whose status is not cancelled (spec §4.2), resolving
	// the "default"/"latest" query_id alias.
	FindLatestByThread(ctx context.Context, threadID string) (Info, error)
}

// applyFields mutates info in place per the non-nil members of f,
// enforcing monotone progress and the completed_at-iff-terminal
// invariant (spec §3.1).
func applyFields(info *Info, f Fields) error {
	if f.Status != nil {
		if !CanTransition(info.Status, *f.Status) {
			return ErrInvalidTransition
		}
		info.Status = *f.Status
	}
	if f.Progress != nil && *f.Progress > info.Progress {
		info.Progress = *f.Progress
	}
	if f.CurrentStep != nil {
		info.CurrentStep = *f.CurrentStep
	}
	if f.StartedAt != nil {
		info.StartedAt = f.StartedAt
	}
	if f.ErrorMessage != nil {
		info.ErrorMessage = f.ErrorMessage
	}
	if info.Status.Terminal() {
		if f.CompletedAt != nil {
			info.CompletedAt = f.CompletedAt
		} else if info.CompletedAt == nil {
			now := time.Now()
			info.CompletedAt = &now
		}
		if info.Progress < 1.0 && info.Status == StatusCompleted {
			info.Progress = 1.0
		}
	}
	return nil
}
