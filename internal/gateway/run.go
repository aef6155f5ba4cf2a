package gateway

import (
	"context"
	"time"

	"github.com/user/bankdesk/internal/types"
)

// RunStatus represents the lifecycle state of a Run.
type RunStatus string

const (
	RunStatusQueued   RunStatus = "queued"
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run tracks the processing of one inbound message against a session.
type Run struct {
	ID        types.RunID
	SessionID types.SessionID
	Message   *types.InboundMessage
	Status    RunStatus
	CreatedAt time.Time
	StartedAt *time.Time
	EndedAt   *time.Time
	Error     error

	// Ctx is the context the processor runs under. When nil the queue's
	// own context is used.
	Ctx context.Context

	// Result is set by the processor. It may be non-nil alongside an error
	// (an apology reply for a failed turn).
	Result *types.TurnResult

	// OnComplete is invoked exactly once with the processor's outcome.
	OnComplete func(result *types.TurnResult, err error)
}

// NewRun creates a Run in the Queued state for the given session and message.
func NewRun(sessionID types.SessionID, msg *types.InboundMessage) *Run {
	return &Run{
		ID:        types.NewRunID(),
		SessionID: sessionID,
		Message:   msg,
		Status:    RunStatusQueued,
		CreatedAt: time.Now(),
	}
}

func (r *Run) finish(err error) {
	now := time.Now()
	r.EndedAt = &now
	r.Error = err
	if err != nil {
		r.Status = RunStatusFailed
	} else {
		r.Status = RunStatusComplete
	}
	if r.OnComplete != nil {
		r.OnComplete(r.Result, err)
	}
}
