package domain

import "errors"

// ErrThreadExists is returned by thread stores when a handle is already
// stored for the user. Handles are immutable once written.
var ErrThreadExists = errors.New("thread already stored for user")

// Run statuses reported by the assistant provider.
const (
	RunStatusQueued         = "queued"
	RunStatusInProgress     = "in_progress"
	RunStatusRequiresAction = "requires_action"
	RunStatusCancelling     = "cancelling"
	RunStatusCancelled      = "cancelled"
	RunStatusFailed         = "failed"
	RunStatusCompleted      = "completed"
	RunStatusIncomplete     = "incomplete"
	RunStatusExpired        = "expired"
)

// Run is a single assistant execution over a thread.
type Run struct {
	ID        string
	ThreadID  string
	Status    string
	LastError string
}

// Pending reports whether the run may still reach completion.
func (r Run) Pending() bool {
	switch r.Status {
	case RunStatusQueued, RunStatusInProgress, RunStatusCancelling, "":
		return true
	}
	return false
}
