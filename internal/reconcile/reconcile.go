// Package reconcile maps remote job status onto local task state and decides
// whether a stored record has to change.
package reconcile

import (
	"github.com/kazz187/agentdash/internal/execapi"
	"github.com/kazz187/agentdash/internal/projectrun"
	"github.com/kazz187/agentdash/internal/task"
)

// Remote status vocabulary.
const (
	RemotePending   = "pending"
	RemoteRunning   = "running"
	RemoteCompleted = "completed"
	RemoteFailed    = "failed"
)

// MapStatus maps a remote status to a local state. Anything outside the
// remote vocabulary maps to draft.
func MapStatus(remote string) task.State {
	switch remote {
	case RemotePending:
		return task.StatePending
	case RemoteRunning:
		return task.StateRunning
	case RemoteCompleted:
		return task.StateComplete
	case RemoteFailed:
		return task.StateFailed
	default:
		return task.StateDraft
	}
}

type Decision struct {
	// Write is true when the stored task must be updated with State and
	// BranchName.
	Write      bool
	State      task.State
	BranchName string
	// Rejected is set when the mapped state is not a legal move from the
	// stored state. Write is false in that case.
	Rejected error
}

// Decide compares a stored task with an observed remote status. A write is
// needed when the mapped state differs, or when the remote reports a
// non-empty branch that differs from the stored one. An empty remote branch
// never clears a recorded branch.
func Decide(current *task.Task, status *execapi.TaskStatus) Decision {
	d := Decision{
		State:      MapStatus(status.Status),
		BranchName: current.BranchName,
	}
	if status.BranchName != "" {
		d.BranchName = status.BranchName
	}
	if err := task.Transition(task.TriggerObserve, current.State, d.State); err != nil {
		return Decision{State: current.State, BranchName: current.BranchName, Rejected: err}
	}
	d.Write = d.State != current.State || d.BranchName != current.BranchName
	return d
}

// Apply writes a decision onto t. It reports false when there was nothing to
// write.
func (d Decision) Apply(t *task.Task) bool {
	if !d.Write {
		return false
	}
	t.State = d.State
	t.BranchName = d.BranchName
	return true
}

// ProjectDone reports whether every subtask reached a terminal status. A
// run reporting no subtasks is done.
func ProjectDone(subtasks []projectrun.Subtask) bool {
	for _, s := range subtasks {
		if !s.Terminal() {
			return false
		}
	}
	return true
}

// Subtasks converts remote subtasks into the stored representation.
func Subtasks(remote []execapi.Subtask) []projectrun.Subtask {
	out := make([]projectrun.Subtask, len(remote))
	for i, s := range remote {
		out[i] = projectrun.Subtask{
			RemoteID:    s.RemoteID,
			Status:      s.Status,
			Description: s.Description,
			BranchName:  s.BranchName,
		}
	}
	return out
}
