// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package deletion

// State is the lifecycle position of an Engine.
type State int

const (
	StateIdle State = iota
	StateDryRun
	StateLiveConfirmed
	StateRunning
	StateCompleted
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDryRun:
		return "dry_run"
	case StateLiveConfirmed:
		return "live_confirmed"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Outcome is the result of Engine.Run: one of DryRunCompleted, LiveCompleted
// or Aborted.
type Outcome interface {
	outcome()
}

// DryRunCompleted lists the ids that a live run would have deleted.
type DryRunCompleted struct {
	IDs []int64
}

// LiveCompleted reports a finished live run. FailedPath is empty when there
// were no failures or the failure file could not be written.
type LiveCompleted struct {
	Deleted    int
	Failed     []int64
	FailedPath string
}

// Aborted means no deletion was attempted.
type Aborted struct {
	Reason string
	Err    error
}

func (DryRunCompleted) outcome() {}
func (LiveCompleted) outcome()   {}
func (Aborted) outcome()         {}
