// Package pipeline orchestrates a validation run as a sequence of named
// steps with explicit pause and resume points. The run lifecycle is an
// explicit finite-state machine with a pure transition function, so the
// orchestration is unit-testable without any external engine.
package pipeline

import "fmt"

type Status string

const (
	StatusQueued         Status = "QUEUED"
	StatusRunning        Status = "RUNNING"
	StatusWaitingForUser Status = "WAITING_FOR_USER"
	StatusCompleted      Status = "COMPLETED"
	StatusFailed         Status = "FAILED"
)

type Event string

const (
	// EventDispatch starts a queued run.
	EventDispatch Event = "dispatch"
	// EventPromptsPending parks the run awaiting user answers.
	EventPromptsPending Event = "prompts_pending"
	// EventAnswersReceived resumes a parked run; partial answer sets
	// trigger re-entry just like complete ones.
	EventAnswersReceived Event = "answers_received"
	// EventCompleted finishes the run with no unresolved prompts left.
	EventCompleted Event = "completed"
	// EventFailed records an unrecoverable error. Terminal, not resumable.
	EventFailed Event = "failed"
)

// Next is the transition function of the run state machine. It returns an
// error for transitions the lifecycle does not allow.
func Next(s Status, e Event) (Status, error) {
	if e == EventFailed {
		return StatusFailed, nil
	}

	switch s {
	case StatusQueued:
		if e == EventDispatch {
			return StatusRunning, nil
		}
	case StatusRunning:
		switch e {
		case EventPromptsPending:
			return StatusWaitingForUser, nil
		case EventCompleted:
			return StatusCompleted, nil
		}
	case StatusWaitingForUser:
		if e == EventAnswersReceived {
			return StatusRunning, nil
		}
	}
	return s, fmt.Errorf("illegal transition: %s on %s", e, s)
}

// Terminal reports whether the status admits no further transitions other
// than failure.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}
