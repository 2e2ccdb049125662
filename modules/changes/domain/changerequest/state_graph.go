package changerequest

import (
	"github.com/firelater/firelater/pkg/serrors"
)

type Status string

const (
	StatusDraft        Status = "draft"
	StatusSubmitted    Status = "submitted"
	StatusReview       Status = "review"
	StatusApproved     Status = "approved"
	StatusRejected     Status = "rejected"
	StatusScheduled    Status = "scheduled"
	StatusImplementing Status = "implementing"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusRolledBack   Status = "rolled_back"
	StatusCancelled    Status = "cancelled"
	StatusClosed       Status = "closed"
)

type Action string

const (
	ActionSubmit        Action = "submit"
	ActionBeginReview   Action = "begin_review"
	ActionApprove       Action = "approve"
	ActionReject        Action = "reject"
	ActionSchedule      Action = "schedule"
	ActionStartImpl     Action = "start_implementation"
	ActionComplete      Action = "complete"
	ActionFail          Action = "fail"
	ActionRetrySchedule Action = "retry_schedule"
	ActionCancel        Action = "cancel"
	ActionClose         Action = "close"
)

var (
	ErrInvalidTransition = serrors.NewError("CHANGE_INVALID_TRANSITION", "action is not legal for the current status", "Changes.Errors.InvalidTransition")
	ErrTerminalState     = serrors.NewError("CHANGE_TERMINAL_STATE", "change request is in a terminal state", "Changes.Errors.TerminalState")
)

// transitions is the authoritative edge table. An absent (status, action)
// pair is an invalid transition.
var transitions = map[Status]map[Action]Status{
	StatusDraft: {
		ActionSubmit: StatusSubmitted,
		ActionCancel: StatusCancelled,
	},
	StatusSubmitted: {
		ActionBeginReview: StatusReview,
		ActionCancel:      StatusCancelled,
	},
	StatusReview: {
		ActionApprove: StatusApproved,
		ActionReject:  StatusRejected,
		ActionCancel:  StatusCancelled,
	},
	StatusApproved: {
		ActionSchedule: StatusScheduled,
		ActionCancel:   StatusCancelled,
	},
	StatusScheduled: {
		ActionStartImpl: StatusImplementing,
		ActionCancel:    StatusCancelled,
	},
	StatusImplementing: {
		ActionComplete: StatusCompleted,
		ActionFail:     StatusFailed,
	},
	StatusCompleted: {
		ActionClose: StatusClosed,
	},
	StatusFailed: {
		ActionRetrySchedule: StatusScheduled,
		ActionCancel:        StatusCancelled,
	},
	// rolled_back is retained for historical records; nothing moves out of it.
	StatusRolledBack: {},
	StatusRejected:   {},
	StatusCancelled:  {},
	StatusClosed:     {},
}

// IsTerminal reports whether the status accepts no further actions by policy.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusRejected, StatusCancelled, StatusClosed:
		return true
	}
	return false
}

func (s Status) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

// AllStatuses enumerates every defined status; test helpers rely on this for
// transition-closure checks.
func AllStatuses() []Status {
	return []Status{
		StatusDraft, StatusSubmitted, StatusReview, StatusApproved,
		StatusRejected, StatusScheduled, StatusImplementing, StatusCompleted,
		StatusFailed, StatusRolledBack, StatusCancelled, StatusClosed,
	}
}

func AllActions() []Action {
	return []Action{
		ActionSubmit, ActionBeginReview, ActionApprove, ActionReject,
		ActionSchedule, ActionStartImpl, ActionComplete, ActionFail,
		ActionRetrySchedule, ActionCancel, ActionClose,
	}
}

// Transition resolves the next status for (status, action). Terminal statuses
// fail with ErrTerminalState; any other unlisted pair fails with
// ErrInvalidTransition. Pure and deterministic.
func Transition(status Status, action Action) (Status, error) {
	if status.IsTerminal() {
		return "", ErrTerminalState.
			WithDetail("status", string(status)).
			WithDetail("action", string(action))
	}
	next, ok := transitions[status][action]
	if !ok {
		return "", ErrInvalidTransition.
			WithDetail("status", string(status)).
			WithDetail("action", string(action))
	}
	return next, nil
}
