// Package cabmeeting models Change Advisory Board meetings: their lifecycle,
// agenda, attendees and action items. Decisions recorded on an agenda item
// while the meeting is in progress are the only path by which CAB approvals
// reach a change request.
package cabmeeting

import (
	"time"

	"github.com/google/uuid"

	"github.com/firelater/firelater/modules/changes/domain/changerequest"
	"github.com/firelater/firelater/pkg/serrors"
)

type Status string

const (
	StatusScheduled  Status = "scheduled"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

type AttendeeRole string

const (
	RoleChair  AttendeeRole = "chair"
	RoleMember AttendeeRole = "member"
	RoleGuest  AttendeeRole = "guest"
)

type ActionItemStatus string

const (
	ActionItemOpen      ActionItemStatus = "open"
	ActionItemCompleted ActionItemStatus = "completed"
)

var (
	ErrNotFound          = serrors.NewError("CAB_MEETING_NOT_FOUND", "cab meeting not found", "Cab.Errors.NotFound")
	ErrMeetingNotActive  = serrors.NewError("CAB_MEETING_NOT_ACTIVE", "decisions require an in-progress meeting", "Cab.Errors.MeetingNotActive")
	ErrMeetingClosed     = serrors.NewError("CAB_MEETING_CLOSED", "meeting accepts no further changes", "Cab.Errors.MeetingClosed")
	ErrInvalidTransition = serrors.NewError("CAB_MEETING_INVALID_TRANSITION", "action is not legal for the meeting status", "Cab.Errors.InvalidTransition")
	ErrChangeNotOnAgenda = serrors.NewError("CAB_CHANGE_NOT_ON_AGENDA", "change is not on the meeting agenda", "Cab.Errors.ChangeNotOnAgenda")
	ErrDecisionRecorded  = serrors.NewError("CAB_DECISION_ALREADY_RECORDED", "a recorded decision prevents this", "Cab.Errors.DecisionRecorded")
)

// Meeting is a CAB session. Its own small state machine gates every agenda
// and decision operation.
type Meeting struct {
	ID          uuid.UUID    `json:"id"`
	TenantID    uuid.UUID    `json:"tenant_id"`
	Status      Status       `json:"status"`
	ScheduledAt time.Time    `json:"scheduled_at"`
	Agenda      string       `json:"agenda,omitempty"`
	Minutes     string       `json:"minutes,omitempty"`
	Changes     []AgendaItem `json:"changes,omitempty"`
	Attendees   []Attendee   `json:"attendees,omitempty"`
	ActionItems []ActionItem `json:"action_items,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// AgendaItem joins a change to a meeting and carries the decision recorded
// for it, if any.
type AgendaItem struct {
	ID            uuid.UUID               `json:"id"`
	MeetingID     uuid.UUID               `json:"meeting_id"`
	ChangeID      uuid.UUID               `json:"change_id"`
	Decision      *changerequest.Decision `json:"decision,omitempty"`
	DecidedBy     *uuid.UUID              `json:"decided_by,omitempty"`
	DecisionNotes string                  `json:"decision_notes,omitempty"`
}

func (i AgendaItem) Decided() bool {
	return i.Decision != nil
}

type Attendee struct {
	ID        uuid.UUID    `json:"id"`
	MeetingID uuid.UUID    `json:"meeting_id"`
	UserID    uuid.UUID    `json:"user_id"`
	Role      AttendeeRole `json:"role"`
}

type ActionItem struct {
	ID          uuid.UUID        `json:"id"`
	MeetingID   uuid.UUID        `json:"meeting_id"`
	Description string           `json:"description"`
	AssigneeID  *uuid.UUID       `json:"assignee_id,omitempty"`
	DueDate     *time.Time       `json:"due_date,omitempty"`
	Status      ActionItemStatus `json:"status"`
}

// meetingTransitions is the meeting's own edge table: scheduled may start or
// cancel, in_progress may complete. completed and cancelled are final.
var meetingTransitions = map[Status]map[Action]Status{
	StatusScheduled: {
		ActionStart:  StatusInProgress,
		ActionCancel: StatusCancelled,
	},
	StatusInProgress: {
		ActionComplete: StatusCompleted,
	},
	StatusCompleted: {},
	StatusCancelled: {},
}

type Action string

const (
	ActionStart    Action = "start"
	ActionComplete Action = "complete"
	ActionCancel   Action = "cancel"
)

func Transition(status Status, action Action) (Status, error) {
	next, ok := meetingTransitions[status][action]
	if !ok {
		return "", ErrInvalidTransition.
			WithDetail("status", string(status)).
			WithDetail("action", string(action))
	}
	return next, nil
}

// AcceptsAgendaChanges reports whether agenda items may still be added or
// removed.
func (m *Meeting) AcceptsAgendaChanges() bool {
	return m.Status == StatusScheduled || m.Status == StatusInProgress
}

// AcceptsDecisions reports whether decisions may be recorded right now.
func (m *Meeting) AcceptsDecisions() bool {
	return m.Status == StatusInProgress
}

// AgendaItemFor returns the agenda item for the given change, if present.
func (m *Meeting) AgendaItemFor(changeID uuid.UUID) (AgendaItem, bool) {
	for _, item := range m.Changes {
		if item.ChangeID == changeID {
			return item, true
		}
	}
	return AgendaItem{}, false
}

// AttendeeRoleOf returns the role the user holds in this meeting, if any.
func (m *Meeting) AttendeeRoleOf(userID uuid.UUID) (AttendeeRole, bool) {
	for _, a := range m.Attendees {
		if a.UserID == userID {
			return a.Role, true
		}
	}
	return "", false
}
