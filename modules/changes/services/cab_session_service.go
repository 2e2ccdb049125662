package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/firelater/firelater/modules/changes/domain/cabmeeting"
	"github.com/firelater/firelater/modules/changes/domain/changerequest"
	"github.com/firelater/firelater/pkg/composables"
	"github.com/firelater/firelater/pkg/eventbus"
	"github.com/firelater/firelater/pkg/serrors"
)

// MeetingStatusChangedEvent is published after a committed meeting transition.
type MeetingStatusChangedEvent struct {
	EventID   uuid.UUID
	TenantID  uuid.UUID
	MeetingID uuid.UUID
	From      cabmeeting.Status
	To        cabmeeting.Status
	Timestamp time.Time
}

// DecisionResult is the per-change outcome of recording one CAB decision.
type DecisionResult struct {
	ChangeID uuid.UUID
	Outcome  *ApprovalOutcome
	Err      error
}

// CabSessionService manages CAB meeting lifecycle and is the only path by
// which meeting decisions become approval records on the underlying change.
type CabSessionService struct {
	meetings  cabmeeting.Repository
	lifecycle *ChangeLifecycleService
	publisher eventbus.EventBus
	tx        TxRunner
}

func NewCabSessionService(
	meetings cabmeeting.Repository,
	lifecycle *ChangeLifecycleService,
	publisher eventbus.EventBus,
	tx TxRunner,
) *CabSessionService {
	return &CabSessionService{
		meetings:  meetings,
		lifecycle: lifecycle,
		publisher: publisher,
		tx:        tx,
	}
}

// ScheduleMeeting creates a meeting in scheduled with its attendees.
func (s *CabSessionService) ScheduleMeeting(ctx context.Context, scheduledAt time.Time, agenda string, attendees []cabmeeting.Attendee) (*cabmeeting.Meeting, error) {
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return nil, err
	}
	if scheduledAt.IsZero() {
		return nil, serrors.NewFieldRequiredError("scheduled_at", "Cab.Fields.scheduled_at")
	}

	meeting := &cabmeeting.Meeting{
		ID:          uuid.New(),
		TenantID:    tenantID,
		Status:      cabmeeting.StatusScheduled,
		ScheduledAt: scheduledAt,
		Agenda:      agenda,
	}
	return inTxResult(ctx, s.tx, func(txCtx context.Context) (*cabmeeting.Meeting, error) {
		created, err := s.meetings.Create(txCtx, meeting)
		if err != nil {
			return nil, err
		}
		for _, a := range attendees {
			a.ID = uuid.New()
			a.MeetingID = created.ID
			if _, err := s.meetings.AddAttendee(txCtx, a); err != nil {
				return nil, err
			}
			created.Attendees = append(created.Attendees, a)
		}
		return created, nil
	})
}

// StartMeeting moves scheduled -> in_progress.
func (s *CabSessionService) StartMeeting(ctx context.Context, meetingID uuid.UUID) (*cabmeeting.Meeting, error) {
	return s.transitionMeeting(ctx, meetingID, cabmeeting.ActionStart, nil)
}

// CompleteMeeting moves in_progress -> completed and writes the minutes in the
// same transaction. Undecided agenda items stay undecided: their changes
// simply wait for the next meeting.
func (s *CabSessionService) CompleteMeeting(ctx context.Context, meetingID uuid.UUID, minutes string) (*cabmeeting.Meeting, error) {
	return s.transitionMeeting(ctx, meetingID, cabmeeting.ActionComplete, func(meeting *cabmeeting.Meeting) {
		if strings.TrimSpace(minutes) != "" {
			meeting.Minutes = minutes
		}
	})
}

// CancelMeeting moves scheduled -> cancelled.
func (s *CabSessionService) CancelMeeting(ctx context.Context, meetingID uuid.UUID) (*cabmeeting.Meeting, error) {
	return s.transitionMeeting(ctx, meetingID, cabmeeting.ActionCancel, nil)
}

// transitionMeeting locks the meeting row, validates the edge against the
// locked state and writes both the status and any extra mutation in one
// transaction. The event fires only after the commit.
func (s *CabSessionService) transitionMeeting(ctx context.Context, meetingID uuid.UUID, action cabmeeting.Action, apply func(*cabmeeting.Meeting)) (*cabmeeting.Meeting, error) {
	var from cabmeeting.Status
	meeting, err := inTxResult(ctx, s.tx, func(txCtx context.Context) (*cabmeeting.Meeting, error) {
		meeting, err := s.meetings.GetByIDForUpdate(txCtx, meetingID)
		if err != nil {
			return nil, err
		}
		next, err := cabmeeting.Transition(meeting.Status, action)
		if err != nil {
			return nil, err
		}
		from = meeting.Status
		meeting.Status = next
		if apply != nil {
			apply(meeting)
		}
		if err := s.meetings.Update(txCtx, meeting); err != nil {
			return nil, err
		}
		return meeting, nil
	})
	if err != nil {
		return nil, err
	}
	s.publishMeetingEvent(ctx, meeting, from, meeting.Status)
	return meeting, nil
}

func (s *CabSessionService) publishMeetingEvent(ctx context.Context, meeting *cabmeeting.Meeting, from, to cabmeeting.Status) {
	tenantID, _ := composables.UseTenantID(ctx)
	s.publisher.Publish(&MeetingStatusChangedEvent{
		EventID:   uuid.New(),
		TenantID:  tenantID,
		MeetingID: meeting.ID,
		From:      from,
		To:        to,
		Timestamp: time.Now(),
	})
}

// AddChangeToAgenda puts a change on the meeting agenda. Allowed while the
// meeting is scheduled or in progress.
func (s *CabSessionService) AddChangeToAgenda(ctx context.Context, meetingID, changeID uuid.UUID) (cabmeeting.AgendaItem, error) {
	return inTxResult(ctx, s.tx, func(txCtx context.Context) (cabmeeting.AgendaItem, error) {
		meeting, err := s.meetings.GetByIDForUpdate(txCtx, meetingID)
		if err != nil {
			return cabmeeting.AgendaItem{}, err
		}
		if !meeting.AcceptsAgendaChanges() {
			return cabmeeting.AgendaItem{}, cabmeeting.ErrMeetingClosed.
				WithDetail("status", string(meeting.Status))
		}
		return s.meetings.AddAgendaItem(txCtx, cabmeeting.AgendaItem{
			ID:        uuid.New(),
			MeetingID: meetingID,
			ChangeID:  changeID,
		})
	})
}

// RemoveChangeFromAgenda drops an undecided change from the agenda. Once a
// decision has been recorded the item is immutable: recorded governance
// decisions are never discarded.
func (s *CabSessionService) RemoveChangeFromAgenda(ctx context.Context, meetingID, changeID uuid.UUID) error {
	return s.tx.InTx(ctx, func(txCtx context.Context) error {
		meeting, err := s.meetings.GetByIDForUpdate(txCtx, meetingID)
		if err != nil {
			return err
		}
		if !meeting.AcceptsAgendaChanges() {
			return cabmeeting.ErrMeetingClosed.WithDetail("status", string(meeting.Status))
		}
		item, ok := meeting.AgendaItemFor(changeID)
		if !ok {
			return cabmeeting.ErrChangeNotOnAgenda
		}
		if item.Decided() {
			return cabmeeting.ErrDecisionRecorded.
				WithDetail("change_id", changeID.String())
		}
		return s.meetings.RemoveAgendaItem(txCtx, meetingID, changeID)
	})
}

// RecordDecision writes (or overwrites) the decision on the agenda item, then
// forwards it into the change's approval record and asks the lifecycle
// service to re-evaluate quorum. Only legal while the meeting is in progress.
func (s *CabSessionService) RecordDecision(
	ctx context.Context,
	meetingID, changeID uuid.UUID,
	decision changerequest.Decision,
	approverID uuid.UUID,
	notes string,
) (*ApprovalOutcome, error) {
	if !decision.IsValid() {
		return nil, serrors.NewErrorf("CAB_INVALID_DECISION", "Cab.Errors.InvalidDecision", "invalid decision %q", decision)
	}

	var chair bool
	err := s.tx.InTx(ctx, func(txCtx context.Context) error {
		// Lock the meeting row so the active-status gate holds until commit;
		// a concurrent CompleteMeeting waits for us (or we for it) instead of
		// letting a decision land on an already-completed meeting.
		meeting, err := s.meetings.GetByIDForUpdate(txCtx, meetingID)
		if err != nil {
			return err
		}
		if !meeting.AcceptsDecisions() {
			return cabmeeting.ErrMeetingNotActive.
				WithDetail("status", string(meeting.Status))
		}
		if _, ok := meeting.AgendaItemFor(changeID); !ok {
			return cabmeeting.ErrChangeNotOnAgenda
		}
		role, _ := meeting.AttendeeRoleOf(approverID)
		chair = role == cabmeeting.RoleChair

		// Lock the join row so two concurrent recorders for the same change
		// serialize before the overwrite.
		if _, err := s.meetings.GetAgendaItemForUpdate(txCtx, meetingID, changeID); err != nil {
			return err
		}
		return s.meetings.SaveAgendaDecision(txCtx, meetingID, changeID, decision, approverID, notes)
	})
	if err != nil {
		return nil, err
	}

	// Forward into the change's own governance records. Each branch runs in
	// its own per-change locked transaction.
	switch decision {
	case changerequest.DecisionApproved:
		if chair {
			return s.lifecycle.ApproveAsChair(ctx, changeID, approverID, notes)
		}
		return s.lifecycle.Approve(ctx, changeID, approverID, notes)
	case changerequest.DecisionRejected:
		if chair {
			res, err := s.lifecycle.Reject(ctx, changeID, approverID, notes)
			if err != nil {
				return nil, err
			}
			return &ApprovalOutcome{Change: res.Change, Transitioned: true}, nil
		}
		// A member rejection is recorded but does not short-circuit; quorum
		// evaluation sees it on the next approve.
		if err := s.recordMemberRejection(ctx, changeID, approverID, notes); err != nil {
			return nil, err
		}
		return s.lifecycle.ReevaluateApproval(ctx, changeID, approverID)
	default:
		// Deferred: recorded on the agenda item only; the change stays in
		// review for a future meeting.
		change, err := s.lifecycle.repo.GetByID(ctx, changeID)
		if err != nil {
			return nil, err
		}
		return &ApprovalOutcome{Change: change}, nil
	}
}

func (s *CabSessionService) recordMemberRejection(ctx context.Context, changeID, approverID uuid.UUID, notes string) error {
	return s.tx.InTx(ctx, func(txCtx context.Context) error {
		change, err := s.lifecycle.repo.GetByIDForUpdate(txCtx, changeID)
		if err != nil {
			return err
		}
		_, err = s.lifecycle.repo.SaveApproval(txCtx, changerequest.Approval{
			ID:         uuid.New(),
			ChangeID:   change.ID,
			TenantID:   change.TenantID,
			ApproverID: approverID,
			Decision:   changerequest.DecisionRejected,
			Notes:      notes,
			DecidedAt:  time.Now(),
		})
		return err
	})
}

// RecordDecisions applies a batch of decisions item by item, each in its own
// isolated transaction, and reports per-change results. A failure on one item
// never rolls back or hides the others.
func (s *CabSessionService) RecordDecisions(
	ctx context.Context,
	meetingID uuid.UUID,
	decisions map[uuid.UUID]changerequest.Decision,
	approverID uuid.UUID,
) []DecisionResult {
	results := make([]DecisionResult, 0, len(decisions))
	for changeID, decision := range decisions {
		outcome, err := s.RecordDecision(ctx, meetingID, changeID, decision, approverID, "")
		results = append(results, DecisionResult{ChangeID: changeID, Outcome: outcome, Err: err})
	}
	return results
}

// AddActionItem appends an informational follow-up to the meeting.
func (s *CabSessionService) AddActionItem(ctx context.Context, meetingID uuid.UUID, description string, assigneeID *uuid.UUID, dueDate *time.Time) (cabmeeting.ActionItem, error) {
	if strings.TrimSpace(description) == "" {
		return cabmeeting.ActionItem{}, serrors.NewFieldRequiredError("description", "Cab.Fields.description")
	}
	return inTxResult(ctx, s.tx, func(txCtx context.Context) (cabmeeting.ActionItem, error) {
		if _, err := s.meetings.GetByID(txCtx, meetingID); err != nil {
			return cabmeeting.ActionItem{}, err
		}
		return s.meetings.AddActionItem(txCtx, cabmeeting.ActionItem{
			ID:          uuid.New(),
			MeetingID:   meetingID,
			Description: description,
			AssigneeID:  assigneeID,
			DueDate:     dueDate,
			Status:      cabmeeting.ActionItemOpen,
		})
	})
}

// CompleteActionItem marks a follow-up done.
func (s *CabSessionService) CompleteActionItem(ctx context.Context, meetingID, itemID uuid.UUID) error {
	return s.tx.InTx(ctx, func(txCtx context.Context) error {
		return s.meetings.CompleteActionItem(txCtx, meetingID, itemID)
	})
}

// GetMeeting returns the meeting with its agenda, attendees and action items.
func (s *CabSessionService) GetMeeting(ctx context.Context, meetingID uuid.UUID) (*cabmeeting.Meeting, error) {
	return s.meetings.GetByID(ctx, meetingID)
}
