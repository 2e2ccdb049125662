package changerequest

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/firelater/firelater/pkg/composables"
)

// StatusChangedEvent is published after every committed transition. The
// notification collaborator subscribes to it; handler failures never affect
// the committed transaction.
type StatusChangedEvent struct {
	EventID   uuid.UUID
	TenantID  uuid.UUID
	ChangeID  uuid.UUID
	From      Status
	To        Status
	Action    Action
	ActorID   uuid.UUID
	Terminal  bool
	Timestamp time.Time
	Result    *ChangeRequest
}

func NewStatusChangedEvent(ctx context.Context, change *ChangeRequest, from, to Status, action Action, actorID uuid.UUID) *StatusChangedEvent {
	tenantID, _ := composables.UseTenantID(ctx)
	return &StatusChangedEvent{
		EventID:   uuid.New(),
		TenantID:  tenantID,
		ChangeID:  change.ID,
		From:      from,
		To:        to,
		Action:    action,
		ActorID:   actorID,
		Terminal:  to.IsTerminal(),
		Timestamp: time.Now(),
		Result:    change,
	}
}

// DecisionRecordedEvent is published when an approver's decision is recorded,
// whether or not it advanced the change.
type DecisionRecordedEvent struct {
	EventID    uuid.UUID
	TenantID   uuid.UUID
	ChangeID   uuid.UUID
	ApproverID uuid.UUID
	Decision   Decision
	ChairVote  bool
	Timestamp  time.Time
}

func NewDecisionRecordedEvent(ctx context.Context, approval Approval) *DecisionRecordedEvent {
	tenantID, _ := composables.UseTenantID(ctx)
	return &DecisionRecordedEvent{
		EventID:    uuid.New(),
		TenantID:   tenantID,
		ChangeID:   approval.ChangeID,
		ApproverID: approval.ApproverID,
		Decision:   approval.Decision,
		ChairVote:  approval.ChairVote,
		Timestamp:  time.Now(),
	}
}
