package changerequest

import (
	"time"

	"github.com/google/uuid"
)

type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
	DecisionDeferred Decision = "deferred"
)

func (d Decision) IsValid() bool {
	switch d {
	case DecisionApproved, DecisionRejected, DecisionDeferred:
		return true
	}
	return false
}

// Approval is one approver's latest decision on a change. Unique per
// (changeID, approverID): recording again overwrites, it never appends.
type Approval struct {
	ID         uuid.UUID `json:"id"`
	ChangeID   uuid.UUID `json:"change_id"`
	TenantID   uuid.UUID `json:"tenant_id"`
	ApproverID uuid.UUID `json:"approver_id"`
	Decision   Decision  `json:"decision"`
	// ChairVote records whether the approver sat as chair when deciding; a
	// chair rejection blocks approval outright.
	ChairVote bool      `json:"chair_vote"`
	Notes     string    `json:"notes,omitempty"`
	DecidedAt time.Time `json:"decided_at"`
}
