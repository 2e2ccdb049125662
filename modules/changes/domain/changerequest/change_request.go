package changerequest

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/firelater/firelater/pkg/serrors"
)

type Type string

const (
	TypeStandard  Type = "standard"
	TypeNormal    Type = "normal"
	TypeEmergency Type = "emergency"
)

type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

type Impact string

const (
	ImpactNone        Impact = "none"
	ImpactMinor       Impact = "minor"
	ImpactModerate    Impact = "moderate"
	ImpactSignificant Impact = "significant"
	ImpactMajor       Impact = "major"
)

var (
	ErrNotFound = serrors.NewError("CHANGE_NOT_FOUND", "change request not found", "Changes.Errors.NotFound")
	// ErrConcurrentModification signals a lost lock race. Safe to retry.
	ErrConcurrentModification = serrors.NewError("CHANGE_CONCURRENT_MODIFICATION", "change request is being modified concurrently", "Changes.Errors.ConcurrentModification")
)

// ChangeRequest is the governed entity: a proposed change moving from draft to
// closure under CAB control. Status is the single source of truth for which
// operations are legal; it only ever moves along Transition's edges.
type ChangeRequest struct {
	ID            uuid.UUID  `json:"id"`
	TenantID      uuid.UUID  `json:"tenant_id"`
	Title         string     `json:"title"`
	Description   string     `json:"description,omitempty"`
	Type          Type       `json:"type"`
	RiskLevel     RiskLevel  `json:"risk_level"`
	Impact        Impact     `json:"impact"`
	Status        Status     `json:"status"`
	CabRequired   bool       `json:"cab_required"`
	ApprovalCount int        `json:"approval_count"`
	RollbackPlan  string     `json:"rollback_plan"`
	PlannedStart  *time.Time `json:"planned_start,omitempty"`
	PlannedEnd    *time.Time `json:"planned_end,omitempty"`
	RequesterID   uuid.UUID  `json:"requester_id"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// ValidateForSubmit enforces the submit gate: a rollback plan and an ordered
// planned window must exist before a draft may become submitted.
func (c *ChangeRequest) ValidateForSubmit() error {
	if strings.TrimSpace(c.RollbackPlan) == "" {
		return serrors.NewFieldRequiredError("rollback_plan", "Changes.Fields.rollback_plan")
	}
	if c.PlannedStart == nil {
		return serrors.NewFieldRequiredError("planned_start", "Changes.Fields.planned_start")
	}
	if c.PlannedEnd == nil {
		return serrors.NewFieldRequiredError("planned_end", "Changes.Fields.planned_end")
	}
	if !c.PlannedEnd.After(*c.PlannedStart) {
		return serrors.NewError(
			"CHANGE_INVALID_PLANNED_WINDOW",
			"planned_end must be after planned_start",
			"Changes.Errors.InvalidPlannedWindow",
		)
	}
	return nil
}

// StatusChange is one audit trail entry: a committed transition of the change.
type StatusChange struct {
	ID        uuid.UUID `json:"id"`
	ChangeID  uuid.UUID `json:"change_id"`
	TenantID  uuid.UUID `json:"tenant_id"`
	From      Status    `json:"from"`
	To        Status    `json:"to"`
	Action    Action    `json:"action"`
	ActorID   uuid.UUID `json:"actor_id"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
