package models

import (
	"github.com/jackc/pgx/v5/pgtype"
)

type ChangeRequest struct {
	ID            pgtype.UUID
	TenantID      pgtype.UUID
	Title         string
	Description   pgtype.Text
	Type          string
	RiskLevel     string
	Impact        string
	Status        string
	CabRequired   bool
	ApprovalCount int32
	RollbackPlan  pgtype.Text
	PlannedStart  pgtype.Timestamptz
	PlannedEnd    pgtype.Timestamptz
	RequesterID   pgtype.UUID
	CreatedAt     pgtype.Timestamptz
	UpdatedAt     pgtype.Timestamptz
}

type Approval struct {
	ID         pgtype.UUID
	ChangeID   pgtype.UUID
	TenantID   pgtype.UUID
	ApproverID pgtype.UUID
	Decision   string
	ChairVote  bool
	Notes      pgtype.Text
	DecidedAt  pgtype.Timestamptz
}

type StatusChange struct {
	ID         pgtype.UUID
	ChangeID   pgtype.UUID
	TenantID   pgtype.UUID
	FromStatus string
	ToStatus   string
	Action     string
	ActorID    pgtype.UUID
	Notes      pgtype.Text
	CreatedAt  pgtype.Timestamptz
}

type CabMeeting struct {
	ID          pgtype.UUID
	TenantID    pgtype.UUID
	Status      string
	ScheduledAt pgtype.Timestamptz
	Agenda      pgtype.Text
	Minutes     pgtype.Text
	CreatedAt   pgtype.Timestamptz
	UpdatedAt   pgtype.Timestamptz
}

type CabAgendaItem struct {
	ID            pgtype.UUID
	MeetingID     pgtype.UUID
	ChangeID      pgtype.UUID
	Decision      pgtype.Text
	DecidedBy     pgtype.UUID
	DecisionNotes pgtype.Text
}

type CabAttendee struct {
	ID        pgtype.UUID
	MeetingID pgtype.UUID
	UserID    pgtype.UUID
	Role      string
}

type CabActionItem struct {
	ID          pgtype.UUID
	MeetingID   pgtype.UUID
	Description string
	AssigneeID  pgtype.UUID
	DueDate     pgtype.Timestamptz
	Status      string
}
