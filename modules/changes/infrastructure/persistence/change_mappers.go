package persistence

import (
	"github.com/firelater/firelater/modules/changes/domain/cabmeeting"
	"github.com/firelater/firelater/modules/changes/domain/changerequest"
	"github.com/firelater/firelater/modules/changes/infrastructure/persistence/models"
)

func toDomainChangeRequest(m models.ChangeRequest) *changerequest.ChangeRequest {
	return &changerequest.ChangeRequest{
		ID:            asUUID(m.ID),
		TenantID:      asUUID(m.TenantID),
		Title:         m.Title,
		Description:   asText(m.Description),
		Type:          changerequest.Type(m.Type),
		RiskLevel:     changerequest.RiskLevel(m.RiskLevel),
		Impact:        changerequest.Impact(m.Impact),
		Status:        changerequest.Status(m.Status),
		CabRequired:   m.CabRequired,
		ApprovalCount: int(m.ApprovalCount),
		RollbackPlan:  asText(m.RollbackPlan),
		PlannedStart:  asTimePtr(m.PlannedStart),
		PlannedEnd:    asTimePtr(m.PlannedEnd),
		RequesterID:   asUUID(m.RequesterID),
		CreatedAt:     asTime(m.CreatedAt),
		UpdatedAt:     asTime(m.UpdatedAt),
	}
}

func toDomainApproval(m models.Approval) changerequest.Approval {
	return changerequest.Approval{
		ID:         asUUID(m.ID),
		ChangeID:   asUUID(m.ChangeID),
		TenantID:   asUUID(m.TenantID),
		ApproverID: asUUID(m.ApproverID),
		Decision:   changerequest.Decision(m.Decision),
		ChairVote:  m.ChairVote,
		Notes:      asText(m.Notes),
		DecidedAt:  asTime(m.DecidedAt),
	}
}

func toDomainStatusChange(m models.StatusChange) changerequest.StatusChange {
	return changerequest.StatusChange{
		ID:        asUUID(m.ID),
		ChangeID:  asUUID(m.ChangeID),
		TenantID:  asUUID(m.TenantID),
		From:      changerequest.Status(m.FromStatus),
		To:        changerequest.Status(m.ToStatus),
		Action:    changerequest.Action(m.Action),
		ActorID:   asUUID(m.ActorID),
		Notes:     asText(m.Notes),
		CreatedAt: asTime(m.CreatedAt),
	}
}

func toDomainMeeting(m models.CabMeeting) *cabmeeting.Meeting {
	return &cabmeeting.Meeting{
		ID:          asUUID(m.ID),
		TenantID:    asUUID(m.TenantID),
		Status:      cabmeeting.Status(m.Status),
		ScheduledAt: asTime(m.ScheduledAt),
		Agenda:      asText(m.Agenda),
		Minutes:     asText(m.Minutes),
		CreatedAt:   asTime(m.CreatedAt),
		UpdatedAt:   asTime(m.UpdatedAt),
	}
}

func toDomainAgendaItem(m models.CabAgendaItem) cabmeeting.AgendaItem {
	item := cabmeeting.AgendaItem{
		ID:            asUUID(m.ID),
		MeetingID:     asUUID(m.MeetingID),
		ChangeID:      asUUID(m.ChangeID),
		DecidedBy:     asUUIDPtr(m.DecidedBy),
		DecisionNotes: asText(m.DecisionNotes),
	}
	if m.Decision.Valid {
		d := changerequest.Decision(m.Decision.String)
		item.Decision = &d
	}
	return item
}

func toDomainAttendee(m models.CabAttendee) cabmeeting.Attendee {
	return cabmeeting.Attendee{
		ID:        asUUID(m.ID),
		MeetingID: asUUID(m.MeetingID),
		UserID:    asUUID(m.UserID),
		Role:      cabmeeting.AttendeeRole(m.Role),
	}
}

func toDomainActionItem(m models.CabActionItem) cabmeeting.ActionItem {
	return cabmeeting.ActionItem{
		ID:          asUUID(m.ID),
		MeetingID:   asUUID(m.MeetingID),
		Description: m.Description,
		AssigneeID:  asUUIDPtr(m.AssigneeID),
		DueDate:     asTimePtr(m.DueDate),
		Status:      cabmeeting.ActionItemStatus(m.Status),
	}
}
