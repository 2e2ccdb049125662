package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/firelater/firelater/modules/changes/domain/cabmeeting"
	"github.com/firelater/firelater/modules/changes/domain/changerequest"
	"github.com/firelater/firelater/modules/changes/infrastructure/persistence/models"
	"github.com/firelater/firelater/pkg/composables"
	"github.com/firelater/firelater/pkg/repo"
)

const (
	meetingFindQuery = `
        SELECT m.id, m.tenant_id, m.status, m.scheduled_at, m.agenda, m.minutes, m.created_at, m.updated_at
        FROM cab_meetings m`

	meetingInsertQuery = `
        INSERT INTO cab_meetings (id, tenant_id, status, scheduled_at, agenda, minutes)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING created_at, updated_at`

	meetingUpdateQuery = `
        UPDATE cab_meetings SET
            status = $3,
            scheduled_at = $4,
            agenda = $5,
            minutes = $6,
            updated_at = NOW()
        WHERE id = $1 AND tenant_id = $2`

	agendaItemsQuery = `
        SELECT i.id, i.meeting_id, i.change_id, i.decision, i.decided_by, i.decision_notes
        FROM cab_agenda_items i
        JOIN cab_meetings m ON m.id = i.meeting_id
        WHERE i.meeting_id = $1 AND m.tenant_id = $2`

	agendaItemInsertQuery = `
        INSERT INTO cab_agenda_items (id, meeting_id, change_id)
        VALUES ($1, $2, $3)
        RETURNING id, meeting_id, change_id, decision, decided_by, decision_notes`

	agendaItemDeleteQuery = `
        DELETE FROM cab_agenda_items i
        USING cab_meetings m
        WHERE m.id = i.meeting_id AND i.meeting_id = $1 AND i.change_id = $2 AND m.tenant_id = $3`

	agendaItemLockQuery = `
        SELECT i.id, i.meeting_id, i.change_id, i.decision, i.decided_by, i.decision_notes
        FROM cab_agenda_items i
        WHERE i.meeting_id = $1 AND i.change_id = $2
          AND EXISTS (SELECT 1 FROM cab_meetings m WHERE m.id = i.meeting_id AND m.tenant_id = $3)
        FOR UPDATE OF i`

	agendaDecisionQuery = `
        UPDATE cab_agenda_items i SET
            decision = $4,
            decided_by = $5,
            decision_notes = $6
        FROM cab_meetings m
        WHERE m.id = i.meeting_id AND i.meeting_id = $1 AND i.change_id = $2 AND m.tenant_id = $3`

	attendeesQuery = `
        SELECT a.id, a.meeting_id, a.user_id, a.role
        FROM cab_attendees a
        JOIN cab_meetings m ON m.id = a.meeting_id
        WHERE a.meeting_id = $1 AND m.tenant_id = $2`

	attendeeInsertQuery = `
        INSERT INTO cab_attendees (id, meeting_id, user_id, role)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (meeting_id, user_id) DO UPDATE SET role = EXCLUDED.role
        RETURNING id, meeting_id, user_id, role`

	attendeeDeleteQuery = `
        DELETE FROM cab_attendees a
        USING cab_meetings m
        WHERE m.id = a.meeting_id AND a.meeting_id = $1 AND a.user_id = $2 AND m.tenant_id = $3`

	actionItemsQuery = `
        SELECT i.id, i.meeting_id, i.description, i.assignee_id, i.due_date, i.status
        FROM cab_action_items i
        JOIN cab_meetings m ON m.id = i.meeting_id
        WHERE i.meeting_id = $1 AND m.tenant_id = $2`

	actionItemInsertQuery = `
        INSERT INTO cab_action_items (id, meeting_id, description, assignee_id, due_date, status)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING id, meeting_id, description, assignee_id, due_date, status`

	actionItemCompleteQuery = `
        UPDATE cab_action_items i SET status = $4
        FROM cab_meetings m
        WHERE m.id = i.meeting_id AND i.meeting_id = $1 AND i.id = $2 AND m.tenant_id = $3`
)

type PgCabMeetingRepository struct {
	lockTimeout time.Duration
}

func NewCabMeetingRepository(lockTimeout time.Duration) cabmeeting.Repository {
	if lockTimeout <= 0 {
		lockTimeout = 3 * time.Second
	}
	return &PgCabMeetingRepository{lockTimeout: lockTimeout}
}

func (g *PgCabMeetingRepository) Create(ctx context.Context, meeting *cabmeeting.Meeting) (*cabmeeting.Meeting, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get tenant from context")
	}

	if meeting.ID == uuid.Nil {
		meeting.ID = uuid.New()
	}
	meeting.TenantID = tenantID

	row := tx.QueryRow(ctx, meetingInsertQuery,
		pgUUID(meeting.ID),
		pgUUID(tenantID),
		string(meeting.Status),
		meeting.ScheduledAt,
		pgText(meeting.Agenda),
		pgText(meeting.Minutes),
	)
	var createdAt, updatedAt time.Time
	if err := row.Scan(&createdAt, &updatedAt); err != nil {
		return nil, errors.Wrap(err, "failed to insert cab meeting")
	}
	meeting.CreatedAt = createdAt
	meeting.UpdatedAt = updatedAt
	return meeting, nil
}

func (g *PgCabMeetingRepository) Update(ctx context.Context, meeting *cabmeeting.Meeting) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to get tenant from context")
	}

	tag, err := tx.Exec(ctx, meetingUpdateQuery,
		pgUUID(meeting.ID),
		pgUUID(tenantID),
		string(meeting.Status),
		meeting.ScheduledAt,
		pgText(meeting.Agenda),
		pgText(meeting.Minutes),
	)
	if err != nil {
		return errors.Wrap(err, "failed to update cab meeting")
	}
	if tag.RowsAffected() == 0 {
		return cabmeeting.ErrNotFound
	}
	return nil
}

func (g *PgCabMeetingRepository) GetByID(ctx context.Context, id uuid.UUID) (*cabmeeting.Meeting, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get tenant from context")
	}

	meeting, err := scanMeeting(tx.QueryRow(ctx, meetingFindQuery+" WHERE m.id = $1 AND m.tenant_id = $2", pgUUID(id), pgUUID(tenantID)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cabmeeting.ErrNotFound
		}
		return nil, err
	}
	if err := g.loadRelations(ctx, tx, tenantID, meeting); err != nil {
		return nil, err
	}
	return meeting, nil
}

func (g *PgCabMeetingRepository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*cabmeeting.Meeting, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get tenant from context")
	}

	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", g.lockTimeout.Milliseconds())); err != nil {
		return nil, errors.Wrap(err, "failed to set lock timeout")
	}

	meeting, err := scanMeeting(tx.QueryRow(ctx, meetingFindQuery+" WHERE m.id = $1 AND m.tenant_id = $2 FOR UPDATE OF m", pgUUID(id), pgUUID(tenantID)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cabmeeting.ErrNotFound
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == lockNotAvailable {
			return nil, changerequest.ErrConcurrentModification
		}
		return nil, errors.Wrap(err, "failed to lock cab meeting")
	}
	if err := g.loadRelations(ctx, tx, tenantID, meeting); err != nil {
		return nil, err
	}
	return meeting, nil
}

func (g *PgCabMeetingRepository) GetPaginated(ctx context.Context, limit, offset int) ([]*cabmeeting.Meeting, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get tenant from context")
	}

	query := meetingFindQuery + " WHERE m.tenant_id = $1 ORDER BY m.scheduled_at DESC"
	if clause := repo.FormatLimitOffset(limit, offset); clause != "" {
		query += " " + clause
	}

	rows, err := tx.Query(ctx, query, pgUUID(tenantID))
	if err != nil {
		return nil, errors.Wrap(err, "failed to query cab meetings")
	}
	defer rows.Close()

	out := make([]*cabmeeting.Meeting, 0)
	for rows.Next() {
		meeting, err := scanMeeting(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, meeting)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, meeting := range out {
		if err := g.loadRelations(ctx, tx, tenantID, meeting); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (g *PgCabMeetingRepository) AddAgendaItem(ctx context.Context, item cabmeeting.AgendaItem) (cabmeeting.AgendaItem, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return cabmeeting.AgendaItem{}, err
	}
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}

	var m models.CabAgendaItem
	row := tx.QueryRow(ctx, agendaItemInsertQuery, pgUUID(item.ID), pgUUID(item.MeetingID), pgUUID(item.ChangeID))
	if err := row.Scan(&m.ID, &m.MeetingID, &m.ChangeID, &m.Decision, &m.DecidedBy, &m.DecisionNotes); err != nil {
		return cabmeeting.AgendaItem{}, errors.Wrap(err, "failed to insert agenda item")
	}
	return toDomainAgendaItem(m), nil
}

func (g *PgCabMeetingRepository) RemoveAgendaItem(ctx context.Context, meetingID, changeID uuid.UUID) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to get tenant from context")
	}

	tag, err := tx.Exec(ctx, agendaItemDeleteQuery, pgUUID(meetingID), pgUUID(changeID), pgUUID(tenantID))
	if err != nil {
		return errors.Wrap(err, "failed to remove agenda item")
	}
	if tag.RowsAffected() == 0 {
		return cabmeeting.ErrChangeNotOnAgenda
	}
	return nil
}

func (g *PgCabMeetingRepository) GetAgendaItemForUpdate(ctx context.Context, meetingID, changeID uuid.UUID) (cabmeeting.AgendaItem, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return cabmeeting.AgendaItem{}, err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return cabmeeting.AgendaItem{}, errors.Wrap(err, "failed to get tenant from context")
	}

	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", g.lockTimeout.Milliseconds())); err != nil {
		return cabmeeting.AgendaItem{}, errors.Wrap(err, "failed to set lock timeout")
	}

	var m models.CabAgendaItem
	row := tx.QueryRow(ctx, agendaItemLockQuery, pgUUID(meetingID), pgUUID(changeID), pgUUID(tenantID))
	if err := row.Scan(&m.ID, &m.MeetingID, &m.ChangeID, &m.Decision, &m.DecidedBy, &m.DecisionNotes); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return cabmeeting.AgendaItem{}, cabmeeting.ErrChangeNotOnAgenda
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == lockNotAvailable {
			return cabmeeting.AgendaItem{}, changerequest.ErrConcurrentModification
		}
		return cabmeeting.AgendaItem{}, errors.Wrap(err, "failed to lock agenda item")
	}
	return toDomainAgendaItem(m), nil
}

func (g *PgCabMeetingRepository) SaveAgendaDecision(ctx context.Context, meetingID, changeID uuid.UUID, decision changerequest.Decision, decidedBy uuid.UUID, notes string) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to get tenant from context")
	}

	tag, err := tx.Exec(ctx, agendaDecisionQuery,
		pgUUID(meetingID),
		pgUUID(changeID),
		pgUUID(tenantID),
		pgText(string(decision)),
		pgUUID(decidedBy),
		pgText(notes),
	)
	if err != nil {
		return errors.Wrap(err, "failed to save agenda decision")
	}
	if tag.RowsAffected() == 0 {
		return cabmeeting.ErrChangeNotOnAgenda
	}
	return nil
}

func (g *PgCabMeetingRepository) AddAttendee(ctx context.Context, attendee cabmeeting.Attendee) (cabmeeting.Attendee, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return cabmeeting.Attendee{}, err
	}
	if attendee.ID == uuid.Nil {
		attendee.ID = uuid.New()
	}

	var m models.CabAttendee
	row := tx.QueryRow(ctx, attendeeInsertQuery, pgUUID(attendee.ID), pgUUID(attendee.MeetingID), pgUUID(attendee.UserID), string(attendee.Role))
	if err := row.Scan(&m.ID, &m.MeetingID, &m.UserID, &m.Role); err != nil {
		return cabmeeting.Attendee{}, errors.Wrap(err, "failed to insert attendee")
	}
	return toDomainAttendee(m), nil
}

func (g *PgCabMeetingRepository) RemoveAttendee(ctx context.Context, meetingID, userID uuid.UUID) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to get tenant from context")
	}

	if _, err := tx.Exec(ctx, attendeeDeleteQuery, pgUUID(meetingID), pgUUID(userID), pgUUID(tenantID)); err != nil {
		return errors.Wrap(err, "failed to remove attendee")
	}
	return nil
}

func (g *PgCabMeetingRepository) AddActionItem(ctx context.Context, item cabmeeting.ActionItem) (cabmeeting.ActionItem, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return cabmeeting.ActionItem{}, err
	}
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	if item.Status == "" {
		item.Status = cabmeeting.ActionItemOpen
	}

	var m models.CabActionItem
	row := tx.QueryRow(ctx, actionItemInsertQuery,
		pgUUID(item.ID),
		pgUUID(item.MeetingID),
		item.Description,
		pgUUIDPtr(item.AssigneeID),
		pgTimePtr(item.DueDate),
		string(item.Status),
	)
	if err := row.Scan(&m.ID, &m.MeetingID, &m.Description, &m.AssigneeID, &m.DueDate, &m.Status); err != nil {
		return cabmeeting.ActionItem{}, errors.Wrap(err, "failed to insert action item")
	}
	return toDomainActionItem(m), nil
}

func (g *PgCabMeetingRepository) CompleteActionItem(ctx context.Context, meetingID, itemID uuid.UUID) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to get tenant from context")
	}

	tag, err := tx.Exec(ctx, actionItemCompleteQuery,
		pgUUID(meetingID),
		pgUUID(itemID),
		pgUUID(tenantID),
		string(cabmeeting.ActionItemCompleted),
	)
	if err != nil {
		return errors.Wrap(err, "failed to complete action item")
	}
	if tag.RowsAffected() == 0 {
		return cabmeeting.ErrNotFound
	}
	return nil
}

func (g *PgCabMeetingRepository) loadRelations(ctx context.Context, tx repo.Tx, tenantID uuid.UUID, meeting *cabmeeting.Meeting) error {
	rows, err := tx.Query(ctx, agendaItemsQuery, pgUUID(meeting.ID), pgUUID(tenantID))
	if err != nil {
		return errors.Wrap(err, "failed to query agenda items")
	}
	meeting.Changes = meeting.Changes[:0]
	for rows.Next() {
		var m models.CabAgendaItem
		if err := rows.Scan(&m.ID, &m.MeetingID, &m.ChangeID, &m.Decision, &m.DecidedBy, &m.DecisionNotes); err != nil {
			rows.Close()
			return errors.Wrap(err, "failed to scan agenda item")
		}
		meeting.Changes = append(meeting.Changes, toDomainAgendaItem(m))
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = tx.Query(ctx, attendeesQuery, pgUUID(meeting.ID), pgUUID(tenantID))
	if err != nil {
		return errors.Wrap(err, "failed to query attendees")
	}
	meeting.Attendees = meeting.Attendees[:0]
	for rows.Next() {
		var m models.CabAttendee
		if err := rows.Scan(&m.ID, &m.MeetingID, &m.UserID, &m.Role); err != nil {
			rows.Close()
			return errors.Wrap(err, "failed to scan attendee")
		}
		meeting.Attendees = append(meeting.Attendees, toDomainAttendee(m))
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = tx.Query(ctx, actionItemsQuery, pgUUID(meeting.ID), pgUUID(tenantID))
	if err != nil {
		return errors.Wrap(err, "failed to query action items")
	}
	meeting.ActionItems = meeting.ActionItems[:0]
	for rows.Next() {
		var m models.CabActionItem
		if err := rows.Scan(&m.ID, &m.MeetingID, &m.Description, &m.AssigneeID, &m.DueDate, &m.Status); err != nil {
			rows.Close()
			return errors.Wrap(err, "failed to scan action item")
		}
		meeting.ActionItems = append(meeting.ActionItems, toDomainActionItem(m))
	}
	rows.Close()
	return rows.Err()
}

func scanMeeting(row pgx.Row) (*cabmeeting.Meeting, error) {
	var m models.CabMeeting
	if err := row.Scan(&m.ID, &m.TenantID, &m.Status, &m.ScheduledAt, &m.Agenda, &m.Minutes, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	return toDomainMeeting(m), nil
}
