package persistence

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/firelater/firelater/modules/changes/domain/changerequest"
	"github.com/firelater/firelater/modules/changes/infrastructure/persistence/models"
	"github.com/firelater/firelater/pkg/composables"
	"github.com/firelater/firelater/pkg/repo"
)

const (
	changeFindQuery = `
        SELECT
            c.id,
            c.tenant_id,
            c.title,
            c.description,
            c.type,
            c.risk_level,
            c.impact,
            c.status,
            c.cab_required,
            c.approval_count,
            c.rollback_plan,
            c.planned_start,
            c.planned_end,
            c.requester_id,
            c.created_at,
            c.updated_at
        FROM change_requests c`

	changeCountQuery = `SELECT COUNT(c.id) FROM change_requests c`

	changeCountByStatusQuery = `
        SELECT c.status, COUNT(c.id)
        FROM change_requests c
        WHERE c.tenant_id = $1
        GROUP BY c.status`

	changeInsertQuery = `
        INSERT INTO change_requests (
            id, tenant_id, title, description, type, risk_level, impact,
            status, cab_required, approval_count, rollback_plan,
            planned_start, planned_end, requester_id
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
        RETURNING created_at, updated_at`

	changeUpdateQuery = `
        UPDATE change_requests SET
            title = $3,
            description = $4,
            type = $5,
            risk_level = $6,
            impact = $7,
            status = $8,
            cab_required = $9,
            approval_count = $10,
            rollback_plan = $11,
            planned_start = $12,
            planned_end = $13,
            updated_at = NOW()
        WHERE id = $1 AND tenant_id = $2`

	approvalFindQuery = `
        SELECT a.id, a.change_id, a.tenant_id, a.approver_id, a.decision, a.chair_vote, a.notes, a.decided_at
        FROM change_approvals a
        WHERE a.change_id = $1 AND a.tenant_id = $2
        ORDER BY a.decided_at`

	approvalUpsertQuery = `
        INSERT INTO change_approvals (id, change_id, tenant_id, approver_id, decision, chair_vote, notes, decided_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        ON CONFLICT (change_id, approver_id) DO UPDATE SET
            decision = EXCLUDED.decision,
            chair_vote = EXCLUDED.chair_vote,
            notes = EXCLUDED.notes,
            decided_at = EXCLUDED.decided_at
        RETURNING id, change_id, tenant_id, approver_id, decision, chair_vote, notes, decided_at`

	historyInsertQuery = `
        INSERT INTO change_status_history (id, change_id, tenant_id, from_status, to_status, action, actor_id, notes)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	historyFindQuery = `
        SELECT h.id, h.change_id, h.tenant_id, h.from_status, h.to_status, h.action, h.actor_id, h.notes, h.created_at
        FROM change_status_history h
        WHERE h.change_id = $1 AND h.tenant_id = $2
        ORDER BY h.created_at`
)

// lockNotAvailable is the SQLSTATE raised when lock_timeout expires while
// waiting on FOR UPDATE.
const lockNotAvailable = "55P03"

type PgChangeRequestRepository struct {
	lockTimeout time.Duration
	fieldMap    map[changerequest.Field]string
}

func NewChangeRequestRepository(lockTimeout time.Duration) changerequest.Repository {
	if lockTimeout <= 0 {
		lockTimeout = 3 * time.Second
	}
	return &PgChangeRequestRepository{
		lockTimeout: lockTimeout,
		fieldMap: map[changerequest.Field]string{
			changerequest.StatusField:      "c.status",
			changerequest.TypeField:        "c.type",
			changerequest.RiskLevelField:   "c.risk_level",
			changerequest.ImpactField:      "c.impact",
			changerequest.RequesterIDField: "c.requester_id",
			changerequest.CreatedAtField:   "c.created_at",
			changerequest.UpdatedAtField:   "c.updated_at",
		},
	}
}

func (g *PgChangeRequestRepository) Create(ctx context.Context, change *changerequest.ChangeRequest) (*changerequest.ChangeRequest, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get tenant from context")
	}

	if change.ID == uuid.Nil {
		change.ID = uuid.New()
	}
	change.TenantID = tenantID

	row := tx.QueryRow(ctx, changeInsertQuery,
		pgUUID(change.ID),
		pgUUID(tenantID),
		change.Title,
		pgText(change.Description),
		string(change.Type),
		string(change.RiskLevel),
		string(change.Impact),
		string(change.Status),
		change.CabRequired,
		int32(change.ApprovalCount),
		pgText(change.RollbackPlan),
		pgTimePtr(change.PlannedStart),
		pgTimePtr(change.PlannedEnd),
		pgUUID(change.RequesterID),
	)
	var createdAt, updatedAt time.Time
	if err := row.Scan(&createdAt, &updatedAt); err != nil {
		return nil, errors.Wrap(err, "failed to insert change request")
	}
	change.CreatedAt = createdAt
	change.UpdatedAt = updatedAt
	return change, nil
}

func (g *PgChangeRequestRepository) Update(ctx context.Context, change *changerequest.ChangeRequest) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to get tenant from context")
	}

	tag, err := tx.Exec(ctx, changeUpdateQuery,
		pgUUID(change.ID),
		pgUUID(tenantID),
		change.Title,
		pgText(change.Description),
		string(change.Type),
		string(change.RiskLevel),
		string(change.Impact),
		string(change.Status),
		change.CabRequired,
		int32(change.ApprovalCount),
		pgText(change.RollbackPlan),
		pgTimePtr(change.PlannedStart),
		pgTimePtr(change.PlannedEnd),
	)
	if err != nil {
		return errors.Wrap(err, "failed to update change request")
	}
	if tag.RowsAffected() == 0 {
		return changerequest.ErrNotFound
	}
	return nil
}

func (g *PgChangeRequestRepository) GetByID(ctx context.Context, id uuid.UUID) (*changerequest.ChangeRequest, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get tenant from context")
	}
	return g.queryOne(ctx, tx, changeFindQuery+" WHERE c.id = $1 AND c.tenant_id = $2", pgUUID(id), pgUUID(tenantID))
}

// GetByIDForUpdate takes the per-change exclusive row lock with a bounded
// wait. Must run inside a transaction: SET LOCAL is scoped to it.
func (g *PgChangeRequestRepository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*changerequest.ChangeRequest, error) {
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

	change, err := g.queryOne(ctx, tx,
		changeFindQuery+" WHERE c.id = $1 AND c.tenant_id = $2 FOR UPDATE OF c",
		pgUUID(id), pgUUID(tenantID),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == lockNotAvailable {
			return nil, changerequest.ErrConcurrentModification
		}
		return nil, err
	}
	return change, nil
}

func (g *PgChangeRequestRepository) buildFilters(ctx context.Context, params *changerequest.FindParams) ([]string, []interface{}, error) {
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to get tenant from context")
	}

	where := []string{"c.tenant_id = $1"}
	args := []interface{}{pgUUID(tenantID)}

	if params != nil {
		for _, filter := range params.Filters {
			column, ok := g.fieldMap[filter.Column]
			if !ok {
				return nil, nil, errors.Wrap(fmt.Errorf("unknown filter field: %v", filter.Column), "invalid filter")
			}
			where = append(where, fmt.Sprintf("%s = $%d", column, len(args)+1))
			args = append(args, filter.Value)
		}
	}
	return where, args, nil
}

func (g *PgChangeRequestRepository) buildOrder(params *changerequest.FindParams) string {
	if params == nil || len(params.SortBy) == 0 {
		return " ORDER BY c.created_at DESC"
	}
	parts := make([]string, 0, len(params.SortBy))
	for _, sort := range params.SortBy {
		column, ok := g.fieldMap[sort.Column]
		if !ok {
			continue
		}
		dir := "DESC"
		if sort.Ascending {
			dir = "ASC"
		}
		parts = append(parts, column+" "+dir)
	}
	if len(parts) == 0 {
		return " ORDER BY c.created_at DESC"
	}
	return " ORDER BY " + strings.Join(parts, ", ")
}

func (g *PgChangeRequestRepository) GetPaginated(ctx context.Context, params *changerequest.FindParams) ([]*changerequest.ChangeRequest, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	where, args, err := g.buildFilters(ctx, params)
	if err != nil {
		return nil, err
	}

	query := changeFindQuery + " " + repo.JoinWhere(where...) + g.buildOrder(params)
	if params != nil {
		if clause := repo.FormatLimitOffset(params.Limit, params.Offset); clause != "" {
			query += " " + clause
		}
	}

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query change requests")
	}
	defer rows.Close()

	out := make([]*changerequest.ChangeRequest, 0)
	for rows.Next() {
		change, err := scanChange(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, change)
	}
	return out, rows.Err()
}

func (g *PgChangeRequestRepository) Count(ctx context.Context, params *changerequest.FindParams) (int64, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return 0, err
	}
	where, args, err := g.buildFilters(ctx, params)
	if err != nil {
		return 0, err
	}

	var count int64
	if err := tx.QueryRow(ctx, changeCountQuery+" "+repo.JoinWhere(where...), args...).Scan(&count); err != nil {
		return 0, errors.Wrap(err, "failed to count change requests")
	}
	return count, nil
}

func (g *PgChangeRequestRepository) CountByStatus(ctx context.Context) (map[changerequest.Status]int64, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get tenant from context")
	}

	rows, err := tx.Query(ctx, changeCountByStatusQuery, pgUUID(tenantID))
	if err != nil {
		return nil, errors.Wrap(err, "failed to count changes by status")
	}
	defer rows.Close()

	out := make(map[changerequest.Status]int64)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, errors.Wrap(err, "failed to scan status count")
		}
		out[changerequest.Status(status)] = count
	}
	return out, rows.Err()
}

func (g *PgChangeRequestRepository) Approvals(ctx context.Context, changeID uuid.UUID) ([]changerequest.Approval, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get tenant from context")
	}

	rows, err := tx.Query(ctx, approvalFindQuery, pgUUID(changeID), pgUUID(tenantID))
	if err != nil {
		return nil, errors.Wrap(err, "failed to query approvals")
	}
	defer rows.Close()

	out := make([]changerequest.Approval, 0)
	for rows.Next() {
		var m models.Approval
		if err := rows.Scan(&m.ID, &m.ChangeID, &m.TenantID, &m.ApproverID, &m.Decision, &m.ChairVote, &m.Notes, &m.DecidedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan approval")
		}
		out = append(out, toDomainApproval(m))
	}
	return out, rows.Err()
}

func (g *PgChangeRequestRepository) SaveApproval(ctx context.Context, approval changerequest.Approval) (changerequest.Approval, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return changerequest.Approval{}, err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return changerequest.Approval{}, errors.Wrap(err, "failed to get tenant from context")
	}

	var m models.Approval
	row := tx.QueryRow(ctx, approvalUpsertQuery,
		pgUUID(approval.ID),
		pgUUID(approval.ChangeID),
		pgUUID(tenantID),
		pgUUID(approval.ApproverID),
		string(approval.Decision),
		approval.ChairVote,
		pgText(approval.Notes),
		approval.DecidedAt,
	)
	if err := row.Scan(&m.ID, &m.ChangeID, &m.TenantID, &m.ApproverID, &m.Decision, &m.ChairVote, &m.Notes, &m.DecidedAt); err != nil {
		return changerequest.Approval{}, errors.Wrap(err, "failed to upsert approval")
	}
	return toDomainApproval(m), nil
}

func (g *PgChangeRequestRepository) AppendHistory(ctx context.Context, entry changerequest.StatusChange) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to get tenant from context")
	}

	_, err = tx.Exec(ctx, historyInsertQuery,
		pgUUID(entry.ID),
		pgUUID(entry.ChangeID),
		pgUUID(tenantID),
		string(entry.From),
		string(entry.To),
		string(entry.Action),
		pgUUID(entry.ActorID),
		pgText(entry.Notes),
	)
	if err != nil {
		return errors.Wrap(err, "failed to append status history")
	}
	return nil
}

func (g *PgChangeRequestRepository) History(ctx context.Context, changeID uuid.UUID) ([]changerequest.StatusChange, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get tenant from context")
	}

	rows, err := tx.Query(ctx, historyFindQuery, pgUUID(changeID), pgUUID(tenantID))
	if err != nil {
		return nil, errors.Wrap(err, "failed to query status history")
	}
	defer rows.Close()

	out := make([]changerequest.StatusChange, 0)
	for rows.Next() {
		var m models.StatusChange
		if err := rows.Scan(&m.ID, &m.ChangeID, &m.TenantID, &m.FromStatus, &m.ToStatus, &m.Action, &m.ActorID, &m.Notes, &m.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan status history")
		}
		out = append(out, toDomainStatusChange(m))
	}
	return out, rows.Err()
}

func (g *PgChangeRequestRepository) queryOne(ctx context.Context, tx repo.Tx, query string, args ...interface{}) (*changerequest.ChangeRequest, error) {
	change, err := scanChange(tx.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, changerequest.ErrNotFound
		}
		return nil, err
	}
	return change, nil
}

func scanChange(row pgx.Row) (*changerequest.ChangeRequest, error) {
	var m models.ChangeRequest
	if err := row.Scan(
		&m.ID,
		&m.TenantID,
		&m.Title,
		&m.Description,
		&m.Type,
		&m.RiskLevel,
		&m.Impact,
		&m.Status,
		&m.CabRequired,
		&m.ApprovalCount,
		&m.RollbackPlan,
		&m.PlannedStart,
		&m.PlannedEnd,
		&m.RequesterID,
		&m.CreatedAt,
		&m.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return toDomainChangeRequest(m), nil
}
