package changerequest

import (
	"context"
	"strconv"

	"github.com/google/uuid"
)

type Field int

const (
	StatusField Field = iota
	TypeField
	RiskLevelField
	ImpactField
	RequesterIDField
	CreatedAtField
	UpdatedAtField
)

type SortOrder string

const (
	SortAsc  SortOrder = "ASC"
	SortDesc SortOrder = "DESC"
)

type Filter struct {
	Column Field
	Value  string
}

type SortBy struct {
	Column    Field
	Ascending bool
}

type FindParams struct {
	Limit   int
	Offset  int
	SortBy  []SortBy
	Filters []Filter
}

// FilterMap renders the filters into the flat map used for cache key hashing.
func (p *FindParams) FilterMap() map[string]string {
	if p == nil {
		return nil
	}
	out := make(map[string]string, len(p.Filters)+2)
	for _, f := range p.Filters {
		out[fieldName(f.Column)] = f.Value
	}
	if p.Limit > 0 {
		out["_limit"] = strconv.Itoa(p.Limit)
	}
	if p.Offset > 0 {
		out["_offset"] = strconv.Itoa(p.Offset)
	}
	return out
}

func fieldName(f Field) string {
	switch f {
	case StatusField:
		return "status"
	case TypeField:
		return "type"
	case RiskLevelField:
		return "risk_level"
	case ImpactField:
		return "impact"
	case RequesterIDField:
		return "requester_id"
	case CreatedAtField:
		return "created_at"
	case UpdatedAtField:
		return "updated_at"
	}
	return "unknown"
}

// Repository is the persistence surface for changes, their approvals and the
// status audit trail. All reads and writes are tenant-scoped through the
// context.
type Repository interface {
	Create(ctx context.Context, change *ChangeRequest) (*ChangeRequest, error)
	Update(ctx context.Context, change *ChangeRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*ChangeRequest, error)
	// GetByIDForUpdate acquires the per-change exclusive row lock and returns
	// the freshly-read row. The wait is bounded; a timeout surfaces as
	// ErrConcurrentModification. Must run inside a transaction.
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*ChangeRequest, error)
	GetPaginated(ctx context.Context, params *FindParams) ([]*ChangeRequest, error)
	Count(ctx context.Context, params *FindParams) (int64, error)
	CountByStatus(ctx context.Context) (map[Status]int64, error)

	Approvals(ctx context.Context, changeID uuid.UUID) ([]Approval, error)
	// SaveApproval upserts by (changeID, approverID): a repeat decision from
	// the same approver overwrites the earlier one.
	SaveApproval(ctx context.Context, approval Approval) (Approval, error)

	AppendHistory(ctx context.Context, entry StatusChange) error
	History(ctx context.Context, changeID uuid.UUID) ([]StatusChange, error)
}
