package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/firelater/firelater/modules/changes/domain/changerequest"
	"github.com/firelater/firelater/pkg/cache"
	"github.com/firelater/firelater/pkg/composables"
)

// QueryOptions carries the two cache TTL shapes: short for point lookups of
// active changes, longer for advisory list/dashboard views.
type QueryOptions struct {
	EntityTTL time.Duration
	ListTTL   time.Duration
}

func (o QueryOptions) withDefaults() QueryOptions {
	if o.EntityTTL <= 0 {
		o.EntityTTL = 30 * time.Second
	}
	if o.ListTTL <= 0 {
		o.ListTTL = 5 * time.Minute
	}
	return o
}

// ChangeList is the cached payload of a list read.
type ChangeList struct {
	Items []*changerequest.ChangeRequest `json:"items"`
	Total int64                          `json:"total"`
}

// ChangeQueryService serves the read paths through the cache layer. It is
// strictly advisory: governance decisions never read through it.
type ChangeQueryService struct {
	repo  changerequest.Repository
	cache *cache.Layer
	opts  QueryOptions
}

func NewChangeQueryService(repo changerequest.Repository, cacheLayer *cache.Layer, opts QueryOptions) *ChangeQueryService {
	return &ChangeQueryService{
		repo:  repo,
		cache: cacheLayer,
		opts:  opts.withDefaults(),
	}
}

// GetChange returns one change, cache-aside with the short entity TTL.
func (s *ChangeQueryService) GetChange(ctx context.Context, id uuid.UUID) (*changerequest.ChangeRequest, error) {
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return nil, err
	}
	key := changeKeys.Entity(tenantID, id)
	return cache.GetOrSetJSON(ctx, s.cache, key, s.opts.EntityTTL, func(ctx context.Context) (*changerequest.ChangeRequest, error) {
		return s.repo.GetByID(ctx, id)
	})
}

// ListChanges returns a filtered, paginated tenant view with its total count,
// cached under the filter-hash key.
func (s *ChangeQueryService) ListChanges(ctx context.Context, params *changerequest.FindParams) (*ChangeList, error) {
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return nil, err
	}
	key := changeKeys.List(tenantID, params.FilterMap())
	return cache.GetOrSetJSON(ctx, s.cache, key, s.opts.ListTTL, func(ctx context.Context) (*ChangeList, error) {
		items, err := s.repo.GetPaginated(ctx, params)
		if err != nil {
			return nil, err
		}
		total, err := s.repo.Count(ctx, params)
		if err != nil {
			return nil, err
		}
		return &ChangeList{Items: items, Total: total}, nil
	})
}

// CountByStatus returns the dashboard aggregate, cached with the advisory
// list TTL.
func (s *ChangeQueryService) CountByStatus(ctx context.Context) (map[changerequest.Status]int64, error) {
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return nil, err
	}
	key := changeKeys.Aggregate(tenantID, "status_counts")
	return cache.GetOrSetJSON(ctx, s.cache, key, s.opts.ListTTL, func(ctx context.Context) (map[changerequest.Status]int64, error) {
		return s.repo.CountByStatus(ctx)
	})
}

// History returns the change's status audit trail, uncached: it is read
// rarely and always wants the committed truth.
func (s *ChangeQueryService) History(ctx context.Context, changeID uuid.UUID) ([]changerequest.StatusChange, error) {
	return s.repo.History(ctx, changeID)
}

// Approvals returns the change's current approval records.
func (s *ChangeQueryService) Approvals(ctx context.Context, changeID uuid.UUID) ([]changerequest.Approval, error) {
	return s.repo.Approvals(ctx, changeID)
}
