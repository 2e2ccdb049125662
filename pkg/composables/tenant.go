package composables

import (
	"context"
	"errors"

	"github.com/firelater/firelater/pkg/constants"
	"github.com/google/uuid"
)

var ErrNoTenantID = errors.New("no tenant id found in context")

// Tenant is the request-scoped tenant descriptor supplied by the external
// request-scoping collaborator.
type Tenant struct {
	ID   uuid.UUID
	Name string
}

func WithTenantID(ctx context.Context, tenantID uuid.UUID) context.Context {
	return context.WithValue(ctx, constants.TenantIDKey, tenantID)
}

func UseTenantID(ctx context.Context) (uuid.UUID, error) {
	tenantID, ok := ctx.Value(constants.TenantIDKey).(uuid.UUID)
	if !ok || tenantID == uuid.Nil {
		return uuid.Nil, ErrNoTenantID
	}
	return tenantID, nil
}
