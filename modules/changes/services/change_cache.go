package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/firelater/firelater/pkg/cache"
)

const cacheNamespace = "changes"

var changeKeys = cache.NewKeyBuilder("firelater", cacheNamespace)

// invalidateChangeCache purges, after a committed mutation, the change's point
// key and every tenant-scoped list/aggregate view. Point keys go one by one;
// views go by pattern so new filter combinations never escape the purge.
func invalidateChangeCache(ctx context.Context, layer *cache.Layer, tenantID, changeID uuid.UUID) {
	if layer == nil {
		return
	}
	layer.Invalidate(ctx,
		[]string{changeKeys.Entity(tenantID, changeID)},
		changeKeys.ViewsPattern(tenantID),
		changeKeys.AggregatesPattern(tenantID),
	)
}
