package cache

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// KeyBuilder produces tenant-namespaced cache keys with a fixed shape:
//
//	<prefix>:<tenant>:<namespace>:<kind>[:<id|hash>]
//
// Building keys through one place keeps point invalidation and the
// namespace-wide pattern purge from ever disagreeing on layout.
type KeyBuilder struct {
	prefix    string
	namespace string
}

func NewKeyBuilder(prefix, namespace string) KeyBuilder {
	return KeyBuilder{prefix: prefix, namespace: namespace}
}

func (b KeyBuilder) Entity(tenantID uuid.UUID, id uuid.UUID) string {
	return fmt.Sprintf("%s:%s:%s:entity:%s", b.prefix, tenantID, b.namespace, id)
}

func (b KeyBuilder) List(tenantID uuid.UUID, filters map[string]string) string {
	return fmt.Sprintf("%s:%s:%s:list:%s", b.prefix, tenantID, b.namespace, hashFilters(filters))
}

func (b KeyBuilder) Aggregate(tenantID uuid.UUID, name string) string {
	return fmt.Sprintf("%s:%s:%s:agg:%s", b.prefix, tenantID, b.namespace, name)
}

// ViewsPattern matches every list and aggregate key for the tenant, but not
// entity keys. Entity keys are invalidated point-wise.
func (b KeyBuilder) ViewsPattern(tenantID uuid.UUID) string {
	return fmt.Sprintf("%s:%s:%s:list:*", b.prefix, tenantID, b.namespace)
}

func (b KeyBuilder) AggregatesPattern(tenantID uuid.UUID) string {
	return fmt.Sprintf("%s:%s:%s:agg:*", b.prefix, tenantID, b.namespace)
}

func hashFilters(filters map[string]string) string {
	if len(filters) == 0 {
		return "all"
	}
	parts := make([]string, 0, len(filters))
	for k, v := range filters {
		parts = append(parts, k+"="+v)
	}
	sort.Strings(parts)
	h := fnv.New64a()
	_, _ = h.Write([]byte(strings.Join(parts, "&")))
	return fmt.Sprintf("%x", h.Sum64())
}
