package cache

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"time"
)

// Cache is a read-through cache for expensive conversation queries. Values
// are opaque serialized bytes; callers own the encoding.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Invalidate(ctx context.Context, prefix string) error
	Close() error
}

// Query namespaces shared by the read path and the invalidation hooks on
// every mutating operation.
const (
	NamespaceTimeline = "timeline"
	NamespaceSummary  = "summary"
)

// NamespacePrefix returns the key prefix covering every QueryKey minted
// under the namespace, for use with Invalidate.
func NamespacePrefix(namespace string) string {
	return namespace + ":"
}

// QueryKey builds a canonical cache key for a query signature. The same
// logical query must always hash to the same key, so parts are joined in
// caller-supplied order and hashed with FNV-1a.
func QueryKey(namespace string, parts ...string) string {
	h := fnv.New64a()
	h.Write([]byte(strings.Join(parts, ":")))
	return fmt.Sprintf("%s:%x", namespace, h.Sum64())
}
