// Package storage abstracts the internal object store holding task outputs
// and execution artifacts.
package storage

import "context"

// Storage is the object-store surface the engine core needs. Workers write
// objects under execution-scoped prefixes; purge removes them by prefix.
type Storage interface {
	// DeleteByPrefix removes every object under the prefix and returns how
	// many were deleted.
	DeleteByPrefix(ctx context.Context, tenantID, prefix string) (int, error)
}
