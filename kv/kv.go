// Package kv declares the durable key/value collaborator used for the
// entitlement record and impression counters. Backends live under storage/.
package kv

import "context"

// Store is a minimal durable key/value store. Implementations must treat each
// Set as an atomic overwrite of the whole value.
type Store interface {
	// Get returns the value and true when the key exists.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}
