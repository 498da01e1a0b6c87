// Package pluginstore gives plugins a namespaced key-value storage
// abstraction without handing them a raw database handle: each plugin's keys
// are isolated by name, and the backing implementation is swappable between
// an in-memory map (default, single-process) and PostgreSQL (shared across
// replicas) without the plugin code changing.
package pluginstore

import "context"

// Store is the plugin key-value storage surface; pluginhost.HostCallbacks
// does not carry one. Values are opaque JSON-serializable payloads; callers
// own their own encoding.
type Store interface {
	Get(ctx context.Context, plugin, key string) ([]byte, bool, error)
	Set(ctx context.Context, plugin, key string, value []byte) error
	Delete(ctx context.Context, plugin, key string) error
	Keys(ctx context.Context, plugin, prefix string) ([]string, error)
	Clear(ctx context.Context, plugin string) error
}
