// Package observerstore is an optional, purely additive directory mapping a
// connected player to the horizond replica instance currently holding their
// socket. A single-instance deployment has no use for it: GORC can always
// reach every local player directly through its own wsnet.Hub. It only
// matters once horizond runs behind a fleet, where the Replication
// Scheduler on one instance may need to hand a frame to an instance other
// than itself.
package observerstore

import (
	"context"
	"time"

	"github.com/horizon-engine/horizon/internal/gorc"
)

// Store maps a player to the replica instance ID holding their connection.
// Entries are leased: callers must Renew before ttl elapses or the entry
// disappears, so a crashed instance's players age out automatically.
type Store interface {
	Register(ctx context.Context, player gorc.PlayerID, instanceID string, ttl time.Duration) error
	Renew(ctx context.Context, player gorc.PlayerID, instanceID string, ttl time.Duration) error
	Lookup(ctx context.Context, player gorc.PlayerID) (instanceID string, ok bool, err error)
	Unregister(ctx context.Context, player gorc.PlayerID) error
}
