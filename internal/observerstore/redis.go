package observerstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/horizon-engine/horizon/internal/gorc"
)

// renewScript atomically renews a lease only if instanceID still owns it: a
// check-then-act Lua script rather than a renew-then-check round trip, so a
// concurrent takeover can't race the renewal.
var renewScript = redis.NewScript(`
	local key = KEYS[1]
	local instanceID = ARGV[1]
	local ttlSeconds = ARGV[2]

	local current = redis.call('GET', key)
	if current == instanceID then
		redis.call('EXPIRE', key, ttlSeconds)
		return 1
	else
		return 0
	end
`)

// RedisStore backs Store with Redis string keys, one per player, holding
// the owning instance ID with a TTL.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisStore builds a RedisStore. keyPrefix namespaces keys so multiple
// Horizon deployments can share a Redis instance without colliding.
func NewRedisStore(client *redis.Client, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "horizon:observer:"
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix}
}

func (r *RedisStore) key(player gorc.PlayerID) string {
	return r.keyPrefix + player.String()
}

func (r *RedisStore) Register(ctx context.Context, player gorc.PlayerID, instanceID string, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.key(player), instanceID, ttl).Err(); err != nil {
		return fmt.Errorf("observerstore: register %s: %w", player, err)
	}
	return nil
}

func (r *RedisStore) Renew(ctx context.Context, player gorc.PlayerID, instanceID string, ttl time.Duration) error {
	result, err := renewScript.Run(ctx, r.client, []string{r.key(player)}, instanceID, int(ttl.Seconds())).Result()
	if err != nil {
		return fmt.Errorf("observerstore: renew %s: %w", player, err)
	}
	renewed, ok := result.(int64)
	if !ok || renewed != 1 {
		return fmt.Errorf("observerstore: renew %s: instance %s does not own the lease", player, instanceID)
	}
	return nil
}

func (r *RedisStore) Lookup(ctx context.Context, player gorc.PlayerID) (string, bool, error) {
	instanceID, err := r.client.Get(ctx, r.key(player)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("observerstore: lookup %s: %w", player, err)
	}
	return instanceID, true, nil
}

func (r *RedisStore) Unregister(ctx context.Context, player gorc.PlayerID) error {
	if err := r.client.Del(ctx, r.key(player)).Err(); err != nil {
		return fmt.Errorf("observerstore: unregister %s: %w", player, err)
	}
	return nil
}

var _ Store = (*RedisStore)(nil)
