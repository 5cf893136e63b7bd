package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	disparo "github.com/qualidade-ams/books-sonda-sub000"
	"github.com/qualidade-ams/books-sonda-sub000/id"
)

// Lua scripts keep the check-and-act pairs atomic on the Redis side.
var (
	// extendScript refreshes the TTL only when we still own the key.
	extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	// releaseScript deletes the key only when we still own it.
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0`)
)

// Redis is a Locker backed by a Redis lease: SET NX PX to take, an
// ownership-checked PEXPIRE to extend, and an ownership-checked DEL to
// release.
type Redis struct {
	client *redis.Client
	owner  string
	prefix string
}

// NewRedis creates a Redis-backed Locker with a unique owner identity.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{
		client: client,
		owner:  id.NewWorkerID().String(),
		prefix: "disparo:lock:",
	}
}

func (r *Redis) key(key string) string { return r.prefix + key }

func (r *Redis) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.key(key), r.owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("lock: acquire %q: %w", key, err)
	}
	if ok {
		return true, nil
	}

	// The key exists. If we are the owner, extend the lease instead.
	extended, err := extendScript.Run(ctx, r.client, []string{r.key(key)}, r.owner, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("lock: extend %q: %w", key, err)
	}
	return extended == 1, nil
}

func (r *Redis) Release(ctx context.Context, key string) error {
	deleted, err := releaseScript.Run(ctx, r.client, []string{r.key(key)}, r.owner).Int()
	if err != nil {
		return fmt.Errorf("lock: release %q: %w", key, err)
	}
	if deleted == 0 {
		return disparo.ErrLockNotHeld
	}
	return nil
}
