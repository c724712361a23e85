// Package lease claims a candidate for the duration of one drain so that a
// second scheduler instance sharing the store does not process it too.
package lease

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "techfeed:lease:article:"

// Locker hands out short-lived exclusive claims on article ids.
type Locker interface {
	// Acquire returns ok=false when someone else holds the claim. release
	// is always safe to call.
	Acquire(ctx context.Context, id int64) (release func(), ok bool, err error)
}

func Key(id int64) string {
	return fmt.Sprintf("%s%d", keyPrefix, id)
}

// Noop always grants the claim. It matches the single-instance deployment.
type Noop struct{}

func (Noop) Acquire(context.Context, int64) (func(), bool, error) {
	return func() {}, true, nil
}

// Connect opens a redis client from a redis:// URL or a bare host:port.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		opt = &redis.Options{Addr: redisURL}
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// releaseScript deletes the key only if we still own it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

type Redis struct {
	client *redis.Client
	ttl    time.Duration
	log    *slog.Logger
}

func NewRedis(client *redis.Client, ttl time.Duration, log *slog.Logger) *Redis {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &Redis{client: client, ttl: ttl, log: log}
}

func (l *Redis) Acquire(ctx context.Context, id int64) (func(), bool, error) {
	key := Key(id)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return func() {}, false, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		return func() {}, false, nil
	}

	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.release(ctx, key, token); err != nil {
			// the claim stays held until its TTL runs out
			l.log.Warn("failed to release lease", "key", key, "ttl", l.ttl, "error", err)
		}
	}
	return release, true, nil
}

func (l *Redis) release(ctx context.Context, key, token string) error {
	return releaseScript.Run(ctx, l.client, []string{key}, token).Err()
}
