// Package lock provides a redis-backed lease used to keep periodic work
// single-flight across processes.
package lock

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"solar_leads_backend/platform/config"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotHeld is returned when releasing a lease that expired or was taken over.
var ErrNotHeld = errors.New("lock not held")

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// NewRedisClient parses the redis URL, applies the TLS override and pings the server.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	opt, err := redis.ParseURL(cfg.GetRedisURL())
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if cfg.GetRedisTLSInsecure() {
		if opt.TLSConfig == nil {
			opt.TLSConfig = &tls.Config{}
		}
		opt.TLSConfig.InsecureSkipVerify = true
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Locker hands out leases on string keys.
type Locker struct {
	client redis.Cmdable
	prefix string
}

// NewLocker creates a Locker whose keys are namespaced by prefix.
func NewLocker(client redis.Cmdable, prefix string) *Locker {
	return &Locker{client: client, prefix: prefix}
}

// Lease is a held lock. It expires on its own after the TTL passed to TryAcquire.
type Lease struct {
	locker *Locker
	key    string
	token  string
}

// TryAcquire takes the lease if nobody holds it. It returns nil and no error when
// another holder has it.
func (l *Locker) TryAcquire(ctx context.Context, name string, ttl time.Duration) (*Lease, error) {
	key := l.prefix + name
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, nil
	}
	return &Lease{locker: l, key: key, token: token}, nil
}

// Release deletes the lease if it is still ours.
func (lease *Lease) Release(ctx context.Context) error {
	if lease == nil {
		return nil
	}
	deleted, err := releaseScript.Run(ctx, lease.locker.client, []string{lease.key}, lease.token).Int()
	if err != nil {
		return fmt.Errorf("release lock %s: %w", lease.key, err)
	}
	if deleted == 0 {
		return ErrNotHeld
	}
	return nil
}
