package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/studyhall/xp-engine/logger"
)

const (
	keyPrefix      = "xp:lock:"
	releaseTimeout = 5 * time.Second
)

// releaseScript deletes the key only if it still carries our token, so an
// expired lease cannot release a lock another replica has since taken.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the lease only while we still hold it.
var renewScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Redis shares locks across server replicas. Leases expire after TTL in
// case a holder dies without releasing; a live holder renews its lease
// every TTL/3 until unlock.
type Redis struct {
	rdb *goredis.Client
	ttl time.Duration
	log *logger.Logger
}

// NewRedis connects and pings addr.
func NewRedis(ctx context.Context, addr string, ttl time.Duration, log *logger.Logger) (*Redis, error) {
	if log == nil {
		log = logger.NewNop()
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Redis{rdb: rdb, ttl: ttl, log: log.With("service", "RedisLocker")}, nil
}

func (r *Redis) TryLock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	ok, err := r.rdb.SetNX(ctx, keyPrefix+key, token, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrHeld
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go r.renew(key, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()
			if err := releaseScript.Run(ctx, r.rdb, []string{keyPrefix + key}, token).Err(); err != nil {
				r.log.Warn("redis lock release failed", "key", key, "error", err)
			}
		})
	}, nil
}

// renew extends the lease until stop is closed or the lease is lost.
func (r *Redis) renew(key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(max(r.ttl/3, 10*time.Millisecond))
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		held, err := renewScript.Run(ctx, r.rdb, []string{keyPrefix + key}, token, r.ttl.Milliseconds()).Int()
		cancel()
		switch {
		case err != nil:
			r.log.Warn("redis lock renew failed", "key", key, "error", err)
		case held == 0:
			r.log.Warn("redis lock lease lost", "key", key)
			return
		}
	}
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}
