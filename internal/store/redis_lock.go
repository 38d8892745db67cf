package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

var renewScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker is a lease lock shared by every process pointed at the same
// Redis key. The holder renews the lease every ttl/3 until it releases, so
// the lease only lapses when the holder dies or loses Redis for a whole ttl.
type RedisLocker struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
	retry  time.Duration
}

func NewRedisLocker(client redis.UniversalClient, key string, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisLocker{client: client, key: key, ttl: ttl, retry: 50 * time.Millisecond}
}

func (l *RedisLocker) Lock(ctx context.Context) (func(), error) {
	token := uuid.NewString()
	for {
		ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("acquire lock %s: %w", l.key, err)
		}
		if ok {
			return l.releaser(token, l.keepAlive(token)), nil
		}
		select {
		case <-time.After(l.retry):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// keepAlive extends the lease while the returned stop func has not been
// called. Renewal ends early if the key no longer carries token.
func (l *RedisLocker) keepAlive(token string) func() {
	every := l.ttl / 3
	if every <= 0 {
		every = time.Millisecond
	}
	quit := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-quit:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), every)
				n, err := renewScript.Run(ctx, l.client, []string{l.key}, token, l.ttl.Milliseconds()).Int()
				cancel()
				if err == nil && n == 0 {
					return
				}
			}
		}
	}()
	return func() {
		close(quit)
		<-done
	}
}

func (l *RedisLocker) releaser(token string, stopRenew func()) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			if stopRenew != nil {
				stopRenew()
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			// a failed release still expires after ttl
			_ = releaseScript.Run(ctx, l.client, []string{l.key}, token).Err()
		})
	}
}
