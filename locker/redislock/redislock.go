// Package redislock implements membership.Locker on top of Redis so freezes
// are serialized across several server instances.
//
// A lock is a key set with NX and a TTL. The value is a random token, and
// release deletes the key only while it still holds that token, so a lock
// that expired and was taken by another instance is never released here.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/warp/cohort-engine/membership"
)

var _ membership.Locker = (*Locker)(nil)

const (
	// DefaultTTL must outlive the slowest freeze transaction.
	DefaultTTL = 60 * time.Second

	defaultPoll = 100 * time.Millisecond
	keyPrefix   = "lock:"
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Locker struct {
	client redis.UniversalClient
	ttl    time.Duration
	poll   time.Duration
}

type Option func(*Locker)

func WithTTL(ttl time.Duration) Option {
	return func(l *Locker) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(l *Locker) {
		if d > 0 {
			l.poll = d
		}
	}
}

func New(client redis.UniversalClient, opts ...Option) *Locker {
	l := &Locker{client: client, ttl: DefaultTTL, poll: defaultPoll}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// TryAcquire polls SET NX until it wins or timeout elapses.
func (l *Locker) TryAcquire(ctx context.Context, key string, timeout time.Duration) (membership.Lock, error) {
	token := uuid.NewString()
	redisKey := keyPrefix + key
	deadline := time.Now().Add(timeout)

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("redis lock %s: %w", key, err)
		}
		if ok {
			return &lock{client: l.client, key: redisKey, token: token}, nil
		}

		wait := time.Until(deadline)
		if wait <= 0 {
			return nil, fmt.Errorf("%s: %w", key, membership.ErrLockBusy)
		}
		if wait > l.poll {
			wait = l.poll
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

type lock struct {
	client   redis.UniversalClient
	key      string
	token    string
	released bool
}

func (lk *lock) Release(ctx context.Context) error {
	if lk.released {
		return nil
	}
	lk.released = true

	err := releaseScript.Run(ctx, lk.client, []string{lk.key}, lk.token).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis unlock %s: %w", lk.key, err)
	}
	return nil
}
