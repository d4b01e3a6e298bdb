package redis

import (
	"context"
	_ "embed"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/xenking/bazaar/internal/domain/cart"
)

//go:embed scripts/release_lock.lua
var releaseLockScript string

// ErrLockTimeout is returned when a lock could not be acquired in time.
var ErrLockTimeout = errors.New("lock wait timeout")

var _ cart.Locker = (*Locker)(nil)

// LockerOptions tunes lock acquisition.
type LockerOptions struct {
	// TTL bounds how long a crashed holder blocks others.
	TTL time.Duration
	// Wait bounds how long Lock retries before ErrLockTimeout.
	Wait time.Duration
	// Retry is the pause between acquisition attempts.
	Retry time.Duration
}

func (o *LockerOptions) setDefaults() {
	if o.TTL <= 0 {
		o.TTL = 10 * time.Second
	}
	if o.Wait <= 0 {
		o.Wait = 5 * time.Second
	}
	if o.Retry <= 0 {
		o.Retry = 25 * time.Millisecond
	}
}

// Locker is a distributed mutex: SET NX PX with a random owner token,
// released by a compare-and-delete script.
type Locker struct {
	rdb     *redis.Client
	release *redis.Script
	opts    LockerOptions
}

// NewLocker returns a Locker on rdb.
func NewLocker(rdb *redis.Client, opts LockerOptions) *Locker {
	opts.setDefaults()
	return &Locker{
		rdb:     rdb,
		release: redis.NewScript(releaseLockScript),
		opts:    opts,
	}
}

// Lock blocks until key is acquired, ctx is done or the wait bound elapses.
func (l *Locker) Lock(ctx context.Context, key string) (func() error, error) {
	key = "lock:" + key
	token := uuid.NewString()

	ctx, cancel := context.WithTimeout(ctx, l.opts.Wait)
	defer cancel()

	ticker := time.NewTicker(l.opts.Retry)
	defer ticker.Stop()

	for {
		ok, err := l.rdb.SetNX(ctx, key, token, l.opts.TTL).Result()
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return nil, errors.Wrapf(err, "acquire %q", key)
		}
		if ok {
			return l.releaser(key, token), nil
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, errors.Wrapf(ErrLockTimeout, "acquire %q", key)
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (l *Locker) releaser(key, token string) func() error {
	return func() error {
		// Release must run even when the request context is already done.
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		n, err := l.release.Run(ctx, l.rdb, []string{key}, token).Int64()
		if err != nil {
			return errors.Wrapf(err, "release %q", key)
		}
		if n == 0 {
			return errors.Errorf("release %q: lock expired or taken over", key)
		}
		return nil
	}
}
