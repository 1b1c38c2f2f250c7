package credentials

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	pkgredis "github.com/medjbersoundous/backend-ramassage-packers/pkg/redis"
)

const (
	defaultLeaseTTL  = 45 * time.Second
	leaseRetryFloor  = 50 * time.Millisecond
	leaseRetryCeil   = time.Second
	credentialLockNS = "credential"
)

var errLeaseBusy = errors.New("credential lease held by another process")

// Locker serializes token exchanges for one principal across processes.
type Locker interface {
	Lock(ctx context.Context, principal Principal) (unlock func(), err error)
}

type leaseStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
	LockKey(name, env string) string
}

// RedisLocker is a SETNX lease per principal. Waiters poll until the holder
// releases or its TTL lapses, so the TTL must cover a refresh plus a password
// grant.
type RedisLocker struct {
	store leaseStore
	ttl   time.Duration
}

func NewRedisLocker(store leaseStore, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = defaultLeaseTTL
	}
	return &RedisLocker{store: store, ttl: ttl}
}

func (l *RedisLocker) Lock(ctx context.Context, principal Principal) (func(), error) {
	key := l.store.LockKey(credentialLockNS, principal.String())
	owner := uuid.NewString()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = leaseRetryFloor
	policy.MaxInterval = leaseRetryCeil

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		ok, err := l.store.SetNX(ctx, key, owner, l.ttl)
		if err != nil {
			return struct{}{}, backoff.Permanent(fmt.Errorf("setnx %s: %w", key, err))
		}
		if !ok {
			return struct{}{}, errLeaseBusy
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(policy), backoff.WithMaxElapsedTime(l.ttl))
	if err != nil {
		return nil, err
	}

	return func() {
		releaseCtx := context.WithoutCancel(ctx)
		value, err := l.store.Get(releaseCtx, key)
		if err != nil || value != owner {
			return
		}
		_ = l.store.Del(releaseCtx, key)
	}, nil
}

type localLocker struct{}

func (localLocker) Lock(context.Context, Principal) (func(), error) {
	return func() {}, nil
}

var _ leaseStore = (*pkgredis.Client)(nil)
