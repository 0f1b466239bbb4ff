package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// Owner-checked scripts: a lease only touches the key while it still holds it.
var (
	releaseLeaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)
	extendLeaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)
)

var (
	ErrLockHeld        = errors.New("lock held by another owner")
	ErrLockLost        = errors.New("lock no longer owned")
	errLockUnavailable = errors.New("lock client not configured")
)

// Locker hands out exclusive, expiring leases on redis keys.
type Locker struct {
	client *redis.Client
}

func NewLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{client: client}
}

// Lease is one owner's hold on a key until Release or expiry.
type Lease struct {
	client *redis.Client
	key    string
	owner  string
}

// Acquire takes key for ttl. It returns ErrLockHeld when someone else owns it.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	if l == nil || l.client == nil {
		return nil, errLockUnavailable
	}
	if key == "" || ttl <= 0 {
		return nil, errors.New("lock key and ttl are required")
	}

	owner := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return &Lease{client: l.client, key: key, owner: owner}, nil
}

// Extend pushes the expiry to ttl from now. ErrLockLost means the lease
// expired and another owner may have taken the key.
func (le *Lease) Extend(ctx context.Context, ttl time.Duration) error {
	if le == nil {
		return ErrLockLost
	}
	n, err := extendLeaseScript.Run(ctx, le.client, []string{le.key}, le.owner, ttl.Milliseconds()).Int64()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockLost
	}
	return nil
}

// Release drops the key if this lease still owns it.
func (le *Lease) Release(ctx context.Context) error {
	if le == nil {
		return nil
	}
	return releaseLeaseScript.Run(ctx, le.client, []string{le.key}, le.owner).Err()
}
