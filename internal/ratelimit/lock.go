package ratelimit

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const lockKeyPrefix = "contractbilling:"

// compare-and-delete: only the holder may drop the lease
const leaseReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// compare-and-extend: a lease lost to expiry is not revived
const leaseRefreshScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`

var (
	ErrLockNotConfigured = errors.New("lock_not_configured")
	ErrLockNameEmpty     = errors.New("lock_name_empty")
	ErrLockTTLInvalid    = errors.New("lock_ttl_invalid")
	ErrLeaseLost         = errors.New("lock_lease_lost")
)

// Lease is one holder's claim on a named job lock.
type Lease struct {
	Key   string
	Token string
	TTL   time.Duration
}

// Locker hands out single-holder redis leases for background jobs such as the
// plan change applier.
type Locker struct {
	client  *redis.Client
	release *redis.Script
	refresh *redis.Script
}

func NewLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{
		client:  client,
		release: redis.NewScript(leaseReleaseScript),
		refresh: redis.NewScript(leaseRefreshScript),
	}
}

// LockKey namespaces a job name, e.g. "applier" becomes
// "contractbilling:applier:lock".
func LockKey(name string) string {
	return lockKeyPrefix + strings.TrimSpace(name) + ":lock"
}

// Acquire returns a nil lease without error when another holder owns the job.
func (l *Locker) Acquire(ctx context.Context, name string, ttl time.Duration) (*Lease, error) {
	if l == nil || l.client == nil {
		return nil, ErrLockNotConfigured
	}
	if strings.TrimSpace(name) == "" {
		return nil, ErrLockNameEmpty
	}
	if ttl <= 0 {
		return nil, ErrLockTTLInvalid
	}

	lease := &Lease{Key: LockKey(name), Token: uuid.NewString(), TTL: ttl}
	ok, err := l.client.SetNX(ctx, lease.Key, lease.Token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return lease, nil
}

// Refresh pushes the lease expiry out by its TTL. ErrLeaseLost means another
// holder may already be running the job.
func (l *Locker) Refresh(ctx context.Context, lease *Lease) error {
	if l == nil || l.client == nil {
		return ErrLockNotConfigured
	}
	if lease == nil {
		return ErrLeaseLost
	}
	n, err := l.refresh.Run(ctx, l.client, []string{lease.Key}, lease.Token, lease.TTL.Milliseconds()).Int64()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLeaseLost
	}
	return nil
}

func (l *Locker) Release(ctx context.Context, lease *Lease) error {
	if l == nil || l.client == nil || lease == nil {
		return nil
	}
	return l.release.Run(ctx, l.client, []string{lease.Key}, lease.Token).Err()
}
