package storage

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/registration/internal/port"
)

const (
	leaseKeyPrefix       = "lease:"
	idempotencyKeyPrefix = "applied:"
	idempotencyKeyTTL    = 7 * 24 * time.Hour

	claimDone = "done"
)

// Returns 1 when claimed, 0 when done, -1 while another claim is live.
var claimIdempotencyScript = redis.NewScript(`
local key = KEYS[1]
local ttl = ARGV[1]

local state = redis.call('GET', key)
if not state then
	redis.call('SET', key, 'pending', 'PX', ttl)
	return 1
end
if state == 'done' then
	return 0
end

return -1
`)

var acquireLeaseScript = redis.NewScript(`
local key = KEYS[1]
local owner = ARGV[1]
local ttl = ARGV[2]

if redis.call('SET', key, owner, 'NX', 'PX', ttl) then
	return 1
end
if redis.call('GET', key) == owner then
	redis.call('PEXPIRE', key, ttl)
	return 1
end

return 0
`)

var renewLeaseScript = redis.NewScript(`
local key = KEYS[1]
local owner = ARGV[1]
local ttl = ARGV[2]

if redis.call('GET', key) == owner then
	return redis.call('PEXPIRE', key, ttl)
end

return 0
`)

var releaseLeaseScript = redis.NewScript(`
local key = KEYS[1]
local owner = ARGV[1]

if redis.call('GET', key) == owner then
	return redis.call('DEL', key)
end

return 0
`)

var releaseClaimScript = redis.NewScript(`
local key = KEYS[1]

if redis.call('GET', key) == 'pending' then
	return redis.call('DEL', key)
end

return 0
`)

var _ port.CacheRepository = (*RedisAdapter)(nil)

type RedisAdapter struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client, ttl: idempotencyKeyTTL}
}

func (r *RedisAdapter) ClaimIdempotency(ctx context.Context, key string, ttl time.Duration) (port.ClaimState, error) {
	res, err := claimIdempotencyScript.Run(ctx, r.client, []string{idempotencyKeyPrefix + key}, ttl.Milliseconds()).Int()
	if err != nil {
		return port.ClaimInFlight, err
	}

	switch res {
	case 1:
		return port.ClaimAcquired, nil
	case 0:
		return port.ClaimDone, nil
	default:
		return port.ClaimInFlight, nil
	}
}

func (r *RedisAdapter) CompleteIdempotency(ctx context.Context, key string) error {
	return r.client.Set(ctx, idempotencyKeyPrefix+key, claimDone, r.ttl).Err()
}

// ReleaseIdempotency drops an unfinished claim. Completed keys stay.
func (r *RedisAdapter) ReleaseIdempotency(ctx context.Context, key string) error {
	return releaseClaimScript.Run(ctx, r.client, []string{idempotencyKeyPrefix + key}).Err()
}

func (r *RedisAdapter) AcquireLease(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	res, err := acquireLeaseScript.Run(ctx, r.client, []string{leaseKeyPrefix + name}, owner, ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

func (r *RedisAdapter) RenewLease(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	res, err := renewLeaseScript.Run(ctx, r.client, []string{leaseKeyPrefix + name}, owner, ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

func (r *RedisAdapter) ReleaseLease(ctx context.Context, name, owner string) error {
	return releaseLeaseScript.Run(ctx, r.client, []string{leaseKeyPrefix + name}, owner).Err()
}
