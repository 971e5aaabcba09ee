package port

import (
	"context"
	"time"
)

// ClaimState is the outcome of claiming an idempotency key.
type ClaimState int

const (
	// ClaimAcquired means the caller owns the key and should do the work.
	ClaimAcquired ClaimState = iota
	// ClaimInFlight means another worker holds an unexpired claim.
	ClaimInFlight
	// ClaimDone means the work was already completed.
	ClaimDone
)

type CacheRepository interface {
	// ClaimIdempotency marks key as in progress for ttl unless it is already
	// claimed or done. An unfinished claim expires so the work can be retried.
	ClaimIdempotency(ctx context.Context, key string, ttl time.Duration) (ClaimState, error)

	// CompleteIdempotency records the guarded work as done for the long retention window
	CompleteIdempotency(ctx context.Context, key string) error

	// ReleaseIdempotency removes a key so the guarded work may run again
	ReleaseIdempotency(ctx context.Context, key string) error

	// AcquireLease takes an exclusive, expiring lease for owner. The current
	// holder calling again extends it.
	AcquireLease(ctx context.Context, name, owner string, ttl time.Duration) (bool, error)

	// RenewLease extends the lease only while owner still holds it. A lease
	// that lapsed is not taken again.
	RenewLease(ctx context.Context, name, owner string, ttl time.Duration) (bool, error)

	// ReleaseLease drops the lease if owner still holds it
	ReleaseLease(ctx context.Context, name, owner string) error
}
