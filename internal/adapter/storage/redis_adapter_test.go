package storage

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/registration/internal/port"
)

func getRedisClient(t *testing.T) *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	return client
}

func TestClaimIdempotency_Success(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client)

	// Setup
	client.Del(ctx, idempotencyKeyPrefix+"test-idem-key")
	defer client.Del(ctx, idempotencyKeyPrefix+"test-idem-key")

	// First call should claim
	state, err := adapter.ClaimIdempotency(ctx, "test-idem-key", time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state != port.ClaimAcquired {
		t.Errorf("expected first call to claim, got %v", state)
	}

	// Second call sees the live claim
	state, err = adapter.ClaimIdempotency(ctx, "test-idem-key", time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state != port.ClaimInFlight {
		t.Errorf("expected in-flight, got %v", state)
	}
	if ttl := client.PTTL(ctx, idempotencyKeyPrefix+"test-idem-key").Val(); ttl <= 0 || ttl > time.Minute {
		t.Errorf("expected claim ttl within %s, got %s", time.Minute, ttl)
	}

	if err := adapter.CompleteIdempotency(ctx, "test-idem-key"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	state, err = adapter.ClaimIdempotency(ctx, "test-idem-key", time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state != port.ClaimDone {
		t.Errorf("expected done, got %v", state)
	}

	ttl := client.TTL(ctx, idempotencyKeyPrefix+"test-idem-key").Val()
	if ttl <= time.Minute || ttl > idempotencyKeyTTL {
		t.Errorf("expected ttl within %s, got %s", idempotencyKeyTTL, ttl)
	}
}

func TestClaimIdempotency_ExpiresWhenAbandoned(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client)
	client.Del(ctx, idempotencyKeyPrefix+"abandoned-key")
	defer client.Del(ctx, idempotencyKeyPrefix+"abandoned-key")

	// A worker claims and dies without completing.
	if state, _ := adapter.ClaimIdempotency(ctx, "abandoned-key", 50*time.Millisecond); state != port.ClaimAcquired {
		t.Fatalf("expected claim, got %v", state)
	}
	time.Sleep(100 * time.Millisecond)

	state, err := adapter.ClaimIdempotency(ctx, "abandoned-key", time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state != port.ClaimAcquired {
		t.Errorf("expected redelivery to claim again, got %v", state)
	}
}

func TestReleaseIdempotency(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client)
	client.Del(ctx, idempotencyKeyPrefix+"release-key")
	defer client.Del(ctx, idempotencyKeyPrefix+"release-key")

	if state, _ := adapter.ClaimIdempotency(ctx, "release-key", time.Minute); state != port.ClaimAcquired {
		t.Fatal("expected claim")
	}
	if err := adapter.ReleaseIdempotency(ctx, "release-key"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state, _ := adapter.ClaimIdempotency(ctx, "release-key", time.Minute); state != port.ClaimAcquired {
		t.Error("expected claim after release")
	}

	// Completed keys survive a release.
	if err := adapter.CompleteIdempotency(ctx, "release-key"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := adapter.ReleaseIdempotency(ctx, "release-key"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state, _ := adapter.ClaimIdempotency(ctx, "release-key", time.Minute); state != port.ClaimDone {
		t.Errorf("expected done, got %v", state)
	}
}

func TestClaimIdempotency_Concurrent(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client)

	// Setup
	client.Del(ctx, idempotencyKeyPrefix+"concurrent-idem-key")
	defer client.Del(ctx, idempotencyKeyPrefix+"concurrent-idem-key")

	var successCount atomic.Int32
	var wg sync.WaitGroup
	concurrency := 100

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			state, err := adapter.ClaimIdempotency(ctx, "concurrent-idem-key", time.Minute)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if state == port.ClaimAcquired {
				successCount.Add(1)
			}
		}()
	}

	wg.Wait()

	// Only one should succeed
	if successCount.Load() != 1 {
		t.Errorf("expected exactly 1 success, got %d", successCount.Load())
	}
}

func TestLease_Exclusive(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client)
	client.Del(ctx, leaseKeyPrefix+"test-lease")

	ok, err := adapter.AcquireLease(ctx, "test-lease", "replica-a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected replica-a to acquire, got %v %v", ok, err)
	}

	// Re-entrant for the holder, and extends the ttl
	client.PExpire(ctx, leaseKeyPrefix+"test-lease", time.Second)
	ok, err = adapter.AcquireLease(ctx, "test-lease", "replica-a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected replica-a to re-acquire, got %v %v", ok, err)
	}
	if ttl := client.PTTL(ctx, leaseKeyPrefix+"test-lease").Val(); ttl <= time.Second {
		t.Errorf("expected renewal to extend the lease, got %s", ttl)
	}

	ok, err = adapter.AcquireLease(ctx, "test-lease", "replica-b", time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected replica-b to be refused")
	}

	// Only the holder can renew
	if ok, err := adapter.RenewLease(ctx, "test-lease", "replica-b", time.Minute); err != nil || ok {
		t.Errorf("expected replica-b renewal to be refused, got %v %v", ok, err)
	}
	if ok, err := adapter.RenewLease(ctx, "test-lease", "replica-a", time.Minute); err != nil || !ok {
		t.Errorf("expected replica-a to renew, got %v %v", ok, err)
	}

	// Only the holder can release
	if err := adapter.ReleaseLease(ctx, "test-lease", "replica-b"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if holder := client.Get(ctx, leaseKeyPrefix+"test-lease").Val(); holder != "replica-a" {
		t.Errorf("expected replica-a to still hold the lease, got %q", holder)
	}

	if err := adapter.ReleaseLease(ctx, "test-lease", "replica-a"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ok, err = adapter.AcquireLease(ctx, "test-lease", "replica-b", time.Minute)
	if err != nil || !ok {
		t.Errorf("expected replica-b to acquire after release, got %v %v", ok, err)
	}
	client.Del(ctx, leaseKeyPrefix+"test-lease")
}

func TestRenewLease_Lapsed(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client)
	client.Del(ctx, leaseKeyPrefix+"lapsed-lease")
	defer client.Del(ctx, leaseKeyPrefix+"lapsed-lease")

	if ok, err := adapter.AcquireLease(ctx, "lapsed-lease", "replica-a", 50*time.Millisecond); err != nil || !ok {
		t.Fatalf("expected replica-a to acquire, got %v %v", ok, err)
	}
	time.Sleep(100 * time.Millisecond)

	ok, err := adapter.RenewLease(ctx, "lapsed-lease", "replica-a", time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected renewal of a lapsed lease to fail")
	}
	if n := client.Exists(ctx, leaseKeyPrefix+"lapsed-lease").Val(); n != 0 {
		t.Error("expected renewal not to recreate the lease")
	}
}

func TestLease_Concurrent(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client)
	client.Del(ctx, leaseKeyPrefix+"concurrent-lease")
	defer client.Del(ctx, leaseKeyPrefix+"concurrent-lease")

	var successCount atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := adapter.AcquireLease(ctx, "concurrent-lease", "replica-"+string(rune('a'+i)), time.Minute)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if ok {
				successCount.Add(1)
			}
		}()
	}
	wg.Wait()

	if successCount.Load() != 1 {
		t.Errorf("expected exactly 1 holder, got %d", successCount.Load())
	}
}
