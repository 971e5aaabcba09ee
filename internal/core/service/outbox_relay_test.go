package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/registration/internal/core/domain"
	"github.com/rl1809/registration/internal/port"
)

// Mock EventPublisher
type mockPublisher struct {
	mu        sync.Mutex
	published []string
	failFrom  int // fail every publish once this many have succeeded; -1 never
	delay     time.Duration
	onPublish func(n int)
}

func newMockPublisher() *mockPublisher { return &mockPublisher{failFrom: -1} }

func (m *mockPublisher) Publish(ctx context.Context, ev domain.Event) error {
	time.Sleep(m.delay)
	m.mu.Lock()
	if m.failFrom >= 0 && len(m.published) >= m.failFrom {
		m.mu.Unlock()
		return fmt.Errorf("%w: nats: no responders", domain.ErrPublishUnavailable)
	}
	m.published = append(m.published, ev.MsgID())
	n := len(m.published)
	m.mu.Unlock()
	if m.onPublish != nil {
		m.onPublish(n)
	}
	return nil
}

func (m *mockPublisher) setFailFrom(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failFrom = n
}

func (m *mockPublisher) ids() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.published...)
}

// Mock CacheRepository with expiring leases
type mockLeases struct {
	mu      sync.Mutex
	holder  string
	expires time.Time
}

func (m *mockLeases) ClaimIdempotency(ctx context.Context, key string, ttl time.Duration) (port.ClaimState, error) {
	return port.ClaimAcquired, nil
}
func (m *mockLeases) CompleteIdempotency(ctx context.Context, key string) error { return nil }
func (m *mockLeases) ReleaseIdempotency(ctx context.Context, key string) error  { return nil }

// grant hands the lease to owner as another replica would.
func (m *mockLeases) grant(owner string, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.holder, m.expires = owner, time.Now().Add(ttl)
}

func (m *mockLeases) currentHolder() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if time.Now().After(m.expires) {
		return ""
	}
	return m.holder
}

func (m *mockLeases) AcquireLease(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.holder != "" && m.holder != owner && time.Now().Before(m.expires) {
		return false, nil
	}
	m.holder, m.expires = owner, time.Now().Add(ttl)
	return true, nil
}

func (m *mockLeases) RenewLease(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.holder != owner || !time.Now().Before(m.expires) {
		return false, nil
	}
	m.expires = time.Now().Add(ttl)
	return true, nil
}

func (m *mockLeases) ReleaseLease(ctx context.Context, name, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.holder == owner {
		m.holder = ""
	}
	return nil
}

func TestOutboxRelay_DrainInOrder(t *testing.T) {
	svc, store := newTestService(t)
	supplier := uuid.New()
	seriesWithParts(t, svc, supplierCaller(supplier), supplier, 2)
	want := pendingKeys(t, store)

	pub := newMockPublisher()
	relay := NewOutboxRelay(store, pub, RelayConfig{BatchSize: 2})

	n, err := relay.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, len(want), n)

	got := pub.ids()
	require.Len(t, got, len(want))
	for i, key := range want {
		assert.Equal(t, key+":0", got[i])
	}
	assert.Empty(t, pendingKeys(t, store))

	n, err = relay.Drain(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOutboxRelay_StopsAtFirstFailure(t *testing.T) {
	svc, store := newTestService(t)
	supplier := uuid.New()
	seriesWithParts(t, svc, supplierCaller(supplier), supplier, 1)

	pub := newMockPublisher()
	pub.setFailFrom(1)
	relay := NewOutboxRelay(store, pub, RelayConfig{})

	n, err := relay.Drain(context.Background())
	require.ErrorIs(t, err, domain.ErrPublishUnavailable)
	assert.Equal(t, 1, n)

	recs, err := store.FetchPending(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, 1, recs[0].Attempts)
	assert.Contains(t, recs[0].LastError, "no responders")
	assert.Zero(t, recs[1].Attempts, "later events are not attempted")

	// Bus is back: the remaining events go out in order, nothing twice.
	pub.setFailFrom(-1)
	n, err = relay.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, pub.ids(), 3)
}

func TestOutboxRelay_Lease(t *testing.T) {
	svc, store := newTestService(t)
	supplier := uuid.New()
	seriesWithParts(t, svc, supplierCaller(supplier), supplier, 1)

	leases := &mockLeases{}
	leases.grant("other-replica", time.Hour)
	pub := newMockPublisher()
	relay := NewOutboxRelay(store, pub, RelayConfig{}, WithLeases(leases))

	n, err := relay.Drain(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, pub.ids())

	require.NoError(t, leases.ReleaseLease(context.Background(), "outbox-relay", "other-replica"))
	n, err = relay.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Empty(t, leases.currentHolder(), "lease released after drain")
}

func TestOutboxRelay_LeaseHeldForWholeDrain(t *testing.T) {
	svc, store := newTestService(t)
	supplier := uuid.New()
	seriesWithParts(t, svc, supplierCaller(supplier), supplier, 4)
	want := pendingKeys(t, store)
	require.GreaterOrEqual(t, len(want), 6)

	// The drain outlives the lease TTL several times over.
	leases := &mockLeases{}
	bus := newMockPublisher()
	bus.delay = 20 * time.Millisecond
	cfg := RelayConfig{LeaseTTL: 60 * time.Millisecond}
	first := NewOutboxRelay(store, bus, cfg, WithLeases(leases))
	second := NewOutboxRelay(store, bus, cfg, WithLeases(leases))

	var wg sync.WaitGroup
	var n1, n2 int
	var err1, err2 error
	wg.Add(2)
	go func() {
		defer wg.Done()
		n1, err1 = first.Drain(context.Background())
	}()
	go func() {
		defer wg.Done()
		time.Sleep(100 * time.Millisecond)
		n2, err2 = second.Drain(context.Background())
	}()
	wg.Wait()

	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, len(want), n1)
	assert.Zero(t, n2, "second replica never held the lease")

	got := bus.ids()
	require.Len(t, got, len(want), "every event published exactly once")
	for i, key := range want {
		assert.Equal(t, key+":0", got[i])
	}
}

func TestOutboxRelay_StopsWhenLeaseLost(t *testing.T) {
	svc, store := newTestService(t)
	supplier := uuid.New()
	seriesWithParts(t, svc, supplierCaller(supplier), supplier, 1)

	leases := &mockLeases{}
	bus := newMockPublisher()
	bus.delay = 30 * time.Millisecond
	relay := NewOutboxRelay(store, bus, RelayConfig{LeaseTTL: 60 * time.Millisecond}, WithLeases(leases))
	// The lease moves to another replica right after the first publish.
	bus.onPublish = func(n int) {
		if n == 1 {
			leases.grant("other-replica", time.Hour)
		}
	}

	n, err := relay.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, bus.ids(), 1)
	assert.Len(t, pendingKeys(t, store), 2, "the rest stays for the new holder")
	assert.Equal(t, "other-replica", leases.currentHolder())
}

func TestOutboxRelay_RunPublishesAfterKick(t *testing.T) {
	pub := newMockPublisher()
	_, store := newTestService(t)
	relay := NewOutboxRelay(store, pub, RelayConfig{PollInterval: time.Hour})
	svc := NewRegistrationService(store, "registration-test", WithNotifier(relay))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	supplier := uuid.New()
	_, err := svc.CreateDraftPart(ctx, supplierCaller(supplier), draftInput(supplier, "LEV-1"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(pub.ids()) == 3 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("relay did not stop")
	}
}
