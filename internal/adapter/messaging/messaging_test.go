package messaging

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/registration/internal/core/domain"
	"github.com/rl1809/registration/internal/port"
)

// Mock CacheRepository
type memoryDedupe struct {
	mu      sync.Mutex
	now     func() time.Time
	done    map[string]bool
	pending map[string]time.Time
}

func newMemoryDedupe() *memoryDedupe {
	return &memoryDedupe{now: time.Now, done: map[string]bool{}, pending: map[string]time.Time{}}
}

func (m *memoryDedupe) ClaimIdempotency(ctx context.Context, key string, ttl time.Duration) (port.ClaimState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done[key] {
		return port.ClaimDone, nil
	}
	if exp, ok := m.pending[key]; ok && m.now().Before(exp) {
		return port.ClaimInFlight, nil
	}
	m.pending[key] = m.now().Add(ttl)
	return port.ClaimAcquired, nil
}

func (m *memoryDedupe) CompleteIdempotency(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, key)
	m.done[key] = true
	return nil
}

func (m *memoryDedupe) ReleaseIdempotency(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, key)
	return nil
}

func (m *memoryDedupe) AcquireLease(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	return true, nil
}

func (m *memoryDedupe) RenewLease(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	return true, nil
}

func (m *memoryDedupe) ReleaseLease(ctx context.Context, name, owner string) error { return nil }

// Mock jetstream.Msg recording how the subscriber settled it.
type fakeMsg struct {
	jetstream.Msg
	data    []byte
	outcome string
	delay   time.Duration
}

func (m *fakeMsg) Data() []byte    { return m.data }
func (m *fakeMsg) Subject() string { return "registration.test" }
func (m *fakeMsg) Ack() error      { return m.settle("ack", 0) }
func (m *fakeMsg) Nak() error      { return m.settle("nak", 0) }
func (m *fakeMsg) Term() error     { return m.settle("term", 0) }

func (m *fakeMsg) NakWithDelay(d time.Duration) error { return m.settle("nak-delay", d) }

func (m *fakeMsg) settle(outcome string, delay time.Duration) error {
	m.outcome, m.delay = outcome, delay
	return nil
}

func TestSubscriber_Deliver(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	dedupe := newMemoryDedupe()
	dedupe.now = func() time.Time { return clock }
	sub := &Subscriber{
		log: slog.New(slog.DiscardHandler),
		cfg: SubscriberConfig{Dedupe: dedupe, AckWait: 30 * time.Second},
	}

	ev, err := domain.NewEvent(domain.EventPartCreated, domain.Part{ID: uuid.New(), Title: "Walker"}, "test", clock)
	require.NoError(t, err)

	calls := 0
	ok := func(ctx context.Context, got domain.Event) error {
		calls++
		require.Equal(t, ev.MsgID(), got.MsgID())
		return nil
	}

	t.Run("claim held by a consumer that died", func(t *testing.T) {
		// A previous delivery claimed the id and never finished.
		state, err := dedupe.ClaimIdempotency(t.Context(), ev.MsgID(), sub.cfg.AckWait)
		require.NoError(t, err)
		require.Equal(t, port.ClaimAcquired, state)

		msg := &fakeMsg{data: ev.Payload}
		sub.deliver(t.Context(), msg, ok)
		require.Equal(t, "nak-delay", msg.outcome, "not acked while the claim is live")
		require.Equal(t, sub.cfg.AckWait, msg.delay)
		require.Zero(t, calls)

		// The server redelivers after AckWait; the claim has lapsed.
		clock = clock.Add(sub.cfg.AckWait + time.Second)
		msg = &fakeMsg{data: ev.Payload}
		sub.deliver(t.Context(), msg, ok)
		require.Equal(t, "ack", msg.outcome)
		require.Equal(t, 1, calls)
	})

	t.Run("handled event is a no-op on redelivery", func(t *testing.T) {
		msg := &fakeMsg{data: ev.Payload}
		sub.deliver(t.Context(), msg, ok)
		require.Equal(t, "ack", msg.outcome)
		require.Equal(t, 1, calls)
	})

	t.Run("failed handler releases the claim", func(t *testing.T) {
		other, err := domain.NewEvent(domain.EventPartUpdated, domain.Part{ID: uuid.New(), Version: 1}, "test", clock)
		require.NoError(t, err)

		msg := &fakeMsg{data: other.Payload}
		sub.deliver(t.Context(), msg, func(context.Context, domain.Event) error { return errors.New("transient") })
		require.Equal(t, "nak", msg.outcome)

		handled := false
		msg = &fakeMsg{data: other.Payload}
		sub.deliver(t.Context(), msg, func(context.Context, domain.Event) error {
			handled = true
			return nil
		})
		require.Equal(t, "ack", msg.outcome)
		require.True(t, handled)
	})

	t.Run("undecodable message is terminated", func(t *testing.T) {
		msg := &fakeMsg{data: []byte("{")}
		sub.deliver(t.Context(), msg, ok)
		require.Equal(t, "term", msg.outcome)
	})
}

func TestSubjectFor(t *testing.T) {
	id := uuid.New()
	require.Equal(t, "registration.part-created."+id.String(),
		subjectFor("registration", domain.EventPartCreated, id.String()))
}

func TestClassify(t *testing.T) {
	ev := domain.Event{Key: "part-created-x", DTOVersion: 0}

	err := classify(ev, jetstream.ErrNoStreamResponse)
	require.ErrorIs(t, err, domain.ErrPublishUnavailable)
	require.ErrorIs(t, err, jetstream.ErrNoStreamResponse)

	require.ErrorIs(t, classify(ev, context.Canceled), context.Canceled)
	require.NotErrorIs(t, classify(ev, context.Canceled), domain.ErrPublishUnavailable)
}

func TestNats_PublishAndConsume(t *testing.T) {
	if testing.Short() {
		t.Skip("container test")
	}
	connect := ReuseConnection(NewTestContainer(t))

	pub, err := NewPublisher(PublisherConfig{Connect: connect, CreatedBy: "registration-test"})
	require.NoError(t, err)
	t.Cleanup(func() { pub.Close() })

	t.Run("stream info", func(t *testing.T) {
		si, err := pub.stream.Info(t.Context())
		require.NoError(t, err)
		require.Equal(t, defaultStreamName, si.Config.Name)
		require.Equal(t, []string{defaultSubjectPrefix + ".>"}, si.Config.Subjects)
	})

	dedupe := newMemoryDedupe()
	sub, err := NewSubscriber(SubscriberConfig{Connect: connect, Durable: "test", Dedupe: dedupe})
	require.NoError(t, err)
	t.Cleanup(func() { sub.Close() })

	part := domain.Part{ID: uuid.New(), Title: "Walker", Version: 0}
	ev, err := pub.PublishEntity(t.Context(), domain.EventPartCreated, part)
	require.NoError(t, err)
	// Relay retries re-send the same instance; the server drops it.
	require.NoError(t, pub.Publish(t.Context(), ev))

	part.Version = 1
	_, err = pub.PublishEntity(t.Context(), domain.EventPartUpdated, part)
	require.NoError(t, err)

	var mu sync.Mutex
	var got []string
	failedOnce := false
	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() {
		done <- sub.Consume(ctx, func(ctx context.Context, ev domain.Event) error {
			mu.Lock()
			defer mu.Unlock()
			if !failedOnce {
				failedOnce = true
				return errors.New("transient")
			}
			got = append(got, ev.MsgID())
			return nil
		})
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, 30*time.Second, 50*time.Millisecond)

	mu.Lock()
	require.ElementsMatch(t, []string{
		"part-created-" + part.ID.String() + ":0",
		"part-updated-" + part.ID.String() + ":1",
	}, got)
	mu.Unlock()

	cancel()
	require.NoError(t, <-done)
}
