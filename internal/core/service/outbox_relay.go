package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/rl1809/registration/internal/core/domain"
	"github.com/rl1809/registration/internal/port"
)

type RelayConfig struct {
	BatchSize    int
	PollInterval time.Duration
	LeaseName    string
	LeaseTTL     time.Duration
	MaxBackoff   time.Duration
}

func (c RelayConfig) withDefaults() RelayConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.LeaseName == "" {
		c.LeaseName = "outbox-relay"
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = 30 * time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	return c
}

// OutboxRelay moves committed events from the outbox to the bus in commit
// order. It is the recovery path for events whose request was cancelled or
// whose publish failed: nothing committed is ever dropped, and a row is only
// marked published after the bus acknowledged it.
type OutboxRelay struct {
	outbox    port.OutboxRepository
	publisher port.EventPublisher
	leases    port.CacheRepository
	metrics   port.Metrics
	log       *slog.Logger
	cfg       RelayConfig
	owner     string
	kick      chan struct{}

	// mu serialises Drain within one process; the lease does it across processes.
	mu sync.Mutex
}

type RelayOption func(*OutboxRelay)

// WithLeases makes the relay take a distributed lease before draining so
// only one replica publishes at a time.
func WithLeases(c port.CacheRepository) RelayOption { return func(r *OutboxRelay) { r.leases = c } }
func WithRelayMetrics(m port.Metrics) RelayOption  { return func(r *OutboxRelay) { r.metrics = m } }
func WithRelayLogger(l *slog.Logger) RelayOption   { return func(r *OutboxRelay) { r.log = l } }

func NewOutboxRelay(outbox port.OutboxRepository, publisher port.EventPublisher, cfg RelayConfig, opts ...RelayOption) *OutboxRelay {
	r := &OutboxRelay{
		outbox:    outbox,
		publisher: publisher,
		metrics:   port.NopMetrics{},
		log:       slog.Default(),
		cfg:       cfg.withDefaults(),
		owner:     uuid.NewString(),
		kick:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.With(slog.String("component", "outbox-relay"))
	return r
}

// Kick asks the relay to drain now instead of waiting for the next poll.
func (r *OutboxRelay) Kick() {
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

// Drain publishes pending events until the outbox is empty, a publish fails
// or the lease moves to another replica. It returns the number published.
func (r *OutboxRelay) Drain(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.leases != nil {
		ok, err := r.leases.AcquireLease(ctx, r.cfg.LeaseName, r.owner, r.cfg.LeaseTTL)
		if err != nil {
			return 0, fmt.Errorf("acquire lease: %w", err)
		}
		if !ok {
			return 0, nil
		}
		defer func() {
			if err := r.leases.ReleaseLease(context.WithoutCancel(ctx), r.cfg.LeaseName, r.owner); err != nil {
				r.log.Warn("release lease failed", slog.Any("error", err))
			}
		}()
	}
	renewed := time.Now()

	published := 0
	defer func() {
		if n, err := r.outbox.Backlog(context.WithoutCancel(ctx)); err == nil {
			r.metrics.OutboxBacklog(n)
		}
	}()

	for {
		batch, err := r.outbox.FetchPending(ctx, r.cfg.BatchSize)
		if err != nil {
			return published, err
		}
		if len(batch) == 0 {
			return published, nil
		}
		for _, rec := range batch {
			held, err := r.renewLease(ctx, &renewed)
			if err != nil {
				return published, err
			}
			if !held {
				r.log.Warn("lease lost, stopping drain", slog.Int("published", published))
				return published, nil
			}
			if err := r.publisher.Publish(ctx, rec.Event); err != nil {
				r.metrics.PublishFailed()
				if markErr := r.outbox.MarkFailed(context.WithoutCancel(ctx), rec.Seq, err.Error()); markErr != nil {
					r.log.Error("mark failed", slog.Int64("seq", rec.Seq), slog.Any("error", markErr))
				}
				return published, fmt.Errorf("publish %s: %w", rec.Event.MsgID(), err)
			}
			// The bus has the event; losing this mark only causes a duplicate
			// that the message id dedupes.
			if err := r.outbox.MarkPublished(context.WithoutCancel(ctx), rec.Seq, time.Now().UTC()); err != nil {
				return published, err
			}
			r.metrics.EventPublished(string(rec.Event.Name))
			published++
		}
		if len(batch) < r.cfg.BatchSize {
			return published, nil
		}
	}
}

// renewLease extends the lease once a third of its TTL has passed since the
// last renewal, so the holder always has at least two thirds left before
// it publishes. It reports false once the lease lapsed or moved on: the
// fetched batch may already be in another replica's hands.
func (r *OutboxRelay) renewLease(ctx context.Context, renewed *time.Time) (bool, error) {
	if r.leases == nil || time.Since(*renewed) < r.cfg.LeaseTTL/3 {
		return true, nil
	}
	ok, err := r.leases.RenewLease(ctx, r.cfg.LeaseName, r.owner, r.cfg.LeaseTTL)
	if err != nil {
		return false, fmt.Errorf("renew lease: %w", err)
	}
	*renewed = time.Now()
	return ok, nil
}

// Run drains on every poll tick and every Kick until ctx is done. Failed
// drains are retried with exponential backoff.
func (r *OutboxRelay) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = r.cfg.MaxBackoff

	r.log.Info("outbox relay started",
		slog.Int("batch_size", r.cfg.BatchSize),
		slog.Duration("poll_interval", r.cfg.PollInterval))

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("outbox relay stopped")
			return nil
		case <-timer.C:
		case <-r.kick:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		wait := r.cfg.PollInterval
		n, err := r.Drain(ctx)
		switch {
		case err != nil && ctx.Err() != nil:
			return nil
		case err != nil:
			wait = bo.NextBackOff()
			level := slog.LevelWarn
			if !errors.Is(err, domain.ErrPublishUnavailable) {
				level = slog.LevelError
			}
			r.log.Log(ctx, level, "outbox drain failed",
				slog.Any("error", err), slog.Duration("retry_in", wait))
		default:
			bo.Reset()
			if n > 0 {
				r.log.Debug("outbox drained", slog.Int("published", n))
			}
		}
		timer.Reset(wait)
	}
}
