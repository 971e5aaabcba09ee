package port

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/registration/internal/core/domain"
)

// AggregateRepository persists series, products, parts and service tasks.
// Every write also appends its events to the outbox in the same transaction.
type AggregateRepository interface {
	// CreateAggregate commits series (when new), product and part atomically.
	CreateAggregate(ctx context.Context, agg domain.Aggregate, events []domain.Event) error

	GetSeries(ctx context.Context, id uuid.UUID) (*domain.Series, error)
	GetProduct(ctx context.Context, id uuid.UUID) (*domain.Product, error)
	GetPart(ctx context.Context, id uuid.UUID) (*domain.Part, error)
	ListProductsBySeries(ctx context.Context, seriesID uuid.UUID) ([]domain.Product, error)
	ListPartsBySeries(ctx context.Context, seriesID uuid.UUID) ([]domain.Part, error)

	// SaveChangeSet applies version-checked updates atomically. Any stale
	// version fails the whole set with domain.ErrVersionConflict.
	SaveChangeSet(ctx context.Context, cs domain.ChangeSet, events []domain.Event) error

	// UpdateWithVersionCheck writes one entity conditioned on expectedVersion.
	UpdateWithVersionCheck(ctx context.Context, entity domain.Entity, expectedVersion int64, events []domain.Event) error

	// ReadByID loads any entity kind by id.
	ReadByID(ctx context.Context, kind domain.Kind, id uuid.UUID) (domain.Entity, error)

	CreateServiceTask(ctx context.Context, task domain.ServiceTask, events []domain.Event) error
	GetServiceTask(ctx context.Context, id uuid.UUID) (*domain.ServiceTask, error)
}

// OutboxRepository exposes the events committed but not yet on the bus.
type OutboxRepository interface {
	FetchPending(ctx context.Context, limit int) ([]domain.OutboxRecord, error)
	MarkPublished(ctx context.Context, seq int64, at time.Time) error
	MarkFailed(ctx context.Context, seq int64, reason string) error
	Backlog(ctx context.Context) (int, error)
}
