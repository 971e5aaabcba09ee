package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/rl1809/registration/internal/core/domain"
)

// Mutation receives a copy of the stored entity and returns its new state.
// It must return the same concrete type it was given.
type Mutation func(current domain.Entity) (domain.Entity, error)

// UpdateVersionedEntity applies mutate to the entity stored under id,
// provided the caller read it at expectedVersion. The write is conditional
// on that version; a stale caller gets domain.ErrVersionConflict and the
// stored state is left untouched.
//
// Products cannot be updated directly: their visible fields follow the part
// with the same id and are mirrored in the same transaction.
func (s *RegistrationService) UpdateVersionedEntity(ctx context.Context, caller domain.Caller, kind domain.Kind, id uuid.UUID, expectedVersion int64, mutate Mutation) (_ domain.Entity, err error) {
	ctx, done := s.begin(ctx, "update_"+string(kind),
		attribute.String("id", id.String()), attribute.Int64("expected_version", expectedVersion))
	defer func() { done(&err) }()

	if kind == domain.KindProduct {
		return nil, fmt.Errorf("%w: products change through their part", domain.ErrInvalidInput)
	}

	current, err := s.repo.ReadByID(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	if !caller.CanActFor(supplierOf(current)) {
		return nil, fmt.Errorf("%w: caller %q may not change %s %s", domain.ErrUnauthorized, caller.Actor(), kind, id)
	}
	if current.EntityVersion() != expectedVersion {
		return nil, fmt.Errorf("%w: %s %s expected version %d, stored %d",
			domain.ErrVersionConflict, kind, id, expectedVersion, current.EntityVersion())
	}
	if isDeleted(current) {
		return nil, fmt.Errorf("%w: %s %s is deleted", domain.ErrInvalidInput, kind, id)
	}

	next, err := mutate(current)
	if err != nil {
		return nil, err
	}
	now := s.clock()
	next, err = stamp(current, next, expectedVersion+1, now, caller.Actor())
	if err != nil {
		return nil, err
	}
	if err := s.validate(ctx, current, next); err != nil {
		return nil, err
	}

	var cs domain.ChangeSet
	if err := cs.Add(next, expectedVersion); err != nil {
		return nil, err
	}
	entities := []namedEntity{{updatedEvent(kind), next}}

	if part, ok := next.(domain.Part); ok {
		product, err := s.repo.GetProduct(ctx, part.ID)
		if err != nil {
			return nil, err
		}
		mirrored := part.ProductView(*product)
		touch(&mirrored.Version, &mirrored.UpdatedAt, &mirrored.UpdatedBy, now, caller.Actor())
		cs.Products = append(cs.Products, domain.Versioned[domain.Product]{Value: mirrored, Expected: product.Version})
		entities = append(entities, namedEntity{domain.EventProductUpdated, mirrored})
	}

	events, err := s.events(now, entities...)
	if err != nil {
		return nil, err
	}
	if err := s.repo.SaveChangeSet(ctx, cs, events); err != nil {
		return nil, err
	}
	s.committed(ctx, events)

	s.log.InfoContext(ctx, "entity updated",
		slog.String("kind", string(kind)),
		slog.String("id", id.String()),
		slog.Int64("version", next.EntityVersion()))
	return next, nil
}

func (s *RegistrationService) UpdatePart(ctx context.Context, caller domain.Caller, id uuid.UUID, expectedVersion int64, mutate func(*domain.Part) error) (*domain.Part, error) {
	return updateTyped(ctx, s, caller, domain.KindPart, id, expectedVersion, mutate)
}

func (s *RegistrationService) UpdateSeries(ctx context.Context, caller domain.Caller, id uuid.UUID, expectedVersion int64, mutate func(*domain.Series) error) (*domain.Series, error) {
	return updateTyped(ctx, s, caller, domain.KindSeries, id, expectedVersion, mutate)
}

func (s *RegistrationService) UpdateServiceTask(ctx context.Context, caller domain.Caller, id uuid.UUID, expectedVersion int64, mutate func(*domain.ServiceTask) error) (*domain.ServiceTask, error) {
	return updateTyped(ctx, s, caller, domain.KindServiceTask, id, expectedVersion, mutate)
}

func updateTyped[T domain.Entity](ctx context.Context, s *RegistrationService, caller domain.Caller, kind domain.Kind, id uuid.UUID, expectedVersion int64, mutate func(*T) error) (*T, error) {
	e, err := s.UpdateVersionedEntity(ctx, caller, kind, id, expectedVersion, func(current domain.Entity) (domain.Entity, error) {
		v, ok := current.(T)
		if !ok {
			return nil, fmt.Errorf("%w: %s %s has type %T", domain.ErrInvalidInput, kind, id, current)
		}
		if err := mutate(&v); err != nil {
			return nil, err
		}
		return v, nil
	})
	if err != nil {
		return nil, err
	}
	v := e.(T)
	return &v, nil
}

// stamp restores the fields a mutation may not touch and sets the audit
// fields and the next version.
func stamp(current, next domain.Entity, version int64, now time.Time, actor string) (domain.Entity, error) {
	switch cur := current.(type) {
	case domain.Series:
		n, ok := next.(domain.Series)
		if !ok {
			break
		}
		n.ID, n.SupplierID, n.MainProduct = cur.ID, cur.SupplierID, cur.MainProduct
		n.CreatedAt, n.CreatedBy = cur.CreatedAt, cur.CreatedBy
		n.Version, n.UpdatedAt, n.UpdatedBy = version, now, actor
		return n, nil
	case domain.Part:
		n, ok := next.(domain.Part)
		if !ok {
			break
		}
		var err error
		if n.HmsArtNr, err = domain.NormalizeArtNr(string(n.HmsArtNr)); err != nil {
			return nil, err
		}
		if n.LevArtNr, err = domain.NormalizeArtNr(string(n.LevArtNr)); err != nil {
			return nil, err
		}
		n.ID, n.SeriesUUID, n.SupplierID = cur.ID, cur.SeriesUUID, cur.SupplierID
		n.CreatedAt, n.CreatedBy = cur.CreatedAt, cur.CreatedBy
		n.Version, n.UpdatedAt, n.UpdatedBy = version, now, actor
		return n, nil
	case domain.ServiceTask:
		n, ok := next.(domain.ServiceTask)
		if !ok {
			break
		}
		var err error
		if n.HmsArtNr, err = domain.NormalizeArtNr(string(n.HmsArtNr)); err != nil {
			return nil, err
		}
		n.ID, n.SupplierID = cur.ID, cur.SupplierID
		n.CreatedAt, n.CreatedBy = cur.CreatedAt, cur.CreatedBy
		n.Version, n.UpdatedAt, n.UpdatedBy = version, now, actor
		n.Published, n.Expired = millis(n.Published), millis(n.Expired)
		return n, nil
	}
	return nil, fmt.Errorf("%w: mutation changed %s into %T", domain.ErrInvalidInput, current.EntityKind(), next)
}

func (s *RegistrationService) validate(ctx context.Context, current, next domain.Entity) error {
	var err error
	var iso, prevIso string
	switch n := next.(type) {
	case domain.Series:
		err, iso, prevIso = n.Validate(), n.IsoCategory, current.(domain.Series).IsoCategory
	case domain.Part:
		err, iso, prevIso = n.Validate(), n.IsoCategory, current.(domain.Part).IsoCategory
	case domain.ServiceTask:
		err, iso, prevIso = n.Validate(), n.IsoCategory, current.(domain.ServiceTask).IsoCategory
	}
	if err != nil {
		return err
	}
	if iso != prevIso {
		return s.checkIsoCategory(ctx, iso)
	}
	return nil
}

func supplierOf(e domain.Entity) uuid.UUID {
	switch v := e.(type) {
	case domain.Series:
		return v.SupplierID
	case domain.Product:
		return v.SupplierID
	case domain.Part:
		return v.SupplierID
	case domain.ServiceTask:
		return v.SupplierID
	}
	return uuid.Nil
}

// isDeleted reports whether e has reached the terminal state on either axis.
func isDeleted(e domain.Entity) bool {
	var st domain.Status
	var ds domain.DraftStatus
	switch v := e.(type) {
	case domain.Series:
		st, ds = v.Status, v.DraftStatus
	case domain.Product:
		st, ds = v.Status, v.DraftStatus
	case domain.Part:
		st, ds = v.Status, v.DraftStatus
	case domain.ServiceTask:
		st, ds = v.Status, v.DraftStatus
	}
	return st == domain.StatusDeleted || ds == domain.DraftStatusDeleted
}

func updatedEvent(kind domain.Kind) domain.EventName {
	switch kind {
	case domain.KindSeries:
		return domain.EventSeriesUpdated
	case domain.KindProduct:
		return domain.EventProductUpdated
	case domain.KindPart:
		return domain.EventPartUpdated
	}
	return domain.EventServiceTaskUpdated
}
