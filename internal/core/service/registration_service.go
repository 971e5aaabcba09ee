package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rl1809/registration/internal/core/domain"
	"github.com/rl1809/registration/internal/port"
)

const tracerName = "github.com/rl1809/registration/internal/core/service"

// Notifier is woken after every commit that produced events.
type Notifier interface {
	Kick()
}

type DraftPartInput struct {
	// SeriesID is optional; when set the part joins that existing series.
	SeriesID    uuid.UUID
	SupplierID  uuid.UUID
	Title       string
	IsoCategory string
	HmsArtNr    string
	LevArtNr    string
	SparePart   bool
	Accessory   bool
}

// RegistrationService is the only writer of series, products, parts and
// service tasks. Writes commit state and events together; delivery to the
// bus is left to the outbox relay.
type RegistrationService struct {
	repo      port.AggregateRepository
	catalog   port.CatalogClient
	notifier  Notifier
	metrics   port.Metrics
	tracer    trace.Tracer
	log       *slog.Logger
	createdBy string
	now       func() time.Time
	newID     func() uuid.UUID
}

type Option func(*RegistrationService)

func WithCatalog(c port.CatalogClient) Option { return func(s *RegistrationService) { s.catalog = c } }
func WithNotifier(n Notifier) Option          { return func(s *RegistrationService) { s.notifier = n } }
func WithMetrics(m port.Metrics) Option       { return func(s *RegistrationService) { s.metrics = m } }
func WithTracer(t trace.Tracer) Option        { return func(s *RegistrationService) { s.tracer = t } }
func WithLogger(l *slog.Logger) Option        { return func(s *RegistrationService) { s.log = l } }
func WithClock(now func() time.Time) Option   { return func(s *RegistrationService) { s.now = now } }
func WithIDGenerator(f func() uuid.UUID) Option {
	return func(s *RegistrationService) { s.newID = f }
}

// NewRegistrationService builds the service. createdBy identifies this
// service in event metadata.
func NewRegistrationService(repo port.AggregateRepository, createdBy string, opts ...Option) *RegistrationService {
	s := &RegistrationService{
		repo:      repo,
		metrics:   port.NopMetrics{},
		tracer:    otel.Tracer(tracerName),
		log:       slog.Default(),
		createdBy: createdBy,
		now:       time.Now,
		newID:     uuid.New,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(slog.String("component", "registration"))
	return s
}

func (s *RegistrationService) clock() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

// begin opens a span and returns the func that closes it and records metrics.
func (s *RegistrationService) begin(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(*error)) {
	ctx, span := s.tracer.Start(ctx, "registration."+op, trace.WithAttributes(attrs...))
	start := time.Now()
	return ctx, func(errp *error) {
		err := *errp
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			if errors.Is(err, domain.ErrVersionConflict) {
				s.metrics.VersionConflict(op)
			}
		}
		s.metrics.ObserveOperation(op, err, time.Since(start))
		span.End()
	}
}

func (s *RegistrationService) committed(ctx context.Context, events []domain.Event) {
	for _, ev := range events {
		s.log.DebugContext(ctx, "event committed to outbox",
			slog.String("key", ev.Key), slog.Int64("dto_version", ev.DTOVersion))
	}
	if s.notifier != nil && len(events) > 0 {
		s.notifier.Kick()
	}
}

func (s *RegistrationService) CreateDraftPart(ctx context.Context, caller domain.Caller, in DraftPartInput) (_ *domain.Part, err error) {
	ctx, done := s.begin(ctx, "create_draft_part", attribute.String("supplier_id", in.SupplierID.String()))
	defer func() { done(&err) }()

	if !caller.CanActFor(in.SupplierID) {
		return nil, fmt.Errorf("%w: caller %q may not register for supplier %s", domain.ErrUnauthorized, caller.Actor(), in.SupplierID)
	}

	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", domain.ErrInvalidInput)
	}
	hmsArtNr, err := domain.NormalizeArtNr(in.HmsArtNr)
	if err != nil {
		return nil, err
	}
	levArtNr, err := domain.NormalizeArtNr(in.LevArtNr)
	if err != nil {
		return nil, err
	}
	if err := s.checkIsoCategory(ctx, in.IsoCategory); err != nil {
		return nil, err
	}

	now := s.clock()
	actor := caller.Actor()
	sharedID := s.newID()

	agg := domain.Aggregate{NewSeries: in.SeriesID == uuid.Nil}
	if agg.NewSeries {
		agg.Series = domain.Series{
			ID:          s.newID(),
			SupplierID:  in.SupplierID,
			Title:       title,
			IsoCategory: in.IsoCategory,
			MainProduct: false,
			Status:      domain.StatusActive,
			DraftStatus: domain.DraftStatusDraft,
			CreatedAt:   now,
			UpdatedAt:   now,
			CreatedBy:   actor,
			UpdatedBy:   actor,
		}
	} else {
		series, err := s.repo.GetSeries(ctx, in.SeriesID)
		if err != nil {
			return nil, err
		}
		if series.SupplierID != in.SupplierID {
			return nil, fmt.Errorf("%w: series %s belongs to another supplier", domain.ErrUnauthorized, series.ID)
		}
		if series.Status == domain.StatusDeleted {
			return nil, fmt.Errorf("%w: series %s is deleted", domain.ErrInvalidInput, series.ID)
		}
		agg.Series = *series
	}

	agg.Product = domain.Product{
		ID:          sharedID,
		SeriesID:    agg.Series.ID,
		SupplierID:  in.SupplierID,
		Title:       title,
		IsoCategory: in.IsoCategory,
		HmsArtNr:    hmsArtNr,
		Status:      domain.StatusActive,
		DraftStatus: domain.DraftStatusDraft,
		CreatedAt:   now,
		UpdatedAt:   now,
		CreatedBy:   actor,
		UpdatedBy:   actor,
	}
	agg.Part = domain.Part{
		ID:          sharedID,
		SeriesUUID:  agg.Series.ID,
		SupplierID:  in.SupplierID,
		Title:       title,
		IsoCategory: in.IsoCategory,
		HmsArtNr:    hmsArtNr,
		LevArtNr:    levArtNr,
		SparePart:   in.SparePart,
		Accessory:   in.Accessory,
		Status:      domain.StatusActive,
		DraftStatus: domain.DraftStatusDraft,
		CreatedAt:   now,
		UpdatedAt:   now,
		CreatedBy:   actor,
		UpdatedBy:   actor,
	}

	var entities []namedEntity
	if agg.NewSeries {
		entities = append(entities, namedEntity{domain.EventSeriesCreated, agg.Series})
	}
	entities = append(entities,
		namedEntity{domain.EventProductCreated, agg.Product},
		namedEntity{domain.EventPartCreated, agg.Part},
	)
	events, err := s.events(now, entities...)
	if err != nil {
		return nil, err
	}

	if err := s.repo.CreateAggregate(ctx, agg, events); err != nil {
		return nil, err
	}
	s.committed(ctx, events)

	s.log.InfoContext(ctx, "draft part created",
		slog.String("part_id", agg.Part.ID.String()),
		slog.String("series_id", agg.Series.ID.String()),
		slog.Bool("new_series", agg.NewSeries))
	return &agg.Part, nil
}

// ChangeToMainProduct designates productID as the main product of its
// series. Promoting the current main product is a no-op. Two callers racing
// on the same series both read the series at one version; only the first
// conditional write succeeds and the other gets domain.ErrVersionConflict.
func (s *RegistrationService) ChangeToMainProduct(ctx context.Context, caller domain.Caller, seriesID, productID uuid.UUID) (err error) {
	ctx, done := s.begin(ctx, "change_to_main_product",
		attribute.String("series_id", seriesID.String()), attribute.String("product_id", productID.String()))
	defer func() { done(&err) }()

	series, err := s.repo.GetSeries(ctx, seriesID)
	if err != nil {
		return err
	}
	if !caller.CanActFor(series.SupplierID) {
		return fmt.Errorf("%w: caller %q may not change series %s", domain.ErrUnauthorized, caller.Actor(), seriesID)
	}
	products, err := s.repo.ListProductsBySeries(ctx, seriesID)
	if err != nil {
		return err
	}

	var target *domain.Product
	var current []domain.Product
	for i := range products {
		if products[i].ID == productID {
			target = &products[i]
		} else if products[i].MainProduct {
			current = append(current, products[i])
		}
	}
	if target == nil {
		return fmt.Errorf("%w: product %s in series %s", domain.ErrNotFound, productID, seriesID)
	}
	if isDeleted(*series) {
		return fmt.Errorf("%w: series %s is deleted", domain.ErrInvalidInput, seriesID)
	}
	if isDeleted(*target) {
		return fmt.Errorf("%w: product %s is deleted", domain.ErrInvalidInput, productID)
	}
	if target.MainProduct && series.MainProduct && len(current) == 0 {
		return nil
	}

	now := s.clock()
	actor := caller.Actor()
	var cs domain.ChangeSet
	var entities []namedEntity

	nextSeries := *series
	nextSeries.MainProduct = true
	touch(&nextSeries.Version, &nextSeries.UpdatedAt, &nextSeries.UpdatedBy, now, actor)
	cs.Series = append(cs.Series, domain.Versioned[domain.Series]{Value: nextSeries, Expected: series.Version})
	entities = append(entities, namedEntity{domain.EventSeriesUpdated, nextSeries})

	for _, p := range current {
		demoted := p
		demoted.MainProduct = false
		touch(&demoted.Version, &demoted.UpdatedAt, &demoted.UpdatedBy, now, actor)
		cs.Products = append(cs.Products, domain.Versioned[domain.Product]{Value: demoted, Expected: p.Version})
		entities = append(entities, namedEntity{domain.EventProductUpdated, demoted})
	}
	if !target.MainProduct {
		promoted := *target
		promoted.MainProduct = true
		touch(&promoted.Version, &promoted.UpdatedAt, &promoted.UpdatedBy, now, actor)
		cs.Products = append(cs.Products, domain.Versioned[domain.Product]{Value: promoted, Expected: target.Version})
		entities = append(entities, namedEntity{domain.EventProductUpdated, promoted})
	}

	events, err := s.events(now, entities...)
	if err != nil {
		return err
	}
	if err := s.repo.SaveChangeSet(ctx, cs, events); err != nil {
		return err
	}
	s.committed(ctx, events)

	s.log.InfoContext(ctx, "main product changed",
		slog.String("series_id", seriesID.String()),
		slog.String("product_id", productID.String()),
		slog.Int("demoted", len(current)))
	return nil
}

// PublishSeries moves a series and its draft products and parts to DONE.
func (s *RegistrationService) PublishSeries(ctx context.Context, caller domain.Caller, seriesID uuid.UUID, expectedVersion int64) (_ *domain.Series, err error) {
	ctx, done := s.begin(ctx, "publish_series", attribute.String("series_id", seriesID.String()))
	defer func() { done(&err) }()

	series, err := s.repo.GetSeries(ctx, seriesID)
	if err != nil {
		return nil, err
	}
	if !caller.CanActFor(series.SupplierID) {
		return nil, fmt.Errorf("%w: caller %q may not publish series %s", domain.ErrUnauthorized, caller.Actor(), seriesID)
	}
	if series.Version != expectedVersion {
		return nil, fmt.Errorf("%w: series %s expected version %d, stored %d", domain.ErrVersionConflict, seriesID, expectedVersion, series.Version)
	}
	if isDeleted(*series) {
		return nil, fmt.Errorf("%w: series %s is deleted", domain.ErrInvalidInput, seriesID)
	}
	products, err := s.repo.ListProductsBySeries(ctx, seriesID)
	if err != nil {
		return nil, err
	}
	parts, err := s.repo.ListPartsBySeries(ctx, seriesID)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	actor := caller.Actor()
	var cs domain.ChangeSet
	var entities []namedEntity

	for _, p := range products {
		if p.DraftStatus != domain.DraftStatusDraft {
			continue
		}
		next := p
		next.DraftStatus = domain.DraftStatusDone
		touch(&next.Version, &next.UpdatedAt, &next.UpdatedBy, now, actor)
		cs.Products = append(cs.Products, domain.Versioned[domain.Product]{Value: next, Expected: p.Version})
		entities = append(entities, namedEntity{domain.EventProductUpdated, next})
	}
	for _, p := range parts {
		if p.DraftStatus != domain.DraftStatusDraft {
			continue
		}
		next := p
		next.DraftStatus = domain.DraftStatusDone
		touch(&next.Version, &next.UpdatedAt, &next.UpdatedBy, now, actor)
		cs.Parts = append(cs.Parts, domain.Versioned[domain.Part]{Value: next, Expected: p.Version})
		entities = append(entities, namedEntity{domain.EventPartUpdated, next})
	}
	if series.DraftStatus == domain.DraftStatusDone && cs.Empty() {
		return series, nil
	}

	next := *series
	next.DraftStatus = domain.DraftStatusDone
	touch(&next.Version, &next.UpdatedAt, &next.UpdatedBy, now, actor)
	cs.Series = append(cs.Series, domain.Versioned[domain.Series]{Value: next, Expected: series.Version})
	entities = append([]namedEntity{{domain.EventSeriesUpdated, next}}, entities...)

	events, err := s.events(now, entities...)
	if err != nil {
		return nil, err
	}
	if err := s.repo.SaveChangeSet(ctx, cs, events); err != nil {
		return nil, err
	}
	s.committed(ctx, events)
	return &next, nil
}

func (s *RegistrationService) GetSeries(ctx context.Context, id uuid.UUID) (*domain.Series, error) {
	return s.repo.GetSeries(ctx, id)
}

func (s *RegistrationService) GetProduct(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	return s.repo.GetProduct(ctx, id)
}

func (s *RegistrationService) GetPart(ctx context.Context, id uuid.UUID) (*domain.Part, error) {
	return s.repo.GetPart(ctx, id)
}

func (s *RegistrationService) ListSeriesProducts(ctx context.Context, seriesID uuid.UUID) ([]domain.Product, error) {
	if _, err := s.repo.GetSeries(ctx, seriesID); err != nil {
		return nil, err
	}
	return s.repo.ListProductsBySeries(ctx, seriesID)
}

func (s *RegistrationService) checkIsoCategory(ctx context.Context, code string) error {
	if err := domain.ValidateIsoCategory(code); err != nil {
		return err
	}
	if s.catalog == nil {
		return nil
	}
	ok, err := s.catalog.IsoCategoryExists(ctx, code)
	if err != nil {
		return fmt.Errorf("catalog lookup %s: %w", code, err)
	}
	if !ok {
		return fmt.Errorf("%w: unknown iso category %s", domain.ErrInvalidInput, code)
	}
	return nil
}

type namedEntity struct {
	name   domain.EventName
	entity domain.Entity
}

func (s *RegistrationService) events(now time.Time, entities ...namedEntity) ([]domain.Event, error) {
	out := make([]domain.Event, 0, len(entities))
	for _, ne := range entities {
		ev, err := domain.NewEvent(ne.name, ne.entity, s.createdBy, now)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

func touch(version *int64, updatedAt *time.Time, updatedBy *string, now time.Time, actor string) {
	*version++
	*updatedAt = now
	*updatedBy = actor
}
