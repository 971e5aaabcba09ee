package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/rl1809/registration/internal/core/domain"
)

type ServiceTaskInput struct {
	SupplierID  uuid.UUID
	SupplierRef string
	HmsArtNr    string
	IsoCategory string
	Title       string
	Published   *time.Time
	Expired     *time.Time
	Attributes  domain.Attributes
}

func (s *RegistrationService) CreateServiceTask(ctx context.Context, caller domain.Caller, in ServiceTaskInput) (_ *domain.ServiceTask, err error) {
	ctx, done := s.begin(ctx, "create_servicetask", attribute.String("supplier_id", in.SupplierID.String()))
	defer func() { done(&err) }()

	if !caller.CanActFor(in.SupplierID) {
		return nil, fmt.Errorf("%w: caller %q may not register for supplier %s", domain.ErrUnauthorized, caller.Actor(), in.SupplierID)
	}
	hmsArtNr, err := domain.NormalizeArtNr(in.HmsArtNr)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	actor := caller.Actor()
	task := domain.ServiceTask{
		ID:          s.newID(),
		SupplierID:  in.SupplierID,
		SupplierRef: strings.TrimSpace(in.SupplierRef),
		HmsArtNr:    hmsArtNr,
		IsoCategory: in.IsoCategory,
		Title:       strings.TrimSpace(in.Title),
		Status:      domain.StatusActive,
		DraftStatus: domain.DraftStatusDraft,
		Published:   millis(in.Published),
		Expired:     millis(in.Expired),
		Attributes:  in.Attributes,
		CreatedAt:   now,
		UpdatedAt:   now,
		CreatedBy:   actor,
		UpdatedBy:   actor,
	}
	if err := task.Validate(); err != nil {
		return nil, err
	}
	if err := s.checkIsoCategory(ctx, task.IsoCategory); err != nil {
		return nil, err
	}

	events, err := s.events(now, namedEntity{domain.EventServiceTaskCreated, task})
	if err != nil {
		return nil, err
	}
	if err := s.repo.CreateServiceTask(ctx, task, events); err != nil {
		return nil, err
	}
	s.committed(ctx, events)

	s.log.InfoContext(ctx, "service task created", slog.String("id", task.ID.String()))
	return &task, nil
}

// PublishServiceTask marks the task DONE. Published defaults to now.
func (s *RegistrationService) PublishServiceTask(ctx context.Context, caller domain.Caller, id uuid.UUID, expectedVersion int64) (*domain.ServiceTask, error) {
	now := s.clock()
	return s.UpdateServiceTask(ctx, caller, id, expectedVersion, func(t *domain.ServiceTask) error {
		t.DraftStatus = domain.DraftStatusDone
		if t.Published == nil {
			t.Published = &now
		}
		return nil
	})
}

// ExpireServiceTask deactivates the task from now on.
func (s *RegistrationService) ExpireServiceTask(ctx context.Context, caller domain.Caller, id uuid.UUID, expectedVersion int64) (*domain.ServiceTask, error) {
	now := s.clock()
	return s.UpdateServiceTask(ctx, caller, id, expectedVersion, func(t *domain.ServiceTask) error {
		t.Status = domain.StatusInactive
		t.Expired = &now
		if t.Published != nil && t.Published.After(now) {
			t.Published = &now
		}
		return nil
	})
}

// DeleteServiceTask moves the task to the terminal DELETED state. A task
// that never left DRAFT is discarded on the draft axis as well.
func (s *RegistrationService) DeleteServiceTask(ctx context.Context, caller domain.Caller, id uuid.UUID, expectedVersion int64) (*domain.ServiceTask, error) {
	return s.UpdateServiceTask(ctx, caller, id, expectedVersion, func(t *domain.ServiceTask) error {
		t.Status = domain.StatusDeleted
		if t.DraftStatus == domain.DraftStatusDraft {
			t.DraftStatus = domain.DraftStatusDeleted
		}
		return nil
	})
}

func (s *RegistrationService) GetServiceTask(ctx context.Context, id uuid.UUID) (*domain.ServiceTask, error) {
	return s.repo.GetServiceTask(ctx, id)
}

func millis(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC().Truncate(time.Millisecond)
	return &v
}
