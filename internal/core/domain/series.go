package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Series struct {
	ID          uuid.UUID   `json:"id"`
	SupplierID  uuid.UUID   `json:"supplierId"`
	Title       string      `json:"title"`
	IsoCategory string      `json:"isoCategory"`
	MainProduct bool        `json:"mainProduct"`
	Status      Status      `json:"status"`
	DraftStatus DraftStatus `json:"draftStatus"`
	Version     int64       `json:"version"`
	CreatedAt   time.Time   `json:"created"`
	UpdatedAt   time.Time   `json:"updated"`
	CreatedBy   string      `json:"createdBy"`
	UpdatedBy   string      `json:"updatedBy"`
}

func (s Series) EntityID() uuid.UUID  { return s.ID }
func (s Series) EntityKind() Kind     { return KindSeries }
func (s Series) EntityVersion() int64 { return s.Version }

func (s Series) Validate() error {
	if s.Title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if err := ValidateIsoCategory(s.IsoCategory); err != nil {
		return err
	}
	if !s.Status.Valid() || !s.DraftStatus.Valid() {
		return fmt.Errorf("%w: unknown status %q/%q", ErrInvalidInput, s.Status, s.DraftStatus)
	}
	return nil
}
