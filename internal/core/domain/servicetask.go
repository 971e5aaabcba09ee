package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ServiceTask is a registrable service offering. It carries the generic
// versioned-entity shape: two lifecycle axes, a validity window and an
// embedded attributes payload.
type ServiceTask struct {
	ID          uuid.UUID   `json:"id"`
	SupplierID  uuid.UUID   `json:"supplierId"`
	SupplierRef string      `json:"supplierRef"`
	HmsArtNr    ArtNr       `json:"hmsArtNr"`
	IsoCategory string      `json:"isoCategory"`
	Title       string      `json:"title"`
	Status      Status      `json:"status"`
	DraftStatus DraftStatus `json:"draftStatus"`
	Published   *time.Time  `json:"published,omitempty"`
	Expired     *time.Time  `json:"expired,omitempty"`
	Attributes  Attributes  `json:"attributes"`
	Version     int64       `json:"version"`
	CreatedAt   time.Time   `json:"created"`
	UpdatedAt   time.Time   `json:"updated"`
	CreatedBy   string      `json:"createdBy"`
	UpdatedBy   string      `json:"updatedBy"`
}

func (t ServiceTask) EntityID() uuid.UUID  { return t.ID }
func (t ServiceTask) EntityKind() Kind     { return KindServiceTask }
func (t ServiceTask) EntityVersion() int64 { return t.Version }

func (t ServiceTask) Validate() error {
	if t.Title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if t.SupplierID == uuid.Nil {
		return fmt.Errorf("%w: supplierId is required", ErrInvalidInput)
	}
	if _, err := NormalizeArtNr(string(t.HmsArtNr)); err != nil {
		return err
	}
	if err := ValidateIsoCategory(t.IsoCategory); err != nil {
		return err
	}
	if !t.Status.Valid() || !t.DraftStatus.Valid() {
		return fmt.Errorf("%w: unknown status %q/%q", ErrInvalidInput, t.Status, t.DraftStatus)
	}
	if t.Published != nil && t.Expired != nil && t.Published.After(*t.Expired) {
		return fmt.Errorf("%w: published %s after expired %s", ErrInvalidInput,
			t.Published.Format(time.RFC3339), t.Expired.Format(time.RFC3339))
	}
	return t.Attributes.Validate()
}
