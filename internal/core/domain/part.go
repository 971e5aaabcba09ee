package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Part is a supplier-specific orderable unit.
type Part struct {
	ID          uuid.UUID   `json:"id"`
	SeriesUUID  uuid.UUID   `json:"seriesUUID"`
	SupplierID  uuid.UUID   `json:"supplierId"`
	Title       string      `json:"title"`
	IsoCategory string      `json:"isoCategory"`
	HmsArtNr    ArtNr       `json:"hmsArtNr"`
	LevArtNr    ArtNr       `json:"levArtNr"`
	SparePart   bool        `json:"sparePart"`
	Accessory   bool        `json:"accessory"`
	Status      Status      `json:"status"`
	DraftStatus DraftStatus `json:"draftStatus"`
	Version     int64       `json:"version"`
	CreatedAt   time.Time   `json:"created"`
	UpdatedAt   time.Time   `json:"updated"`
	CreatedBy   string      `json:"createdBy"`
	UpdatedBy   string      `json:"updatedBy"`
}

func (p Part) EntityID() uuid.UUID  { return p.ID }
func (p Part) EntityKind() Kind     { return KindPart }
func (p Part) EntityVersion() int64 { return p.Version }

// Validate checks the fields a caller may change.
func (p Part) Validate() error {
	if p.Title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if err := ValidateIsoCategory(p.IsoCategory); err != nil {
		return err
	}
	if _, err := NormalizeArtNr(string(p.HmsArtNr)); err != nil {
		return err
	}
	if _, err := NormalizeArtNr(string(p.LevArtNr)); err != nil {
		return err
	}
	if !p.Status.Valid() || !p.DraftStatus.Valid() {
		return fmt.Errorf("%w: unknown status %q/%q", ErrInvalidInput, p.Status, p.DraftStatus)
	}
	return nil
}

// ProductView returns p's catalog-visible fields projected onto its Product.
func (p Part) ProductView(prod Product) Product {
	prod.Title = p.Title
	prod.IsoCategory = p.IsoCategory
	prod.HmsArtNr = p.HmsArtNr
	prod.Status = p.Status
	prod.DraftStatus = p.DraftStatus
	return prod
}

// Aggregate is the triple committed by draft creation. NewSeries is false
// when the part joins an existing series.
type Aggregate struct {
	Series    Series
	Product   Product
	Part      Part
	NewSeries bool
}
