package domain

import (
	"time"

	"github.com/google/uuid"
)

// Product is the catalog-facing side of a Part. Both share one id.
type Product struct {
	ID          uuid.UUID   `json:"id"`
	SeriesID    uuid.UUID   `json:"seriesId"`
	SupplierID  uuid.UUID   `json:"supplierId"`
	Title       string      `json:"title"`
	IsoCategory string      `json:"isoCategory"`
	HmsArtNr    ArtNr       `json:"hmsArtNr"`
	MainProduct bool        `json:"mainProduct"`
	Status      Status      `json:"status"`
	DraftStatus DraftStatus `json:"draftStatus"`
	Version     int64       `json:"version"`
	CreatedAt   time.Time   `json:"created"`
	UpdatedAt   time.Time   `json:"updated"`
	CreatedBy   string      `json:"createdBy"`
	UpdatedBy   string      `json:"updatedBy"`
}

func (p Product) EntityID() uuid.UUID  { return p.ID }
func (p Product) EntityKind() Kind     { return KindProduct }
func (p Product) EntityVersion() int64 { return p.Version }
