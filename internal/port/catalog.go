package port

import "context"

// CatalogClient is the read-only source of canonical reference data.
type CatalogClient interface {
	IsoCategoryExists(ctx context.Context, code string) (bool, error)
}
