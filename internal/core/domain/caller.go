package domain

import "github.com/google/uuid"

// Caller is the verified identity handed over by the authentication layer.
type Caller struct {
	Subject    string
	SupplierID uuid.UUID
	Admin      bool
}

func (c Caller) CanActFor(supplierID uuid.UUID) bool {
	if c.Admin {
		return true
	}
	return c.SupplierID != uuid.Nil && c.SupplierID == supplierID
}

// Actor is recorded as createdBy/updatedBy on entities.
func (c Caller) Actor() string {
	if c.Subject != "" {
		return c.Subject
	}
	return c.SupplierID.String()
}
