package domain

import "github.com/google/uuid"

// Entity is anything that can be carried in an event payload.
type Entity interface {
	EntityID() uuid.UUID
	EntityKind() Kind
	EntityVersion() int64
}
