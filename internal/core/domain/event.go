package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

type EventName string

const (
	EventSeriesCreated      EventName = "series-created"
	EventSeriesUpdated      EventName = "series-updated"
	EventProductCreated     EventName = "product-created"
	EventProductUpdated     EventName = "product-updated"
	EventPartCreated        EventName = "part-created"
	EventPartUpdated        EventName = "part-updated"
	EventServiceTaskCreated EventName = "servicetask-created"
	EventServiceTaskUpdated EventName = "servicetask-updated"
)

// Event is one committed state transition, ready for the bus.
type Event struct {
	ID         uuid.UUID
	Name       EventName
	Key        string
	EntityKind Kind
	EntityID   uuid.UUID
	DTOVersion int64
	CreatedBy  string
	CreatedAt  time.Time
	Payload    json.RawMessage
}

// Envelope is the JSON body put on the bus.
type Envelope struct {
	EventID    uuid.UUID       `json:"eventId"`
	Key        string          `json:"key"`
	EventName  EventName       `json:"eventName"`
	Kind       Kind            `json:"kind"`
	CreatedBy  string          `json:"createdBy"`
	DTOVersion int64           `json:"dtoVersion"`
	CreatedAt  time.Time       `json:"createdAt"`
	Data       json.RawMessage `json:"data"`
}

// EventKey is the downstream idempotency key: name + "-" + entity id.
func EventKey(name EventName, id uuid.UUID) string {
	return string(name) + "-" + id.String()
}

// NewEvent snapshots entity into an event. The entity must already carry
// the version it will have once committed.
func NewEvent(name EventName, entity Entity, createdBy string, now time.Time) (Event, error) {
	data, err := json.Marshal(entity)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s: %w", entity.EntityKind(), err)
	}
	ev := Event{
		ID:         uuid.New(),
		Name:       name,
		Key:        EventKey(name, entity.EntityID()),
		EntityKind: entity.EntityKind(),
		EntityID:   entity.EntityID(),
		DTOVersion: entity.EntityVersion(),
		CreatedBy:  createdBy,
		CreatedAt:  now.UTC(),
	}
	ev.Payload, err = json.Marshal(Envelope{
		EventID:    ev.ID,
		Key:        ev.Key,
		EventName:  name,
		Kind:       ev.EntityKind,
		CreatedBy:  createdBy,
		DTOVersion: ev.DTOVersion,
		CreatedAt:  ev.CreatedAt,
		Data:       data,
	})
	if err != nil {
		return Event{}, fmt.Errorf("marshal envelope: %w", err)
	}
	return ev, nil
}

// MsgID identifies this exact event instance: two events for the same
// entity share Key but differ in DTOVersion.
func (e Event) MsgID() string {
	return e.Key + ":" + strconv.FormatInt(e.DTOVersion, 10)
}

// DecodeEnvelope parses a bus payload back into an Event.
func DecodeEnvelope(payload []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Event{}, fmt.Errorf("decode envelope: %w", err)
	}
	var ref struct {
		ID uuid.UUID `json:"id"`
	}
	if err := json.Unmarshal(env.Data, &ref); err != nil {
		return Event{}, fmt.Errorf("decode entity id: %w", err)
	}
	return Event{
		ID:         env.EventID,
		Name:       env.EventName,
		Key:        env.Key,
		EntityKind: env.Kind,
		EntityID:   ref.ID,
		DTOVersion: env.DTOVersion,
		CreatedBy:  env.CreatedBy,
		CreatedAt:  env.CreatedAt,
		Payload:    payload,
	}, nil
}

// OutboxRecord is an event persisted alongside the state it describes.
type OutboxRecord struct {
	Seq         int64
	Event       Event
	Attempts    int
	LastError   string
	PublishedAt *time.Time
}
