package domain

// Status is the operational lifecycle axis of an entity.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusInactive Status = "INACTIVE"
	StatusDeleted  Status = "DELETED"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusDeleted:
		return true
	}
	return false
}

// DraftStatus is the publication lifecycle axis, independent of Status.
type DraftStatus string

const (
	DraftStatusDraft   DraftStatus = "DRAFT"
	DraftStatusDone    DraftStatus = "DONE"
	DraftStatusDeleted DraftStatus = "DELETED"
)

func (s DraftStatus) Valid() bool {
	switch s {
	case DraftStatusDraft, DraftStatusDone, DraftStatusDeleted:
		return true
	}
	return false
}

// Kind names the entity tables an operation can target.
type Kind string

const (
	KindSeries      Kind = "series"
	KindProduct     Kind = "product"
	KindPart        Kind = "part"
	KindServiceTask Kind = "servicetask"
)
