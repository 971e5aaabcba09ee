package domain

import "errors"

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrNotFound           = errors.New("not found")
	ErrVersionConflict    = errors.New("version conflict")
	ErrPersistenceFailure = errors.New("persistence failure")
	ErrPublishUnavailable = errors.New("publish unavailable")
	ErrInvalidInput       = errors.New("invalid input")
	ErrAlreadyExists      = errors.New("already exists")

	// ErrConcurrentModification is reported when two promotions race in one series.
	ErrConcurrentModification = ErrVersionConflict
)
