package port

import (
	"context"

	"github.com/rl1809/registration/internal/core/domain"
)

// EventPublisher puts committed events on the bus. Publish returns only
// after the bus has durably accepted the message; an unreachable bus is
// reported as domain.ErrPublishUnavailable.
type EventPublisher interface {
	Publish(ctx context.Context, ev domain.Event) error
}
