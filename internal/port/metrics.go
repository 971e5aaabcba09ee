package port

import "time"

type Metrics interface {
	ObserveOperation(operation string, err error, d time.Duration)
	VersionConflict(operation string)
	EventPublished(eventName string)
	PublishFailed()
	OutboxBacklog(n int)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) ObserveOperation(string, error, time.Duration) {}
func (NopMetrics) VersionConflict(string)                        {}
func (NopMetrics) EventPublished(string)                         {}
func (NopMetrics) PublishFailed()                                {}
func (NopMetrics) OutboxBacklog(int)                             {}
