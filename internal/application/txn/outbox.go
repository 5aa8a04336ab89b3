package txn

import (
	"github.com/alem-hub/civiclearn/internal/domain/shared"
	"github.com/alem-hub/civiclearn/pkg/logger"
)

// Outbox collects domain events produced inside a unit of work. Handlers
// reset it at the start of every attempt and flush it only after commit, so
// subscribers never observe an event that was rolled back.
type Outbox struct {
	events []shared.Event
}

// Reset drops everything recorded by a previous (rolled back) attempt.
func (o *Outbox) Reset() { o.events = o.events[:0] }

// Record appends an event.
func (o *Outbox) Record(e shared.Event) { o.events = append(o.events, e) }

// Events returns the recorded events.
func (o *Outbox) Events() []shared.Event { return o.events }

// Flush publishes every event. Publish failures are logged, never returned:
// the event has already been committed.
func (o *Outbox) Flush(pub shared.EventPublisher, log *logger.Logger) {
	if pub == nil {
		return
	}
	for _, e := range o.events {
		if err := pub.Publish(e); err != nil {
			log.Warn("failed to publish event",
				logger.EventType(string(e.EventType())),
				logger.LearnerID(e.AggregateID()),
				logger.Err(err),
			)
		}
	}
}
