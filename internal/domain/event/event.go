// Package event defines domain events and the sink they are handed to.
// Events are buffered by the unit of work and reach the sink only after
// the owning transaction commits, in creation order.
package event

import (
	"context"
	"time"

	"coreapp/internal/core/id"
)

// Event is a single domain event.
type Event struct {
	// ID is a UUIDv7, so event IDs sort by creation time
	ID id.ID `db:"id" json:"id"`

	// EventType names what happened, e.g. "sale.recorded"
	EventType string `db:"event_type" json:"eventType"`

	// AggregateType and AggregateID locate the entity the event is about
	AggregateType string `db:"aggregate_type" json:"aggregateType"`
	AggregateID   id.ID  `db:"aggregate_id" json:"aggregateId"`

	// Payload carries event-specific data
	Payload map[string]any `db:"payload" json:"payload,omitempty"`

	// TenantID scopes the event
	TenantID string `db:"tenant_id" json:"tenantId"`

	// At is the moment the event was raised inside the transaction,
	// not the moment it was published
	At time.Time `db:"occurred_at" json:"at"`
}

// New creates an event stamped with the current wall clock.
// The unit of work builds events itself to stamp them with its own clock.
func New(eventType, aggregateType string, aggregateID id.ID, payload map[string]any, tenantID string) Event {
	return Event{
		ID:            id.New(),
		EventType:     eventType,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Payload:       payload,
		TenantID:      tenantID,
		At:            time.Now().UTC(),
	}
}

// Sink receives committed events. Publish is called once per transaction
// with the full batch in creation order. After a successful handoff the
// events are the sink's responsibility.
type Sink interface {
	Publish(ctx context.Context, events []Event) error
}
