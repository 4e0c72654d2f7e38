// Package events carries notifications about committed state changes to
// other systems. Publishing happens after the owning transaction commits and
// never affects its outcome.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/storekeeper/storekeeper/internal/config"
	"github.com/storekeeper/storekeeper/internal/util"
)

// Event types.
const (
	RequisitionCreated             = "requisition.created"
	RequisitionApproved            = "requisition.approved"
	RequisitionRejected            = "requisition.rejected"
	RequisitionCancelled           = "requisition.cancelled"
	RequisitionCollectionCancelled = "requisition.collection_cancelled"
	RequisitionReady               = "requisition.ready"
	RequisitionCollected           = "requisition.collected"

	ItemRestocked = "inventory.restocked"
	ItemAdjusted  = "inventory.adjusted"

	ProcurementLogged      = "procurement.logged"
	PurchaseRequestUpdated = "purchase_request.updated"
)

// Event is one notification.
type Event struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	AggregateID string         `json:"aggregate_id"`
	ActorID     string         `json:"actor_id,omitempty"`
	OccurredAt  time.Time      `json:"occurred_at"`
	Data        map[string]any `json:"data,omitempty"`
}

// New builds an event stamped with a fresh id and the current time.
func New(eventType, aggregateID, actorID string, data map[string]any) Event {
	return Event{
		ID:          util.NewID(),
		Type:        eventType,
		AggregateID: aggregateID,
		ActorID:     actorID,
		OccurredAt:  time.Now().UTC(),
		Data:        data,
	}
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// NewPublisher returns a Kafka publisher when events are enabled and a no-op
// publisher otherwise.
func NewPublisher(cfg config.EventsConfig) Publisher {
	if !cfg.Enabled {
		return Nop{}
	}
	return NewKafkaPublisher(cfg.Brokers, cfg.Topic, cfg.ClientID)
}

// Notify publishes event and logs a failure instead of returning it.
func Notify(ctx context.Context, logger *slog.Logger, p Publisher, event Event) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, event); err != nil {
		logger.Error("publishing event failed",
			"type", event.Type,
			"aggregate_id", event.AggregateID,
			"error", err,
		)
	}
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error {
	return nil
}

func (Nop) Close() error {
	return nil
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	err    error
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Publish records event, or returns the configured failure.
func (r *Recorder) Publish(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, event)
	return nil
}

// FailWith makes subsequent publishes return err.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

// Reset forgets recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

func (r *Recorder) Close() error { return nil }
