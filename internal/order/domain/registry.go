package domain

import (
	"fmt"
	"reflect"
	"strings"

	sharedDomain "github.com/davicafu/orderlog/internal/shared/domain"
	sharedEvents "github.com/davicafu/orderlog/internal/shared/domain/events"
	"github.com/google/uuid"
)

// Los tipos de evento de integración son "order.<kind>".
const (
	EventTypeCreated       = "order.Created"
	EventTypeStatusChanged = "order.StatusChanged"
	EventTypeItemAdded     = "order.ItemAdded"
	EventTypeItemRemoved   = "order.ItemRemoved"
	EventTypeRolledBack    = "order.RolledBack"
)

const (
	OrderTopic         = "order"
	OrderAggregateType = "order"
)

func NewEventRegistry() map[string]sharedEvents.EventMetadata {
	envelope := reflect.TypeOf(EventEnvelope{})
	return map[string]sharedEvents.EventMetadata{
		EventTypeCreated:       {Type: envelope, Topic: OrderTopic},
		EventTypeStatusChanged: {Type: envelope, Topic: OrderTopic},
		EventTypeItemAdded:     {Type: envelope, Topic: OrderTopic},
		EventTypeItemRemoved:   {Type: envelope, Topic: OrderTopic},
		EventTypeRolledBack:    {Type: envelope, Topic: OrderTopic},
	}
}

// EventTypeFor devuelve el tipo de integración de un kind.
func EventTypeFor(kind EventKind) string {
	return OrderTopic + "." + string(kind)
}

// KindFromEventType es el inverso de EventTypeFor.
func KindFromEventType(eventType string) (EventKind, bool) {
	kind, ok := strings.CutPrefix(eventType, OrderTopic+".")
	if !ok || kind == "" {
		return "", false
	}
	return EventKind(kind), true
}

// NewOutboxEvent prepara la fila de outbox que acompaña al evento en la misma transacción.
func NewOutboxEvent(evt Event) (sharedDomain.OutboxEvent, error) {
	env, err := ToEnvelope(evt)
	if err != nil {
		return sharedDomain.OutboxEvent{}, fmt.Errorf("build outbox event: %w", err)
	}
	return sharedDomain.OutboxEvent{
		ID:            uuid.New(),
		AggregateType: OrderAggregateType,
		AggregateID:   evt.AggregateID,
		EventType:     EventTypeFor(evt.Kind()),
		Payload:       env,
		CreatedAt:     evt.Timestamp,
	}, nil
}
