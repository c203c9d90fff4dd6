package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	orderDomain "github.com/davicafu/orderlog/internal/order/domain"
	sharedDomain "github.com/davicafu/orderlog/internal/shared/domain"
)

// EventStore guarda el log en memoria. Un único mutex serializa los Append,
// que es lo que hace atómica la comprobación de versión.
// También hace de outbox para que el relay funcione sin base de datos.
type EventStore struct {
	mu      sync.RWMutex
	streams map[string][]orderDomain.Event
	order   []string // ids en orden de creación, para ReadEverything estable
	outbox  []sharedDomain.OutboxEvent
}

var (
	_ orderDomain.EventStore        = (*EventStore)(nil)
	_ sharedDomain.OutboxRepository = (*EventStore)(nil)
)

func NewEventStore() *EventStore {
	return &EventStore{streams: make(map[string][]orderDomain.Event)}
}

func (s *EventStore) Append(ctx context.Context, evt orderDomain.Event, expectedVersion int) (orderDomain.Event, error) {
	if err := ctx.Err(); err != nil {
		return orderDomain.Event{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stream := s.streams[evt.AggregateID]
	stored, err := orderDomain.PrepareAppend(evt, expectedVersion, orderDomain.MaxVersion(stream))
	if err != nil {
		return orderDomain.Event{}, err
	}
	out, err := orderDomain.NewOutboxEvent(stored)
	if err != nil {
		return orderDomain.Event{}, err
	}

	if len(stream) == 0 {
		s.order = append(s.order, stored.AggregateID)
	}
	s.streams[stored.AggregateID] = append(stream, stored)
	s.outbox = append(s.outbox, out)
	return stored, nil
}

// ReadAll devuelve una copia: quien la reciba no puede alterar el log.
func (s *EventStore) ReadAll(ctx context.Context, aggregateID string) ([]orderDomain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stream := s.streams[aggregateID]
	out := make([]orderDomain.Event, len(stream))
	copy(out, stream)
	return out, nil
}

func (s *EventStore) ReadEverything(ctx context.Context) ([]orderDomain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []orderDomain.Event
	for _, id := range s.order {
		out = append(out, s.streams[id]...)
	}
	return out, nil
}

// ---------- Outbox ----------

func (s *EventStore) FetchPendingOutbox(ctx context.Context, limit int) ([]sharedDomain.OutboxEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pending []sharedDomain.OutboxEvent
	for _, evt := range s.outbox {
		if evt.Processed {
			continue
		}
		pending = append(pending, evt)
		if limit > 0 && len(pending) == limit {
			break
		}
	}
	sort.SliceStable(pending, func(i, j int) bool { return pending[i].CreatedAt.Before(pending[j].CreatedAt) })
	return pending, nil
}

func (s *EventStore) MarkOutboxProcessed(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.outbox {
		if s.outbox[i].ID == id {
			s.outbox[i].Processed = true
			return nil
		}
	}
	return fmt.Errorf("outbox event not found: %s", id)
}
