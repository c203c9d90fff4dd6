package events

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	sharedBus "github.com/davicafu/orderlog/internal/shared/infra/platform/bus"
)

// InMemoryEventBus implementa un bus de eventos para UN solo topic.
// Se usa cuando Kafka está desactivado.
type InMemoryEventBus struct {
	subscribers []chan []byte
	mu          sync.RWMutex
	topic       string
}

var _ sharedBus.EventBus = (*InMemoryEventBus)(nil)

func NewInMemoryEventBus(topic string) *InMemoryEventBus {
	return &InMemoryEventBus{
		subscribers: make([]chan []byte, 0),
		topic:       topic,
	}
}

func (b *InMemoryEventBus) Topic() string { return b.topic }

// Publish serializa el evento y lo reparte a los suscriptores. Un suscriptor
// con el buffer lleno pierde el mensaje en vez de bloquear al publicador.
func (b *InMemoryEventBus) Publish(ctx context.Context, event interface{}) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subscribers {
		select {
		case sub <- payload:
		default:
		}
	}
	return nil
}

// Subscribe registra un nuevo oyente con el buffer indicado.
func (b *InMemoryEventBus) Subscribe(bufferSize int) <-chan []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(chan []byte, bufferSize)
	b.subscribers = append(b.subscribers, sub)
	return sub
}

// Consume entrega cada mensaje al handler hasta que se cancele el contexto.
// Es el equivalente en memoria de ConsumerAdapter.
func (b *InMemoryEventBus) Consume(ctx context.Context, handler MessageHandler, bufferSize int, log *zap.Logger) {
	sub := b.Subscribe(bufferSize)
	log.Info("🎧 Iniciando consumidor en memoria...", zap.String("topic", b.topic))

	go func() {
		for {
			select {
			case <-ctx.Done():
				log.Info("Consumidor en memoria detenido.", zap.String("topic", b.topic))
				return
			case payload := <-sub:
				handler.HandleMessage(ctx, "", payload)
			}
		}
	}()
}
