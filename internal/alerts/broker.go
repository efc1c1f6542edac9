package alerts

import (
	"context"
	"sync"
	"time"

	"github.com/ferramas/ferramas-backend/pkg/logger"
)

const (
	// EventLowStock is published when a settlement leaves a stock row at zero.
	EventLowStock = "low_stock"

	defaultBuffer = 16
)

// Event is one message fanned out to subscribers.
type Event struct {
	Name string
	Data string
	At   time.Time
}

// Broker owns the set of connected listeners.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[uint64]chan Event
	nextID      uint64
	buffer      int
	logg        *logger.Logger
}

// NewBroker builds a broker; buffer bounds how many events a slow subscriber can lag.
func NewBroker(buffer int, logg *logger.Logger) *Broker {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Broker{
		subscribers: make(map[uint64]chan Event),
		buffer:      buffer,
		logg:        logg,
	}
}

// Subscribe registers a listener. The caller must Unsubscribe when it disconnects.
func (b *Broker) Subscribe() (uint64, <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	ch := make(chan Event, b.buffer)
	b.subscribers[b.nextID] = ch
	return b.nextID, ch
}

// Unsubscribe removes the listener and closes its channel.
func (b *Broker) Unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.subscribers[id]
	if !ok {
		return
	}
	delete(b.subscribers, id)
	close(ch)
}

// Publish delivers to every subscriber without blocking; full subscribers miss the event.
func (b *Broker) Publish(event, message string) {
	evt := Event{Name: event, Data: message, At: time.Now().UTC()}

	b.mu.RLock()
	defer b.mu.RUnlock()
	dropped := 0
	for _, ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
			dropped++
		}
	}

	if b.logg == nil {
		return
	}
	ctx := b.logg.WithFields(context.Background(), map[string]any{
		"event":       event,
		"subscribers": len(b.subscribers),
		"dropped":     dropped,
	})
	b.logg.Info(ctx, "alert published")
}

// Len reports the number of connected subscribers.
func (b *Broker) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
