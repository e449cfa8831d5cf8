package bus

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// anyKind is the key for handlers subscribed to every kind.
const anyKind Kind = "*"

type subscription struct {
	id     string
	cancel func()
	once   sync.Once
}

func (s *subscription) ID() string { return s.id }

func (s *subscription) Cancel() {
	s.once.Do(s.cancel)
}

// inMemoryBus is a thread-safe implementation of Bus.
type inMemoryBus struct {
	mu sync.RWMutex
	// handlers: kind -> subscription id -> handler
	handlers map[Kind]map[string]Handler
}

// New creates a new Bus instance.
func New() Bus {
	return &inMemoryBus{
		handlers: make(map[Kind]map[string]Handler),
	}
}

func (b *inMemoryBus) Subscribe(kind Kind, handler Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.handlers[kind] == nil {
		b.handlers[kind] = make(map[string]Handler)
	}
	id := uuid.NewString()
	b.handlers[kind][id] = handler

	return &subscription{
		id: id,
		cancel: func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.handlers[kind], id)
		},
	}
}

func (b *inMemoryBus) SubscribeAll(handler Handler) Subscription {
	return b.Subscribe(anyKind, handler)
}

func (b *inMemoryBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := 0
	for _, m := range b.handlers {
		n += len(m)
	}
	return n
}

func (b *inMemoryBus) Publish(event Event) error {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers[event.Kind])+len(b.handlers[anyKind]))
	for _, h := range b.handlers[event.Kind] {
		handlers = append(handlers, h)
	}
	for _, h := range b.handlers[anyKind] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	var all error
	for _, h := range handlers {
		if err := h(event); err != nil {
			all = errors.Join(all, err)
		}
	}
	return all
}
