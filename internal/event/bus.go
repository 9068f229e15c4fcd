package event

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultHistoryCap bounds the bus history ring.
const DefaultHistoryCap = 200

// Record is a published event with its dispatch metadata.
type Record struct {
	ID    string
	Event Event
	At    time.Time
}

type subscription struct {
	id      int
	handler func(Event)
}

// Bus dispatches events synchronously to subscribers in subscription
// order and keeps a bounded history of everything published.
type Bus struct {
	mu         sync.Mutex
	nextID     int
	subs       map[Kind][]subscription
	all        []subscription
	history    []Record
	historyCap int
}

// NewBus creates a bus with the given history capacity. A capacity of
// zero or less uses DefaultHistoryCap.
func NewBus(historyCap int) *Bus {
	if historyCap <= 0 {
		historyCap = DefaultHistoryCap
	}
	return &Bus{
		subs:       make(map[Kind][]subscription),
		historyCap: historyCap,
	}
}

// Subscribe registers a handler for a single event kind and returns a
// function that removes it.
func (b *Bus) Subscribe(k Kind, handler func(Event)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs[k] = append(b.subs[k], subscription{id: id, handler: handler})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.subs[k] = removeSub(b.subs[k], id)
	}
}

// SubscribeAll registers a handler for every event kind.
func (b *Bus) SubscribeAll(handler func(Event)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.all = append(b.all, subscription{id: id, handler: handler})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.all = removeSub(b.all, id)
	}
}

// Publish records the event and invokes matching handlers synchronously
// in subscription order. Handlers may publish further events; the lock
// is not held during dispatch.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	rec := Record{ID: uuid.NewString(), Event: e, At: time.Now()}
	b.history = append(b.history, rec)
	if len(b.history) > b.historyCap {
		b.history = b.history[len(b.history)-b.historyCap:]
	}
	handlers := make([]subscription, 0, len(b.subs[e.Kind()])+len(b.all))
	handlers = append(handlers, b.subs[e.Kind()]...)
	handlers = append(handlers, b.all...)
	b.mu.Unlock()

	for _, s := range handlers {
		s.handler(e)
	}
}

// History returns up to limit of the most recent records for the given
// kind, oldest first. An empty kind matches everything; limit <= 0
// means no limit.
func (b *Bus) History(k Kind, limit int) []Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Record
	for _, r := range b.history {
		if k == "" || r.Event.Kind() == k {
			out = append(out, r)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func removeSub(subs []subscription, id int) []subscription {
	for i, s := range subs {
		if s.id == id {
			return append(subs[:i:i], subs[i+1:]...)
		}
	}
	return subs
}
