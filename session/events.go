package session

import "sync"

type EventType string

const (
	// EventActive fires when the engine is ready and transfer began.
	EventActive EventType = "active"
	// EventInactive fires when the engine was torn down without completing.
	EventInactive EventType = "inactive"
	// EventProgress fires on downloaded pieces, at most once per second.
	EventProgress EventType = "progress"
	// EventStats fires periodically while active and carries TrafficStats.
	EventStats EventType = "stats"
	// EventComplete fires once, after every piece verified and the engine
	// was torn down.
	EventComplete EventType = "complete"
)

type Event struct {
	Type     EventType     `json:"type"`
	Metadata *Metadata     `json:"metadata,omitempty"`
	Status   Status        `json:"status"`
	Stats    *TrafficStats `json:"stats,omitempty"`
}

type Handler func(Event)

type subscription struct {
	id  uint64
	all bool
	typ EventType
	fn  Handler
}

// Bus delivers events to handlers in subscription order. Handlers run on the
// emitting goroutine and may subscribe, unsubscribe or call back into the
// controller.
type Bus struct {
	mu   sync.RWMutex
	next uint64
	subs []subscription
}

func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers fn for events of type t.
func (b *Bus) Subscribe(t EventType, fn Handler) (unsubscribe func()) {
	return b.add(subscription{typ: t, fn: fn})
}

// SubscribeAll registers fn for every event.
func (b *Bus) SubscribeAll(fn Handler) (unsubscribe func()) {
	return b.add(subscription{all: true, fn: fn})
}

func (b *Bus) Emit(e Event) {
	b.mu.RLock()
	var fns []Handler
	for _, s := range b.subs {
		if s.all || s.typ == e.Type {
			fns = append(fns, s.fn)
		}
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(e)
	}
}

func (b *Bus) add(s subscription) func() {
	b.mu.Lock()
	b.next++
	s.id = b.next
	b.subs = append(b.subs, s)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(s.id) })
	}
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}
