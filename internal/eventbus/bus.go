package eventbus

import (
	"sync"

	"github.com/google/uuid"

	"github.com/isic-edge/reader-core/internal/apperr"
	"github.com/isic-edge/reader-core/internal/logging"
)

// DefaultCapacity is the per-kind ring capacity used when none is
// configured. Small rings bound worst-case memory and make back-pressure
// visible as drop counts; producers that cannot tolerate drops must
// coalesce at source.
const DefaultCapacity = 4

// Handler is invoked by Dispatch for each event delivered to a
// subscription. A handler that panics is recovered and logged; it does
// not prevent delivery to sibling subscribers nor break future dispatches.
type Handler func(Event)

// Subscription is a scoped resource: Subscribe registers the handler,
// Cancel removes it. Callers should defer sub.Cancel() rather than track a
// bare id.
type Subscription struct {
	ID   string
	kind Kind
	bus  *Bus
	excl bool
}

// Cancel unregisters the handler. Idempotent; safe to call more than once.
func (s *Subscription) Cancel() {
	if s == nil || s.bus == nil {
		return
	}
	s.bus.unsubscribe(s)
}

type subscriber struct {
	id      string
	handler Handler
}

type ring struct {
	buf      []Event
	head     int
	count    int
	dropped  uint64
	peakSize int
}

func newRing(capacity int) *ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &ring{buf: make([]Event, capacity)}
}

func (r *ring) cap() int { return len(r.buf) }

// push enqueues e, evicting the oldest element on overflow.
func (r *ring) push(e Event) {
	if r.count == r.cap() {
		// Drop oldest: advance head, keep count the same, overwrite at
		// the new tail slot.
		r.head = (r.head + 1) % r.cap()
		r.dropped++
	} else {
		r.count++
	}
	tail := (r.head + r.count - 1) % r.cap()
	r.buf[tail] = e
	if r.count > r.peakSize {
		r.peakSize = r.count
	}
}

// pop removes and returns the oldest element. ok is false if empty.
func (r *ring) pop() (Event, bool) {
	if r.count == 0 {
		return Event{}, false
	}
	e := r.buf[r.head]
	r.buf[r.head] = Event{}
	r.head = (r.head + 1) % r.cap()
	r.count--
	return e, true
}

// kindState holds one event kind's queue and subscriber set. Shared and
// exclusive subscribers are mutually exclusive for a given kind.
type kindState struct {
	ring   *ring
	shared []*subscriber
	excl   *subscriber
}

// Bus is the in-process pub/sub core. It is safe for publish to be called
// concurrently with Dispatch and with subscribe/unsubscribe; a single
// short mutex critical section protects ring and subscriber-list
// mutation, mirroring the reference implementation's brief
// interrupt-disable window around the ring write.
type Bus struct {
	mu     sync.Mutex
	states [numKinds]*kindState
	log    logging.Logger
}

// New constructs a Bus with DefaultCapacity rings for every kind.
func New(log logging.Logger) *Bus {
	if log == nil {
		log = logging.Nop{}
	}
	b := &Bus{log: log}
	for k := Kind(0); k < numKinds; k++ {
		b.states[k] = &kindState{ring: newRing(DefaultCapacity)}
	}
	return b
}

// WithCapacity overrides the ring capacity for a specific kind. Must be
// called before any publish/subscribe traffic on that kind.
func (b *Bus) WithCapacity(kind Kind, capacity int) *Bus {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.states[kind].ring = newRing(capacity)
	return b
}

// Publish enqueues event into its kind's ring. Safe to call from an
// interrupt-style producer goroutine: the critical section is a single
// slice write, no allocation beyond what the caller already built in
// Event.Payload. Returns nil for every known kind, even on overflow: an
// overflow silently drops the oldest pending event of that kind and
// increments its drop counter, which is the observable signal per the
// bus's failure semantics. An out-of-range kind is rejected with
// InvalidArg.
func (b *Bus) Publish(event Event) error {
	if event.Kind < 0 || event.Kind >= numKinds {
		return apperr.New("eventbus", apperr.InvalidArg, "unknown event kind")
	}
	b.mu.Lock()
	b.states[event.Kind].ring.push(event)
	b.mu.Unlock()
	return nil
}

// Subscribe registers a shared handler for kind. Fails with Busy if an
// exclusive subscriber is already registered for that kind.
func (b *Bus) Subscribe(kind Kind, h Handler) (*Subscription, error) {
	return b.subscribe(kind, h, false)
}

// SubscribeExclusive registers the single exclusive handler for kind.
// Fails with Busy if any subscriber (shared or exclusive) already holds
// that kind.
func (b *Bus) SubscribeExclusive(kind Kind, h Handler) (*Subscription, error) {
	return b.subscribe(kind, h, true)
}

func (b *Bus) subscribe(kind Kind, h Handler, exclusive bool) (*Subscription, error) {
	if kind < 0 || kind >= numKinds {
		return nil, apperr.New("eventbus", apperr.InvalidArg, "unknown event kind")
	}
	if h == nil {
		return nil, apperr.New("eventbus", apperr.InvalidArg, "nil handler")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.states[kind]
	if exclusive {
		if st.excl != nil || len(st.shared) > 0 {
			return nil, apperr.New("eventbus", apperr.Busy, "kind already has a subscriber")
		}
	} else if st.excl != nil {
		return nil, apperr.New("eventbus", apperr.Busy, "kind has an exclusive subscriber")
	}
	sub := &subscriber{id: uuid.NewString(), handler: h}
	if exclusive {
		st.excl = sub
	} else {
		st.shared = append(st.shared, sub)
	}
	return &Subscription{ID: sub.id, kind: kind, bus: b, excl: exclusive}, nil
}

func (b *Bus) unsubscribe(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.states[s.kind]
	if s.excl {
		if st.excl != nil && st.excl.id == s.ID {
			st.excl = nil
		}
		return
	}
	for i, sub := range st.shared {
		if sub.id == s.ID {
			st.shared = append(st.shared[:i], st.shared[i+1:]...)
			return
		}
	}
}

// Dispatch drains every kind's ring once, invoking handlers in
// subscription order, and returns the total number of events dispatched.
// Events published by a handler during this call are enqueued for the
// next Dispatch call; Dispatch snapshots every kind's pending count up
// front so it never observes its own handlers' output.
func (b *Bus) Dispatch() int {
	var due [numKinds]int
	b.mu.Lock()
	for k := Kind(0); k < numKinds; k++ {
		due[k] = b.states[k].ring.count
	}
	b.mu.Unlock()
	dispatched := 0
	for k := Kind(0); k < numKinds; k++ {
		dispatched += b.dispatchKind(k, due[k])
	}
	return dispatched
}

func (b *Bus) dispatchKind(kind Kind, due int) int {
	if due == 0 {
		return 0
	}
	b.mu.Lock()
	st := b.states[kind]
	b.mu.Unlock()

	count := 0
	for i := 0; i < due; i++ {
		b.mu.Lock()
		event, ok := st.ring.pop()
		excl := st.excl
		shared := append([]*subscriber(nil), st.shared...)
		b.mu.Unlock()
		if !ok {
			break
		}
		if excl != nil {
			b.invoke(excl, event)
		}
		for _, sub := range shared {
			b.invoke(sub, event)
		}
		count++
	}
	return count
}

func (b *Bus) invoke(sub *subscriber, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event handler panicked", "kind", event.Kind.String(), "subscriber", sub.id, "panic", r)
		}
	}()
	sub.handler(event)
}

// Stats is a point-in-time observability snapshot for one kind.
type Stats struct {
	Kind     Kind
	Pending  int
	Dropped  uint64
	PeakSize int
}

// Pending returns the number of events waiting in kind's ring.
func (b *Bus) Pending(kind Kind) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.states[kind].ring.count
}

// Dropped returns the lifetime drop count for kind.
func (b *Bus) Dropped(kind Kind) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.states[kind].ring.dropped
}

// PeakDepth returns the highest pending count ever observed for kind
// since construction or the last ResetStats.
func (b *Bus) PeakDepth(kind Kind) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.states[kind].ring.peakSize
}

// ResetStats zeroes dropped/peak counters for every kind without touching
// pending events or subscribers.
func (b *Bus) ResetStats() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, st := range b.states {
		st.ring.dropped = 0
		st.ring.peakSize = st.ring.count
	}
}

// AllStats returns a Stats snapshot for every kind, for observing bus
// back-pressure.
func (b *Bus) AllStats() []Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Stats, 0, numKinds)
	for k := Kind(0); k < numKinds; k++ {
		st := b.states[k]
		out = append(out, Stats{Kind: k, Pending: st.ring.count, Dropped: st.ring.dropped, PeakSize: st.ring.peakSize})
	}
	return out
}
