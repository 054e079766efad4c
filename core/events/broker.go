package events

import (
	"context"
	"sync"
)

const (
	defaultBrokerHistory = 256
	subscriberBuffer     = 32
)

// Sequenced is a record stamped with its position in the broker stream.
type Sequenced struct {
	Sequence uint64 `json:"sequence"`
	Record
}

// Broker fans emitted events out to live subscribers and keeps a bounded
// history so reconnecting clients can resume after a sequence number. Slow
// subscribers miss events rather than block the engine.
type Broker struct {
	mu      sync.Mutex
	seq     uint64
	limit   int
	history []Sequenced
	nextID  uint64
	subs    map[uint64]chan Sequenced
}

// NewBroker retains up to history events for replay. Non-positive values use
// the default.
func NewBroker(history int) *Broker {
	if history <= 0 {
		history = defaultBrokerHistory
	}
	return &Broker{limit: history, subs: make(map[uint64]chan Sequenced)}
}

func recordOf(evt Event) Record {
	if recordable, ok := evt.(Recordable); ok {
		if rec := recordable.Record(); rec != nil {
			return *rec
		}
	}
	return Record{Type: evt.EventType(), Attributes: map[string]string{}}
}

func (s Sequenced) clone() Sequenced {
	attrs := make(map[string]string, len(s.Attributes))
	for k, v := range s.Attributes {
		attrs[k] = v
	}
	s.Attributes = attrs
	return s
}

// Emit implements Emitter.
func (b *Broker) Emit(evt Event) {
	if evt == nil {
		return
	}
	rec := recordOf(evt)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	entry := Sequenced{Sequence: b.seq, Record: rec}
	b.history = append(b.history, entry)
	if len(b.history) > b.limit {
		trimmed := make([]Sequenced, b.limit)
		copy(trimmed, b.history[len(b.history)-b.limit:])
		b.history = trimmed
	}
	for _, ch := range b.subs {
		select {
		case ch <- entry.clone():
		default:
		}
	}
}

// Subscribe registers a subscriber and returns the retained events after
// since. The channel closes when cancel runs or ctx ends.
func (b *Broker) Subscribe(ctx context.Context, since uint64) (<-chan Sequenced, func(), []Sequenced) {
	updates := make(chan Sequenced, subscriberBuffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = updates
	backlog := make([]Sequenced, 0, len(b.history))
	for _, entry := range b.history {
		if entry.Sequence > since {
			backlog = append(backlog, entry.clone())
		}
	}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
			b.mu.Unlock()
		})
	}
	if ctx != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}
	return updates, cancel, backlog
}

// Subscribers reports the number of live subscriptions.
func (b *Broker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
