// Package events carries change notifications out of the write paths.
// The bus is in-process and asynchronous: Emit never blocks a commit,
// and delivery happens on a single dispatch goroutine.
package events

import (
	"sync"
	"time"
)

// EventType identifies what happened.
type EventType string

const (
	ObjectWritten  EventType = "object.written"
	ObjectDeleted  EventType = "object.deleted"
	ObjectRestored EventType = "object.restored"
	BranchCreated  EventType = "branch.created"
	MergeExecuted  EventType = "merge.executed"
)

// Event is the notification payload. Object fields are empty for branch
// events; SourceBranchID is set only for merge events.
type Event struct {
	Type           EventType `json:"type"`
	BranchID       string    `json:"branch_id"`
	SourceBranchID string    `json:"source_branch_id,omitempty"`
	ObjectID       string    `json:"object_id,omitempty"`
	CanonicalID    string    `json:"canonical_id,omitempty"`
	ObjectType     string    `json:"object_type,omitempty"`
	Paths          []string  `json:"paths,omitempty"`
	At             time.Time `json:"at"`
}

type subscription struct {
	types map[EventType]bool // nil means all types
	fn    func(Event)
}

// Bus fans emitted events out to subscribers. Emit is non-blocking and
// drops events once the buffer is full; writes must never wait on a slow
// consumer. Handlers run on the dispatch goroutine and must not call
// Subscribe or an unsubscribe func from inside a delivery.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]subscription
	nextID int
	buffer chan Event
	done   chan struct{}
	wg     sync.WaitGroup
	closed bool
}

// NewBus creates a bus and starts its dispatch goroutine. bufferSize <= 0
// selects the default of 256 pending events.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	b := &Bus{
		subs:   make(map[int]subscription),
		buffer: make(chan Event, bufferSize),
		done:   make(chan struct{}),
	}
	b.wg.Add(1)
	go b.dispatch()
	return b
}

// Subscribe registers fn for the given event types; no types means every
// event. The returned func removes the subscription.
func (b *Bus) Subscribe(fn func(Event), types ...EventType) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	id := b.nextID
	b.nextID++

	var set map[EventType]bool
	if len(types) > 0 {
		set = make(map[EventType]bool, len(types))
		for _, t := range types {
			set[t] = true
		}
	}
	b.subs[id] = subscription{types: set, fn: fn}

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Emit queues an event for delivery. Events emitted after Close, or once
// the buffer is full, are dropped.
func (b *Bus) Emit(e Event) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	b.mu.RUnlock()

	select {
	case b.buffer <- e:
	default:
	}
}

// Close stops the bus after delivering every event already queued.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	close(b.done)
	b.wg.Wait()
}

func (b *Bus) dispatch() {
	defer b.wg.Done()

	for {
		select {
		case e := <-b.buffer:
			b.deliver(e)
		case <-b.done:
			// Drain whatever was queued before Close.
			for {
				select {
				case e := <-b.buffer:
					b.deliver(e)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) deliver(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if sub.types == nil || sub.types[e.Type] {
			sub.fn(e)
		}
	}
}
