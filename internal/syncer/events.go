package syncer

import (
	"context"
	"sync"
	"time"
)

const (
	EventPassStarted   = "pass-started"
	EventPassCompleted = "pass-completed"
	EventPassFailed    = "pass-failed"
)

// Event is one progress notification for an account's sync pass.
type Event struct {
	AccountID string
	Type      string
	Mode      PassMode
	Message   string
	At        time.Time
}

// Dispatcher fans sync progress events out to per-account subscribers. Slow
// subscribers drop events rather than blocking the orchestrator.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*eventSubscriber
	nextID      int64
	bufferSize  int
}

type eventSubscriber struct {
	id     int64
	stream chan Event
}

// NewDispatcher constructs an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subscribers: make(map[string]map[int64]*eventSubscriber),
		bufferSize:  16,
	}
}

// Subscribe registers a listener for one account's events. The returned
// cleanup must be called when the listener goes away; it also fires when the
// context is cancelled.
func (d *Dispatcher) Subscribe(ctx context.Context, accountID string) (<-chan Event, func()) {
	if accountID == "" {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}
	subscriber := &eventSubscriber{
		id:     d.nextSequence(),
		stream: make(chan Event, d.bufferSize),
	}
	d.register(accountID, subscriber)

	done := make(chan struct{})
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			close(done)
			d.unregister(accountID, subscriber.id)
		})
	}
	// The watcher must not outlive the subscription: cleanup releases it even
	// when the caller's context is never cancelled.
	go func() {
		select {
		case <-ctx.Done():
			cleanup()
		case <-done:
		}
	}()
	return subscriber.stream, cleanup
}

// Publish delivers an event to the account's subscribers without blocking.
func (d *Dispatcher) Publish(event Event) {
	if event.AccountID == "" || event.Type == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[event.AccountID]
	copies := make([]*eventSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- event:
		default:
		}
	}
}

func (d *Dispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *Dispatcher) register(accountID string, subscriber *eventSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[accountID]; !ok {
		d.subscribers[accountID] = make(map[int64]*eventSubscriber)
	}
	d.subscribers[accountID][subscriber.id] = subscriber
}

func (d *Dispatcher) unregister(accountID string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[accountID]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, accountID)
		}
	}
	d.mu.Unlock()
}
