// Package events implements the in-process event broker: one producer
// (the scheduler and its supervisors), many bounded subscriber queues,
// and a lossy "slow consumer" overflow policy.
package events

import (
	"sync"
	"time"

	"github.com/scanord/engine/pkg/types"
)

const defaultSubscriberCapacity = 1000

// Subscriber is a handle returned by Broker.Subscribe. Receive from C to
// read events; call Broker.Unsubscribe(sub) when done.
type Subscriber struct {
	C chan types.Event
}

// Broker fans published events out to every live subscriber without
// blocking the publisher.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[*Subscriber]bool
	eventCh     chan types.Event
	stopCh      chan struct{}
	closeOnce   sync.Once
}

// NewBroker creates a broker with an internal publish queue of the given
// capacity and starts its distribution loop.
func NewBroker(queueCapacity int) *Broker {
	if queueCapacity <= 0 {
		queueCapacity = 100
	}
	b := &Broker{
		subscribers: make(map[*Subscriber]bool),
		eventCh:     make(chan types.Event, queueCapacity),
		stopCh:      make(chan struct{}),
	}
	go b.run()
	return b
}

// Close stops the distribution loop and closes every subscriber channel,
// unblocking any goroutine ranging over Subscriber.C.
func (b *Broker) Close() {
	b.closeOnce.Do(func() {
		close(b.stopCh)
		b.mu.Lock()
		defer b.mu.Unlock()
		for sub := range b.subscribers {
			close(sub.C)
		}
		b.subscribers = make(map[*Subscriber]bool)
	})
}

// Subscribe registers a new subscriber with an independent bounded queue
// and immediately delivers a synthetic hello event to it.
func (b *Broker) Subscribe() *Subscriber {
	sub := &Subscriber{C: make(chan types.Event, defaultSubscriberCapacity)}
	// Enqueue hello before registering so no broadcast can precede it.
	sub.C <- types.Event{Type: types.EventHello, TS: time.Now().UnixNano()}

	b.mu.Lock()
	b.subscribers[sub] = true
	b.mu.Unlock()

	return sub
}

// Unsubscribe removes a subscriber. Its channel is closed; no attempt is
// made to drain whatever it has not yet read.
func (b *Broker) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subscribers[sub] {
		delete(b.subscribers, sub)
		close(sub.C)
	}
}

// Publish enqueues event for broadcast. Publish itself may block only on
// the broker's own internal queue, never on a subscriber.
func (b *Broker) Publish(event types.Event) {
	if event.TS == 0 {
		event.TS = time.Now().UnixNano()
	}
	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

// broadcast delivers event to every subscriber, dropping it for whichever
// subscriber's queue is currently full.
func (b *Broker) broadcast(event types.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub.C <- event:
		default:
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
