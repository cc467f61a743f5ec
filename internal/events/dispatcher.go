// Package events fans derived change events out to in-process subscribers.
package events

import (
	"context"
	"sync"

	"github.com/quartzline/docforge/internal/docs"
)

const defaultBufferSize = 16

// Dispatcher delivers change events to subscribers grouped by document type.
// Delivery into a full subscriber buffer is dropped; the sync ledger, not the
// dispatcher, is the durable propagation path.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*subscriber
	nextID      int64
	bufferSize  int
}

type subscriber struct {
	id     int64
	stream chan docs.ChangeEvent
}

// NewDispatcher constructs a Dispatcher with a bounded per-subscriber buffer.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subscribers: make(map[string]map[int64]*subscriber),
		bufferSize:  defaultBufferSize,
	}
}

// Subscribe registers a listener for one document type. The returned cleanup
// runs automatically when ctx is cancelled.
func (d *Dispatcher) Subscribe(ctx context.Context, docTypeName string) (<-chan docs.ChangeEvent, func()) {
	if docTypeName == "" {
		ch := make(chan docs.ChangeEvent)
		close(ch)
		return ch, func() {}
	}
	sub := &subscriber{
		id:     d.nextSequence(),
		stream: make(chan docs.ChangeEvent, d.bufferSize),
	}
	d.registerSubscriber(docTypeName, sub)
	cleanup := func() {
		d.unregisterSubscriber(docTypeName, sub.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return sub.stream, cleanup
}

// EmitChange implements docs.ChangeEmitter by publishing to every subscriber
// of the event's document type.
func (d *Dispatcher) EmitChange(_ context.Context, event docs.ChangeEvent) error {
	d.publish(event)
	return nil
}

func (d *Dispatcher) publish(event docs.ChangeEvent) {
	if event.SubjectDocType == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[event.SubjectDocType]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*subscriber, 0, len(subscribers))
	for _, sub := range subscribers {
		copies = append(copies, sub)
	}
	d.mu.RUnlock()
	for _, sub := range copies {
		select {
		case sub.stream <- event:
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

func (d *Dispatcher) registerSubscriber(docTypeName string, sub *subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[docTypeName]; !ok {
		d.subscribers[docTypeName] = make(map[int64]*subscriber)
	}
	d.subscribers[docTypeName][sub.id] = sub
}

func (d *Dispatcher) unregisterSubscriber(docTypeName string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[docTypeName]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, docTypeName)
		}
	}
	d.mu.Unlock()
}
