package documents

import (
	"context"
	"sync"
	"time"
)

const (
	// OperationCreate marks a document write that created or replaced a document.
	OperationCreate = "create"
	// OperationUpdate marks a merge into an existing document.
	OperationUpdate = "update"
	// OperationDelete marks a removal.
	OperationDelete = "delete"

	// defaultFeedBufferSize bounds the events a redis subscription buffers.
	defaultFeedBufferSize = 16
)

// ChangeEvent announces that documents of a collection changed.
type ChangeEvent struct {
	Collection  string    `json:"collection"`
	Operation   string    `json:"operation"`
	DocumentIDs []string  `json:"documentIds"`
	Timestamp   time.Time `json:"timestamp"`
}

// ChangeFeed fans change events out to collection subscribers.
type ChangeFeed interface {
	Publish(event ChangeEvent)
	Subscribe(ctx context.Context, collection string) (<-chan ChangeEvent, func())
}

// Dispatcher is an in-process ChangeFeed that coalesces: each subscriber holds
// at most one pending event, and publishing onto a pending slot is dropped.
// Consumers re-read the whole collection on any event, so one pending signal
// stands for every change made before it is drained.
type Dispatcher struct {
	mu       sync.RWMutex
	topics   map[string]topic
	sequence int64
}

// topic holds the pending-event slots of one collection's subscribers.
type topic map[int64]chan ChangeEvent

// NewDispatcher constructs an in-process change feed.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{topics: make(map[string]topic)}
}

// Subscribe registers a listener for the collection until ctx ends or the
// returned release runs.
func (d *Dispatcher) Subscribe(ctx context.Context, collection string) (<-chan ChangeEvent, func()) {
	if collection == "" {
		closed := make(chan ChangeEvent)
		close(closed)
		return closed, func() {}
	}
	slot := make(chan ChangeEvent, 1)

	d.mu.Lock()
	d.sequence++
	id := d.sequence
	if d.topics[collection] == nil {
		d.topics[collection] = topic{}
	}
	d.topics[collection][id] = slot
	d.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() { d.drop(collection, id) })
	}
	go func() {
		<-ctx.Done()
		release()
	}()
	return slot, release
}

// Publish signals every subscriber of the event's collection.
func (d *Dispatcher) Publish(event ChangeEvent) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, slot := range d.topics[event.Collection] {
		select {
		case slot <- event:
		default:
		}
	}
}

// SubscriberCount reports the number of live subscribers for a collection.
func (d *Dispatcher) SubscriberCount(collection string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.topics[collection])
}

func (d *Dispatcher) drop(collection string, id int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	subscribers, ok := d.topics[collection]
	if !ok {
		return
	}
	delete(subscribers, id)
	if len(subscribers) == 0 {
		delete(d.topics, collection)
	}
}
