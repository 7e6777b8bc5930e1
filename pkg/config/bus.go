package config

import (
	"sync"
	"time"
)

// ChangeType identifies what kind of topology or parameter mutation
// occurred.
type ChangeType string

const (
	ChangeWorkerAdded    ChangeType = "worker.added"
	ChangeWorkerUpdated  ChangeType = "worker.updated"
	ChangeWorkerDeleted  ChangeType = "worker.deleted"
	ChangeDatabaseAdded  ChangeType = "database.added"
	ChangeDatabaseUpdated ChangeType = "database.updated"
	ChangeParamSet       ChangeType = "param.set"
)

// Change describes one Configuration mutation, broadcast to subscribers
// after Snapshot.Version has already been incremented.
type Change struct {
	Type      ChangeType
	Name      string // worker name, database name, or "category.param"
	Version   uint64
	Timestamp time.Time
}

// Subscriber receives Configuration changes.
type Subscriber chan Change

// Bus distributes Configuration changes to subscribers, the same
// buffered-channel-plus-subscriber-set shape as the teacher's
// events.Broker, scoped to configuration changes instead of cluster
// events.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[Subscriber]bool
	changeCh    chan Change
	stopCh      chan struct{}
}

// NewBus creates a Bus. Call Start before publishing.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[Subscriber]bool),
		changeCh:    make(chan Change, 100),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the bus's distribution loop in the background.
func (b *Bus) Start() {
	go b.run()
}

// Stop halts the distribution loop. It must be called at most once.
func (b *Bus) Stop() {
	close(b.stopCh)
}

// Subscribe returns a new, independently buffered Subscriber channel.
func (b *Bus) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := make(Subscriber, 50)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes and closes sub.
func (b *Bus) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribers[sub] {
		delete(b.subscribers, sub)
		close(sub)
	}
}

func (b *Bus) publish(change Change) {
	if change.Timestamp.IsZero() {
		change.Timestamp = time.Now()
	}
	select {
	case b.changeCh <- change:
	case <-b.stopCh:
	}
}

func (b *Bus) run() {
	for {
		select {
		case change := <-b.changeCh:
			b.broadcast(change)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Bus) broadcast(change Change) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subscribers {
		select {
		case sub <- change:
		default:
		}
	}
}
