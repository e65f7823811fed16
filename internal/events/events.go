// Package events implements the fire-and-forget observability facade
// the Merge Queue and Workflow Orchestrator emit to: state transitions
// are reported via Notify, which never blocks the caller. It
// generalizes the teacher's PublishWebSocketEvent call sites (always
// fired without waiting on an acknowledgement) into a standalone
// buffered-channel + consumer-goroutine package.
package events

import (
	"sync"

	"go.uber.org/zap"
)

// Event is a single observability notification.
type Event struct {
	RepositoryID string
	ItemID       string
	Name         string
	Payload      map[string]any
}

// Sink receives events delivered by the Notifier's consumer goroutine.
// Implementations must not block for long; a slow sink back-pressures
// the Notifier's internal buffer and, once full, drops events rather
// than stalling a state transition.
type Sink interface {
	Handle(Event)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(Event)

func (f SinkFunc) Handle(e Event) { f(e) }

// Notifier delivers events to a Sink on a single consumer goroutine,
// decoupled from producers by a bounded buffer. A full buffer drops
// the event and increments a counter rather than blocking — state
// transitions must never wait on observability delivery.
type Notifier struct {
	sink    Sink
	logger  *zap.Logger
	ch      chan Event
	done    chan struct{}
	dropped int64

	closeOnce sync.Once
}

// NewNotifier starts the consumer goroutine and returns a ready
// Notifier. Close must be called to stop the goroutine.
func NewNotifier(sink Sink, logger *zap.Logger, bufferSize int) *Notifier {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	n := &Notifier{
		sink:   sink,
		logger: logger,
		ch:     make(chan Event, bufferSize),
		done:   make(chan struct{}),
	}
	go n.run()
	return n
}

func (n *Notifier) run() {
	defer close(n.done)
	for e := range n.ch {
		n.sink.Handle(e)
	}
}

// Notify enqueues an event for best-effort delivery. It never blocks:
// if the internal buffer is full the event is dropped and logged.
func (n *Notifier) Notify(repositoryID, itemID, name string, payload map[string]any) {
	e := Event{RepositoryID: repositoryID, ItemID: itemID, Name: name, Payload: payload}
	select {
	case n.ch <- e:
	default:
		n.dropped++
		n.logger.Warn("event dropped, notifier buffer full",
			zap.String("repository_id", repositoryID),
			zap.String("item_id", itemID),
			zap.String("event", name),
		)
	}
}

// Dropped returns the number of events dropped due to a full buffer.
func (n *Notifier) Dropped() int64 { return n.dropped }

// Close stops accepting new events and waits for the consumer
// goroutine to drain the buffer. Calling Close more than once is safe.
func (n *Notifier) Close() {
	n.closeOnce.Do(func() { close(n.ch) })
	<-n.done
}
