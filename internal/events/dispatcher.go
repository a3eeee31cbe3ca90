package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

const publishTimeout = 5 * time.Second

// Dispatcher fans events out to publishers from a single background worker.
// Emit never blocks: when the buffer is full the event is dropped.
type Dispatcher struct {
	queue      chan Event
	publishers []Publisher
	dropped    atomic.Uint64
	mu         sync.RWMutex
	done       chan struct{}
}

func NewDispatcher(buffer int, publishers ...Publisher) *Dispatcher {
	if buffer <= 0 {
		buffer = 1
	}
	return &Dispatcher{
		queue:      make(chan Event, buffer),
		publishers: publishers,
		done:       make(chan struct{}),
	}
}

// Subscribe adds a publisher. Must be called before Start.
// Each event reaches publishers in the order they were subscribed.
func (d *Dispatcher) Subscribe(p Publisher) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.publishers = append(d.publishers, p)
}

func (d *Dispatcher) Emit(event Event) {
	event = stamp(event)
	select {
	case d.queue <- event:
	default:
		d.dropped.Add(1)
		log.Warn().
			Str("service", "events").
			Str("event_type", string(event.Type)).
			Str("event_id", event.ID).
			Msg("event buffer full, dropping event")
	}
}

// Dropped returns how many events were discarded because the buffer was full
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

// Start runs the delivery worker until ctx is cancelled. Events still queued at that point
// are delivered before Done is closed.
func (d *Dispatcher) Start(ctx context.Context) {
	go func() {
		defer close(d.done)
		for {
			select {
			case event := <-d.queue:
				d.deliver(event)
			case <-ctx.Done():
				d.drain()
				return
			}
		}
	}()
}

// Done is closed once the worker has exited
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

func (d *Dispatcher) drain() {
	for {
		select {
		case event := <-d.queue:
			d.deliver(event)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(event Event) {
	d.mu.RLock()
	publishers := d.publishers
	d.mu.RUnlock()

	for _, p := range publishers {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		if err := p.Publish(ctx, event); err != nil {
			log.Error().
				Err(err).
				Str("service", "events").
				Str("event_type", string(event.Type)).
				Str("event_id", event.ID).
				Msg("failed to publish event")
		}
		cancel()
	}
}
