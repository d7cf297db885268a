package audit

import (
	"context"
	"sync"
	"sync/atomic"
)

// Config controls dispatcher buffering.
type Config struct {
	Enabled    bool
	BufferSize int

	// DropIfFull makes Emit drop and count events instead of blocking the
	// auth operation when the queue is full.
	DropIfFull bool
}

// Dispatcher forwards events to a Sink from a single goroutine, so sinks
// never run on the request path. A nil Dispatcher ignores every call.
type Dispatcher struct {
	sink       Sink
	dropIfFull bool
	queue      chan Event

	// stopped is cancelled by Close; Emit stops waiting for queue space
	// once it is.
	stopped context.Context
	stop    context.CancelFunc
	worker  sync.WaitGroup

	dropped   atomic.Uint64
	closeOnce sync.Once
}

// NewDispatcher starts a dispatcher, or returns nil when cfg is disabled.
// A nil sink discards events.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		sink:       sink,
		dropIfFull: cfg.DropIfFull,
		queue:      make(chan Event, max(cfg.BufferSize, 1)),
	}
	d.stopped, d.stop = context.WithCancel(context.Background())
	d.worker.Go(d.run)
	return d
}

func (d *Dispatcher) run() {
	for {
		select {
		case event := <-d.queue:
			d.sink.Emit(context.Background(), event)
		case <-d.stopped.Done():
			// Deliver what was accepted before Close.
			for {
				select {
				case event := <-d.queue:
					d.sink.Emit(context.Background(), event)
				default:
					return
				}
			}
		}
	}
}

// Emit queues event. Events emitted after Close are ignored.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil || d.stopped.Err() != nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.dropIfFull {
		select {
		case d.queue <- event:
		default:
			d.dropped.Add(1)
		}
		return
	}

	select {
	case d.queue <- event:
	case <-ctx.Done():
	case <-d.stopped.Done():
	}
}

// Close stops the dispatcher after delivering everything already queued.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.stop()
		d.worker.Wait()
	})
}

// Dropped reports how many events DropIfFull discarded.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
