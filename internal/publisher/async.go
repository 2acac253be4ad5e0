package publisher

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openfleet/device-gateway/internal/logging"
)

// SendFunc performs the actual broker write for one record. A
// production deployment supplies a SendFunc that wraps a real broker
// client (Kafka, Pulsar, ...); none of the retrieved examples carry
// such a client, so Async takes the function as a constructor
// parameter instead of importing one — see DESIGN.md.
type SendFunc func(ctx context.Context, topic, key string, value []byte, headers Headers) error

type job struct {
	topic, key string
	value      []byte
	headers    Headers
}

// Async is a single-goroutine fan-in Publisher adapter: a bounded
// channel of pending jobs, non-blocking enqueue, and a drop policy
// that turns a full queue into the transient-error return Publish is
// required to make. Enqueue order is global FIFO, so per-connection
// publish order is preserved even though many connections share one
// Async instance.
type Async struct {
	mu     sync.Mutex
	ch     chan job
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	send   SendFunc
	onDrop func()
	onErr  func(error)
	closed atomic.Bool
	// inflight counts accepted jobs whose send has not yet returned.
	inflight atomic.Int64
}

// NewAsync constructs an Async publisher with a buffered channel of
// size buf, funneling every Publish call through send on a single
// worker goroutine.
func NewAsync(parent context.Context, buf int, send SendFunc) *Async {
	ctx, cancel := context.WithCancel(parent)
	a := &Async{
		ch:     make(chan job, buf),
		ctx:    ctx,
		cancel: cancel,
		send:   send,
	}
	a.wg.Add(1)
	go a.loop()
	return a
}

// OnDrop registers a hook invoked whenever Publish drops a record
// because the queue is full, for metrics wiring.
func (a *Async) OnDrop(fn func()) { a.onDrop = fn }

// OnError registers a hook invoked whenever the underlying send fails,
// for metrics and logging wiring.
func (a *Async) OnError(fn func(error)) { a.onErr = fn }

func (a *Async) loop() {
	defer a.wg.Done()
	for {
		select {
		case j, ok := <-a.ch:
			if !ok {
				return
			}
			if err := a.send(a.ctx, j.topic, j.key, j.value, j.headers); err != nil {
				logging.L().Warn("publish_error", "topic", j.topic, "key", j.key, "error", err)
				if a.onErr != nil {
					a.onErr(err)
				}
			}
			a.inflight.Add(-1)
		case <-a.ctx.Done():
			return
		}
	}
}

// Publish enqueues the record for asynchronous delivery. It returns
// nil once the record is accepted onto the queue, or an error wrapping
// ErrTransient if the queue is full, or ErrFatal if the adapter is
// closed.
func (a *Async) Publish(_ context.Context, topic, key string, value []byte, headers Headers) error {
	if a.closed.Load() {
		return fmt.Errorf("%w: publisher closed", ErrFatal)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed.Load() {
		return fmt.Errorf("%w: publisher closed", ErrFatal)
	}
	a.inflight.Add(1)
	select {
	case a.ch <- job{topic: topic, key: key, value: value, headers: headers}:
		return nil
	default:
		a.inflight.Add(-1)
		if a.onDrop != nil {
			a.onDrop()
		}
		return fmt.Errorf("%w: queue full", ErrTransient)
	}
}

// Flush waits until every accepted record has been taken off the queue
// and its send call has returned, or ctx's deadline elapses.
func (a *Async) Flush(ctx context.Context) error {
	for {
		a.mu.Lock()
		empty := a.inflight.Load() == 0
		a.mu.Unlock()
		if empty {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: flush deadline: %v", ErrTransient, ctx.Err())
		case <-time.After(time.Millisecond):
		}
	}
}

// Close stops the worker and waits for it to exit. Further Publish
// calls return an error wrapping ErrFatal.
func (a *Async) Close() error {
	if a.closed.Swap(true) {
		return nil
	}
	a.cancel()
	a.mu.Lock()
	close(a.ch)
	a.mu.Unlock()
	a.wg.Wait()
	return nil
}
