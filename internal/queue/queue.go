// Package queue runs wallet operations one at a time in submission order.
// A single drain goroutine executes queued operations, and once the queue
// runs dry it calls the flush hook exactly once before going idle.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lotus-rank/rankwallet/pkg/logging"
)

// ErrClosed is returned when enqueueing on a closed queue.
var ErrClosed = errors.New("queue closed")

// Op is a unit of work. Name is used for logs and metrics.
type Op interface {
	Name() string
}

// RunFunc executes one operation.
type RunFunc func(ctx context.Context, op Op) error

// FlushFunc persists state after the queue drains.
type FlushFunc func(ctx context.Context) error

// Config configures a Queue.
type Config struct {
	Run   RunFunc
	Flush FlushFunc

	// OpTimeout bounds each operation and each flush. Zero disables the
	// bound.
	OpTimeout time.Duration

	// OnDone, if set, is called after every operation with its outcome.
	OnDone func(op Op, err error)

	Logger *logging.Logger
}

// Queue is a FIFO of operations with a single consumer.
type Queue struct {
	cfg Config
	log *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	items  []Op
	busy   bool
	closed bool
	idle   chan struct{}
}

// New creates an idle queue.
func New(cfg Config) *Queue {
	log := cfg.Logger
	if log == nil {
		log = logging.GetDefault().Component("queue")
	}

	idle := make(chan struct{})
	close(idle)

	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		cfg:    cfg,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
		idle:   idle,
	}
}

// Enqueue appends op and starts draining if the queue was idle.
func (q *Queue) Enqueue(op Op) error {
	return q.add(op, false)
}

// Prepend puts op at the head of the queue so it runs next.
func (q *Queue) Prepend(op Op) error {
	return q.add(op, true)
}

func (q *Queue) add(op Op, front bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}

	if front {
		q.items = append([]Op{op}, q.items...)
	} else {
		q.items = append(q.items, op)
	}

	if !q.busy {
		q.busy = true
		q.idle = make(chan struct{})
		go q.drain()
	}
	return nil
}

// Len returns the number of pending operations.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Busy reports whether the drain goroutine is running.
func (q *Queue) Busy() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.busy
}

// WaitIdle blocks until the queue has drained and flushed.
func (q *Queue) WaitIdle(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting operations, waits for pending ones to finish, and
// cancels anything still running when ctx expires.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	err := q.WaitIdle(ctx)
	q.cancel()
	return err
}

func (q *Queue) drain() {
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.mu.Unlock()

			q.flush()

			q.mu.Lock()
			if len(q.items) == 0 {
				q.busy = false
				close(q.idle)
				q.mu.Unlock()
				return
			}
			q.mu.Unlock()
			continue
		}

		op := q.items[0]
		q.items[0] = nil
		q.items = q.items[1:]
		q.mu.Unlock()

		q.run(op)
	}
}

func (q *Queue) opContext() (context.Context, context.CancelFunc) {
	if q.cfg.OpTimeout > 0 {
		return context.WithTimeout(q.ctx, q.cfg.OpTimeout)
	}
	return context.WithCancel(q.ctx)
}

func (q *Queue) run(op Op) {
	ctx, cancel := q.opContext()
	defer cancel()

	start := time.Now()
	err := q.safely(func() error { return q.cfg.Run(ctx, op) })
	if err != nil {
		q.log.Error("Operation failed", "op", op.Name(), "duration", time.Since(start), "error", err)
	} else {
		q.log.Debug("Operation done", "op", op.Name(), "duration", time.Since(start))
	}

	if q.cfg.OnDone != nil {
		q.cfg.OnDone(op, err)
	}
}

func (q *Queue) flush() {
	if q.cfg.Flush == nil {
		return
	}

	ctx, cancel := q.opContext()
	defer cancel()

	if err := q.safely(func() error { return q.cfg.Flush(ctx) }); err != nil {
		q.log.Error("Flush failed", "error", err)
	}
}

// safely converts a panic in fn into an error so one bad operation cannot
// stop the drain loop.
func (q *Queue) safely(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
