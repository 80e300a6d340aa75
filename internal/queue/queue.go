// Package queue buffers document notifications between the webhook
// listener and the reconciler.
//
// Producers call Submit and return immediately. A fixed pool of workers
// waits out a settle delay for each id and then runs the handler. An id
// that is already waiting is not queued twice; an id whose handler is
// running may be queued again, so a notification that arrives mid-run is
// never lost.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentstation/ownertag/pkg/constants"
	"github.com/agentstation/ownertag/pkg/errors"
	"github.com/agentstation/ownertag/pkg/logging"
)

var (
	// ErrQueueFull is returned by Submit when no capacity is left.
	ErrQueueFull = errors.New("queue full")

	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("queue closed")
)

// Handler processes one document id.
type Handler func(ctx context.Context, id int) error

type item struct {
	id  int
	due time.Time
}

// Queue is a bounded, coalescing work queue.
type Queue struct {
	handler Handler
	items   chan item
	workers int
	delay   time.Duration
	logger  *zerolog.Logger
	onDepth func(int)

	mu      sync.Mutex
	pending map[int]struct{}
	started bool
	closed  bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Queue.
type Option func(*Queue)

// WithWorkers sets the number of concurrent workers.
func WithWorkers(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.workers = n
		}
	}
}

// WithSize sets the queue capacity.
func WithSize(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.items = make(chan item, n)
		}
	}
}

// WithDelay sets how long each id waits after submission before it is
// handled.
func WithDelay(d time.Duration) Option {
	return func(q *Queue) {
		if d >= 0 {
			q.delay = d
		}
	}
}

// WithLogger sets the queue logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(q *Queue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

// WithDepthFunc registers a callback told the pending count on every change.
func WithDepthFunc(fn func(int)) Option {
	return func(q *Queue) {
		q.onDepth = fn
	}
}

// New creates a queue that hands ids to handler.
func New(handler Handler, opts ...Option) *Queue {
	q := &Queue{
		handler: handler,
		items:   make(chan item, constants.DefaultQueueSize),
		workers: constants.DefaultQueueWorkers,
		delay:   constants.DefaultWebhookDelay,
		logger:  logging.Default(),
		pending: make(map[int]struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Start launches the workers. Handlers run with a context derived from ctx;
// cancelling ctx stops the workers without draining.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.closed {
		return
	}
	q.started = true

	ctx, q.cancel = context.WithCancel(ctx)
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.work(ctx)
	}
	q.logger.Debug().
		Int("workers", q.workers).
		Int("capacity", cap(q.items)).
		Dur("delay", q.delay).
		Msg("Work queue started")
}

// Submit queues id. It reports false when id was already waiting.
func (q *Queue) Submit(id int) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false, ErrClosed
	}
	if _, ok := q.pending[id]; ok {
		return false, nil
	}

	select {
	case q.items <- item{id: id, due: time.Now().Add(q.delay)}:
		q.pending[id] = struct{}{}
		q.depthChanged()
		return true, nil
	default:
		return false, ErrQueueFull
	}
}

// Len returns the number of ids waiting.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Running reports whether the queue accepts and processes work.
func (q *Queue) Running() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.started && !q.closed
}

// Close stops accepting ids and waits for queued ids to be handled. If ctx
// ends first, running handlers are cancelled and the remaining ids dropped.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.items)
	started := q.started
	q.mu.Unlock()

	if !started {
		return nil
	}

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		if n := q.Len(); n > 0 {
			q.logger.Warn().Int("dropped", n).Msg("Work queue closed with pending documents")
		}
		return ctx.Err()
	}
}

func (q *Queue) work(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case it, ok := <-q.items:
			if !ok {
				return
			}
			q.process(ctx, it)
		}
	}
}

func (q *Queue) process(ctx context.Context, it item) {
	if wait := time.Until(it.due); wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}

	if ctx.Err() != nil {
		return
	}

	q.mu.Lock()
	delete(q.pending, it.id)
	q.depthChanged()
	q.mu.Unlock()

	ctx = logging.WithDocument(logging.WithLogger(ctx, q.logger), it.id)
	if err := q.handler(ctx, it.id); err != nil {
		logging.FromContext(ctx).Error().
			Err(err).
			Str("kind", errors.Kind(err)).
			Msg("Failed to process queued document")
	}
}

// depthChanged must be called with q.mu held.
func (q *Queue) depthChanged() {
	if q.onDepth != nil {
		q.onDepth(len(q.pending))
	}
}
