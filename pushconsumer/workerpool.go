package pushconsumer

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// WorkerPool bounds the number of batch handlers running concurrently
// across all partitions (spec.md §4.3, §5's "bounded in-flight memory").
// It is a thin wrapper over errgroup.Group's SetLimit, plus a bounded
// admission queue so Dispatcher gets an explicit rejection signal instead
// of blocking the poll goroutine indefinitely.
type WorkerPool struct {
	mu     sync.Mutex
	group  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
	queue  chan struct{}
	closed bool
}

// NewWorkerPool creates a WorkerPool with threadNum concurrent slots and a
// bounded admission queue of queueSize additional pending submissions.
func NewWorkerPool(parent context.Context, threadNum, queueSize int) *WorkerPool {
	ctx, cancel := context.WithCancel(parent)
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(threadNum)

	return &WorkerPool{
		group:  group,
		ctx:    gctx,
		cancel: cancel,
		queue:  make(chan struct{}, threadNum+queueSize),
	}
}

// Submit attempts to enqueue task for execution. Returns ErrPoolRejected
// immediately if the admission queue is full. When the queue has room but
// every worker slot is busy, Submit blocks until a slot frees. Returns
// ErrClientClosed if the pool has been stopped.
func (p *WorkerPool) Submit(task func(ctx context.Context) error) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClientClosed
	}
	p.mu.Unlock()

	select {
	case p.queue <- struct{}{}:
	default:
		return ErrPoolRejected
	}

	p.group.Go(func() error {
		defer func() { <-p.queue }()
		return task(p.ctx)
	})
	return nil
}

// Stop cancels in-flight tasks' context and waits for them to return.
func (p *WorkerPool) Stop() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.cancel()
	return p.group.Wait()
}

// Wait blocks until every submitted task has returned, without canceling
// the pool's context. Used for graceful drain on shutdown.
func (p *WorkerPool) Wait() error {
	return p.group.Wait()
}
