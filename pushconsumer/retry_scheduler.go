package pushconsumer

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/242617/pushconsumer/protocol"
)

// retryJob is a single pending re-dispatch.
type retryJob struct {
	due  time.Time
	run  func(ctx context.Context)
	seq  uint64 // tie-breaker so heap order is stable for equal due times
}

type jobHeap []*retryJob

func (h jobHeap) Len() int { return len(h) }
func (h jobHeap) Less(i, j int) bool {
	if h[i].due.Equal(h[j].due) {
		return h[i].seq < h[j].seq
	}
	return h[i].due.Before(h[j].due)
}
func (h jobHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *jobHeap) Push(x interface{}) { *h = append(*h, x.(*retryJob)) }
func (h *jobHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// RetryScheduler runs a single goroutine that fires due jobs in order.
// It is used for two distinct purposes (spec.md §4.7):
//
//  1. WorkerPool rejection backoff: when Dispatcher's submit is rejected
//     because the pool is saturated, it reschedules the same chunk after
//     TaskRetryBackoff instead of dropping it — rejection never loses work.
//  2. Local-retry backoff in TaskRequest: after LocalRetryBackoff it
//     redrives a failed retry-ladder publish, and releases a partition's
//     chunk (AfterChunkComplete) when messages were left pending for a
//     local requeue.
//
// A single timer goroutine, rather than one timer per job, keeps the
// scheduler's footprint constant regardless of in-flight retry volume.
type RetryScheduler struct {
	log protocol.Logger

	mu      sync.Mutex
	jobs    jobHeap
	nextSeq uint64
	wake    chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRetryScheduler starts the scheduler's background goroutine.
func NewRetryScheduler(parent context.Context, log protocol.Logger) *RetryScheduler {
	if log == nil {
		log = protocol.NopLogger{}
	}
	ctx, cancel := context.WithCancel(parent)
	s := &RetryScheduler{
		log:    log,
		wake:   make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.loop()
	return s
}

// Schedule arranges for run to be invoked after delay elapses. run is
// invoked on the scheduler's single goroutine, so it must not block —
// callers hand off to the WorkerPool or another goroutine from inside run.
func (s *RetryScheduler) Schedule(delay time.Duration, run func(ctx context.Context)) {
	s.mu.Lock()
	s.nextSeq++
	heap.Push(&s.jobs, &retryJob{due: time.Now().Add(delay), run: run, seq: s.nextSeq})
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *RetryScheduler) loop() {
	defer close(s.done)

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		s.mu.Lock()
		var wait time.Duration
		if len(s.jobs) == 0 {
			wait = time.Hour
		} else {
			wait = time.Until(s.jobs[0].due)
			if wait < 0 {
				wait = 0
			}
		}
		s.mu.Unlock()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-s.ctx.Done():
			return
		case <-s.wake:
			continue
		case <-timer.C:
			s.fireDue()
		}
	}
}

func (s *RetryScheduler) fireDue() {
	now := time.Now()
	var due []*retryJob

	s.mu.Lock()
	for len(s.jobs) > 0 && !s.jobs[0].due.After(now) {
		due = append(due, heap.Pop(&s.jobs).(*retryJob))
	}
	s.mu.Unlock()

	for _, j := range due {
		j.run(s.ctx)
	}
}

// Stop cancels the scheduler's goroutine and waits for it to exit. Pending
// jobs are discarded.
func (s *RetryScheduler) Stop() {
	s.cancel()
	<-s.done
}
