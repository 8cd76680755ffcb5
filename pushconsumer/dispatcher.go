package pushconsumer

import (
	"context"
	"time"

	"github.com/242617/pushconsumer/kafka"
	"github.com/242617/pushconsumer/protocol"
)

// Dispatcher round-robins over assigned partitions, draining ready chunks
// and submitting them to the WorkerPool (spec.md §4.2). A partition that
// has nothing pending, is already claimed by an in-flight chunk, or is held
// back by the active PostProcessor is simply skipped for this round.
type Dispatcher struct {
	buffer    *PartitionBuffer
	pool      *WorkerPool
	sched     *RetryScheduler
	post      PostProcessor
	task      *TaskRequest
	cc        *ConsumeContext
	log       protocol.Logger
	tickEvery time.Duration
}

// NewDispatcher creates a Dispatcher. tickEvery controls how often Run scans
// for newly-ready partitions; it defaults to 10ms when <= 0.
func NewDispatcher(cc *ConsumeContext, buffer *PartitionBuffer, pool *WorkerPool, sched *RetryScheduler, post PostProcessor, task *TaskRequest, tickEvery time.Duration) *Dispatcher {
	if post == nil {
		post = DefaultPostProcessor
	}
	log := cc.Log
	if log == nil {
		log = protocol.NopLogger{}
	}
	if tickEvery <= 0 {
		tickEvery = 10 * time.Millisecond
	}
	return &Dispatcher{buffer: buffer, pool: pool, sched: sched, post: post, task: task, cc: cc, log: log, tickEvery: tickEvery}
}

// Run blocks, scanning for ready chunks until ctx is canceled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.tickEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.dispatchRound(ctx)
		}
	}
}

// dispatchRound scans every assigned partition once and submits at most one
// chunk per partition.
func (d *Dispatcher) dispatchRound(ctx context.Context) {
	for _, tp := range d.buffer.AssignedPartitions() {
		key := TopicPartitionKey{Topic: tp.Topic, Partition: tp.Partition}
		if !d.post.BeforeDrain(key) {
			continue
		}

		chunk := d.buffer.DrainReady(tp, d.cc.ConsumeBatchSize)
		if len(chunk) == 0 {
			d.post.AfterChunkComplete(key)
			continue
		}

		d.submit(ctx, tp, chunk)
	}
}

// submit hands a drained chunk to the WorkerPool, rerouting through
// RetryScheduler on rejection so a saturated pool never drops work
// (spec.md §4.3's backpressure contract).
func (d *Dispatcher) submit(ctx context.Context, tp kafka.TopicPartition, chunk []Message) {
	err := d.pool.Submit(func(taskCtx context.Context) error {
		d.task.Run(taskCtx, tp, chunk)
		return nil
	})
	if err == nil {
		return
	}

	if err == ErrClientClosed {
		return
	}

	d.log.Debug(ctx, "dispatch rejected, rescheduling", "topic", tp.Topic, "partition", tp.Partition, "size", len(chunk), "err", err)
	d.sched.Schedule(d.cc.TaskRetryBackoff, func(retryCtx context.Context) {
		d.submit(retryCtx, tp, chunk)
	})
}
