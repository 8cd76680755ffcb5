package pushconsumer

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/242617/pushconsumer/kafka"
	"github.com/242617/pushconsumer/protocol"
)

// Client is the top-level push-style consumer: it wires together PollLoop,
// Dispatcher, WorkerPool, RetryScheduler, OffsetPersistor, and
// PartitionBuffer behind a single Start/Stop lifecycle (spec.md §6).
// Implements protocol.Lifecycle and application.Component.
type Client struct {
	cc        *ConsumeContext
	broker    kafka.Broker
	buffer    *PartitionBuffer
	pool      *WorkerPool
	sched     *RetryScheduler
	persistor OffsetPersistor
	poll      *PollLoop
	dispatch  *Dispatcher
	task      *TaskRequest
	log       protocol.Logger

	dlqSinkOpt DeadLetterSink
	postOpt    PostProcessor

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// ClientOption configures a Client at construction time, beyond what
// ConsumeContext's own options cover.
type ClientOption func(*Client)

// WithDeadLetterSink attaches an audit-trail sink invoked whenever a
// message is dead-lettered.
func WithDeadLetterSink(sink DeadLetterSink) ClientOption {
	return func(c *Client) { c.dlqSinkOpt = sink }
}

// WithPostProcessor overrides the default concurrent PostProcessor, e.g.
// with NewOrdinalPostProcessor() for strict in-order delivery.
func WithPostProcessor(post PostProcessor) ClientOption {
	return func(c *Client) { c.postOpt = post }
}

// NewClient builds a Client ready to Start. producer is used to republish
// onto the retry ladder and the DLQ topic.
func NewClient(cc *ConsumeContext, broker kafka.Broker, producer MessageProducer, opts ...ClientOption) (*Client, error) {
	if cc == nil {
		return nil, errors.New("pushconsumer: nil consume context")
	}
	if broker == nil {
		return nil, errors.New("pushconsumer: nil broker")
	}
	if producer == nil {
		return nil, errors.New("pushconsumer: nil producer")
	}

	log := cc.Log
	if log == nil {
		log = protocol.NopLogger{}
	}

	c := &Client{cc: cc, broker: broker, log: log}
	for _, opt := range opts {
		opt(c)
	}

	c.buffer = NewPartitionBuffer(cc.PartitionCapacity, log)
	c.pool = NewWorkerPool(context.Background(), 2*cc.ConsumeThreadNum, cc.ConsumeQueueSize)
	c.sched = NewRetryScheduler(context.Background(), log)

	post := c.postOpt
	if post == nil {
		post = DefaultPostProcessor
	}
	c.task = NewTaskRequest(cc, c.buffer, producer, c.sched, post, c.dlqSinkOpt)
	c.dispatch = NewDispatcher(cc, c.buffer, c.pool, c.sched, post, c.task, 0)
	c.poll = NewPollLoop(broker, c.buffer, cc)

	switch cc.ConsumeModel {
	case ConsumeModelBroadcasting:
		c.persistor = NewFilePersistor(c.buffer, log, cc.BroadcastStateDir, cc.GroupID, 0)
	default:
		c.persistor = NewBrokerPersistor(broker, c.buffer, log, 0)
	}

	return c, nil
}

// String implements fmt.Stringer for application.Component.
func (c *Client) String() string { return "pushconsumer:" + c.cc.GroupID }

// Start implements protocol.Lifecycle: subscribes to the application topics
// plus the implicit retry topic, then launches PollLoop, Dispatcher, and
// the OffsetPersistor.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return ErrAlreadyStarted
	}

	if err := c.broker.Subscribe(ctx, c.cc.SubscriptionTopics(), c); err != nil {
		return errors.Wrap(err, "subscribe")
	}

	if err := c.persistor.Start(ctx); err != nil {
		return errors.Wrap(err, "start offset persistor")
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.started = true

	c.wg.Add(2)
	go func() { defer c.wg.Done(); c.poll.Run(runCtx) }()
	go func() { defer c.wg.Done(); c.dispatch.Run(runCtx) }()

	c.log.Info(ctx, "pushconsumer client started", "group_id", c.cc.GroupID, "topics", c.cc.Topics)
	return nil
}

// Stop implements protocol.Lifecycle: stops polling, drains in-flight
// tasks, flushes offsets, and releases the broker connection.
func (c *Client) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = false
	cancel := c.cancel
	c.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() { c.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := c.pool.Stop(); err != nil {
		c.log.Warn(ctx, "worker pool drain error", "err", err)
	}
	c.sched.Stop()

	if err := c.persistor.Stop(ctx); err != nil {
		c.log.Warn(ctx, "offset persistor stop error", "err", err)
	}

	c.broker.Close()
	c.log.Info(ctx, "pushconsumer client stopped", "group_id", c.cc.GroupID)
	return nil
}

// Suspend pauses delivery without leaving the consumer group.
func (c *Client) Suspend() { c.poll.Suspend() }

// Resume lifts a prior Suspend.
func (c *Client) Resume() { c.poll.Resume() }

// Seek repositions a single partition. Only safe to call while Suspended or
// before Start.
func (c *Client) Seek(partition kafka.TopicPartition, offset int64) {
	c.broker.Seek(partition, offset)
	c.buffer.Reset(partition)
}

// OnPartitionsAssigned implements kafka.RebalanceListener, delegating to
// the active OffsetPersistor, then seeking if it has a persisted offset
// (BROADCASTING model).
func (c *Client) OnPartitionsAssigned(ctx context.Context, partitions []kafka.TopicPartition) {
	c.persistor.OnPartitionsAssigned(ctx, partitions)
	for _, tp := range partitions {
		if offset, ok := c.persistor.LoadStartOffset(ctx, tp); ok {
			c.broker.Seek(tp, offset)
		}
	}
}

// OnPartitionsRevoked implements kafka.RebalanceListener.
func (c *Client) OnPartitionsRevoked(ctx context.Context, partitions []kafka.TopicPartition) {
	c.persistor.OnPartitionsRevoked(ctx, partitions)
}

// OnPartitionsLost implements kafka.RebalanceListener.
func (c *Client) OnPartitionsLost(ctx context.Context, partitions []kafka.TopicPartition) {
	c.persistor.OnPartitionsLost(ctx, partitions)
}

// ShutdownTimeout stops the client, giving in-flight tasks at most d to
// drain before forcing cancellation.
func (c *Client) ShutdownTimeout(d time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return c.Stop(ctx)
}
