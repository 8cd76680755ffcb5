package pushconsumer

import (
	"context"

	"github.com/google/uuid"
	"github.com/looplab/fsm"

	"github.com/242617/pushconsumer/kafka"
	"github.com/242617/pushconsumer/protocol"
	"github.com/242617/pushconsumer/request_id"
)

const (
	taskStatePending      = "pending"
	taskStateAcked        = "acked"
	taskStateRepublished  = "republished"
	taskStateDeadLettered = "dead_lettered"

	taskEventSucceed = "succeed"
	taskEventRetry   = "retry"
	taskEventExhaust = "exhaust"
)

// newTaskFSM builds the per-message outcome state machine: every message
// starts pending and reaches exactly one terminal state. Grounded on
// application.NewFSM's use of looplab/fsm for the same start/stop shape,
// generalized to three terminal states instead of one.
func newTaskFSM() *fsm.FSM {
	return fsm.NewFSM(
		taskStatePending,
		fsm.Events{
			{Name: taskEventSucceed, Src: []string{taskStatePending}, Dst: taskStateAcked},
			{Name: taskEventRetry, Src: []string{taskStatePending}, Dst: taskStateRepublished},
			{Name: taskEventExhaust, Src: []string{taskStatePending}, Dst: taskStateDeadLettered},
		},
		fsm.Callbacks{},
	)
}

// MessageProducer is the narrow publish surface TaskRequest needs to
// republish onto the retry ladder or the DLQ topic. kafka/producer.Producer
// satisfies this.
type MessageProducer interface {
	ProduceSync(ctx context.Context, msgs ...kafka.Message) error
}

// DeadLetterSink records a message that exhausted its retry budget, in
// addition to publishing it onto the DLQ topic. The deadletter package's
// Store satisfies this; it is optional — a nil sink simply skips the audit
// trail.
type DeadLetterSink interface {
	RecordDeadLetter(ctx context.Context, m Message, reason string) error
}

// TaskRequest drives a single drained chunk through the user Handler and
// the post-processing state machine (spec.md §4.6): ack on success,
// republish through the delay-topic ladder on retry, or terminate at the
// dead-letter topic once MaxReconsumeCount is exceeded.
type TaskRequest struct {
	cc       *ConsumeContext
	buffer   *PartitionBuffer
	producer MessageProducer
	sched    *RetryScheduler
	post     PostProcessor
	dlqSink  DeadLetterSink
	log      protocol.Logger
}

// NewTaskRequest builds a TaskRequest. dlqSink may be nil.
func NewTaskRequest(cc *ConsumeContext, buffer *PartitionBuffer, producer MessageProducer, sched *RetryScheduler, post PostProcessor, dlqSink DeadLetterSink) *TaskRequest {
	if post == nil {
		post = DefaultPostProcessor
	}
	log := cc.Log
	if log == nil {
		log = protocol.NopLogger{}
	}
	return &TaskRequest{cc: cc, buffer: buffer, producer: producer, sched: sched, post: post, dlqSink: dlqSink, log: log}
}

// Run executes the handler against a drained chunk and post-processes every
// message according to the outcome. Safe to run concurrently for distinct
// partitions; the caller (Dispatcher) is responsible for at most one
// in-flight TaskRequest per partition.
func (t *TaskRequest) Run(ctx context.Context, tp kafka.TopicPartition, chunk []Message) {
	if len(chunk) == 0 {
		return
	}

	// Stamp a correlation id once per chunk so every log line emitted while
	// handling and post-processing it can be tied together, the same way
	// logger.contextHandler picks request_id out of inbound request
	// contexts.
	ctx = request_id.ContextWithRequestID(ctx, uuid.NewString())

	dealCtx, cancel := context.WithTimeout(ctx, t.cc.MaxMessageDealTime)
	defer cancel()

	handlerView := make([]Message, len(chunk))
	for i, m := range chunk {
		handlerView[i] = m
		handlerView[i].rehydrate()
	}

	hctx := newHandlerContext(chunk[0].Offset, len(chunk))
	status := t.invokeHandler(dealCtx, handlerView, hctx)

	tpKey := TopicPartitionKey{Topic: tp.Topic, Partition: tp.Partition}

	var acked []int64
	requeuedLocally := false
	for i, original := range chunk {
		succeeded := hctx.IsSuccess(i)
		if !succeeded && status == ConsumeStatusSuccess && !hctx.explicitlyMarked(i) {
			succeeded = true
		}

		machine := newTaskFSM()
		switch {
		case succeeded:
			_ = machine.Event(taskEventSucceed)
			acked = append(acked, original.Offset)
		default:
			if t.retryOrDeadLetter(ctx, machine, original, hctx.delayLevelOverrideAt(i), &acked) {
				requeuedLocally = true
			}
		}
	}

	if len(acked) > 0 {
		t.buffer.Ack(tp, acked)
	}

	if requeuedLocally {
		// Nothing was acked for the requeued messages, so they are still
		// sitting at the head of the partition buffer; only release the
		// in-flight claim after a backoff instead of immediately, which is
		// what actually makes this a "suspend, then redrive" requeue
		// instead of a tight retry loop.
		t.sched.Schedule(t.cc.LocalRetryBackoff, func(context.Context) {
			t.post.AfterChunkComplete(tpKey)
		})
		return
	}
	t.post.AfterChunkComplete(tpKey)
}

func (t *TaskRequest) invokeHandler(ctx context.Context, messages []Message, hctx *HandlerContext) (status ConsumeStatus) {
	defer func() {
		if r := recover(); r != nil {
			t.log.Error(ctx, "handler panicked", "recovered", r)
			status = ConsumeStatusRetryLater
		}
	}()
	return t.cc.Handler(ctx, messages, hctx)
}

// retryOrDeadLetter advances the per-message outcome fsm to either
// "republished" or "dead_lettered" depending on RetryCount, and appends the
// offset to acked if the republish (or DLQ publish) succeeded. An exhausted
// message is also acked after a failed DLQ publish when AckOnDLQPublishFail
// is set, and unconditionally in BROADCASTING mode, which has no DLQ.
// Returns true if the message was left pending for a local requeue instead
// (BROADCASTING mode, or the ordinal post-processor), in which case the
// caller must not ack it.
func (t *TaskRequest) retryOrDeadLetter(ctx context.Context, machine *fsm.FSM, original Message, delayOverride int, acked *[]int64) bool {
	if original.RetryCount >= t.cc.MaxReconsumeCount {
		_ = machine.Event(taskEventExhaust)

		if t.cc.ConsumeModel == ConsumeModelBroadcasting {
			// spec.md §4.5 step 5: BROADCASTING has no DLQ topic to
			// publish onto — log the drop and ack unconditionally.
			t.log.Warn(ctx, "max reconsume count exceeded, dropping message (broadcasting mode has no DLQ)",
				"topic", original.Topic, "partition", original.Partition, "offset", original.Offset)
			*acked = append(*acked, original.Offset)
			return false
		}

		if t.publishToDLQ(ctx, original) {
			*acked = append(*acked, original.Offset)
			return false
		}
		if t.cc.AckOnDLQPublishFail {
			*acked = append(*acked, original.Offset)
		}
		return false
	}

	_ = machine.Event(taskEventRetry)

	if t.cc.ConsumeModel == ConsumeModelBroadcasting || t.post.RetriesLocally() {
		// spec.md §4.5 step 5 (BROADCASTING: "do not republish, skip ack,
		// will be retried locally") and spec.md §9 (ordinal variant: no
		// delay-topic hop). Leave the offset unacked; Run's caller
		// schedules the requeue.
		return true
	}

	if t.publishToRetryLadder(ctx, original, delayOverride) {
		*acked = append(*acked, original.Offset)
		return false
	}

	// Publish failed: leave the offset unacked and schedule a redrive
	// through RetryScheduler rather than blocking this goroutine.
	t.scheduleRepublish(original, delayOverride)
	return false
}

func (t *TaskRequest) publishToRetryLadder(ctx context.Context, m Message, delayOverride int) bool {
	m.stampRealPlacement()
	m.RetryCount++

	level := delayOverride
	if level < 1 || level > MaxDelayLevel {
		level = m.DelayLevel + 1
	}
	if level > MaxDelayLevel {
		level = MaxDelayLevel
	}
	m.DelayLevel = level

	delayTopic := DelayTopic(level)
	headers := m.toProduceHeaders(t.cc.RetryTopic())

	err := t.producer.ProduceSync(ctx, kafka.Message{
		Key:     m.Key,
		Value:   m.Value,
		Headers: headers,
		Topic:   delayTopic,
	})
	if err != nil {
		t.log.Warn(ctx, "publish to delay topic failed", "topic", delayTopic, "real_topic", m.RealTopic, "real_offset", m.RealOffset, "err", err)
		return false
	}
	return true
}

func (t *TaskRequest) publishToDLQ(ctx context.Context, m Message) bool {
	m.stampRealPlacement()
	dlqTopic := t.cc.DLQTopic()

	err := t.producer.ProduceSync(ctx, kafka.Message{
		Key:     m.Key,
		Value:   m.Value,
		Headers: m.toProduceHeaders(""),
		Topic:   dlqTopic,
	})
	if err != nil {
		t.log.Error(ctx, "publish to dlq failed", "topic", dlqTopic, "real_topic", m.RealTopic, "real_offset", m.RealOffset, "err", err)
		return false
	}

	if t.dlqSink != nil {
		if err := t.dlqSink.RecordDeadLetter(ctx, m, "max reconsume count exceeded"); err != nil {
			t.log.Warn(ctx, "record dead letter audit failed", "err", err)
		}
	}
	return true
}

func (t *TaskRequest) scheduleRepublish(m Message, delayOverride int) {
	// spec.md §4.5 step 6 / §7: the local-retry-list redrive backoff is a
	// fixed 5s, independent of TaskRetryBackoff (dispatcher.go's unrelated
	// queue-full backoff).
	t.sched.Schedule(t.cc.LocalRetryBackoff, func(ctx context.Context) {
		// The publish blocks, so it runs off the scheduler's goroutine.
		go func() {
			tp := m.TopicPartition()
			if t.publishToRetryLadder(ctx, m, delayOverride) {
				t.buffer.Ack(tp, []int64{m.Offset})
				return
			}
			t.log.Warn(ctx, "redrive publish still failing, rescheduling", "topic", tp.Topic, "partition", tp.Partition, "offset", m.Offset)
			t.scheduleRepublish(m, delayOverride)
		}()
	})
}

