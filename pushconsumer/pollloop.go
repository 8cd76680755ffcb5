package pushconsumer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/242617/pushconsumer/kafka"
	"github.com/242617/pushconsumer/protocol"
)

// resumeHysteresisRatio is how far pending count must drop below capacity
// before a paused partition is resumed, avoiding pause/resume flapping
// right at the capacity boundary (spec.md §4.1).
const resumeHysteresisRatio = defaultResumeHysteresisRatio

// PollLoop is the single goroutine that owns the Broker's poll/pause/resume
// calls (spec.md §4.1, §5): a pull-based broker client is not safe for
// concurrent Poll/Pause/Resume/Seek from multiple goroutines, so every
// interaction with it is funneled through this one loop.
type PollLoop struct {
	broker  kafka.Broker
	buffer  *PartitionBuffer
	filter  MessageFilter
	cc      *ConsumeContext
	log     protocol.Logger

	suspended atomic.Bool

	mu     sync.Mutex
	paused map[kafka.TopicPartition]bool
}

// NewPollLoop creates a PollLoop.
func NewPollLoop(broker kafka.Broker, buffer *PartitionBuffer, cc *ConsumeContext) *PollLoop {
	log := cc.Log
	if log == nil {
		log = protocol.NopLogger{}
	}
	filter := cc.Filter
	if filter == nil {
		filter = PassAllFilter{}
	}
	return &PollLoop{
		broker: broker,
		buffer: buffer,
		filter: filter,
		cc:     cc,
		log:    log,
		paused: map[kafka.TopicPartition]bool{},
	}
}

// Suspend pauses all fetching without tearing down the subscription,
// for Client.Suspend.
func (l *PollLoop) Suspend() { l.suspended.Store(true) }

// Resume lifts a prior Suspend.
func (l *PollLoop) Resume() { l.suspended.Store(false) }

// Run blocks, polling until ctx is canceled.
func (l *PollLoop) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if l.suspended.Load() {
			select {
			case <-ctx.Done():
				return
			case <-time.After(50 * time.Millisecond):
			}
			continue
		}

		l.pollOnce(ctx)
	}
}

func (l *PollLoop) pollOnce(ctx context.Context) {
	records, err := l.broker.Poll(ctx, l.cc.PollAwaitTimeout)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		l.log.Warn(ctx, "poll failed", "err", err)
		return
	}
	// Resume runs after every successful poll, including empty ones, so a
	// consumer whose partitions are all paused still resumes once drained.
	defer l.resumeDrained(ctx)
	if len(records) == 0 {
		return
	}

	messages := make([]Message, 0, len(records))
	for _, r := range records {
		if r.Topic == l.cc.DLQTopic() {
			continue
		}
		if !l.filter.IsPermitAll() && !l.filter.CanDeliverMessage(r.Value, r.Headers) {
			continue
		}
		messages = append(messages, fromFetched(r))
	}
	if len(messages) == 0 {
		return
	}

	full := l.buffer.Store(messages)
	l.pauseFull(ctx, full)
}

// pauseFull pauses every partition newly reported as full, so the broker
// client stops growing in-flight memory beyond the configured capacity.
func (l *PollLoop) pauseFull(ctx context.Context, full []kafka.TopicPartition) {
	if len(full) == 0 {
		return
	}

	l.mu.Lock()
	var toPause []kafka.TopicPartition
	for _, tp := range full {
		if !l.paused[tp] {
			l.paused[tp] = true
			toPause = append(toPause, tp)
		}
	}
	l.mu.Unlock()

	if len(toPause) > 0 {
		l.broker.Pause(toPause)
		l.log.Debug(ctx, "paused partitions", "partitions", toPause)
	}
}

// resumeDrained resumes any paused partition whose pending count has
// dropped below the resume hysteresis threshold.
func (l *PollLoop) resumeDrained(ctx context.Context) {
	l.mu.Lock()
	var candidates []kafka.TopicPartition
	for tp := range l.paused {
		candidates = append(candidates, tp)
	}
	l.mu.Unlock()

	threshold := int(float64(l.buffer.capacity) * resumeHysteresisRatio)

	var toResume []kafka.TopicPartition
	l.mu.Lock()
	for _, tp := range candidates {
		if l.buffer.PendingCount(tp) < threshold {
			delete(l.paused, tp)
			toResume = append(toResume, tp)
		}
	}
	l.mu.Unlock()

	if len(toResume) > 0 {
		l.broker.Resume(toResume)
		l.log.Debug(ctx, "resumed partitions", "partitions", toResume)
	}
}
