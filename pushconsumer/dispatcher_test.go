package pushconsumer_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/242617/pushconsumer/kafka"
	"github.com/242617/pushconsumer/protocol"
	"github.com/242617/pushconsumer/pushconsumer"
)

// spyPostProcessor records BeforeDrain/AfterChunkComplete calls while always
// allowing the drain, so dispatchRound's bookkeeping can be observed without
// pulling in OrdinalPostProcessor's blocking behavior.
type spyPostProcessor struct {
	mu     sync.Mutex
	before []pushconsumer.TopicPartitionKey
	after  []pushconsumer.TopicPartitionKey
}

func (s *spyPostProcessor) BeforeDrain(tp pushconsumer.TopicPartitionKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.before = append(s.before, tp)
	return true
}

func (s *spyPostProcessor) AfterChunkComplete(tp pushconsumer.TopicPartitionKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.after = append(s.after, tp)
}

func (s *spyPostProcessor) RetriesLocally() bool { return false }

func (s *spyPostProcessor) afterCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.after)
}

func TestDispatcher_SkipsEmptyPartitionsButReleasesClaim(t *testing.T) {
	cc := newTestConsumeContext(t, func(ctx context.Context, messages []pushconsumer.Message, hctx *pushconsumer.HandlerContext) pushconsumer.ConsumeStatus {
		return pushconsumer.ConsumeStatusSuccess
	})
	buf := pushconsumer.NewPartitionBuffer(10, protocol.NopLogger{})
	tp := kafka.TopicPartition{Topic: "orders", Partition: 0}
	// drain and ack the only message so the partition is assigned (tracked)
	// but has nothing left pending for dispatchRound to drain.
	buf.Store([]pushconsumer.Message{msg("orders", 0, 0)})
	buf.Ack(tp, []int64{0})
	require.Equal(t, 0, buf.PendingCount(tp))

	pool := pushconsumer.NewWorkerPool(context.Background(), 2, 2)
	defer pool.Stop()
	sched := pushconsumer.NewRetryScheduler(context.Background(), protocol.NopLogger{})
	defer sched.Stop()
	producer := &fakeProducer{}
	task := pushconsumer.NewTaskRequest(cc, buf, producer, sched, nil, nil)
	post := &spyPostProcessor{}

	disp := pushconsumer.NewDispatcher(cc, buf, pool, sched, post, task, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	go disp.Run(ctx)
	defer cancel()

	require.Eventually(t, func() bool {
		return post.afterCount() > 0
	}, time.Second, 5*time.Millisecond, "empty partitions must still release the BeforeDrain claim")
}

func TestDispatcher_DrainsAndRunsTask(t *testing.T) {
	var ran sync.WaitGroup
	ran.Add(1)
	cc := newTestConsumeContext(t, func(ctx context.Context, messages []pushconsumer.Message, hctx *pushconsumer.HandlerContext) pushconsumer.ConsumeStatus {
		defer ran.Done()
		return pushconsumer.ConsumeStatusSuccess
	})
	buf := pushconsumer.NewPartitionBuffer(10, protocol.NopLogger{})
	tp := kafka.TopicPartition{Topic: "orders", Partition: 0}
	buf.Store([]pushconsumer.Message{msg("orders", 0, 0)})

	pool := pushconsumer.NewWorkerPool(context.Background(), 2, 2)
	defer pool.Stop()
	sched := pushconsumer.NewRetryScheduler(context.Background(), protocol.NopLogger{})
	defer sched.Stop()
	producer := &fakeProducer{}
	task := pushconsumer.NewTaskRequest(cc, buf, producer, sched, nil, nil)
	post := &spyPostProcessor{}

	disp := pushconsumer.NewDispatcher(cc, buf, pool, sched, post, task, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	go disp.Run(ctx)
	defer cancel()

	done := make(chan struct{})
	go func() {
		ran.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler was never invoked")
	}

	require.Eventually(t, func() bool {
		offset, ok := buf.TakeCommit(tp)
		return ok && offset == 1
	}, time.Second, 5*time.Millisecond)
}
