package pushconsumer_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/242617/pushconsumer/kafka"
	"github.com/242617/pushconsumer/protocol"
	"github.com/242617/pushconsumer/pushconsumer"
)

// pollingBroker feeds a fixed batch of records on its first Poll call and
// empty batches afterward, and records Pause/Resume calls.
type pollingBroker struct {
	kafka.Broker

	mu      sync.Mutex
	records []kafka.FetchedRecord
	served  bool

	paused  []kafka.TopicPartition
	resumed []kafka.TopicPartition
}

func (b *pollingBroker) Poll(ctx context.Context, timeout time.Duration) ([]kafka.FetchedRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.served {
		return nil, nil
	}
	b.served = true
	return b.records, nil
}

func (b *pollingBroker) Pause(partitions []kafka.TopicPartition) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.paused = append(b.paused, partitions...)
}

func (b *pollingBroker) Resume(partitions []kafka.TopicPartition) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resumed = append(b.resumed, partitions...)
}

func (b *pollingBroker) pausedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.paused)
}

func TestPollLoop_StoresFetchedRecordsAndPausesWhenFull(t *testing.T) {
	cc, err := pushconsumer.NewConsumeContext(
		pushconsumer.WithBootstrapServers("localhost:9092"),
		pushconsumer.WithGroupID("orders-group"),
		pushconsumer.WithTopics("orders"),
		pushconsumer.WithHandler(noopHandler),
		pushconsumer.WithPartitionCapacity(2),
	)
	require.NoError(t, err)

	broker := &pollingBroker{records: []kafka.FetchedRecord{
		{Topic: "orders", Partition: 0, Offset: 0, Value: []byte("a")},
		{Topic: "orders", Partition: 0, Offset: 1, Value: []byte("b")},
	}}
	buf := pushconsumer.NewPartitionBuffer(2, protocol.NopLogger{})
	loop := pushconsumer.NewPollLoop(broker, buf, cc)

	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)
	defer cancel()

	tp := kafka.TopicPartition{Topic: "orders", Partition: 0}
	require.Eventually(t, func() bool {
		return buf.PendingCount(tp) == 2
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return broker.pausedCount() > 0
	}, time.Second, 5*time.Millisecond, "a full partition must be paused")
}

func TestPollLoop_SuspendStopsPolling(t *testing.T) {
	cc, err := pushconsumer.NewConsumeContext(
		pushconsumer.WithBootstrapServers("localhost:9092"),
		pushconsumer.WithGroupID("orders-group"),
		pushconsumer.WithTopics("orders"),
		pushconsumer.WithHandler(noopHandler),
	)
	require.NoError(t, err)

	broker := &pollingBroker{}
	buf := pushconsumer.NewPartitionBuffer(10, protocol.NopLogger{})
	loop := pushconsumer.NewPollLoop(broker, buf, cc)
	loop.Suspend()

	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)
	defer cancel()

	time.Sleep(30 * time.Millisecond)
	assert.False(t, broker.served, "a suspended loop must never call Poll")

	loop.Resume()
	require.Eventually(t, func() bool {
		broker.mu.Lock()
		defer broker.mu.Unlock()
		return broker.served
	}, time.Second, 5*time.Millisecond)
}
