package pushconsumer_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/242617/pushconsumer/kafka"
	"github.com/242617/pushconsumer/protocol"
	"github.com/242617/pushconsumer/pushconsumer"
)

// fakeBroker implements the slice of kafka.Broker BrokerPersistor needs.
type fakeBroker struct {
	kafka.Broker

	mu      sync.Mutex
	commits []map[kafka.TopicPartition]int64
	failErr error
}

func (b *fakeBroker) CommitSync(ctx context.Context, offsets map[kafka.TopicPartition]int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failErr != nil {
		return b.failErr
	}
	b.commits = append(b.commits, offsets)
	return nil
}

func (b *fakeBroker) commitCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.commits)
}

func TestBrokerPersistor_FlushesCommittableOffsetsOnInterval(t *testing.T) {
	buf := pushconsumer.NewPartitionBuffer(10, protocol.NopLogger{})
	tp := kafka.TopicPartition{Topic: "orders", Partition: 0}
	buf.Store([]pushconsumer.Message{msg("orders", 0, 0)})
	buf.Ack(tp, []int64{0})

	broker := &fakeBroker{}
	persistor := pushconsumer.NewBrokerPersistor(broker, buf, protocol.NopLogger{}, 10*time.Millisecond)

	require.NoError(t, persistor.Start(context.Background()))
	defer persistor.Stop(context.Background())

	require.Eventually(t, func() bool {
		return broker.commitCount() > 0
	}, time.Second, 5*time.Millisecond)
}

func TestBrokerPersistor_LoadStartOffsetDefersToBroker(t *testing.T) {
	buf := pushconsumer.NewPartitionBuffer(10, protocol.NopLogger{})
	persistor := pushconsumer.NewBrokerPersistor(&fakeBroker{}, buf, protocol.NopLogger{}, time.Second)

	_, ok := persistor.LoadStartOffset(context.Background(), kafka.TopicPartition{Topic: "orders", Partition: 0})
	assert.False(t, ok)
}

func TestBrokerPersistor_OnPartitionsRevokedFlushesAndResets(t *testing.T) {
	buf := pushconsumer.NewPartitionBuffer(10, protocol.NopLogger{})
	tp := kafka.TopicPartition{Topic: "orders", Partition: 0}
	buf.Store([]pushconsumer.Message{msg("orders", 0, 0)})
	buf.Ack(tp, []int64{0})

	broker := &fakeBroker{}
	persistor := pushconsumer.NewBrokerPersistor(broker, buf, protocol.NopLogger{}, time.Hour)

	persistor.OnPartitionsRevoked(context.Background(), []kafka.TopicPartition{tp})

	assert.Equal(t, 1, broker.commitCount())
	assert.Equal(t, 0, buf.PendingCount(tp))
}

func TestFilePersistor_WriteThenLoadStartOffset(t *testing.T) {
	buf := pushconsumer.NewPartitionBuffer(10, protocol.NopLogger{})
	tp := kafka.TopicPartition{Topic: "orders", Partition: 0}
	buf.Store([]pushconsumer.Message{msg("orders", 0, 0), msg("orders", 0, 1)})
	buf.Ack(tp, []int64{0, 1})

	dir := t.TempDir()
	persistor := pushconsumer.NewFilePersistor(buf, protocol.NopLogger{}, dir, "orders-group", time.Hour)

	require.NoError(t, persistor.Start(context.Background()))
	require.NoError(t, persistor.Stop(context.Background()))

	offset, ok := persistor.LoadStartOffset(context.Background(), tp)
	require.True(t, ok)
	assert.Equal(t, int64(2), offset)

	_, err := filepath.Glob(filepath.Join(dir, "orders-group__orders__0.json"))
	require.NoError(t, err)
}

func TestFilePersistor_LoadStartOffsetMissingFileReturnsFalse(t *testing.T) {
	persistor := pushconsumer.NewFilePersistor(pushconsumer.NewPartitionBuffer(10, protocol.NopLogger{}), protocol.NopLogger{}, t.TempDir(), "orders-group", time.Hour)

	_, ok := persistor.LoadStartOffset(context.Background(), kafka.TopicPartition{Topic: "orders", Partition: 0})
	assert.False(t, ok)
}
