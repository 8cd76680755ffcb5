package deadletter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/242617/pushconsumer/pushconsumer"
)

func TestRecordFromMessage_UsesRealPlacementWhenStamped(t *testing.T) {
	now := time.Now()
	m := pushconsumer.Message{
		Topic:         "%RETRY%orders",
		Partition:     0,
		Offset:        99,
		RealTopic:     "orders",
		RealPartition: 3,
		RealOffset:    42,
		RetryCount:    5,
		StoreTime:     now,
	}

	rec := recordFromMessage("orders-group", m, "max reconsume count exceeded")

	assert.Equal(t, "orders-group", rec.GroupID)
	assert.Equal(t, "orders", rec.RealTopic)
	assert.Equal(t, int32(3), rec.RealPartition)
	assert.EqualValues(t, 42, rec.RealOffset)
	assert.Equal(t, 5, rec.RetryCount)
	assert.Equal(t, "max reconsume count exceeded", rec.Reason)
	assert.NotEqual(t, rec.ID.String(), "")
}

func TestRecordFromMessage_FallsBackToPhysicalPlacement(t *testing.T) {
	m := pushconsumer.Message{
		Topic:     "orders",
		Partition: 2,
		Offset:    7,
	}

	rec := recordFromMessage("orders-group", m, "poison message")

	assert.Equal(t, "orders", rec.RealTopic)
	assert.Equal(t, int32(2), rec.RealPartition)
	assert.EqualValues(t, 7, rec.RealOffset)
}
