package pushconsumer

import "github.com/242617/pushconsumer/kafka"

// MessageFilter decides whether a fetched record should be delivered to
// PartitionBuffer.Store at all. Filtered-out records are dropped before
// they ever occupy in-flight memory.
type MessageFilter interface {
	IsPermitAll() bool
	CanDeliverMessage(value []byte, headers []kafka.Header) bool
}

// PassAllFilter delivers every message. It is the default MessageFilter.
type PassAllFilter struct{}

func (PassAllFilter) IsPermitAll() bool { return true }
func (PassAllFilter) CanDeliverMessage([]byte, []kafka.Header) bool {
	return true
}
