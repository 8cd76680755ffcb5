package pushconsumer

import "sync"

// PostProcessor decides whether a partition is eligible to have its next
// chunk drained, and is notified once a drained chunk reaches a terminal
// outcome. The default (concurrentPostProcessor) imposes no restriction
// beyond PartitionBuffer's own single-in-flight-chunk-per-partition
// invariant. OrdinalPostProcessor additionally enforces strict in-order
// delivery within a partition (spec.md §9, the "ordinal consume" variant).
type PostProcessor interface {
	// BeforeDrain is consulted before DrainReady is called for tp. Returning
	// false skips this partition for the current dispatch round.
	BeforeDrain(tp TopicPartitionKey) bool

	// AfterChunkComplete is called once every message in a drained chunk has
	// reached a terminal outcome (acked, retried, or sent to the DLQ).
	AfterChunkComplete(tp TopicPartitionKey)

	// RetriesLocally reports whether a RETRY_LATER outcome should requeue
	// the message at the head of the partition buffer instead of hopping
	// to the delay-topic ladder (spec.md §9, the ordinal consume variant).
	RetriesLocally() bool
}

// TopicPartitionKey mirrors kafka.TopicPartition's shape. Declared here
// rather than imported so PostProcessor implementations outside this
// module need not depend on the kafka package.
type TopicPartitionKey struct {
	Topic     string
	Partition int32
}

// concurrentPostProcessor is the default PostProcessor.
type concurrentPostProcessor struct{}

func (concurrentPostProcessor) BeforeDrain(TopicPartitionKey) bool { return true }
func (concurrentPostProcessor) AfterChunkComplete(TopicPartitionKey) {}
func (concurrentPostProcessor) RetriesLocally() bool { return false }

// DefaultPostProcessor is used when a ConsumeContext does not request
// ordinal consumption.
var DefaultPostProcessor PostProcessor = concurrentPostProcessor{}

// OrdinalPostProcessor enforces strict in-order processing: a new chunk for
// a partition is never drained until the previous chunk from that same
// partition has fully completed (acked, retried, or sent to the DLQ).
type OrdinalPostProcessor struct {
	mu       sync.Mutex
	inFlight map[TopicPartitionKey]bool
}

// NewOrdinalPostProcessor creates a PostProcessor for strictly-ordered
// per-partition consumption.
func NewOrdinalPostProcessor() *OrdinalPostProcessor {
	return &OrdinalPostProcessor{inFlight: map[TopicPartitionKey]bool{}}
}

func (o *OrdinalPostProcessor) BeforeDrain(tp TopicPartitionKey) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inFlight[tp] {
		return false
	}
	o.inFlight[tp] = true
	return true
}

func (o *OrdinalPostProcessor) AfterChunkComplete(tp TopicPartitionKey) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inFlight, tp)
}

// RetriesLocally is true for the ordinal variant: a RETRY_LATER message
// stays unacked at the head of its partition's buffer instead of hopping to
// the delay-topic ladder, and is redrained once AfterChunkComplete releases
// the in-flight claim (spec.md §9).
func (o *OrdinalPostProcessor) RetriesLocally() bool { return true }
