package pushconsumer

import (
	"context"
	"sort"
	"sync"

	"github.com/242617/pushconsumer/kafka"
	"github.com/242617/pushconsumer/protocol"
)

// partitionState is the per-(topic,partition) bookkeeping described in
// spec.md §4.1: an insertion-ordered list of pending messages, the set of
// acknowledged offsets, and the commit watermark.
type partitionState struct {
	mu sync.Mutex

	capacity int

	// pending holds offsets still in memory, in broker (insertion) order.
	pending []int64
	byOffset map[int64]Message

	acked map[int64]struct{}

	// watermark is the highest offset W such that every offset <= W that
	// was ever pending has been acknowledged. Seeded to firstOffset-1 on
	// the first Store into this partition (not a fixed -1), so partitions
	// that resume from a non-zero offset still advance; commit value is
	// watermark+1.
	watermark int64

	// seeded is false until watermark has been seeded from a real offset.
	seeded bool

	// committedWatermark is the watermark value already reported via
	// takeCommit, so repeated calls with no progress return nothing.
	committedWatermark int64

	// claimed is true while a chunk drained by drainReady has not yet been
	// fully acknowledged. Enforces "at most one in-flight chunk per
	// partition" (spec.md §4.1, §9).
	claimed bool

	// torn marks this partition as torn down (seek/rebalance-revoke);
	// further stores are dropped silently.
	torn bool
}

func newPartitionState(capacity int) *partitionState {
	return &partitionState{
		capacity: capacity,
		byOffset: map[int64]Message{},
		acked:    map[int64]struct{}{},
	}
}

// seedWatermark sets the initial watermark from the first offset this
// partition ever sees, so a partition that resumes mid-stream (broker
// rewind, seek target, committed offset other than 0) still has a
// watermark it can advance from. Must be called with st.mu held.
func (st *partitionState) seedWatermark(firstOffset int64) {
	if st.seeded {
		return
	}
	st.watermark = firstOffset - 1
	st.committedWatermark = firstOffset - 1
	st.seeded = true
}

// PartitionBuffer holds the in-flight state for every assigned partition.
// Safe for concurrent use: PollLoop calls Store, Dispatcher and TaskRequest
// call DrainReady/Ack/TakeCommit, and OffsetPersistor/rebalance call
// Reset/ResetAll — all from different goroutines.
type PartitionBuffer struct {
	log protocol.Logger

	mu    sync.RWMutex
	state map[kafka.TopicPartition]*partitionState

	capacity int
}

// NewPartitionBuffer creates a PartitionBuffer with the given per-partition
// capacity (spec.md §4.1's "pending count >= capacity" pause threshold).
func NewPartitionBuffer(capacity int, log protocol.Logger) *PartitionBuffer {
	if log == nil {
		log = protocol.NopLogger{}
	}
	return &PartitionBuffer{
		log:      log,
		state:    map[kafka.TopicPartition]*partitionState{},
		capacity: capacity,
	}
}

func (b *PartitionBuffer) partition(tp kafka.TopicPartition, createIfMissing bool) *partitionState {
	b.mu.RLock()
	st := b.state[tp]
	b.mu.RUnlock()
	if st != nil || !createIfMissing {
		return st
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if st = b.state[tp]; st == nil {
		st = newPartitionState(b.capacity)
		b.state[tp] = st
	}
	return st
}

// Store buffers a batch of messages, grouped by partition, preserving
// broker order. Returns the set of partitions that are now "full" (pending
// count >= capacity) so the caller (PollLoop) can pause them.
func (b *PartitionBuffer) Store(messages []Message) []kafka.TopicPartition {
	byPartition := map[kafka.TopicPartition][]Message{}
	for _, m := range messages {
		tp := m.TopicPartition()
		byPartition[tp] = append(byPartition[tp], m)
	}

	var full []kafka.TopicPartition
	for tp, msgs := range byPartition {
		st := b.partition(tp, true)

		st.mu.Lock()
		if st.torn {
			st.mu.Unlock()
			b.log.Warn(context.Background(), "dropping messages for reset partition", "topic", tp.Topic, "partition", tp.Partition, "count", len(msgs))
			continue
		}
		for i, m := range msgs {
			if i == 0 {
				st.seedWatermark(m.Offset)
			}
			if _, exists := st.byOffset[m.Offset]; exists {
				continue
			}
			st.pending = append(st.pending, m.Offset)
			st.byOffset[m.Offset] = m
		}
		isFull := len(st.pending) >= st.capacity
		st.mu.Unlock()

		if isFull {
			full = append(full, tp)
		}
	}
	return full
}

// DrainReady returns the next contiguous chunk (up to batchSize) of
// unclaimed pending messages for the partition. Returns nil if there is
// nothing pending, or if a previously drained chunk is still unacked — the
// concurrent variant allows overlap across partitions but never more than
// one in-flight chunk within a single partition (spec.md §4.1).
func (b *PartitionBuffer) DrainReady(tp kafka.TopicPartition, batchSize int) []Message {
	st := b.partition(tp, false)
	if st == nil {
		return nil
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.torn || st.claimed || len(st.pending) == 0 {
		return nil
	}

	n := batchSize
	if n > len(st.pending) {
		n = len(st.pending)
	}
	if n <= 0 {
		return nil
	}

	batch := make([]Message, 0, n)
	for _, offset := range st.pending[:n] {
		batch = append(batch, st.byOffset[offset])
	}
	st.claimed = true
	return batch
}

// Ack marks offsets acknowledged for partition and recomputes the commit
// watermark. Unknown offsets are a no-op with a warning. Clears the claimed
// flag once every offset handed out by the last DrainReady has been acked,
// so the next DrainReady can proceed.
func (b *PartitionBuffer) Ack(tp kafka.TopicPartition, offsets []int64) {
	st := b.partition(tp, false)
	if st == nil {
		b.log.Warn(context.Background(), "ack on unknown partition", "topic", tp.Topic, "partition", tp.Partition)
		return
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.torn {
		b.log.Warn(context.Background(), "ack on reset partition, ignoring", "topic", tp.Topic, "partition", tp.Partition)
		return
	}

	for _, offset := range offsets {
		if _, known := st.byOffset[offset]; !known {
			b.log.Warn(context.Background(), "ack of unknown offset", "topic", tp.Topic, "partition", tp.Partition, "offset", offset)
			continue
		}
		st.acked[offset] = struct{}{}
	}

	b.advanceWatermark(st)
	b.pruneAcked(st)

	if len(st.pending) == 0 {
		st.claimed = false
	}
}

// advanceWatermark scans forward from watermark+1 while the offset was
// ever pending and is acked, per spec.md §4.1's algorithm. Must be called
// with st.mu held.
func (b *PartitionBuffer) advanceWatermark(st *partitionState) {
	if len(st.pending) == 0 {
		return
	}

	everPending := make(map[int64]struct{}, len(st.pending))
	for _, o := range st.pending {
		everPending[o] = struct{}{}
	}

	next := st.watermark + 1
	for {
		if _, wasPending := everPending[next]; !wasPending {
			break
		}
		if _, isAcked := st.acked[next]; !isAcked {
			break
		}
		st.watermark = next
		next++
	}
}

// pruneAcked drops offsets <= watermark from pending and acked, since they
// are now absorbed into the watermark and no longer need tracking. Must be
// called with st.mu held.
func (b *PartitionBuffer) pruneAcked(st *partitionState) {
	if st.watermark < 0 {
		return
	}

	kept := st.pending[:0]
	for _, o := range st.pending {
		if o <= st.watermark {
			delete(st.byOffset, o)
			delete(st.acked, o)
			continue
		}
		kept = append(kept, o)
	}
	st.pending = kept
}

// PendingCount returns the number of messages currently buffered for a
// partition (used by PollLoop's resume hysteresis check).
func (b *PartitionBuffer) PendingCount(tp kafka.TopicPartition) int {
	st := b.partition(tp, false)
	if st == nil {
		return 0
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.pending)
}

// TakeCommit returns the offset to commit (watermark+1) if it has advanced
// since the last call, or (0, false) otherwise.
func (b *PartitionBuffer) TakeCommit(tp kafka.TopicPartition) (int64, bool) {
	st := b.partition(tp, false)
	if st == nil {
		return 0, false
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.watermark <= st.committedWatermark {
		return 0, false
	}
	st.committedWatermark = st.watermark
	return st.watermark + 1, true
}

// Reset discards all buffered state for a partition (seek / rebalance
// revoke). In-flight tasks that later ack against this partition become
// no-ops.
func (b *PartitionBuffer) Reset(tp kafka.TopicPartition) {
	b.mu.Lock()
	st := b.state[tp]
	delete(b.state, tp)
	b.mu.Unlock()

	if st == nil {
		return
	}
	st.mu.Lock()
	st.torn = true
	st.mu.Unlock()
}

// ResetAll discards all buffered state for every partition.
func (b *PartitionBuffer) ResetAll() {
	b.mu.Lock()
	all := b.state
	b.state = map[kafka.TopicPartition]*partitionState{}
	b.mu.Unlock()

	for _, st := range all {
		st.mu.Lock()
		st.torn = true
		st.mu.Unlock()
	}
}

// AssignedPartitions returns the partitions currently tracked by the
// buffer (i.e. that have seen at least one message or an explicit create).
func (b *PartitionBuffer) AssignedPartitions() []kafka.TopicPartition {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]kafka.TopicPartition, 0, len(b.state))
	for tp := range b.state {
		out = append(out, tp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Topic != out[j].Topic {
			return out[i].Topic < out[j].Topic
		}
		return out[i].Partition < out[j].Partition
	})
	return out
}
