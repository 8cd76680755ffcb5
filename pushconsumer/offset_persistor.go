package pushconsumer

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/242617/pushconsumer/kafka"
	"github.com/242617/pushconsumer/protocol"
)

// OffsetPersistor durably records progress for assigned partitions. There
// are two implementations, selected by ConsumeModel (spec.md §4.8, §6):
// BrokerPersistor commits to the broker's consumer-group offsets, and
// FilePersistor writes one file per (group, topic, partition) for the
// BROADCASTING model, where every consumer sees every message and broker
// group offsets are meaningless.
type OffsetPersistor interface {
	protocol.Lifecycle
	kafka.RebalanceListener

	// LoadStartOffset returns the offset a freshly assigned partition
	// should resume from, or (0, false) if there is no prior record (the
	// broker's own reset policy applies).
	LoadStartOffset(ctx context.Context, tp kafka.TopicPartition) (int64, bool)
}

// BrokerPersistor commits PartitionBuffer's watermark to the broker on a
// fixed interval and flushes synchronously on partition revoke.
type BrokerPersistor struct {
	broker kafka.Broker
	buffer *PartitionBuffer
	log    protocol.Logger

	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewBrokerPersistor creates a BrokerPersistor. interval defaults to one
// second if zero.
func NewBrokerPersistor(broker kafka.Broker, buffer *PartitionBuffer, log protocol.Logger, interval time.Duration) *BrokerPersistor {
	if log == nil {
		log = protocol.NopLogger{}
	}
	if interval <= 0 {
		interval = defaultOffsetCommitInterval
	}
	return &BrokerPersistor{broker: broker, buffer: buffer, log: log, interval: interval}
}

// Start implements protocol.Lifecycle: launches the periodic commit loop.
func (p *BrokerPersistor) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return ErrAlreadyStarted
	}

	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.loop(loopCtx)
	return nil
}

// Stop implements protocol.Lifecycle: stops the loop, then does one final flush.
func (p *BrokerPersistor) Stop(ctx context.Context) error {
	p.mu.Lock()
	cancel := p.cancel
	done := p.done
	p.mu.Unlock()
	if cancel == nil {
		return nil
	}

	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return p.flush(ctx)
}

func (p *BrokerPersistor) loop(ctx context.Context) {
	defer close(p.done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.flush(ctx); err != nil {
				p.log.Warn(ctx, "commit offsets failed", "err", err)
			}
		}
	}
}

func (p *BrokerPersistor) flush(ctx context.Context) error {
	offsets := map[kafka.TopicPartition]int64{}
	for _, tp := range p.buffer.AssignedPartitions() {
		if offset, ok := p.buffer.TakeCommit(tp); ok {
			offsets[tp] = offset
		}
	}
	if len(offsets) == 0 {
		return nil
	}
	return p.broker.CommitSync(ctx, offsets)
}

// LoadStartOffset implements OffsetPersistor: the broker's own committed
// offset applies, so BrokerPersistor never overrides it.
func (p *BrokerPersistor) LoadStartOffset(context.Context, kafka.TopicPartition) (int64, bool) {
	return 0, false
}

// OnPartitionsAssigned implements kafka.RebalanceListener: nothing to do,
// the broker already knows where this group left off.
func (p *BrokerPersistor) OnPartitionsAssigned(context.Context, []kafka.TopicPartition) {}

// OnPartitionsRevoked implements kafka.RebalanceListener: flush outstanding
// commits for the revoked partitions before they move to another member.
func (p *BrokerPersistor) OnPartitionsRevoked(ctx context.Context, partitions []kafka.TopicPartition) {
	if err := p.flush(ctx); err != nil {
		p.log.Warn(ctx, "flush on revoke failed", "err", err)
	}
	for _, tp := range partitions {
		p.buffer.Reset(tp)
	}
}

// OnPartitionsLost implements kafka.RebalanceListener: same as revoke, but
// the partitions are gone without a clean handoff, so the flush is
// best-effort.
func (p *BrokerPersistor) OnPartitionsLost(ctx context.Context, partitions []kafka.TopicPartition) {
	p.OnPartitionsRevoked(ctx, partitions)
}

// fileRecord is the on-disk representation of a single partition's
// committed offset.
type fileRecord struct {
	Offset int64 `json:"offset"`
}

// FilePersistor persists committed offsets to one JSON file per
// (group, topic, partition) under Dir, for the BROADCASTING consume model
// where broker group offsets don't apply (spec.md §6). Writes are
// temp-file-then-rename to avoid torn reads on crash.
type FilePersistor struct {
	buffer  *PartitionBuffer
	log     protocol.Logger
	dir     string
	groupID string

	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewFilePersistor creates a FilePersistor rooted at dir.
func NewFilePersistor(buffer *PartitionBuffer, log protocol.Logger, dir, groupID string, interval time.Duration) *FilePersistor {
	if log == nil {
		log = protocol.NopLogger{}
	}
	if interval <= 0 {
		interval = defaultOffsetCommitInterval
	}
	return &FilePersistor{buffer: buffer, log: log, dir: dir, groupID: groupID, interval: interval}
}

func (p *FilePersistor) path(tp kafka.TopicPartition) string {
	name := p.groupID + "__" + tp.Topic + "__" + strconv.Itoa(int(tp.Partition)) + ".json"
	return filepath.Join(p.dir, name)
}

// Start implements protocol.Lifecycle.
func (p *FilePersistor) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return ErrAlreadyStarted
	}
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return errors.Wrap(err, "create broadcast state dir")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.loop(loopCtx)
	return nil
}

// Stop implements protocol.Lifecycle.
func (p *FilePersistor) Stop(ctx context.Context) error {
	p.mu.Lock()
	cancel := p.cancel
	done := p.done
	p.mu.Unlock()
	if cancel == nil {
		return nil
	}

	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return p.flush()
}

func (p *FilePersistor) loop(ctx context.Context) {
	defer close(p.done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.flush(); err != nil {
				p.log.Warn(ctx, "persist offsets failed", "err", err)
			}
		}
	}
}

func (p *FilePersistor) flush() error {
	for _, tp := range p.buffer.AssignedPartitions() {
		offset, ok := p.buffer.TakeCommit(tp)
		if !ok {
			continue
		}
		if err := p.writeOffset(tp, offset); err != nil {
			return err
		}
	}
	return nil
}

func (p *FilePersistor) writeOffset(tp kafka.TopicPartition, offset int64) error {
	data, err := json.Marshal(fileRecord{Offset: offset})
	if err != nil {
		return errors.Wrap(err, "marshal offset record")
	}

	final := p.path(tp)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(err, "write offset temp file")
	}
	if err := os.Rename(tmp, final); err != nil {
		return errors.Wrap(err, "rename offset file")
	}
	return nil
}

// LoadStartOffset implements OffsetPersistor by reading the last persisted
// offset from disk.
func (p *FilePersistor) LoadStartOffset(ctx context.Context, tp kafka.TopicPartition) (int64, bool) {
	data, err := os.ReadFile(p.path(tp))
	if err != nil {
		return 0, false
	}
	var rec fileRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		p.log.Warn(ctx, "corrupt offset file", "path", p.path(tp), "err", err)
		return 0, false
	}
	return rec.Offset, true
}

// OnPartitionsAssigned implements kafka.RebalanceListener. It does nothing
// itself: the caller seeks each assigned partition using LoadStartOffset.
func (p *FilePersistor) OnPartitionsAssigned(ctx context.Context, partitions []kafka.TopicPartition) {
	_ = ctx
	_ = partitions // seeking is performed by the caller via LoadStartOffset + Broker.Seek
}

// OnPartitionsRevoked implements kafka.RebalanceListener: flush before
// losing ownership, then drop the in-memory buffer state.
func (p *FilePersistor) OnPartitionsRevoked(ctx context.Context, partitions []kafka.TopicPartition) {
	if err := p.flush(); err != nil {
		p.log.Warn(ctx, "flush on revoke failed", "err", err)
	}
	for _, tp := range partitions {
		p.buffer.Reset(tp)
	}
}

// OnPartitionsLost implements kafka.RebalanceListener.
func (p *FilePersistor) OnPartitionsLost(ctx context.Context, partitions []kafka.TopicPartition) {
	p.OnPartitionsRevoked(ctx, partitions)
}
