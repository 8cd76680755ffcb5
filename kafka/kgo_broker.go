package kafka

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/242617/pushconsumer/protocol"
)

// KgoBrokerConfig configures a franz-go-backed Broker.
type KgoBrokerConfig struct {
	Brokers       []string
	GroupID       string
	StartOffset   StartOffset
	FetchMinBytes int32
	FetchMaxWait  time.Duration
}

// KgoBroker adapts a github.com/twmb/franz-go client to the Broker
// interface. Only the goroutine driving PollLoop may call Poll, Pause,
// Resume, CommitSync, or the Seek* methods concurrently with each other —
// the caller is responsible for the single-writer discipline spec.md §5
// requires; KgoBroker itself does no internal locking beyond what kgo.Client
// already provides.
type KgoBroker struct {
	client   *kgo.Client
	log      protocol.Logger
	cfg      KgoBrokerConfig
	listener RebalanceListener
}

// NewKgoBroker creates a Broker backed by a real franz-go client.
func NewKgoBroker(cfg KgoBrokerConfig, log protocol.Logger) (*KgoBroker, error) {
	if len(cfg.Brokers) == 0 {
		return nil, ErrNoBrokers
	}
	if cfg.GroupID == "" {
		return nil, ErrNoGroupID
	}
	if log == nil {
		log = protocol.NopLogger{}
	}

	b := &KgoBroker{log: log, cfg: cfg}

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.OnPartitionsAssigned(b.onAssigned),
		kgo.OnPartitionsRevoked(b.onRevoked),
		kgo.OnPartitionsLost(b.onLost),
	}

	switch cfg.StartOffset {
	case StartOffsetEarliest:
		opts = append(opts, kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()))
	case StartOffsetLatest:
		opts = append(opts, kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()))
	}
	if cfg.FetchMinBytes > 0 {
		opts = append(opts, kgo.FetchMinBytes(cfg.FetchMinBytes))
	}
	if cfg.FetchMaxWait > 0 {
		opts = append(opts, kgo.FetchMaxWait(cfg.FetchMaxWait))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, errors.Wrap(err, "create kafka client")
	}
	b.client = client

	return b, nil
}

func (b *KgoBroker) onAssigned(ctx context.Context, _ *kgo.Client, assigned map[string][]int32) {
	if b.listener == nil {
		return
	}
	b.listener.OnPartitionsAssigned(ctx, toTopicPartitions(assigned))
}

func (b *KgoBroker) onRevoked(ctx context.Context, _ *kgo.Client, revoked map[string][]int32) {
	if b.listener == nil {
		return
	}
	b.listener.OnPartitionsRevoked(ctx, toTopicPartitions(revoked))
}

func (b *KgoBroker) onLost(ctx context.Context, _ *kgo.Client, lost map[string][]int32) {
	if b.listener == nil {
		return
	}
	b.listener.OnPartitionsLost(ctx, toTopicPartitions(lost))
}

func toTopicPartitions(m map[string][]int32) []TopicPartition {
	var out []TopicPartition
	for topic, partitions := range m {
		for _, p := range partitions {
			out = append(out, TopicPartition{Topic: topic, Partition: p})
		}
	}
	return out
}

// Subscribe implements Broker.
func (b *KgoBroker) Subscribe(ctx context.Context, topics []string, listener RebalanceListener) error {
	b.listener = listener
	b.client.AddConsumeTopics(topics...)
	b.log.Info(ctx, "subscribed", "topics", topics, "group_id", b.cfg.GroupID)
	return nil
}

// Unsubscribe implements Broker.
func (b *KgoBroker) Unsubscribe() {
	b.client.PurgeTopicsFromClient()
}

// Poll implements Broker.
func (b *KgoBroker) Poll(ctx context.Context, timeout time.Duration) ([]FetchedRecord, error) {
	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fetches := b.client.PollFetches(pollCtx)
	if errs := fetches.Errors(); len(errs) > 0 {
		for _, fe := range errs {
			if fe.Err != nil && !errors.Is(fe.Err, context.DeadlineExceeded) {
				b.log.Error(ctx, "fetch error", "topic", fe.Topic, "partition", fe.Partition, "err", fe.Err)
			}
		}
	}

	var records []FetchedRecord
	fetches.EachRecord(func(r *kgo.Record) {
		records = append(records, FetchedRecord{
			Topic:     r.Topic,
			Partition: r.Partition,
			Offset:    r.Offset,
			Key:       r.Key,
			Value:     r.Value,
			Headers:   toHeaders(r.Headers),
			Timestamp: r.Timestamp,
		})
	})
	return records, nil
}

func toHeaders(hs []kgo.RecordHeader) []Header {
	out := make([]Header, len(hs))
	for i, h := range hs {
		out[i] = Header{Key: h.Key, Value: h.Value}
	}
	return out
}

// Pause implements Broker.
func (b *KgoBroker) Pause(partitions []TopicPartition) {
	for topic, ps := range groupByTopic(partitions) {
		b.client.PauseFetchPartitions(map[string][]int32{topic: ps})
	}
}

// Resume implements Broker.
func (b *KgoBroker) Resume(partitions []TopicPartition) {
	for topic, ps := range groupByTopic(partitions) {
		b.client.ResumeFetchPartitions(map[string][]int32{topic: ps})
	}
}

// Paused implements Broker.
func (b *KgoBroker) Paused() []TopicPartition {
	return toTopicPartitions(b.client.PauseFetchPartitions(nil))
}

// Assignment implements Broker.
func (b *KgoBroker) Assignment() []TopicPartition {
	var out []TopicPartition
	for topic, partitions := range b.client.GetConsumedPartitions() {
		for partition := range partitions {
			out = append(out, TopicPartition{Topic: topic, Partition: partition})
		}
	}
	return out
}

// Seek implements Broker.
func (b *KgoBroker) Seek(partition TopicPartition, offset int64) {
	b.client.SetOffsets(map[string]map[int32]kgo.EpochOffset{
		partition.Topic: {partition.Partition: {Epoch: -1, Offset: offset}},
	})
}

// SeekToBeginning implements Broker.
func (b *KgoBroker) SeekToBeginning(partitions []TopicPartition) {
	offsets := map[string]map[int32]kgo.EpochOffset{}
	for _, p := range partitions {
		if offsets[p.Topic] == nil {
			offsets[p.Topic] = map[int32]kgo.EpochOffset{}
		}
		offsets[p.Topic][p.Partition] = kgo.EpochOffset{Epoch: -1, Offset: -2}
	}
	b.client.SetOffsets(offsets)
}

// SeekToEnd implements Broker.
func (b *KgoBroker) SeekToEnd(partitions []TopicPartition) {
	offsets := map[string]map[int32]kgo.EpochOffset{}
	for _, p := range partitions {
		if offsets[p.Topic] == nil {
			offsets[p.Topic] = map[int32]kgo.EpochOffset{}
		}
		offsets[p.Topic][p.Partition] = kgo.EpochOffset{Epoch: -1, Offset: -1}
	}
	b.client.SetOffsets(offsets)
}

// OffsetsForTimes implements Broker.
func (b *KgoBroker) OffsetsForTimes(ctx context.Context, times map[TopicPartition]time.Time) (map[TopicPartition]int64, error) {
	result := make(map[TopicPartition]int64, len(times))
	for tp, ts := range times {
		listed, err := b.client.ListOffsetsAfterMilli(ctx, ts.UnixMilli(), tp.Topic)
		if err != nil {
			return nil, errors.Wrapf(err, "offsets for times: %s/%d", tp.Topic, tp.Partition)
		}
		listed.Each(func(lo kgo.ListedOffset) {
			if lo.Partition == tp.Partition {
				result[tp] = lo.Offset
			}
		})
	}
	return result, nil
}

// CommitSync implements Broker.
func (b *KgoBroker) CommitSync(ctx context.Context, offsets map[TopicPartition]int64) error {
	if len(offsets) == 0 {
		return nil
	}
	toCommit := make(map[string]map[int32]kgo.EpochOffset, len(offsets))
	for tp, offset := range offsets {
		if toCommit[tp.Topic] == nil {
			toCommit[tp.Topic] = map[int32]kgo.EpochOffset{}
		}
		toCommit[tp.Topic][tp.Partition] = kgo.EpochOffset{Epoch: -1, Offset: offset}
	}

	var commitErr error
	b.client.CommitOffsetsSync(ctx, toCommit, func(_ *kgo.Client, _ *kgo.OffsetCommitRequest, resp *kgo.OffsetCommitResponse, err error) {
		if err != nil {
			commitErr = err
			return
		}
		resp.EachPartition(func(p kgo.OffsetCommitResponseTopicPartition) {
			if p.ErrorCode != 0 {
				commitErr = errors.Errorf("commit partition %d: error code %d", p.Partition, p.ErrorCode)
			}
		})
	})
	return commitErr
}

// Close implements Broker.
func (b *KgoBroker) Close() {
	b.client.Close()
}

func groupByTopic(partitions []TopicPartition) map[string][]int32 {
	out := map[string][]int32{}
	for _, p := range partitions {
		out[p.Topic] = append(out[p.Topic], p.Partition)
	}
	return out
}
