// Package pushconsumer layers a push-style consumption model — per-partition
// ordering, concurrent batch handlers, bounded in-flight memory, automatic
// per-message retry via a delay-topic ladder, and a dead-letter terminus —
// on top of the pull-based kafka.Broker primitives.
package pushconsumer

import (
	"fmt"
	"strconv"
	"time"

	"github.com/242617/pushconsumer/kafka"
)

// Header keys used to stamp extended message properties onto the wire
// record. Only records republished by this client (delay-topic and DLQ
// records) carry these; messages delivered straight from an application
// topic never do.
const (
	HeaderRetryCount    = "rk-retry-count"
	HeaderDelayLevel    = "rk-delay-level"
	HeaderRealTopic     = "rk-real-topic"
	HeaderRealPartition = "rk-real-partition"
	HeaderRealOffset    = "rk-real-offset"
	HeaderRealStoreTime = "rk-real-store-time"
	// HeaderOriginTopic points a delay-level record back at the retry (or
	// real) topic it should be republished to once its delay elapses.
	HeaderOriginTopic = "rk-origin-topic"
)

// Message is a single record in the consumption pipeline, carrying both the
// physical placement it was fetched from and, once it has been through the
// retry ladder at least once, the original placement it was first produced
// to (the "real-*" properties, spec.md §3).
type Message struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   []kafka.Header
	StoreTime time.Time

	RetryCount int
	DelayLevel int

	RealTopic     string
	RealPartition int32
	RealOffset    int64
	RealStoreTime time.Time
}

// TopicPartition returns the (topic, partition) identity this message
// currently occupies (its physical placement, not its real-* placement).
func (m Message) TopicPartition() kafka.TopicPartition {
	return kafka.TopicPartition{Topic: m.Topic, Partition: m.Partition}
}

// HasRealPlacement reports whether real-* properties were ever stamped,
// i.e. whether this message has been retried at least once.
func (m Message) HasRealPlacement() bool {
	return m.RealTopic != ""
}

// fromFetched converts a kafka.FetchedRecord into a Message, decoding any
// extended properties present in its headers. Records without the headers
// (first-ever delivery) come back with the real-* fields zero.
func fromFetched(r kafka.FetchedRecord) Message {
	m := Message{
		Topic:     r.Topic,
		Partition: r.Partition,
		Offset:    r.Offset,
		Key:       r.Key,
		Value:     r.Value,
		Headers:   r.Headers,
		StoreTime: r.Timestamp,
	}
	for _, h := range r.Headers {
		switch h.Key {
		case HeaderRetryCount:
			m.RetryCount, _ = strconv.Atoi(string(h.Value))
		case HeaderDelayLevel:
			m.DelayLevel, _ = strconv.Atoi(string(h.Value))
		case HeaderRealTopic:
			m.RealTopic = string(h.Value)
		case HeaderRealPartition:
			p, _ := strconv.Atoi(string(h.Value))
			m.RealPartition = int32(p)
		case HeaderRealOffset:
			o, _ := strconv.ParseInt(string(h.Value), 10, 64)
			m.RealOffset = o
		case HeaderRealStoreTime:
			if ns, err := strconv.ParseInt(string(h.Value), 10, 64); err == nil {
				m.RealStoreTime = time.Unix(0, ns)
			}
		}
	}
	return m
}

// stampRealPlacement records the message's original placement the first
// time it is retried. Per spec.md §3 this happens exactly once: subsequent
// retries carry the same real-* values forward unchanged.
func (m *Message) stampRealPlacement() {
	if m.HasRealPlacement() {
		return
	}
	m.RealTopic = m.Topic
	m.RealPartition = m.Partition
	m.RealOffset = m.Offset
	m.RealStoreTime = m.StoreTime
}

// rehydrate restores a retry-topic message's logical topic/partition from
// its stamped real-* properties, so the user handler sees the message as if
// it had arrived on its original topic (spec.md §4.5 step 1).
func (m *Message) rehydrate() {
	if !m.HasRealPlacement() {
		return
	}
	m.Topic = m.RealTopic
	m.Partition = m.RealPartition
	m.Offset = m.RealOffset
}

// toProduceHeaders renders the extended properties as kafka.Header values
// for republish to a delay or DLQ topic.
func (m Message) toProduceHeaders(originTopic string) []kafka.Header {
	headers := append([]kafka.Header{}, m.Headers...)
	headers = append(headers,
		kafka.Header{Key: HeaderRetryCount, Value: []byte(strconv.Itoa(m.RetryCount))},
		kafka.Header{Key: HeaderDelayLevel, Value: []byte(strconv.Itoa(m.DelayLevel))},
		kafka.Header{Key: HeaderRealTopic, Value: []byte(m.RealTopic)},
		kafka.Header{Key: HeaderRealPartition, Value: []byte(strconv.Itoa(int(m.RealPartition)))},
		kafka.Header{Key: HeaderRealOffset, Value: []byte(strconv.FormatInt(m.RealOffset, 10))},
		kafka.Header{Key: HeaderRealStoreTime, Value: []byte(strconv.FormatInt(m.RealStoreTime.UnixNano(), 10))},
	)
	if originTopic != "" {
		headers = append(headers, kafka.Header{Key: HeaderOriginTopic, Value: []byte(originTopic)})
	}
	return headers
}

// DelayLadder is the fixed delay-level → duration table (spec.md §3). Index
// 0 is unused so that DelayLevel values (1..MaxDelayLevel) index directly.
var DelayLadder = [...]time.Duration{
	0, // unused
	1 * time.Second,
	5 * time.Second,
	10 * time.Second,
	30 * time.Second,
	1 * time.Minute,
	2 * time.Minute,
	5 * time.Minute,
	10 * time.Minute,
	30 * time.Minute,
	1 * time.Hour,
	2 * time.Hour,
}

// MaxDelayLevel is the highest valid DelayLevel, matching len(DelayLadder)-1.
const MaxDelayLevel = len(DelayLadder) - 1

// DelayForLevel returns the replay delay for a level, clamping to
// [1, MaxDelayLevel].
func DelayForLevel(level int) time.Duration {
	if level < 1 {
		level = 1
	}
	if level > MaxDelayLevel {
		level = MaxDelayLevel
	}
	return DelayLadder[level]
}

// RetryTopic is the per-consumer-group topic onto which messages are
// republished for later re-consumption.
func RetryTopic(groupID string) string { return fmt.Sprintf("%%RETRY%%%s", groupID) }

// DLQTopic is the per-group terminus for messages that exceeded
// MAX_RECONSUME_COUNT retries.
func DLQTopic(groupID string) string { return fmt.Sprintf("%%DLQ%%%s", groupID) }

// DelayTopic is the shared, process-wide topic for a given delay level.
func DelayTopic(level int) string { return fmt.Sprintf("%%DELAY%%%d", level) }
