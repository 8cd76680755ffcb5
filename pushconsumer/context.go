package pushconsumer

import (
	"time"

	stderrors "errors"

	"github.com/242617/pushconsumer/protocol"
)

// ConsumeModel selects how partitions are distributed and how progress is
// persisted (spec.md §3).
type ConsumeModel int

const (
	// ConsumeModelClustering distributes partitions across the consumer
	// group; progress is committed to the broker.
	ConsumeModelClustering ConsumeModel = iota

	// ConsumeModelBroadcasting delivers every message to every consumer;
	// progress is persisted to a local file per partition.
	ConsumeModelBroadcasting
)

const (
	defaultConsumeBatchSize      = 10
	maxConsumeBatchSize          = 32
	defaultConsumeThreadNum      = 4
	defaultConsumeQueueSize      = 100
	defaultPollAwaitTimeout      = 1 * time.Second
	defaultMaxMessageDealTime    = 30 * time.Second
	defaultTaskRetryBackoff      = 1 * time.Second
	defaultLocalRetryBackoff     = 5 * time.Second
	defaultOffsetCommitInterval  = 1 * time.Second
	defaultResumeHysteresisRatio = 0.5
	defaultMaxReconsumeCount     = 16
)

// Config is the serializable subset of ConsumeContext, loadable via the
// config package's YAML/env sources the same way every other *.Config in
// this module is.
type Config struct {
	BootstrapServers []string     `yaml:"bootstrap_servers"`
	GroupID          string       `yaml:"group_id"`
	ClientID         string       `yaml:"client_id"`
	Topics           []string     `yaml:"topics"`
	ConsumeModel     ConsumeModel `yaml:"-"`

	ConsumeBatchSize    int           `yaml:"consume_batch_size" default:"10"`
	ConsumeThreadNum    int           `yaml:"consume_thread_num" default:"4"`
	ConsumeQueueSize    int           `yaml:"consume_queue_size" default:"100"`
	PartitionCapacity   int           `yaml:"partition_capacity" default:"100"`
	PollAwaitTimeout    time.Duration `yaml:"poll_await_timeout_ms" default:"1s"`
	MaxMessageDealTime  time.Duration `yaml:"max_message_deal_time_ms" default:"30s"`
	TaskRetryBackoff    time.Duration `yaml:"client_task_retry_backoff" default:"1s"`
	LocalRetryBackoff   time.Duration `yaml:"local_retry_backoff" default:"5s"`
	MaxReconsumeCount   int           `yaml:"max_reconsume_count" default:"16"`
	BroadcastStateDir   string        `yaml:"broadcast_state_dir"`
	AckOnDLQPublishFail bool          `yaml:"ack_on_dlq_publish_failure" default:"true"`
}

// Validate checks the required fields of Config.
func (c *Config) Validate() error {
	if len(c.BootstrapServers) == 0 {
		return ErrNoBrokers
	}
	if c.GroupID == "" {
		return ErrNoGroupID
	}
	if len(c.Topics) == 0 {
		return ErrNoTopics
	}
	if c.ConsumeBatchSize > maxConsumeBatchSize {
		return ErrBatchSizeTooLarge
	}
	return nil
}

// ConsumeContext is the immutable-after-start aggregation of client
// configuration and runtime knobs (spec.md §4.8).
type ConsumeContext struct {
	Config

	Filter  MessageFilter
	Handler Handler
	Log     protocol.Logger
}

// RetryTopic returns this context's per-group retry topic name.
func (c *ConsumeContext) RetryTopic() string { return RetryTopic(c.GroupID) }

// DLQTopic returns this context's per-group dead-letter topic name.
func (c *ConsumeContext) DLQTopic() string { return DLQTopic(c.GroupID) }

// SubscriptionTopics returns the application topics plus the implicit
// retry topic, per spec.md §6 ("the retry topic is implicitly added to the
// subscription set; the DLQ topic is not subscribed").
func (c *ConsumeContext) SubscriptionTopics() []string {
	return append(append([]string{}, c.Topics...), c.RetryTopic())
}

// Option configures a ConsumeContext.
type Option func(*ConsumeContext) error

func defaultOptions() []Option {
	return []Option{
		WithLogger(protocol.NopLogger{}),
		WithMessageFilter(PassAllFilter{}),
		func(cc *ConsumeContext) error {
			if cc.ConsumeBatchSize == 0 {
				cc.ConsumeBatchSize = defaultConsumeBatchSize
			}
			if cc.ConsumeThreadNum == 0 {
				cc.ConsumeThreadNum = defaultConsumeThreadNum
			}
			if cc.ConsumeQueueSize == 0 {
				cc.ConsumeQueueSize = defaultConsumeQueueSize
			}
			if cc.PartitionCapacity == 0 {
				cc.PartitionCapacity = defaultConsumeQueueSize
			}
			if cc.PollAwaitTimeout == 0 {
				cc.PollAwaitTimeout = defaultPollAwaitTimeout
			}
			if cc.MaxMessageDealTime == 0 {
				cc.MaxMessageDealTime = defaultMaxMessageDealTime
			}
			if cc.TaskRetryBackoff == 0 {
				cc.TaskRetryBackoff = defaultTaskRetryBackoff
			}
			if cc.LocalRetryBackoff == 0 {
				cc.LocalRetryBackoff = defaultLocalRetryBackoff
			}
			if cc.MaxReconsumeCount == 0 {
				cc.MaxReconsumeCount = defaultMaxReconsumeCount
			}
			cc.AckOnDLQPublishFail = true
			return nil
		},
	}
}

// NewConsumeContext builds a ConsumeContext from options, applying defaults
// first.
func NewConsumeContext(options ...Option) (*ConsumeContext, error) {
	cc := &ConsumeContext{}
	for _, opt := range append(defaultOptions(), options...) {
		if err := opt(cc); err != nil {
			return nil, err
		}
	}

	if err := cc.Validate(); err != nil {
		return nil, err
	}
	if cc.Handler == nil {
		return nil, ErrNoHandler
	}

	return cc, nil
}

// WithConfig sets all context configuration from a Config struct.
func WithConfig(cfg Config) Option {
	return func(cc *ConsumeContext) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		cc.Config = cfg
		return nil
	}
}

// WithBootstrapServers sets the broker addresses.
func WithBootstrapServers(servers ...string) Option {
	return func(cc *ConsumeContext) error {
		if len(servers) == 0 {
			return stderrors.New("bootstrap servers cannot be empty")
		}
		cc.BootstrapServers = servers
		return nil
	}
}

// WithGroupID sets the consumer group id.
func WithGroupID(groupID string) Option {
	return func(cc *ConsumeContext) error {
		if groupID == "" {
			return stderrors.New("group id cannot be empty")
		}
		cc.GroupID = groupID
		return nil
	}
}

// WithClientID sets the client id (used in logs and metrics tagging).
func WithClientID(clientID string) Option {
	return func(cc *ConsumeContext) error {
		cc.ClientID = clientID
		return nil
	}
}

// WithTopics sets the application topics to subscribe to.
func WithTopics(topics ...string) Option {
	return func(cc *ConsumeContext) error {
		if len(topics) == 0 {
			return stderrors.New("topics cannot be empty")
		}
		cc.Topics = topics
		return nil
	}
}

// WithConsumeModel sets CLUSTERING or BROADCASTING.
func WithConsumeModel(model ConsumeModel) Option {
	return func(cc *ConsumeContext) error {
		cc.ConsumeModel = model
		return nil
	}
}

// WithConsumeBatchSize sets the max batch size handed to a single handler
// invocation. Capped at 32 per spec.md §4.8.
func WithConsumeBatchSize(n int) Option {
	return func(cc *ConsumeContext) error {
		if n <= 0 {
			return stderrors.New("consume batch size must be positive")
		}
		if n > maxConsumeBatchSize {
			return ErrBatchSizeTooLarge
		}
		cc.ConsumeBatchSize = n
		return nil
	}
}

// WithConsumeThreadNum sets the WorkerPool's core thread count.
func WithConsumeThreadNum(n int) Option {
	return func(cc *ConsumeContext) error {
		if n <= 0 {
			return stderrors.New("consume thread num must be positive")
		}
		cc.ConsumeThreadNum = n
		return nil
	}
}

// WithConsumeQueueSize sets the WorkerPool's bounded queue size.
func WithConsumeQueueSize(n int) Option {
	return func(cc *ConsumeContext) error {
		if n <= 0 {
			return stderrors.New("consume queue size must be positive")
		}
		cc.ConsumeQueueSize = n
		return nil
	}
}

// WithPartitionCapacity sets PartitionBuffer's per-partition in-flight
// capacity (spec.md §4.1's pause threshold).
func WithPartitionCapacity(n int) Option {
	return func(cc *ConsumeContext) error {
		if n <= 0 {
			return stderrors.New("partition capacity must be positive")
		}
		cc.PartitionCapacity = n
		return nil
	}
}

// WithPollAwaitTimeout sets how long PollLoop blocks per poll() call.
func WithPollAwaitTimeout(d time.Duration) Option {
	return func(cc *ConsumeContext) error {
		cc.PollAwaitTimeout = d
		return nil
	}
}

// WithMaxMessageDealTime sets the handler interruption budget.
func WithMaxMessageDealTime(d time.Duration) Option {
	return func(cc *ConsumeContext) error {
		cc.MaxMessageDealTime = d
		return nil
	}
}

// WithTaskRetryBackoff sets the backoff RetryScheduler uses when the
// WorkerPool rejects a dispatch.
func WithTaskRetryBackoff(d time.Duration) Option {
	return func(cc *ConsumeContext) error {
		cc.TaskRetryBackoff = d
		return nil
	}
}

// WithLocalRetryBackoff sets the fixed backoff TaskRequest waits before
// redriving a message that could not be handed off elsewhere: a failed
// retry-topic publish (spec.md §4.5 step 6), a BROADCASTING-mode retry (no
// retry topic to hop to), or an ordinal post-processor's head-of-line
// requeue (spec.md §9). Fixed at 5s per spec.md §4.5/§7, deliberately
// distinct from TaskRetryBackoff (dispatcher queue-full backoff).
func WithLocalRetryBackoff(d time.Duration) Option {
	return func(cc *ConsumeContext) error {
		cc.LocalRetryBackoff = d
		return nil
	}
}

// WithMaxReconsumeCount sets the retry ceiling before a message goes to the
// DLQ.
func WithMaxReconsumeCount(n int) Option {
	return func(cc *ConsumeContext) error {
		if n < 0 {
			return stderrors.New("max reconsume count cannot be negative")
		}
		cc.MaxReconsumeCount = n
		return nil
	}
}

// WithBroadcastStateDir sets the directory file-mode OffsetPersistor writes
// committed offsets to.
func WithBroadcastStateDir(dir string) Option {
	return func(cc *ConsumeContext) error {
		cc.BroadcastStateDir = dir
		return nil
	}
}

// WithAckOnDLQPublishFailure controls the DLQ-publish-failure trade-off
// documented in spec.md §9 (open question 1): ack the offset anyway (drop
// the poison message) or leave it unacked (stall the partition).
func WithAckOnDLQPublishFailure(ack bool) Option {
	return func(cc *ConsumeContext) error {
		cc.AckOnDLQPublishFail = ack
		return nil
	}
}

// WithMessageFilter sets the MessageFilter applied in PollLoop.
func WithMessageFilter(filter MessageFilter) Option {
	return func(cc *ConsumeContext) error {
		if filter == nil {
			return stderrors.New("message filter cannot be nil")
		}
		cc.Filter = filter
		return nil
	}
}

// WithHandler registers the user handler.
func WithHandler(handler Handler) Option {
	return func(cc *ConsumeContext) error {
		if handler == nil {
			return stderrors.New("handler cannot be nil")
		}
		cc.Handler = handler
		return nil
	}
}

// WithLogger sets the logger used throughout the consumption pipeline.
func WithLogger(log protocol.Logger) Option {
	return func(cc *ConsumeContext) error {
		if log == nil {
			return stderrors.New("logger cannot be nil")
		}
		cc.Log = log
		return nil
	}
}
