package pushconsumer

import "errors"

var (
	// ErrNoBrokers indicates a ConsumeContext with no bootstrap servers.
	ErrNoBrokers = errors.New("pushconsumer: no bootstrap servers provided")

	// ErrNoGroupID indicates a ConsumeContext with no consumer group id.
	ErrNoGroupID = errors.New("pushconsumer: no group id provided")

	// ErrNoTopics indicates a ConsumeContext with no subscribed topics.
	ErrNoTopics = errors.New("pushconsumer: no topics provided")

	// ErrNoHandler indicates a ConsumeContext with no registered Handler.
	ErrNoHandler = errors.New("pushconsumer: no handler registered")

	// ErrBatchSizeTooLarge indicates a ConsumeBatchSize above
	// maxConsumeBatchSize.
	ErrBatchSizeTooLarge = errors.New("pushconsumer: consume batch size exceeds maximum of 32")

	// ErrPoolRejected indicates the WorkerPool's bounded queue was full and
	// could not accept a dispatch; the caller should reroute through
	// RetryScheduler rather than drop the batch.
	ErrPoolRejected = errors.New("pushconsumer: worker pool queue is full")

	// ErrClientClosed indicates an operation on a Client that has already
	// been shut down.
	ErrClientClosed = errors.New("pushconsumer: client is closed")

	// ErrAlreadyStarted indicates Start was called more than once.
	ErrAlreadyStarted = errors.New("pushconsumer: client already started")
)
