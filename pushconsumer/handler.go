package pushconsumer

import "context"

// ConsumeStatus is the outcome a Handler reports for a message (spec.md §4.6).
type ConsumeStatus int

const (
	// ConsumeStatusSuccess means the message was handled and can be
	// acknowledged.
	ConsumeStatusSuccess ConsumeStatus = iota

	// ConsumeStatusRetryLater means the message should be republished onto
	// the delay-topic ladder and retried.
	ConsumeStatusRetryLater
)

// HandlerContext carries per-batch bookkeeping a Handler uses to report a
// different outcome for each message in the batch, and to override the
// delay level the next retry attempt uses (spec.md §4.6).
type HandlerContext struct {
	firstOffset int64
	batchSize   int

	success            []bool
	explicit           []bool
	delayLevelOverride []int
}

func newHandlerContext(firstOffset int64, batchSize int) *HandlerContext {
	return &HandlerContext{
		firstOffset:        firstOffset,
		batchSize:          batchSize,
		success:            make([]bool, batchSize),
		explicit:           make([]bool, batchSize),
		delayLevelOverride: make([]int, batchSize),
	}
}

// FirstOffset returns the offset of the first message in the batch.
func (h *HandlerContext) FirstOffset() int64 { return h.firstOffset }

// BatchSize returns the number of messages in the batch.
func (h *HandlerContext) BatchSize() int { return h.batchSize }

// SetSuccess marks message index i (0-based within the batch) as
// successfully handled. Call this from the handler for every message that
// does not need to be retried; indices left unset default to failed when
// the batch's overall ConsumeStatus is ConsumeStatusRetryLater, and to
// succeeded when it is ConsumeStatusSuccess.
func (h *HandlerContext) SetSuccess(i int, ok bool) {
	if i < 0 || i >= len(h.success) {
		return
	}
	h.success[i] = ok
	h.explicit[i] = true
}

// IsSuccess reports whether message index i was marked successful.
func (h *HandlerContext) IsSuccess(i int) bool {
	if i < 0 || i >= len(h.success) {
		return false
	}
	return h.success[i]
}

// explicitlyMarked reports whether SetSuccess was ever called for index i.
func (h *HandlerContext) explicitlyMarked(i int) bool {
	if i < 0 || i >= len(h.explicit) {
		return false
	}
	return h.explicit[i]
}

// SetDelayLevelForReconsume overrides the delay level the retry ladder uses
// for message index i's next attempt, instead of the default
// "advance by one level" behavior. A level outside [1, MaxDelayLevel] is
// ignored in favor of that default, which is itself capped at MaxDelayLevel.
func (h *HandlerContext) SetDelayLevelForReconsume(i, level int) {
	if i < 0 || i >= len(h.delayLevelOverride) {
		return
	}
	h.delayLevelOverride[i] = level
}

// delayLevelOverrideAt returns the override for index i, or 0 if none was
// set.
func (h *HandlerContext) delayLevelOverrideAt(i int) int {
	if i < 0 || i >= len(h.delayLevelOverride) {
		return 0
	}
	return h.delayLevelOverride[i]
}

// Handler processes a batch of messages drawn from a single partition, in
// order, and reports a single ConsumeStatus for the whole batch. For
// finer-grained control (some messages in the batch succeeded, others need
// retry with a specific delay level) the handler uses HandlerContext.
type Handler func(ctx context.Context, messages []Message, hctx *HandlerContext) ConsumeStatus
