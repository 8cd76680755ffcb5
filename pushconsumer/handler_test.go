package pushconsumer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHandlerContext_SetSuccessAndIsSuccess(t *testing.T) {
	hctx := newHandlerContext(100, 3)

	assert.Equal(t, int64(100), hctx.FirstOffset())
	assert.Equal(t, 3, hctx.BatchSize())

	// unmarked indices default to unset/false and are not "explicit".
	assert.False(t, hctx.IsSuccess(0))
	assert.False(t, hctx.explicitlyMarked(0))

	hctx.SetSuccess(0, true)
	hctx.SetSuccess(1, false)

	assert.True(t, hctx.IsSuccess(0))
	assert.True(t, hctx.explicitlyMarked(0))
	assert.False(t, hctx.IsSuccess(1))
	assert.True(t, hctx.explicitlyMarked(1))
	assert.False(t, hctx.explicitlyMarked(2))
}

func TestHandlerContext_OutOfRangeIsNoop(t *testing.T) {
	hctx := newHandlerContext(0, 1)

	hctx.SetSuccess(5, true)
	assert.False(t, hctx.IsSuccess(5))
	assert.False(t, hctx.explicitlyMarked(5))
}

func TestHandlerContext_DelayLevelOverride(t *testing.T) {
	hctx := newHandlerContext(0, 2)

	assert.Equal(t, 0, hctx.delayLevelOverrideAt(0), "no override by default")

	hctx.SetDelayLevelForReconsume(0, 7)
	assert.Equal(t, 7, hctx.delayLevelOverrideAt(0))
	assert.Equal(t, 0, hctx.delayLevelOverrideAt(1))
}
