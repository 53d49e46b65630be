package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucketAllow(t *testing.T) {
	// 容量2，初始满桶：前两个请求放行，第三个被拒
	tb := NewTokenBucket(60, 2)

	assert.True(t, tb.Allow(), "第一个请求应放行")
	assert.True(t, tb.Allow(), "第二个请求应放行")
	assert.False(t, tb.Allow(), "桶空后应拒绝")
}

func TestTokenBucketRefill(t *testing.T) {
	// 6000 QPM = 每秒100个令牌，耗尽后稍等即可再取
	tb := NewTokenBucket(6000, 1)
	require.True(t, tb.Allow())
	require.False(t, tb.Allow())

	time.Sleep(50 * time.Millisecond)
	assert.True(t, tb.Allow(), "等待补充后应再次放行")
}

func TestTokenBucketWaitContextCancel(t *testing.T) {
	// 速率极低，Wait应被上下文取消打断
	tb := NewTokenBucket(1, 1)
	require.True(t, tb.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := tb.Wait(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTokenBucketDefaultCapacity(t *testing.T) {
	tb := NewTokenBucket(60, 0)
	assert.Equal(t, 30.0, tb.capacity, "未指定容量时应取QPM的一半")

	tiny := NewTokenBucket(1, 0)
	assert.Equal(t, 1.0, tiny.capacity, "容量最小为1")
}
