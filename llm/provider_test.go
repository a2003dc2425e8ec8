package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nhytera/ragline/internal/resilience"
	"github.com/nhytera/ragline/types"
)

// fakeProvider 可编程的测试 provider。
type fakeProvider struct {
	fn func(ctx context.Context) (string, error)
}

func (f *fakeProvider) Complete(ctx context.Context, _ []Message, _ CompleteOptions) (string, error) {
	return f.fn(ctx)
}

// fakeStreamer 同时实现流式接口。
type fakeStreamer struct {
	fakeProvider
	chunks []string
}

func (f *fakeStreamer) CompleteStream(_ context.Context, _ []Message, _ CompleteOptions) (<-chan StreamChunk, error) {
	ch := make(chan StreamChunk, len(f.chunks))
	for _, c := range f.chunks {
		ch <- StreamChunk{Content: c}
	}
	close(ch)
	return ch, nil
}

func fastRetry() resilience.RetryPolicy {
	return resilience.RetryPolicy{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

func TestBufferStream_CollectsAll(t *testing.T) {
	s := &fakeStreamer{chunks: []string{"The answer ", "is 42 ", "[1]."}}
	text, err := CompleteBuffered(context.Background(), s, nil, CompleteOptions{})
	require.NoError(t, err)
	assert.Equal(t, "The answer is 42 [1].", text)
}

func TestBufferStream_Cancelled(t *testing.T) {
	ch := make(chan StreamChunk)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	text, err := BufferStream(ctx, ch)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, text)
}

func TestResilientProvider_RetriesThenSucceeds(t *testing.T) {
	calls := 0
	inner := &fakeProvider{fn: func(context.Context) (string, error) {
		calls++
		if calls < 2 {
			return "", errors.New("upstream hiccup")
		}
		return "ok", nil
	}}

	p := NewResilientProvider(inner, "test-llm", time.Second, fastRetry(), resilience.DefaultBreakerPolicy(), zap.NewNop())
	text, err := p.Complete(context.Background(), nil, CompleteOptions{})
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Equal(t, 2, calls)
}

func TestResilientProvider_BreakerShortCircuits(t *testing.T) {
	inner := &fakeProvider{fn: func(context.Context) (string, error) {
		return "", errors.New("always down")
	}}
	policy := resilience.BreakerPolicy{FailureThreshold: 1, CoolDown: time.Hour, HalfOpenMaxCalls: 1}
	p := NewResilientProvider(inner, "test-llm", time.Second,
		resilience.RetryPolicy{MaxRetries: 0, InitialDelay: time.Millisecond}, policy, zap.NewNop())

	_, err := p.Complete(context.Background(), nil, CompleteOptions{})
	require.Error(t, err)

	// 第二次调用被熔断短路
	_, err = p.Complete(context.Background(), nil, CompleteOptions{})
	require.Error(t, err)
	assert.Equal(t, types.ErrProviderUnavailable, types.GetErrorCode(err))
}

func TestResilientProvider_TimeoutClassified(t *testing.T) {
	inner := &fakeProvider{fn: func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	p := NewResilientProvider(inner, "slow-llm", 10*time.Millisecond,
		resilience.RetryPolicy{MaxRetries: 0, InitialDelay: time.Millisecond},
		resilience.DefaultBreakerPolicy(), zap.NewNop())

	_, err := p.Complete(context.Background(), nil, CompleteOptions{})
	require.Error(t, err)
	assert.Equal(t, types.ErrProviderTimeout, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))
}
