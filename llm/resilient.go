package llm

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/nhytera/ragline/internal/resilience"
	"github.com/nhytera/ragline/types"
)

// ResilientProvider 给任意 Provider 加上超时、重试与熔断。
// 查询变体生成、会话摘要与上下文压缩都经由它调用 LLM。
type ResilientProvider struct {
	inner   Provider
	name    string
	timeout time.Duration
	retry   resilience.RetryPolicy
	breaker *resilience.Breaker
	logger  *zap.Logger
}

// NewResilientProvider 创建弹性包装。
func NewResilientProvider(
	inner Provider,
	name string,
	timeout time.Duration,
	retry resilience.RetryPolicy,
	breakerPolicy resilience.BreakerPolicy,
	logger *zap.Logger,
) *ResilientProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ResilientProvider{
		inner:   inner,
		name:    name,
		timeout: timeout,
		retry:   retry,
		breaker: resilience.NewBreaker(name, breakerPolicy, logger),
		logger:  logger.With(zap.String("provider", name)),
	}
}

// Complete 实现 Provider。
func (p *ResilientProvider) Complete(ctx context.Context, messages []Message, opts CompleteOptions) (string, error) {
	return resilience.Retry(ctx, p.retry, p.logger, func(ctx context.Context) (string, error) {
		var result string
		err := p.breaker.Do(ctx, func(ctx context.Context) error {
			callCtx, cancel := context.WithTimeout(ctx, p.timeout)
			defer cancel()

			text, err := CompleteBuffered(callCtx, p.inner, messages, opts)
			if err != nil {
				return p.classify(err)
			}
			result = text
			return nil
		})
		if errors.Is(err, resilience.ErrCircuitOpen) || errors.Is(err, resilience.ErrTooManyCallsInHalfOpen) {
			// 熔断短路不重试，等待冷却
			return "", types.NewError(types.ErrProviderUnavailable, "llm circuit open").
				WithProvider(p.name).WithCause(err)
		}
		return result, err
	})
}

// classify 把底层错误归入统一错误码。
func (p *ResilientProvider) classify(err error) error {
	if types.GetErrorCode(err) != "" {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return types.NewError(types.ErrProviderTimeout, "llm call timed out").
			WithProvider(p.name).WithRetryable(true).WithCause(err)
	}
	if errors.Is(err, context.Canceled) {
		return types.NewError(types.ErrCancelled, "llm call cancelled").
			WithProvider(p.name).WithCause(err)
	}
	return types.NewError(types.ErrProviderError, "llm call failed").
		WithProvider(p.name).WithRetryable(true).WithCause(err)
}
