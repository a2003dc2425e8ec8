// Package resilience 为外部依赖调用提供显式的重试与熔断策略。
// 策略以值对象表达（次数、基础延迟、抖动、失败阈值），
// 由各外部调用包装器持有，而不是散落的 try/catch 循环。
package resilience

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/nhytera/ragline/types"
)

// RetryPolicy 定义重试策略。
type RetryPolicy struct {
	MaxRetries   int           `yaml:"max_retries" json:"max_retries"`     // 最大重试次数（0 表示不重试）
	InitialDelay time.Duration `yaml:"initial_delay" json:"initial_delay"` // 初始延迟
	MaxDelay     time.Duration `yaml:"max_delay" json:"max_delay"`         // 延迟上限
	Multiplier   float64       `yaml:"multiplier" json:"multiplier"`       // 指数退避倍增因子
	Jitter       bool          `yaml:"jitter" json:"jitter"`               // 随机抖动（防止雪崩）
}

// DefaultRetryPolicy 返回适合外部 API 调用的默认策略。
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// normalize 校正非法参数。
func (p RetryPolicy) normalize() RetryPolicy {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = 500 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 10 * time.Second
	}
	if p.Multiplier < 1.0 {
		p.Multiplier = 2.0
	}
	return p
}

// delay 计算第 attempt 次重试前的等待时间（指数退避 + 可选抖动）。
func (p RetryPolicy) delay(attempt int) time.Duration {
	d := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter {
		jitter := d * 0.25
		d += (rand.Float64()*2 - 1) * jitter
	}
	if d < float64(p.InitialDelay) {
		d = float64(p.InitialDelay)
	}
	return time.Duration(d)
}

// Retry 按策略执行 fn，失败时指数退避重试。
// 不可重试的错误（types.Error 且 Retryable=false）立即返回。
func Retry[T any](ctx context.Context, policy RetryPolicy, logger *zap.Logger, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if logger == nil {
		logger = zap.NewNop()
	}
	policy = policy.normalize()

	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if attempt > 0 {
			d := policy.delay(attempt)
			logger.Debug("retrying call",
				zap.Int("attempt", attempt),
				zap.Int("max_retries", policy.MaxRetries),
				zap.Duration("delay", d),
				zap.Error(lastErr))

			select {
			case <-ctx.Done():
				return zero, types.NewError(types.ErrCancelled, "retry aborted").WithCause(ctx.Err())
			case <-time.After(d):
			}
		}

		result, err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				logger.Info("retry succeeded", zap.Int("attempt", attempt))
			}
			return result, nil
		}
		lastErr = err

		// 结构化标记为不可重试的错误不再尝试
		if typed := types.GetErrorCode(err); typed != "" && !types.IsRetryable(err) {
			logger.Debug("error not retryable", zap.Error(err))
			return zero, err
		}
		if ctx.Err() != nil {
			return zero, types.NewError(types.ErrCancelled, "retry aborted").WithCause(ctx.Err())
		}
	}

	logger.Warn("retries exhausted",
		zap.Int("attempts", policy.MaxRetries+1),
		zap.Error(lastErr))
	return zero, fmt.Errorf("failed after %d retries: %w", policy.MaxRetries, lastErr)
}
