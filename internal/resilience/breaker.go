package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State 熔断器状态。
type State int

const (
	// StateClosed 关闭状态（正常工作）
	StateClosed State = iota
	// StateOpen 打开状态（熔断中）
	StateOpen
	// StateHalfOpen 半开状态（试探性恢复）
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "Closed"
	case StateOpen:
		return "Open"
	case StateHalfOpen:
		return "HalfOpen"
	default:
		return "Unknown"
	}
}

// 熔断错误
var (
	ErrCircuitOpen            = errors.New("circuit breaker is open")
	ErrTooManyCallsInHalfOpen = errors.New("too many calls in half-open state")
)

// BreakerPolicy 熔断器策略。
type BreakerPolicy struct {
	// FailureThreshold 连续失败次数阈值（触发熔断）
	FailureThreshold int `yaml:"failure_threshold" json:"failure_threshold"`
	// CoolDown 熔断恢复等待时间（Open → HalfOpen）
	CoolDown time.Duration `yaml:"cool_down" json:"cool_down"`
	// HalfOpenMaxCalls 半开状态下允许的最大试探请求数
	HalfOpenMaxCalls int `yaml:"half_open_max_calls" json:"half_open_max_calls"`
}

// DefaultBreakerPolicy 返回默认策略。
func DefaultBreakerPolicy() BreakerPolicy {
	return BreakerPolicy{
		FailureThreshold: 5,
		CoolDown:         30 * time.Second,
		HalfOpenMaxCalls: 2,
	}
}

func (p BreakerPolicy) normalize() BreakerPolicy {
	if p.FailureThreshold <= 0 {
		p.FailureThreshold = 5
	}
	if p.CoolDown <= 0 {
		p.CoolDown = 30 * time.Second
	}
	if p.HalfOpenMaxCalls <= 0 {
		p.HalfOpenMaxCalls = 2
	}
	return p
}

// Breaker 是针对单个外部依赖的熔断器。
type Breaker struct {
	name   string
	policy BreakerPolicy
	logger *zap.Logger

	mu                sync.Mutex
	state             State
	failureCount      int
	lastFailureTime   time.Time
	halfOpenCallCount int
}

// NewBreaker 创建熔断器。
func NewBreaker(name string, policy BreakerPolicy, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Breaker{
		name:   name,
		policy: policy.normalize(),
		logger: logger.With(zap.String("breaker", name)),
		state:  StateClosed,
	}
}

// Do 执行调用；熔断器打开时直接短路返回 ErrCircuitOpen。
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := b.beforeCall(); err != nil {
		return err
	}
	err := fn(ctx)
	b.afterCall(err == nil)
	return err
}

// State 返回当前状态。
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset 手动恢复到关闭状态。
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failureCount = 0
	b.halfOpenCallCount = 0
	b.logger.Info("circuit breaker reset")
}

func (b *Breaker) beforeCall() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil

	case StateOpen:
		if time.Since(b.lastFailureTime) > b.policy.CoolDown {
			b.state = StateHalfOpen
			b.halfOpenCallCount = 0
			b.logger.Info("circuit breaker half-open")
			return nil
		}
		return ErrCircuitOpen

	case StateHalfOpen:
		if b.halfOpenCallCount >= b.policy.HalfOpenMaxCalls {
			return ErrTooManyCallsInHalfOpen
		}
		b.halfOpenCallCount++
		return nil

	default:
		return ErrCircuitOpen
	}
}

func (b *Breaker) afterCall(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if success {
		switch b.state {
		case StateHalfOpen:
			b.logger.Info("circuit breaker recovered",
				zap.Int("half_open_calls", b.halfOpenCallCount))
			b.state = StateClosed
			b.halfOpenCallCount = 0
		}
		b.failureCount = 0
		return
	}

	b.failureCount++
	b.lastFailureTime = time.Now()

	switch b.state {
	case StateClosed:
		if b.failureCount >= b.policy.FailureThreshold {
			b.logger.Warn("circuit breaker opened",
				zap.Int("failure_count", b.failureCount),
				zap.Int("threshold", b.policy.FailureThreshold))
			b.state = StateOpen
		}
	case StateHalfOpen:
		b.logger.Warn("circuit breaker re-opened from half-open")
		b.state = StateOpen
		b.halfOpenCallCount = 0
	}
}
