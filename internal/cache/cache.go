// Package cache 提供管线使用的请求外共享缓存：
// 查询向量缓存与 RAG 上下文缓存。条目写入后不可变，
// 失效只通过 TTL 或显式触发（如底层文档更新），从不原地修改。
package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Store 是 Flight 的存取后端：进程内存或跨进程的 Redis。
// 后端故障表现为未命中，缓存从不使调用失败。
type Store interface {
	Get(ctx context.Context, key string) (any, bool)
	Set(ctx context.Context, key string, value any, ttl time.Duration)
	Invalidate(ctx context.Context, key string)
}

// Recorder 记录缓存命中情况（如 metrics.Collector）。
type Recorder interface {
	ObserveCache(name string, hit bool)
}

// Backends 汇集组件共享的缓存依赖：可选的跨进程后端与命中指标。
// 零值表示进程内存缓存、无指标。
type Backends struct {
	Redis    *Redis
	Recorder Recorder
}

// entry 是一个不可变的缓存条目。
type entry struct {
	value     any
	expiresAt time.Time
}

// Memory 是进程内 TTL 缓存。
type Memory struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// NewMemory 创建内存缓存。
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]entry)}
}

// Get 返回未过期的缓存值。
func (m *Memory) Get(_ context.Context, key string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[key]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.value, true
}

// Set 写入带 TTL 的条目。
func (m *Memory) Set(_ context.Context, key string, value any, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = entry{value: value, expiresAt: time.Now().Add(ttl)}
}

// Invalidate 显式删除一个键。
func (m *Memory) Invalidate(_ context.Context, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
}

// InvalidatePrefix 删除指定前缀的全部键（文档更新触发）。
func (m *Memory) InvalidatePrefix(_ context.Context, prefix string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for k := range m.entries {
		if strings.HasPrefix(k, prefix) {
			delete(m.entries, k)
			n++
		}
	}
	return n
}

// Len 返回条目数（含已过期未清理的）。
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Flight 在后端之上提供 single-flight 语义：同一未缓存键的并发
// 请求合并为一次上游调用，所有等待者收到同一结果。
type Flight[T any] struct {
	store    Store
	ttl      time.Duration
	name     string
	recorder Recorder
	group    singleflight.Group
}

// NewFlight 创建 single-flight 缓存，store 为 nil 时用进程内存。
func NewFlight[T any](store Store, ttl time.Duration) *Flight[T] {
	if store == nil {
		store = NewMemory()
	}
	return &Flight[T]{store: store, ttl: ttl}
}

// FlightFor 按共享后端构造 single-flight 缓存：Redis 可用时走
// 跨进程后端（值经 JSON 往返），否则退回进程内存；命中情况按
// name 上报给 Recorder。
func FlightFor[T any](b Backends, name string, ttl time.Duration) *Flight[T] {
	var store Store
	if b.Redis != nil {
		store = NewRedisStore[T](b.Redis)
	} else {
		store = NewMemory()
	}
	return &Flight[T]{store: store, ttl: ttl, name: name, recorder: b.Recorder}
}

// GetOrLoad 返回缓存值，缺失时调用 load 并缓存结果。
func (f *Flight[T]) GetOrLoad(ctx context.Context, key string, load func(context.Context) (T, error)) (T, error) {
	if v, ok := f.store.Get(ctx, key); ok {
		if typed, ok := v.(T); ok {
			f.record(true)
			return typed, nil
		}
	}
	f.record(false)

	v, err, _ := f.group.Do(key, func() (any, error) {
		// double-check：等待锁期间可能已被其他 flight 写入
		if v, ok := f.store.Get(ctx, key); ok {
			return v, nil
		}
		result, err := load(ctx)
		if err != nil {
			return nil, err
		}
		f.store.Set(ctx, key, result, f.ttl)
		return result, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// Invalidate 显式删除一个键。
func (f *Flight[T]) Invalidate(ctx context.Context, key string) {
	f.store.Invalidate(ctx, key)
}

func (f *Flight[T]) record(hit bool) {
	if f.recorder != nil {
		f.recorder.ObserveCache(f.name, hit)
	}
}
