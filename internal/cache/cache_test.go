package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMemory_TTLAndInvalidate(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	m.Set(ctx, "q:hello", []float64{0.1, 0.2}, 50*time.Millisecond)
	v, ok := m.Get(ctx, "q:hello")
	require.True(t, ok)
	assert.Equal(t, []float64{0.1, 0.2}, v)

	time.Sleep(60 * time.Millisecond)
	_, ok = m.Get(ctx, "q:hello")
	assert.False(t, ok, "过期后不应命中")

	m.Set(ctx, "ctx:user1:a", 1, time.Minute)
	m.Set(ctx, "ctx:user1:b", 2, time.Minute)
	m.Set(ctx, "ctx:user2:a", 3, time.Minute)

	n := m.InvalidatePrefix(ctx, "ctx:user1:")
	assert.Equal(t, 2, n)
	_, ok = m.Get(ctx, "ctx:user2:a")
	assert.True(t, ok)
}

func TestFlight_SingleFlight(t *testing.T) {
	ctx := context.Background()
	f := NewFlight[string](NewMemory(), time.Minute)

	var loads int64
	var wg sync.WaitGroup
	results := make([]string, 16)

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := f.GetOrLoad(ctx, "same-key", func(context.Context) (string, error) {
				atomic.AddInt64(&loads, 1)
				time.Sleep(20 * time.Millisecond)
				return "expensive", nil
			})
			require.NoError(t, err)
			results[i] = v
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), atomic.LoadInt64(&loads), "并发请求应合并为一次上游调用")
	for _, r := range results {
		assert.Equal(t, "expensive", r)
	}

	// 命中缓存，不再加载
	_, err := f.GetOrLoad(ctx, "same-key", func(context.Context) (string, error) {
		atomic.AddInt64(&loads, 1)
		return "", nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), atomic.LoadInt64(&loads))
}

type countingRecorder struct {
	mu     sync.Mutex
	hits   map[string]int
	misses map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{hits: map[string]int{}, misses: map[string]int{}}
}

func (r *countingRecorder) ObserveCache(name string, hit bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if hit {
		r.hits[name]++
	} else {
		r.misses[name]++
	}
}

func TestFlightFor_RecordsHitsAndMisses(t *testing.T) {
	ctx := context.Background()
	rec := newCountingRecorder()
	f := FlightFor[int](Backends{Recorder: rec}, "embedding", time.Minute)

	_, err := f.GetOrLoad(ctx, "k", func(context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	v, err := f.GetOrLoad(ctx, "k", func(context.Context) (int, error) { return 0, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	assert.Equal(t, 1, rec.misses["embedding"])
	assert.Equal(t, 1, rec.hits["embedding"])
}

func TestFlightFor_RedisBackendSharedAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	r, err := NewRedis(RedisConfig{Addr: mr.Addr(), DefaultTTL: time.Minute, PoolSize: 2}, zap.NewNop())
	require.NoError(t, err)
	defer r.Close()

	ctx := context.Background()
	rec := newCountingRecorder()
	b := Backends{Redis: r, Recorder: rec}

	loads := 0
	f1 := FlightFor[[]float32](b, "embedding", time.Minute)
	v, err := f1.GetOrLoad(ctx, "emb:q", func(context.Context) ([]float32, error) {
		loads++
		return []float32{0.5, 0.25}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.25}, v)

	// 新的 Flight 实例（如另一副本）直接命中共享后端，不再加载
	f2 := FlightFor[[]float32](b, "embedding", time.Minute)
	v, err = f2.GetOrLoad(ctx, "emb:q", func(context.Context) ([]float32, error) {
		loads++
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.25}, v)
	assert.Equal(t, 1, loads)
	assert.Equal(t, 1, rec.misses["embedding"])
	assert.Equal(t, 1, rec.hits["embedding"])
}

func TestRedisStore_BackendFailureDegradesToMiss(t *testing.T) {
	mr := miniredis.RunT(t)
	r, err := NewRedis(RedisConfig{Addr: mr.Addr(), DefaultTTL: time.Minute, PoolSize: 2}, zap.NewNop())
	require.NoError(t, err)
	defer r.Close()

	f := FlightFor[string](Backends{Redis: r}, "web_results", time.Minute)
	ctx := context.Background()

	_, err = f.GetOrLoad(ctx, "k", func(context.Context) (string, error) { return "v", nil })
	require.NoError(t, err)

	// 后端不可用时缓存从不使调用失败，只退化为每次加载
	mr.Close()
	v, err := f.GetOrLoad(ctx, "k", func(context.Context) (string, error) { return "reloaded", nil })
	require.NoError(t, err)
	assert.Equal(t, "reloaded", v)
}

func TestRedis_JSONRoundTripAndPrefix(t *testing.T) {
	mr := miniredis.RunT(t)

	r, err := NewRedis(RedisConfig{Addr: mr.Addr(), DefaultTTL: time.Minute, PoolSize: 2}, zap.NewNop())
	require.NoError(t, err)
	defer r.Close()

	ctx := context.Background()

	type payload struct {
		Query string    `json:"query"`
		Score []float64 `json:"score"`
	}
	in := payload{Query: "hello", Score: []float64{0.5, 0.25}}
	require.NoError(t, r.SetJSON(ctx, "emb:hello", in, 0))

	var out payload
	found, err := r.GetJSON(ctx, "emb:hello", &out)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, in, out)

	found, err = r.GetJSON(ctx, "emb:missing", &out)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, r.SetJSON(ctx, "emb:doc1:a", in, 0))
	require.NoError(t, r.SetJSON(ctx, "emb:doc1:b", in, 0))
	deleted, err := r.InvalidatePrefix(ctx, "emb:doc1:")
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)
}
