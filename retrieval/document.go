package retrieval

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/nhytera/ragline/config"
	"github.com/nhytera/ragline/internal/cache"
	"github.com/nhytera/ragline/internal/resilience"
	"github.com/nhytera/ragline/types"
)

// DocumentRetriever 包装向量化与最近邻索引，按问题类型自适应
// 相似度阈值，并对多变体结果按最高分合并。
type DocumentRetriever struct {
	config     config.RetrievalConfig
	embedder   EmbeddingProvider
	index      VectorIndex
	embedCache *cache.Flight[[]float32]
	retry      resilience.RetryPolicy
	embBreaker *resilience.Breaker
	idxBreaker *resilience.Breaker
	logger     *zap.Logger
}

// NewDocumentRetriever 创建文档检索器。
func NewDocumentRetriever(
	cfg config.RetrievalConfig,
	embedder EmbeddingProvider,
	index VectorIndex,
	res config.ResilienceConfig,
	caches cache.Backends,
	logger *zap.Logger,
) *DocumentRetriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := cfg.EmbeddingCacheTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &DocumentRetriever{
		config:     cfg,
		embedder:   embedder,
		index:      index,
		embedCache: cache.FlightFor[[]float32](caches, "embedding", ttl),
		retry:      res.Retry,
		embBreaker: resilience.NewBreaker("embedding", res.Breaker, logger),
		idxBreaker: resilience.NewBreaker("vector_index", res.Breaker, logger),
		logger:     logger.With(zap.String("component", "document_retriever")),
	}
}

// Retrieve 对每个查询变体做向量检索并合并结果。
// 所有变体都失败时返回错误，部分失败只记 warning。
func (r *DocumentRetriever) Retrieve(ctx context.Context, q types.Query, filter Filter) ([]types.RetrievedItem, error) {
	threshold := AdaptiveThreshold(r.config.BaseThreshold, q.Type)
	merged := make(map[string]*types.RetrievedItem)

	var lastErr error
	succeeded := 0
	for _, variant := range q.AllVariants() {
		items, err := r.retrieveVariant(ctx, variant, filter)
		if err != nil {
			if errors.Is(err, context.Canceled) || types.IsCode(err, types.ErrCancelled) {
				return nil, err
			}
			lastErr = err
			r.logger.Warn("variant retrieval failed",
				zap.String("variant", variant), zap.Error(err))
			continue
		}
		succeeded++
		filtered := items[:0]
		for _, it := range items {
			if it.RawScore >= threshold {
				filtered = append(filtered, it)
			}
		}
		mergeByMaxScore(merged, filtered, variant)
	}

	if succeeded == 0 && lastErr != nil {
		return nil, lastErr
	}

	out := collectMerged(merged)
	sort.Slice(out, func(i, j int) bool { return out[i].RawScore > out[j].RawScore })
	r.logger.Debug("document retrieval done",
		zap.Float64("threshold", threshold),
		zap.Int("items", len(out)))
	return out, nil
}

// retrieveVariant 向量化一个变体并查询索引，向量按变体缓存。
func (r *DocumentRetriever) retrieveVariant(ctx context.Context, variant string, filter Filter) ([]types.RetrievedItem, error) {
	vector, err := r.embed(ctx, variant)
	if err != nil {
		return nil, err
	}

	return resilience.Retry(ctx, r.retry, r.logger, func(ctx context.Context) ([]types.RetrievedItem, error) {
		var items []types.RetrievedItem
		err := r.idxBreaker.Do(ctx, func(ctx context.Context) error {
			callCtx, cancel := r.callContext(ctx)
			defer cancel()
			result, err := r.index.Query(callCtx, vector, filter, r.config.TopK)
			if err != nil {
				return classifyProviderErr(err, "vector_index")
			}
			items = result
			return nil
		})
		if errors.Is(err, resilience.ErrCircuitOpen) || errors.Is(err, resilience.ErrTooManyCallsInHalfOpen) {
			return nil, types.NewError(types.ErrProviderUnavailable, "vector index circuit open").WithCause(err)
		}
		return items, err
	})
}

func (r *DocumentRetriever) embed(ctx context.Context, text string) ([]float32, error) {
	key := "emb:" + text
	return r.embedCache.GetOrLoad(ctx, key, func(ctx context.Context) ([]float32, error) {
		return resilience.Retry(ctx, r.retry, r.logger, func(ctx context.Context) ([]float32, error) {
			var vector []float32
			err := r.embBreaker.Do(ctx, func(ctx context.Context) error {
				callCtx, cancel := r.callContext(ctx)
				defer cancel()
				v, err := r.embedder.Embed(callCtx, text)
				if err != nil {
					return classifyProviderErr(err, "embedding")
				}
				vector = v
				return nil
			})
			if errors.Is(err, resilience.ErrCircuitOpen) || errors.Is(err, resilience.ErrTooManyCallsInHalfOpen) {
				return nil, types.NewError(types.ErrProviderUnavailable, "embedding circuit open").WithCause(err)
			}
			return vector, err
		})
	})
}

func (r *DocumentRetriever) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := r.config.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

// classifyProviderErr 把外部调用错误归入统一错误码。
func classifyProviderErr(err error, provider string) error {
	if types.GetErrorCode(err) != "" {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return types.NewError(types.ErrProviderTimeout, provider+" call timed out").
			WithProvider(provider).WithRetryable(true).WithCause(err)
	}
	if errors.Is(err, context.Canceled) {
		return types.NewError(types.ErrCancelled, provider+" call cancelled").
			WithProvider(provider).WithCause(err)
	}
	return types.NewError(types.ErrProviderError, provider+" call failed").
		WithProvider(provider).WithRetryable(true).WithCause(err)
}
