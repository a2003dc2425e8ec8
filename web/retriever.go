// Package web 包装外部 web 搜索能力：在 provider 原生相关分之上
// 混入内容质量分与域名权威分，按 URL 与内容两级去重，并对短时间
// 窗口做严格的新鲜度校验。
package web

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/nhytera/ragline/config"
	"github.com/nhytera/ragline/internal/cache"
	"github.com/nhytera/ragline/internal/resilience"
	"github.com/nhytera/ragline/types"
)

// SearchFilter 透传给 provider 的过滤条件。
type SearchFilter struct {
	TimeRange *types.TimeRange
	Country   string
}

// RawResult 是 provider 返回的原始结果。
type RawResult struct {
	Title       string
	URL         string
	Content     string
	Relevance   float64 // provider 原生相关分，期望 0–1
	PublishedAt *time.Time
}

// SearchProvider 是外部 web 搜索能力。
type SearchProvider interface {
	Search(ctx context.Context, query string, filter SearchFilter) ([]RawResult, error)
}

// Retriever web 检索器。provider 失败不应使整个管线失败，
// 调用方把错误降级为纯文档上下文。
type Retriever struct {
	config   config.WebConfig
	provider SearchProvider
	limiter  *rate.Limiter
	results  *cache.Flight[[]types.RetrievedItem]
	retry    resilience.RetryPolicy
	breaker  *resilience.Breaker
	logger   *zap.Logger
}

// NewRetriever 创建 web 检索器。
func NewRetriever(cfg config.WebConfig, provider SearchProvider, res config.ResilienceConfig, caches cache.Backends, logger *zap.Logger) *Retriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	rps := cfg.RateLimit
	if rps <= 0 {
		rps = 5
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Retriever{
		config:   cfg,
		provider: provider,
		limiter:  rate.NewLimiter(rate.Limit(rps), 1),
		results:  cache.FlightFor[[]types.RetrievedItem](caches, "web_results", ttl),
		retry:    res.Retry,
		breaker:  resilience.NewBreaker("web_search", res.Breaker, logger),
		logger:   logger.With(zap.String("component", "web_retriever")),
	}
}

// Retrieve 搜索并产出打分去重后的 web 结果。
func (r *Retriever) Retrieve(ctx context.Context, q types.Query) ([]types.RetrievedItem, error) {
	key := cacheKey(q)
	return r.results.GetOrLoad(ctx, key, func(ctx context.Context) ([]types.RetrievedItem, error) {
		raw, err := r.search(ctx, q)
		if err != nil {
			return nil, err
		}

		var tr types.TimeRange
		if q.TimeRange != nil {
			tr = *q.TimeRange
		}

		items := r.scoreAndFilter(raw, tr)
		r.logger.Debug("web retrieval done",
			zap.Int("raw", len(raw)), zap.Int("kept", len(items)))
		return items, nil
	})
}

// search 带限流、超时、重试与熔断调用 provider。
func (r *Retriever) search(ctx context.Context, q types.Query) ([]RawResult, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, types.NewError(types.ErrCancelled, "rate limit wait cancelled").WithCause(err)
	}

	filter := SearchFilter{TimeRange: q.TimeRange, Country: q.Country}
	return resilience.Retry(ctx, r.retry, r.logger, func(ctx context.Context) ([]RawResult, error) {
		var raw []RawResult
		err := r.breaker.Do(ctx, func(ctx context.Context) error {
			timeout := r.config.Timeout
			if timeout <= 0 {
				timeout = 10 * time.Second
			}
			callCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			results, err := r.provider.Search(callCtx, q.Text, filter)
			if err != nil {
				return classifySearchErr(err)
			}
			raw = results
			return nil
		})
		if errors.Is(err, resilience.ErrCircuitOpen) || errors.Is(err, resilience.ErrTooManyCallsInHalfOpen) {
			return nil, types.NewError(types.ErrProviderUnavailable, "web search circuit open").WithCause(err)
		}
		return raw, err
	})
}

// scoreAndFilter 打混合分、过时间滤、去重并截到 MaxResults。
func (r *Retriever) scoreAndFilter(raw []RawResult, tr types.TimeRange) []types.RetrievedItem {
	type scored struct {
		item    types.RetrievedItem
		wordSet map[string]struct{}
	}

	candidates := make([]scored, 0, len(raw))
	for _, res := range raw {
		if res.URL == "" {
			continue
		}
		if !passesTimeFilter(res.PublishedAt, res.Content, tr) {
			r.logger.Debug("result excluded by time filter", zap.String("url", res.URL))
			continue
		}

		score := r.config.RelevanceWeight*clamp01(res.Relevance) +
			r.config.QualityWeight*ScoreQuality(res.Content) +
			r.config.AuthorityWeight*ScoreAuthority(res.URL)

		normURL := NormalizeURL(res.URL)
		item := types.RetrievedItem{
			ID:         normURL,
			Content:    res.Content,
			RawScore:   score,
			SourceType: types.SourceWeb,
			SourceRef:  types.SourceRef{URL: normURL, Title: res.Title},
		}
		if res.PublishedAt != nil {
			item.Metadata = map[string]any{"published_at": res.PublishedAt.UTC().Format(time.RFC3339)}
		}
		candidates = append(candidates, scored{item: item, wordSet: wordSet(res.Content)})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].item.RawScore > candidates[j].item.RawScore
	})

	// URL 去重在前，内容相似去重在后，都保留高分一方
	dedupThreshold := r.config.ContentDedupThreshold
	if dedupThreshold <= 0 || dedupThreshold > 1 {
		dedupThreshold = 0.85
	}
	seenURL := make(map[string]bool)
	kept := make([]types.RetrievedItem, 0, len(candidates))
	keptSets := make([]map[string]struct{}, 0, len(candidates))
	for _, c := range candidates {
		if seenURL[c.item.ID] {
			continue
		}
		dup := false
		for _, ks := range keptSets {
			if jaccard(c.wordSet, ks) >= dedupThreshold {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		seenURL[c.item.ID] = true
		kept = append(kept, c.item)
		keptSets = append(keptSets, c.wordSet)

		if r.config.MaxResults > 0 && len(kept) >= r.config.MaxResults {
			break
		}
	}
	return kept
}

func cacheKey(q types.Query) string {
	key := "web:" + q.Normalized() + "|" + q.Country
	if q.TimeRange != nil {
		key += fmt.Sprintf("|%d-%d", q.TimeRange.Start.Unix(), q.TimeRange.End.Unix())
	}
	return key
}

func classifySearchErr(err error) error {
	if types.GetErrorCode(err) != "" {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return types.NewError(types.ErrProviderTimeout, "web search timed out").
			WithProvider("web_search").WithRetryable(true).WithCause(err)
	}
	if errors.Is(err, context.Canceled) {
		return types.NewError(types.ErrCancelled, "web search cancelled").
			WithProvider("web_search").WithCause(err)
	}
	return types.NewError(types.ErrProviderError, "web search failed").
		WithProvider("web_search").WithRetryable(true).WithCause(err)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func wordSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(text)) {
		set[strings.Trim(w, ".,;:!?\"'()[]")] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	inter := 0
	for w := range small {
		if _, ok := large[w]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
