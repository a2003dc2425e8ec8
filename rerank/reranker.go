// Package rerank 对融合后的 top-K 候选做成对相关性重打分。
// 可选阶段：有硬延迟预算，超时或出错直接跳过，沿用重排前顺序，
// 绝不让请求失败。
package rerank

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/nhytera/ragline/config"
	"github.com/nhytera/ragline/types"
)

// Scorer 是外部的 (query, candidate) 成对相关性模型。
type Scorer interface {
	Score(ctx context.Context, query string, candidates []string) ([]float64, error)
}

// Reranker 重排器。
type Reranker struct {
	config config.RerankConfig
	scorer Scorer
	logger *zap.Logger
}

// NewReranker 创建重排器。scorer 为 nil 时重排永远跳过。
func NewReranker(cfg config.RerankConfig, scorer Scorer, logger *zap.Logger) *Reranker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reranker{
		config: cfg,
		scorer: scorer,
		logger: logger.With(zap.String("component", "reranker")),
	}
}

// Rerank 重打分 top-K 并返回重排后的 top-M。
// 返回值 skipped 标记该阶段是否被跳过（禁用、超时或出错）。
func (r *Reranker) Rerank(ctx context.Context, query string, items []types.RankedItem) (result []types.RankedItem, skipped bool) {
	if !r.config.Enabled || r.scorer == nil || len(items) == 0 {
		return items, true
	}

	topK := r.config.TopK
	if topK <= 0 {
		topK = 20
	}
	head := items
	if len(head) > topK {
		head = head[:topK]
	}

	budget := r.config.LatencyBudget
	if budget <= 0 {
		budget = time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	candidates := make([]string, len(head))
	for i, it := range head {
		candidates[i] = it.Content
	}

	scores, err := r.scorer.Score(callCtx, query, candidates)
	if err != nil || len(scores) != len(head) {
		r.logger.Warn("rerank skipped, keeping fused order",
			zap.Int("candidates", len(head)), zap.Error(err))
		return items, true
	}

	reranked := make([]types.RankedItem, len(head))
	copy(reranked, head)
	for i := range reranked {
		reranked[i].CombinedScore = scores[i]
	}
	sort.SliceStable(reranked, func(i, j int) bool {
		return reranked[i].CombinedScore > reranked[j].CombinedScore
	})

	topM := r.config.TopM
	if topM <= 0 {
		topM = 5
	}
	if len(reranked) > topM {
		reranked = reranked[:topM]
	}

	r.logger.Debug("rerank done", zap.Int("in", len(head)), zap.Int("out", len(reranked)))
	return reranked, false
}
