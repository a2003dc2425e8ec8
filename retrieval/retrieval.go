// Package retrieval 实现文档检索与关键词检索。
// 向量化与最近邻查找委托给外部能力（EmbeddingProvider / VectorIndex），
// 关键词检索在同一块语料上独立计算 BM25，向量索引退化时仍可工作。
package retrieval

import (
	"context"

	"github.com/nhytera/ragline/types"
)

// Filter 限定检索范围：结果始终按请求用户隔离，主题可选。
type Filter struct {
	UserID  string
	TopicID string
}

// EmbeddingProvider 是外部向量化能力。
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorIndex 是外部最近邻索引能力。
type VectorIndex interface {
	Query(ctx context.Context, vector []float32, filter Filter, topK int) ([]types.RetrievedItem, error)
}

// Chunk 语料中的一个文档块。
type Chunk struct {
	DocumentID string
	ChunkIndex int
	Title      string
	Content    string
}

// ChunkSource 提供关键词检索用的块语料（外部文档存储的只读视图）。
type ChunkSource interface {
	Chunks(ctx context.Context, filter Filter) ([]Chunk, error)
}

// Retriever 是两种检索器的统一契约。
type Retriever interface {
	Retrieve(ctx context.Context, q types.Query, filter Filter) ([]types.RetrievedItem, error)
}

// AdaptiveThreshold 按问题类型调整相似度阈值：
// 事实型收紧，探索型放宽。
func AdaptiveThreshold(base float64, qt types.QueryType) float64 {
	switch qt {
	case types.QueryFactual:
		base += 0.10
	case types.QueryConceptual:
		base += 0.05
	case types.QueryProcedural:
		base += 0.02
	case types.QueryExploratory:
		base -= 0.05
	}
	if base < 0 {
		return 0
	}
	if base > 1 {
		return 1
	}
	return base
}

// mergeByMaxScore 合并多个变体的结果集：同一条目取各变体的最高分，
// 并记录找到它的每个变体。
func mergeByMaxScore(merged map[string]*types.RetrievedItem, items []types.RetrievedItem, variant string) {
	for _, it := range items {
		key := it.Key()
		if existing, ok := merged[key]; ok {
			if it.RawScore > existing.RawScore {
				existing.RawScore = it.RawScore
				existing.Content = it.Content
			}
			existing.Variants = appendUnique(existing.Variants, variant)
			continue
		}
		copied := it
		copied.Variants = []string{variant}
		merged[key] = &copied
	}
}

func appendUnique(list []string, v string) []string {
	for _, s := range list {
		if s == v {
			return list
		}
	}
	return append(list, v)
}

func collectMerged(merged map[string]*types.RetrievedItem) []types.RetrievedItem {
	out := make([]types.RetrievedItem, 0, len(merged))
	for _, it := range merged {
		out = append(out, *it)
	}
	return out
}
