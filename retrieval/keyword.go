package retrieval

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/nhytera/ragline/config"
	"github.com/nhytera/ragline/types"
)

// KeywordRetriever 在同一块语料上做 BM25 词法检索。
// 不经过向量化，向量索引退化时仍然可用。
type KeywordRetriever struct {
	config config.RetrievalConfig
	source ChunkSource
	logger *zap.Logger
}

// NewKeywordRetriever 创建关键词检索器。
func NewKeywordRetriever(cfg config.RetrievalConfig, source ChunkSource, logger *zap.Logger) *KeywordRetriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KeywordRetriever{
		config: cfg,
		source: source,
		logger: logger.With(zap.String("component", "keyword_retriever")),
	}
}

// Retrieve 对每个查询变体打 BM25 分并合并结果。
func (r *KeywordRetriever) Retrieve(ctx context.Context, q types.Query, filter Filter) ([]types.RetrievedItem, error) {
	chunks, err := r.source.Chunks(ctx, filter)
	if err != nil {
		return nil, classifyProviderErr(err, "chunk_source")
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	idx := newBM25Index(chunks, r.config.BM25K1, r.config.BM25B)
	merged := make(map[string]*types.RetrievedItem)

	for _, variant := range q.AllVariants() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		items := r.scoreVariant(idx, variant)
		mergeByMaxScore(merged, items, variant)
	}

	out := collectMerged(merged)
	sort.Slice(out, func(i, j int) bool { return out[i].RawScore > out[j].RawScore })
	r.logger.Debug("keyword retrieval done", zap.Int("items", len(out)))
	return out, nil
}

// scoreVariant 给一个变体的查询词打分，返回 top-K 非零结果。
func (r *KeywordRetriever) scoreVariant(idx *bm25Index, variant string) []types.RetrievedItem {
	queryTerms := tokenizeTerms(variant)
	if len(queryTerms) == 0 {
		return nil
	}

	scored := make([]types.RetrievedItem, 0, len(idx.chunks))
	for i, c := range idx.chunks {
		s := idx.score(i, queryTerms)
		if s <= 0 {
			continue
		}
		scored = append(scored, types.RetrievedItem{
			ID:         fmt.Sprintf("%s#%d", c.DocumentID, c.ChunkIndex),
			Content:    c.Content,
			RawScore:   s,
			SourceType: types.SourceDocument,
			SourceRef: types.SourceRef{
				DocumentID: c.DocumentID,
				ChunkIndex: c.ChunkIndex,
				Title:      c.Title,
			},
		})
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].RawScore > scored[j].RawScore })
	if r.config.TopK > 0 && len(scored) > r.config.TopK {
		scored = scored[:r.config.TopK]
	}
	return scored
}
