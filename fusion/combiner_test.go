package fusion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/nhytera/ragline/config"
	"github.com/nhytera/ragline/types"
)

func fusionConfig() config.FusionConfig {
	return config.FusionConfig{
		SemanticWeight:   0.6,
		KeywordWeight:    0.4,
		JaccardThreshold: 0.85,
	}
}

func item(id string, score float64, content string) types.RetrievedItem {
	return types.RetrievedItem{
		ID:         id,
		Content:    content,
		RawScore:   score,
		SourceType: types.SourceDocument,
		SourceRef:  types.SourceRef{DocumentID: id},
	}
}

func webItem(url string, score float64, content string) types.RetrievedItem {
	return types.RetrievedItem{
		ID:         url,
		Content:    content,
		RawScore:   score,
		SourceType: types.SourceWeb,
		SourceRef:  types.SourceRef{URL: url},
	}
}

// 两个文档条目 (0.9, 0.4) 与两个 web 条目 (0.8, 0.3) 以 0.6/0.4
// 融合后的顺序应为 {doc0.9, web0.8, doc0.4, web0.3}。
func TestFuse_OrderingAcrossSides(t *testing.T) {
	c := NewCombiner(fusionConfig(), zap.NewNop())

	semantic := []types.RetrievedItem{
		item("d1", 0.9, "alpha bravo"),
		item("d2", 0.4, "charlie delta"),
	}
	keyword := []types.RetrievedItem{
		webItem("https://a.example/x", 0.8, "echo foxtrot"),
		webItem("https://b.example/y", 0.3, "golf hotel"),
	}

	ranked := c.Fuse(semantic, keyword, "")
	require.Len(t, ranked, 4)

	assert.Equal(t, "d1", ranked[0].ID)
	assert.Equal(t, "https://a.example/x", ranked[1].ID)
	assert.Equal(t, "d2", ranked[2].ID)
	assert.Equal(t, "https://b.example/y", ranked[3].ID)

	// 归一化后加权：0.6·1.0, 0.4·1.0, 0.6·(0.4/0.9), 0.4·(0.3/0.8)
	assert.InDelta(t, 0.6, ranked[0].CombinedScore, 1e-9)
	assert.InDelta(t, 0.4, ranked[1].CombinedScore, 1e-9)
	assert.InDelta(t, 0.6*0.4/0.9, ranked[2].CombinedScore, 1e-9)
	assert.InDelta(t, 0.4*0.3/0.8, ranked[3].CombinedScore, 1e-9)
}

func TestFuse_SharedItemGetsBothContributions(t *testing.T) {
	c := NewCombiner(fusionConfig(), zap.NewNop())

	shared := item("d1", 0.9, "alpha")
	semantic := []types.RetrievedItem{shared, item("d2", 0.45, "bravo")}
	keyword := []types.RetrievedItem{item("d1", 2.0, "alpha"), item("d3", 1.0, "charlie")}

	ranked := c.Fuse(semantic, keyword, "")
	require.Len(t, ranked, 3)

	// d1 在两路都归一到 1.0 → 0.6+0.4 = 1.0
	assert.Equal(t, "d1", ranked[0].ID)
	assert.InDelta(t, 1.0, ranked[0].CombinedScore, 1e-9)
	assert.True(t, ranked[0].FoundBy(types.RetrieverSemantic))
	assert.True(t, ranked[0].FoundBy(types.RetrieverKeyword))
}

func TestDedup_CollapsesNearDuplicates(t *testing.T) {
	c := NewCombiner(fusionConfig(), zap.NewNop())

	items := []types.RankedItem{
		{RetrievedItem: item("d1", 0, "the quick brown fox jumps over the lazy dog"), CombinedScore: 0.9},
		{RetrievedItem: item("d2", 0, "the quick brown fox jumps over the lazy dog"), CombinedScore: 0.5},
		{RetrievedItem: item("d3", 0, "entirely different content about databases"), CombinedScore: 0.7},
	}

	kept := c.Dedup(items)
	require.Len(t, kept, 2)
	// 近重复保留高分一方
	assert.Equal(t, "d1", kept[0].ID)
	assert.Equal(t, "d3", kept[1].ID)
}

func TestDedup_Idempotent(t *testing.T) {
	c := NewCombiner(fusionConfig(), zap.NewNop())

	items := []types.RankedItem{
		{RetrievedItem: item("d1", 0, "shared words here mostly the same set"), CombinedScore: 0.9},
		{RetrievedItem: item("d2", 0, "shared words here mostly the same set!"), CombinedScore: 0.8},
		{RetrievedItem: item("d3", 0, "another topic entirely unrelated text"), CombinedScore: 0.6},
	}

	once := c.Dedup(items)
	twice := c.Dedup(once)
	assert.Equal(t, once, twice)
}

func TestWeightsFor_DeterministicABAssignment(t *testing.T) {
	cfg := fusionConfig()
	cfg.ABVariants = map[string]config.WeightPair{
		"control":   {Semantic: 0.6, Keyword: 0.4},
		"treatment": {Semantic: 0.5, Keyword: 0.5},
	}
	c := NewCombiner(cfg, zap.NewNop())

	first := c.WeightsFor("user-42")
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, c.WeightsFor("user-42"))
	}

	// 未配置变体或匿名用户走默认权重
	assert.Equal(t, config.WeightPair{Semantic: 0.6, Keyword: 0.4}, c.WeightsFor(""))
	assert.Equal(t, config.WeightPair{Semantic: 0.6, Keyword: 0.4},
		NewCombiner(fusionConfig(), zap.NewNop()).WeightsFor("user-42"))
}

func TestFuse_MMRPenalizesRedundancy(t *testing.T) {
	cfg := fusionConfig()
	cfg.EnableMMR = true
	cfg.MMRLambda = 0.5
	c := NewCombiner(cfg, zap.NewNop())

	// d2 与 d1 词面高度相似但低于 Jaccard 折叠阈值，d3 完全不同
	semantic := []types.RetrievedItem{
		item("d1", 1.0, "kubernetes pod scaling with horizontal autoscaler metrics"),
		item("d2", 0.95, "kubernetes pod scaling with horizontal autoscaler limits quota"),
		item("d3", 0.90, "postgres vacuum tuning for large tables"),
	}

	ranked := c.Fuse(semantic, nil, "")
	require.Len(t, ranked, 3)
	assert.Equal(t, "d1", ranked[0].ID)
	// 多样性选择把不同主题的 d3 提到冗余的 d2 前面
	assert.Equal(t, "d3", ranked[1].ID)
	assert.Equal(t, "d2", ranked[2].ID)
}

// 对任意权重对 w_s+w_k=1 与任意分数集，combinedScore 恒在 [0,1]。
func TestFuse_CombinedScoreBounded(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ws := rapid.Float64Range(0, 1).Draw(t, "semantic_weight")
		cfg := config.FusionConfig{
			SemanticWeight:   ws,
			KeywordWeight:    1 - ws,
			JaccardThreshold: 0.85,
		}
		c := NewCombiner(cfg, zap.NewNop())

		genItems := func(label string, n int) []types.RetrievedItem {
			items := make([]types.RetrievedItem, n)
			for i := range items {
				items[i] = item(
					rapid.StringMatching(label+`-[a-z]{4,8}`).Draw(t, label),
					rapid.Float64Range(0, 100).Draw(t, label+"_score"),
					rapid.StringMatching(`([a-z]{3,7} ){2,6}[a-z]{3,7}`).Draw(t, label+"_content"),
				)
			}
			return items
		}
		semantic := genItems("sem", rapid.IntRange(0, 8).Draw(t, "sem_n"))
		keyword := genItems("kw", rapid.IntRange(0, 8).Draw(t, "kw_n"))

		for _, r := range c.Fuse(semantic, keyword, "") {
			if r.CombinedScore < -1e-9 || r.CombinedScore > 1+1e-9 {
				t.Fatalf("combined score out of range: %v", r.CombinedScore)
			}
		}
	})
}
