// Package fusion 把语义检索与关键词检索两路独立打分的结果
// 融合为一个有序的 RankedItem 列表：各自归一化、加权求和、
// 身份去重、Jaccard 近重复折叠，以及可选的 MMR 多样性选择。
package fusion

import (
	"hash/fnv"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/nhytera/ragline/config"
	"github.com/nhytera/ragline/types"
)

// Combiner 混合融合器。纯计算，无阻塞点。
type Combiner struct {
	config config.FusionConfig
	logger *zap.Logger
}

// NewCombiner 创建融合器。
func NewCombiner(cfg config.FusionConfig, logger *zap.Logger) *Combiner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Combiner{
		config: cfg,
		logger: logger.With(zap.String("component", "hybrid_combiner")),
	}
}

// WeightsFor 解析该用户生效的权重。配置了 A/B 变体时按用户 id
// 确定性分配（同一用户总是拿到同一组权重），否则用默认权重。
func (c *Combiner) WeightsFor(userID string) config.WeightPair {
	defaults := config.WeightPair{Semantic: c.config.SemanticWeight, Keyword: c.config.KeywordWeight}
	if userID == "" || len(c.config.ABVariants) == 0 {
		return defaults
	}

	names := make([]string, 0, len(c.config.ABVariants))
	for name := range c.config.ABVariants {
		names = append(names, name)
	}
	sort.Strings(names)

	h := fnv.New32a()
	h.Write([]byte(userID))
	chosen := names[int(h.Sum32())%len(names)]
	return c.config.ABVariants[chosen]
}

// Fuse 用该用户的权重融合两路结果。
func (c *Combiner) Fuse(semantic, keyword []types.RetrievedItem, userID string) []types.RankedItem {
	return c.FuseWithWeights(semantic, keyword, c.WeightsFor(userID))
}

// FuseWithWeights 以显式权重融合。
func (c *Combiner) FuseWithWeights(semantic, keyword []types.RetrievedItem, w config.WeightPair) []types.RankedItem {
	semNorm := normalize(semantic)
	kwNorm := normalize(keyword)

	// 按身份合并：同一条目在两路都出现时，两路归一分各自生效
	merged := make(map[string]*types.RankedItem)
	order := make([]string, 0, len(semantic)+len(keyword))

	for i, it := range semantic {
		key := it.Key()
		if existing, ok := merged[key]; ok {
			// 同路重复键只保留更高分
			if s := w.Semantic * semNorm[i]; s > existing.CombinedScore {
				existing.NormalizedScore = semNorm[i]
				existing.CombinedScore = s
			}
			continue
		}
		merged[key] = &types.RankedItem{
			RetrievedItem:   it,
			NormalizedScore: semNorm[i],
			CombinedScore:   w.Semantic * semNorm[i],
			Provenance:      []types.RetrieverKind{types.RetrieverSemantic},
		}
		order = append(order, key)
	}
	kwApplied := make(map[string]bool)
	for i, it := range keyword {
		key := it.Key()
		if existing, ok := merged[key]; ok {
			if kwApplied[key] {
				continue
			}
			kwApplied[key] = true
			existing.CombinedScore += w.Keyword * kwNorm[i]
			existing.Provenance = append(existing.Provenance, types.RetrieverKeyword)
			continue
		}
		kwApplied[key] = true
		merged[key] = &types.RankedItem{
			RetrievedItem:   it,
			NormalizedScore: kwNorm[i],
			CombinedScore:   w.Keyword * kwNorm[i],
			Provenance:      []types.RetrieverKind{types.RetrieverKeyword},
		}
		order = append(order, key)
	}

	items := make([]types.RankedItem, 0, len(merged))
	for _, key := range order {
		items = append(items, *merged[key])
	}

	items = c.Dedup(items)
	sort.SliceStable(items, func(i, j int) bool { return items[i].CombinedScore > items[j].CombinedScore })

	if c.config.EnableMMR && len(items) > 2 {
		items = c.mmrSelect(items)
	}

	c.logger.Debug("fusion done",
		zap.Int("semantic", len(semantic)),
		zap.Int("keyword", len(keyword)),
		zap.Int("fused", len(items)))
	return items
}

// Dedup 折叠近重复：Jaccard 相似度达到阈值的条目对只保留
// 分数更高的一方。幂等：对自身输出再跑一遍结果不变。
func (c *Combiner) Dedup(items []types.RankedItem) []types.RankedItem {
	threshold := c.config.JaccardThreshold
	if threshold <= 0 || threshold > 1 {
		threshold = 0.85
	}

	sorted := make([]types.RankedItem, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].CombinedScore > sorted[j].CombinedScore })

	kept := make([]types.RankedItem, 0, len(sorted))
	keptSets := make([]map[string]struct{}, 0, len(sorted))
	for _, it := range sorted {
		set := wordSet(it.Content)
		dup := false
		for _, ks := range keptSets {
			if jaccard(set, ks) >= threshold {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		kept = append(kept, it)
		keptSets = append(keptSets, set)
	}
	return kept
}

// mmrSelect 最大边际相关选择：在相关性与冗余之间按 λ 折中，
// 迭代挑选与已选集合不过分相似的最高分条目。
func (c *Combiner) mmrSelect(items []types.RankedItem) []types.RankedItem {
	lambda := c.config.MMRLambda
	if lambda <= 0 || lambda > 1 {
		lambda = 0.7
	}

	sets := make([]map[string]struct{}, len(items))
	for i, it := range items {
		sets[i] = wordSet(it.Content)
	}

	selected := make([]types.RankedItem, 0, len(items))
	selectedSets := make([]map[string]struct{}, 0, len(items))
	remaining := make([]int, len(items))
	for i := range items {
		remaining[i] = i
	}

	for len(remaining) > 0 {
		best, bestScore := -1, 0.0
		for pos, idx := range remaining {
			maxSim := 0.0
			for _, ss := range selectedSets {
				if s := jaccard(sets[idx], ss); s > maxSim {
					maxSim = s
				}
			}
			score := lambda*items[idx].CombinedScore - (1-lambda)*maxSim
			if best == -1 || score > bestScore {
				best, bestScore = pos, score
			}
		}
		idx := remaining[best]
		selected = append(selected, items[idx])
		selectedSets = append(selectedSets, sets[idx])
		remaining = append(remaining[:best], remaining[best+1:]...)
	}
	return selected
}

// normalize 把一路分数除以该路最大值，得到独立的 0–1 区间。
func normalize(items []types.RetrievedItem) []float64 {
	norm := make([]float64, len(items))
	var max float64
	for _, it := range items {
		if it.RawScore > max {
			max = it.RawScore
		}
	}
	if max <= 0 {
		return norm
	}
	for i, it := range items {
		norm[i] = it.RawScore / max
	}
	return norm
}

func wordSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(text)) {
		set[strings.Trim(w, ".,;:!?\"'()[]")] = struct{}{}
	}
	return set
}

// jaccard 词集交并比。
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
