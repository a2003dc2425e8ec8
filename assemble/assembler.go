// Package assemble 实现上下文装配：把融合后的文档与 web 结果
// 装进由目标模型推导的 token 预算，贪心选择、单次截断尝试，
// 以及可选的尽力而为 LLM 压缩。
package assemble

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/nhytera/ragline/config"
	"github.com/nhytera/ragline/llm"
	"github.com/nhytera/ragline/tokenizer"
	"github.com/nhytera/ragline/types"
)

// 截断只在剩余预算至少容得下条目一半时尝试，
// 再短的片段没有引用价值。
const minTruncateFraction = 0.5

// 跨来源去重的词集重叠阈值。
const crossSourceDedupThreshold = 0.85

// Assembler 上下文装配器。
type Assembler struct {
	config     config.BudgetConfig
	tok        tokenizer.Tokenizer
	compressor llm.Provider // 可为 nil，压缩直接跳过
	logger     *zap.Logger
}

// NewAssembler 创建装配器。
func NewAssembler(cfg config.BudgetConfig, tok tokenizer.Tokenizer, compressor llm.Provider, logger *zap.Logger) *Assembler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assembler{
		config:     cfg,
		tok:        tok,
		compressor: compressor,
		logger:     logger.With(zap.String("component", "context_assembler")),
	}
}

// Assemble 把候选装进预算。文档与 web 各有子预算；
// 同一信息同时来自文档与 web 时优先保留文档。
func (a *Assembler) Assemble(
	ctx context.Context,
	requestID string,
	docs, web []types.RankedItem,
	systemText, userText string,
) (types.AssembledContext, error) {
	budget := DeriveBudget(a.config, a.tok)

	systemTokens, err := a.tok.CountTokens(systemText)
	if err != nil {
		return types.AssembledContext{}, types.NewError(types.ErrTokenizerError, "counting system prompt").WithCause(err)
	}
	userTokens, err := a.tok.CountTokens(userText)
	if err != nil {
		return types.AssembledContext{}, types.NewError(types.ErrTokenizerError, "counting user prompt").WithCause(err)
	}
	if systemTokens > budget.SystemBudget() {
		a.logger.Warn("system prompt exceeds its sub-budget",
			zap.Int("tokens", systemTokens), zap.Int("budget", budget.SystemBudget()))
	}

	web = a.dropWebDuplicatesOfDocs(docs, web)

	selectedDocs, docTokens, docsDropped, err := a.fillCategory(docs, budget.DocumentBudget())
	if err != nil {
		return types.AssembledContext{}, err
	}
	selectedWeb, webTokens, webDropped, err := a.fillCategory(web, budget.WebBudget())
	if err != nil {
		return types.AssembledContext{}, err
	}

	assembled := types.AssembledContext{
		RequestID: requestID,
		Documents: selectedDocs,
		Web:       selectedWeb,
		Tokens: types.CategoryTokens{
			Document: docTokens,
			Web:      webTokens,
			System:   systemTokens,
			User:     userTokens,
		},
		Budget:       budget,
		DroppedItems: docsDropped + webDropped,
	}

	// web 候选不参与压缩：剩余预算优先还给更权威的文档
	if a.config.EnableCompression && assembled.DroppedItems > 0 {
		a.compressDropped(ctx, &assembled, docs)
	}

	a.logger.Debug("context assembled",
		zap.String("request_id", requestID),
		zap.Int("documents", len(assembled.Documents)),
		zap.Int("web", len(assembled.Web)),
		zap.Int("dropped", assembled.DroppedItems),
		zap.Int("total_tokens", assembled.Tokens.Total()))
	return assembled, nil
}

// fillCategory 按 combinedScore 降序贪心装入子预算。
// 完整放得下的条目依序收入；对第一个放不下的条目在贪心结束后
// 用剩余预算做一次截断尝试（剩余至少够放一半才截），其余整条丢弃。
// 高分条目绝不为给低分条目腾位置而被截短。
func (a *Assembler) fillCategory(items []types.RankedItem, subBudget int) (selected []types.RankedItem, used, dropped int, err error) {
	if subBudget <= 0 || len(items) == 0 {
		return nil, 0, len(items), nil
	}

	remaining := subBudget
	var firstUnfit *types.RankedItem
	for i := range items {
		it := items[i]
		if it.TokenCount == 0 {
			n, cerr := a.tok.CountTokens(it.Content)
			if cerr != nil {
				return nil, 0, 0, types.NewError(types.ErrTokenizerError, "counting candidate").WithCause(cerr)
			}
			it.TokenCount = n
		}

		if it.TokenCount <= remaining {
			selected = append(selected, it)
			remaining -= it.TokenCount
			continue
		}
		if firstUnfit == nil {
			copied := it
			firstUnfit = &copied
		}
		dropped++
	}

	if firstUnfit != nil && remaining > 0 &&
		float64(remaining) >= minTruncateFraction*float64(firstUnfit.TokenCount) {
		text, truncated, terr := a.tok.Truncate(firstUnfit.Content, remaining)
		if terr == nil && strings.TrimSpace(text) != "" {
			it := *firstUnfit
			it.Content = text
			it.Truncated = truncated
			n, cerr := a.tok.CountTokens(text)
			if cerr == nil && n <= remaining {
				it.TokenCount = n
				selected = append(selected, it)
				remaining -= n
				dropped--
			}
		}
	}

	return selected, subBudget - remaining, dropped, nil
}

// dropWebDuplicatesOfDocs 丢弃与文档候选近重复的 web 候选。
// 用户自己的文档对其查询更权威，权重略高（可配）。
func (a *Assembler) dropWebDuplicatesOfDocs(docs, web []types.RankedItem) []types.RankedItem {
	if len(docs) == 0 || len(web) == 0 {
		return web
	}
	bias := a.config.DocumentBias
	if bias <= 0 {
		bias = 1.1
	}

	docSets := make([]map[string]struct{}, len(docs))
	for i, d := range docs {
		docSets[i] = wordSet(d.Content)
	}

	kept := make([]types.RankedItem, 0, len(web))
	for _, w := range web {
		ws := wordSet(w.Content)
		dup := false
		for i, ds := range docSets {
			if jaccard(ws, ds) >= crossSourceDedupThreshold &&
				docs[i].CombinedScore*bias >= w.CombinedScore {
				dup = true
				break
			}
		}
		if !dup {
			kept = append(kept, w)
		}
	}
	return kept
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
