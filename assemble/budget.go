package assemble

import (
	"github.com/nhytera/ragline/config"
	"github.com/nhytera/ragline/tokenizer"
	"github.com/nhytera/ragline/types"
)

// DeriveBudget 由目标模型推导一次请求的 token 预算。
// 模型窗口可由配置覆盖，否则取分词器已知的上限。
func DeriveBudget(cfg config.BudgetConfig, tok tokenizer.Tokenizer) types.ContextBudget {
	limit := cfg.ModelLimit
	if limit <= 0 {
		limit = tok.MaxTokens()
	}

	alloc := cfg.Allocation
	if alloc.Sum() == 0 {
		alloc = types.DefaultAllocation()
	}

	return types.ContextBudget{
		Model:           cfg.Model,
		ModelLimit:      limit,
		ResponseReserve: int(float64(limit) * alloc.ResponsePct),
		Overhead:        int(float64(limit) * alloc.OverheadPct),
		Allocation:      alloc,
	}
}
