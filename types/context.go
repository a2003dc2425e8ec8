package types

import "fmt"

// Allocation 表示各类内容占模型上下文窗口的比例。
// 所有比例之和必须 ≤ 1.0，在配置加载时校验。
type Allocation struct {
	DocumentPct float64 `yaml:"document_pct" json:"document_pct"`
	WebPct      float64 `yaml:"web_pct" json:"web_pct"`
	SystemPct   float64 `yaml:"system_pct" json:"system_pct"`
	UserPct     float64 `yaml:"user_pct" json:"user_pct"`
	ResponsePct float64 `yaml:"response_pct" json:"response_pct"`
	OverheadPct float64 `yaml:"overhead_pct" json:"overhead_pct"`
}

// Sum 返回所有比例之和。
func (a Allocation) Sum() float64 {
	return a.DocumentPct + a.WebPct + a.SystemPct + a.UserPct + a.ResponsePct + a.OverheadPct
}

// Validate 校验比例合法性。
func (a Allocation) Validate() error {
	for name, v := range map[string]float64{
		"document_pct": a.DocumentPct,
		"web_pct":      a.WebPct,
		"system_pct":   a.SystemPct,
		"user_pct":     a.UserPct,
		"response_pct": a.ResponsePct,
		"overhead_pct": a.OverheadPct,
	} {
		if v < 0 || v > 1 {
			return NewError(ErrInvalidConfig, fmt.Sprintf("%s must be in [0,1], got %v", name, v))
		}
	}
	if s := a.Sum(); s > 1.0+1e-9 {
		return NewError(ErrInvalidConfig, fmt.Sprintf("allocation percentages sum to %.3f, must be <= 1.0", s))
	}
	return nil
}

// DefaultAllocation 返回默认比例分配。
func DefaultAllocation() Allocation {
	return Allocation{
		DocumentPct: 0.50,
		WebPct:      0.20,
		SystemPct:   0.05,
		UserPct:     0.05,
		ResponsePct: 0.15,
		OverheadPct: 0.05,
	}
}

// ContextBudget 是每次请求根据目标模型推导的 token 预算。
type ContextBudget struct {
	Model           string     `json:"model"`
	ModelLimit      int        `json:"model_limit"`
	ResponseReserve int        `json:"response_reserve"`
	Overhead        int        `json:"overhead"`
	Allocation      Allocation `json:"allocation"`
}

// Available 返回可用于上下文内容的总预算。
func (b ContextBudget) Available() int {
	v := b.ModelLimit - b.ResponseReserve - b.Overhead
	if v < 0 {
		return 0
	}
	return v
}

// DocumentBudget 返回文档类的子预算。
func (b ContextBudget) DocumentBudget() int {
	return int(float64(b.ModelLimit) * b.Allocation.DocumentPct)
}

// WebBudget 返回 web 类的子预算。
func (b ContextBudget) WebBudget() int {
	return int(float64(b.ModelLimit) * b.Allocation.WebPct)
}

// SystemBudget 返回系统提示词的子预算。
func (b ContextBudget) SystemBudget() int {
	return int(float64(b.ModelLimit) * b.Allocation.SystemPct)
}

// UserBudget 返回用户提示词的子预算。
func (b ContextBudget) UserBudget() int {
	return int(float64(b.ModelLimit) * b.Allocation.UserPct)
}

// CategoryTokens 按类别统计装配后的实际 token 用量。
type CategoryTokens struct {
	Document int `json:"document"`
	Web      int `json:"web"`
	System   int `json:"system"`
	User     int `json:"user"`
}

// Total 返回全部类别的 token 总量。
func (c CategoryTokens) Total() int {
	return c.Document + c.Web + c.System + c.User
}

// AssembledContext 是装入预算的有序上下文。
// 不变式：各类别 token 之和不超过对应子预算。
type AssembledContext struct {
	RequestID string         `json:"request_id"`
	Documents []RankedItem   `json:"documents"`
	Web       []RankedItem   `json:"web"`
	Tokens    CategoryTokens `json:"tokens"`
	Budget    ContextBudget  `json:"budget"`
	// Compressed 标记低优先级条目经过了 LLM 压缩。
	Compressed bool `json:"compressed,omitempty"`
	// DroppedItems 统计因预算被整条丢弃的候选数。
	DroppedItems int `json:"dropped_items,omitempty"`
}

// Sources 按提示词中的出现顺序返回全部来源（文档在前）。
func (a AssembledContext) Sources() []RankedItem {
	out := make([]RankedItem, 0, len(a.Documents)+len(a.Web))
	out = append(out, a.Documents...)
	out = append(out, a.Web...)
	return out
}

// Turn 表示会话中的一轮。
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ConversationSummary 是派生的会话摘要：超过轮数阈值时整体重建，
// 从不部分更新。
type ConversationSummary struct {
	SummaryText    string `json:"summary_text"`
	PreservedTurns []Turn `json:"preserved_turns"`
	// SummarizedTurns 记录被摘要覆盖的轮数。
	SummarizedTurns int `json:"summarized_turns"`
}
