// Package conversation 管理会话历史：最近若干轮逐字保留，
// 超过阈值的更早轮次在限时内由 LLM 压成一条整体摘要。
// 摘要失败退回只保留最近窗口，绝不阻塞请求。
package conversation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nhytera/ragline/config"
	"github.com/nhytera/ragline/llm"
	"github.com/nhytera/ragline/types"
)

// Manager 会话管理器。
type Manager struct {
	config   config.ConversationConfig
	provider llm.Provider // 可为 nil，此时永远只保留最近窗口
	logger   *zap.Logger
}

// NewManager 创建会话管理器。
func NewManager(cfg config.ConversationConfig, provider llm.Provider, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		config:   cfg,
		provider: provider,
		logger:   logger.With(zap.String("component", "conversation_manager")),
	}
}

// Prepare 把完整历史整理为「摘要 + 逐字窗口」。
// 返回值 degraded 标记摘要本应生成但失败被吸收。
func (m *Manager) Prepare(ctx context.Context, turns []types.Turn, q types.Query) (summary types.ConversationSummary, degraded bool) {
	window := m.config.RecentWindow
	if window <= 0 {
		window = 5
	}
	threshold := m.config.SummarizeThreshold
	if threshold <= 0 {
		threshold = 20
	}

	recent := turns
	if len(turns) > window {
		recent = turns[len(turns)-window:]
	}
	summary.PreservedTurns = m.filterByRelevance(recent, q)

	if len(turns) <= threshold {
		return summary, false
	}

	older := turns[:len(turns)-window]
	text, err := m.summarize(ctx, older)
	if err != nil {
		// 回退：丢弃更早轮次，只保留窗口
		m.logger.Warn("summarization failed, keeping recent window only",
			zap.Int("dropped_turns", len(older)), zap.Error(err))
		return summary, true
	}

	summary.SummaryText = text
	summary.SummarizedTurns = len(older)
	return summary, false
}

// summarize 在 SummaryTimeout 内把更早轮次压成一条摘要。
func (m *Manager) summarize(ctx context.Context, older []types.Turn) (string, error) {
	if m.provider == nil {
		return "", types.NewError(types.ErrSummarizationFailed, "no summarization provider configured")
	}

	timeout := m.config.SummaryTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var sb strings.Builder
	for _, t := range older {
		fmt.Fprintf(&sb, "%s: %s\n", t.Role, t.Content)
	}

	prompt := fmt.Sprintf(`Summarize the following conversation history into a concise
paragraph. Preserve decisions, facts, names, and open questions the assistant
may need later. Return only the summary.

Conversation:
%s`, sb.String())

	text, err := m.provider.Complete(callCtx, []llm.Message{
		{Role: llm.RoleUser, Content: prompt},
	}, llm.CompleteOptions{Temperature: 0})
	if err != nil {
		return "", types.NewError(types.ErrSummarizationFailed, "summary call failed").WithCause(err)
	}
	if strings.TrimSpace(text) == "" {
		return "", types.NewError(types.ErrSummarizationFailed, "empty summary")
	}
	return text, nil
}

// filterByRelevance 可选地按与当前查询的词面重叠过滤保留轮次，
// 避免陈旧话题消耗预算。无重叠的查询不过滤（保守起见全保留）。
func (m *Manager) filterByRelevance(recent []types.Turn, q types.Query) []types.Turn {
	if !m.config.RelevanceFilter || len(q.Keywords) == 0 {
		return recent
	}

	kw := make(map[string]bool, len(q.Keywords))
	for _, k := range q.Keywords {
		kw[k] = true
	}

	filtered := make([]types.Turn, 0, len(recent))
	for _, t := range recent {
		if turnMentionsAny(t.Content, kw) {
			filtered = append(filtered, t)
		}
	}
	if len(filtered) == 0 {
		return recent
	}
	return filtered
}

func turnMentionsAny(content string, keywords map[string]bool) bool {
	for _, w := range strings.Fields(strings.ToLower(content)) {
		if keywords[strings.Trim(w, ".,;:!?\"'()[]")] {
			return true
		}
	}
	return false
}
