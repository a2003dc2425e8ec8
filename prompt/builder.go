// Package prompt 把系统规则、装配好的上下文、会话摘要/历史与
// 用户问题组装成最终消息集。只做组装，从不调用 LLM。
package prompt

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/nhytera/ragline/config"
	"github.com/nhytera/ragline/llm"
	"github.com/nhytera/ragline/tokenizer"
	"github.com/nhytera/ragline/types"
)

// Builder 提示词构建器。
type Builder struct {
	config config.PromptConfig
	tok    tokenizer.Tokenizer
	logger *zap.Logger
}

// NewBuilder 创建构建器。
func NewBuilder(cfg config.PromptConfig, tok tokenizer.Tokenizer, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{
		config: cfg,
		tok:    tok,
		logger: logger.With(zap.String("component", "prompt_builder")),
	}
}

// Build 组装消息集：系统规则（含引用格式、主题作用域与 few-shot）、
// 会话摘要与保留轮次、上下文来源，最后是用户问题。
func (b *Builder) Build(q types.Query, assembled types.AssembledContext, summary types.ConversationSummary) []llm.Message {
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: b.SystemPrompt(q)},
	}

	if summary.SummaryText != "" {
		messages = append(messages, llm.Message{
			Role:    llm.RoleSystem,
			Content: "Summary of the earlier conversation:\n" + summary.SummaryText,
		})
	}
	for _, turn := range summary.PreservedTurns {
		role := llm.RoleUser
		if turn.Role == "assistant" {
			role = llm.RoleAssistant
		}
		messages = append(messages, llm.Message{Role: role, Content: turn.Content})
	}

	var user strings.Builder
	if ctx := FormatSources(assembled); ctx != "" {
		user.WriteString(ctx)
		user.WriteString("\n")
	}
	user.WriteString("Question: ")
	user.WriteString(q.Text)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: user.String()})

	b.logger.Debug("prompt built",
		zap.Int("messages", len(messages)),
		zap.Int("documents", len(assembled.Documents)),
		zap.Int("web", len(assembled.Web)))
	return messages
}

// SystemPrompt 产出系统规则：引用格式、回答质量与主题作用域。
// 预算装配需要先计数系统提示词，所以单独暴露。
func (b *Builder) SystemPrompt(q types.Query) string {
	var sb strings.Builder
	sb.WriteString(`You are a careful assistant that answers strictly from the provided sources.

Citation rules:
- Cite document sources inline as [doc N] and web sources as [web N](url), where N is the source number shown in the context.
- Place citations next to the claims they support, not bundled at the end.
- Never cite a source number that is not present in the context.

Answer quality:
- If the sources do not contain the answer, say so instead of guessing.
- Prefer precise figures and names from the sources over paraphrase.`)

	if q.Topic != nil && q.Topic.Name != "" {
		sb.WriteString("\n\nTopic scope: ")
		sb.WriteString(q.Topic.Name)
		if q.Topic.Description != "" {
			sb.WriteString(" — ")
			sb.WriteString(q.Topic.Description)
		}
		if q.Topic.Strict {
			sb.WriteString("\nIf the question is not about this topic, refuse to answer and say the question is out of scope.")
		} else {
			sb.WriteString("\nPrioritize this topic when interpreting the question, but answer related questions as well.")
		}
	}

	if examples := b.selectFewShot(q.Type, b.config.FewShotTokenBudget); len(examples) > 0 {
		sb.WriteString("\n\nExamples of well-cited answers:")
		for _, ex := range examples {
			sb.WriteString("\nQ: ")
			sb.WriteString(ex.Question)
			sb.WriteString("\nA: ")
			sb.WriteString(ex.Answer)
		}
	}
	return sb.String()
}

// FormatSources 把装配好的来源按编号排版进上下文块。
// 编号与引用校验使用的索引一致：文档与 web 各自 1 起计。
func FormatSources(assembled types.AssembledContext) string {
	if len(assembled.Documents) == 0 && len(assembled.Web) == 0 {
		return ""
	}

	var sb strings.Builder
	if len(assembled.Documents) > 0 {
		sb.WriteString("Document sources:\n")
		for i, d := range assembled.Documents {
			title := d.SourceRef.Title
			if title == "" {
				title = d.SourceRef.DocumentID
			}
			fmt.Fprintf(&sb, "[doc %d] %s\n%s\n\n", i+1, title, d.Content)
		}
	}
	if len(assembled.Web) > 0 {
		sb.WriteString("Web sources:\n")
		for i, w := range assembled.Web {
			fmt.Fprintf(&sb, "[web %d] %s (%s)\n%s\n\n", i+1, w.SourceRef.Title, w.SourceRef.URL, w.Content)
		}
	}
	return strings.TrimRight(sb.String(), "\n") + "\n"
}
