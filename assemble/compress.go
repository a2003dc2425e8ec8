package assemble

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nhytera/ragline/llm"
	"github.com/nhytera/ragline/types"
)

// compressDropped 尽力而为的 LLM 压缩：把因预算被整条丢弃的
// 最高分文档候选压成短摘要，塞进文档子预算的剩余空间。
// 任何失败（超时、provider 错、压缩后仍放不下）都静默跳过。
func (a *Assembler) compressDropped(ctx context.Context, assembled *types.AssembledContext, docs []types.RankedItem) {
	if a.compressor == nil {
		return
	}
	remaining := assembled.Budget.DocumentBudget() - assembled.Tokens.Document
	if remaining < 32 {
		return
	}

	candidate := firstDropped(docs, assembled.Documents)
	if candidate == nil {
		return
	}

	timeout := a.config.CompressionTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	prompt := fmt.Sprintf(`Compress the following passage to under %d tokens.
Preserve every sentence containing facts, figures, names, or dates that an
answer might cite. Drop filler and repetition. Return only the compressed text.

Passage:
%s`, remaining, candidate.Content)

	text, err := a.compressor.Complete(callCtx, []llm.Message{
		{Role: llm.RoleUser, Content: prompt},
	}, llm.CompleteOptions{Temperature: 0})
	if err != nil {
		a.logger.Warn("compression skipped", zap.Error(err))
		return
	}

	n, err := a.tok.CountTokens(text)
	if err != nil || n == 0 || n > remaining {
		a.logger.Warn("compressed text does not fit, skipped",
			zap.Int("tokens", n), zap.Int("remaining", remaining))
		return
	}

	it := *candidate
	it.Content = text
	it.TokenCount = n
	it.Truncated = true
	assembled.Documents = append(assembled.Documents, it)
	assembled.Tokens.Document += n
	assembled.DroppedItems--
	assembled.Compressed = true
}

// firstDropped 返回按分数序第一条未入选的候选。
func firstDropped(candidates, selected []types.RankedItem) *types.RankedItem {
	chosen := make(map[string]bool, len(selected))
	for _, s := range selected {
		chosen[s.Key()] = true
	}
	for i := range candidates {
		if !chosen[candidates[i].Key()] {
			return &candidates[i]
		}
	}
	return nil
}
