package prompt

import (
	"github.com/nhytera/ragline/types"
)

// Example 一条 few-shot 示例。
type Example struct {
	Question string
	Answer   string
}

// 按问题类型内置的 few-shot 示例，演示带引用的回答形态。
var fewShotExamples = map[types.QueryType][]Example{
	types.QueryFactual: {
		{
			Question: "What is the default port for PostgreSQL?",
			Answer:   "PostgreSQL listens on port 5432 by default [doc 1].",
		},
		{
			Question: "When was HTTP/2 standardized?",
			Answer:   "HTTP/2 was published as RFC 7540 in May 2015 [web 1](https://www.rfc-editor.org/rfc/rfc7540).",
		},
	},
	types.QueryConceptual: {
		{
			Question: "Why do databases use write-ahead logging?",
			Answer:   "Write-ahead logging guarantees durability: changes are persisted to the log before data pages, so a crash can be recovered by replay [doc 1]. It also enables point-in-time recovery [doc 2].",
		},
	},
	types.QueryProcedural: {
		{
			Question: "How do I rotate a TLS certificate without downtime?",
			Answer:   "First deploy the new certificate alongside the old one [doc 1], then reload the listener so both are served [doc 2], and finally retire the old certificate after clients have refreshed [web 1](https://example.org/tls-rotation).",
		},
	},
	types.QueryExploratory: {
		{
			Question: "What approaches exist for schema migrations in large systems?",
			Answer:   "Common approaches include expand-contract migrations [doc 1], online schema-change tools [doc 2], and dual-write transition periods [web 1](https://example.org/migrations). Each trades speed against operational risk.",
		},
	},
}

// selectFewShot 按问题类型选示例，累计 token 不超过子预算。
func (b *Builder) selectFewShot(qt types.QueryType, budget int) []Example {
	if !b.config.EnableFewShot || budget <= 0 {
		return nil
	}
	candidates := fewShotExamples[qt]
	if len(candidates) == 0 {
		candidates = fewShotExamples[types.QueryFactual]
	}

	var selected []Example
	used := 0
	for _, ex := range candidates {
		n, err := b.tok.CountTokens(ex.Question + "\n" + ex.Answer)
		if err != nil || used+n > budget {
			break
		}
		selected = append(selected, ex)
		used += n
	}
	return selected
}
