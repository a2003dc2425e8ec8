// Package query 实现查询处理：问题类型分类、关键词抽取、
// 主题合并，以及带缓存与降级的查询变体生成。
package query

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nhytera/ragline/config"
	"github.com/nhytera/ragline/internal/cache"
	"github.com/nhytera/ragline/llm"
	"github.com/nhytera/ragline/types"
)

// Processor 查询处理器。
type Processor struct {
	config   config.QueryConfig
	provider llm.Provider // 可为 nil，此时只用规则改写
	variants *cache.Flight[[]string]
	logger   *zap.Logger
}

// NewProcessor 创建查询处理器。
func NewProcessor(cfg config.QueryConfig, provider llm.Provider, caches cache.Backends, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := cfg.VariantCacheTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Processor{
		config:   cfg,
		provider: provider,
		variants: cache.FlightFor[[]string](caches, "query_variants", ttl),
		logger:   logger.With(zap.String("component", "query_processor")),
	}
}

// Process 处理原始查询：分类、抽关键词、合并主题、生成变体。
// 返回新的不可变 Query；任何变体生成失败都降级为仅原始查询。
func (p *Processor) Process(ctx context.Context, q types.Query) (types.Query, error) {
	if strings.TrimSpace(q.Text) == "" {
		return q, types.NewError(types.ErrInvalidQuery, "empty query text")
	}

	q.Type = Classify(q.Text)
	q.Keywords = ExtractKeywords(q.Text)

	// 主题作为上下文织入查询文本，而不是简单前缀，
	// 这样词法检索和 web 检索都把它当语境而非噪声。
	if q.Topic != nil {
		q.Text = MergeTopic(q.Text, *q.Topic)
	}

	variants, err := p.generateVariants(ctx, q)
	if err != nil {
		// 降级：仅使用原始查询
		p.logger.Warn("variant generation failed, using original query only", zap.Error(err))
		q.Variants = nil
		return q, nil
	}
	q.Variants = variants

	p.logger.Debug("query processed",
		zap.String("type", string(q.Type)),
		zap.Int("variants", len(q.Variants)),
		zap.Int("keywords", len(q.Keywords)))
	return q, nil
}

// generateVariants 生成至多 MaxVariants 个保持原意的改写，
// 按规范化原始查询缓存。
func (p *Processor) generateVariants(ctx context.Context, q types.Query) ([]string, error) {
	if p.config.MaxVariants <= 0 {
		return nil, nil
	}

	key := "variants:" + q.Normalized()
	return p.variants.GetOrLoad(ctx, key, func(ctx context.Context) ([]string, error) {
		if p.provider != nil && p.config.UseLLMVariants {
			variants, err := p.llmVariants(ctx, q.Text)
			if err == nil {
				return variants, nil
			}
			p.logger.Warn("llm variants failed, using rule-based rewrites", zap.Error(err))
		}
		return p.ruleVariants(q.Text), nil
	})
}

// llmVariants 让 LLM 产出保持意图的改写。
func (p *Processor) llmVariants(ctx context.Context, text string) ([]string, error) {
	timeout := p.config.VariantTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	prompt := fmt.Sprintf(`Generate %d alternative search queries for the following query.
Each alternative must preserve the original intent while varying phrasing or emphasis.
Return only the queries, one per line.

Original query: %s

Alternative queries:`, p.config.MaxVariants, text)

	response, err := p.provider.Complete(callCtx, []llm.Message{
		{Role: llm.RoleUser, Content: prompt},
	}, llm.CompleteOptions{Temperature: 0.3})
	if err != nil {
		return nil, err
	}

	var numbered = regexp.MustCompile(`^\d+[\.\)]\s*`)
	variants := make([]string, 0, p.config.MaxVariants)
	for _, line := range strings.Split(strings.TrimSpace(response), "\n") {
		line = numbered.ReplaceAllString(strings.TrimSpace(line), "")
		if line == "" {
			continue
		}
		variants = append(variants, line)
		if len(variants) >= p.config.MaxVariants {
			break
		}
	}
	return dedupeVariants(text, variants), nil
}

// ruleVariants 基于同义词替换的规则改写，LLM 不可用时的兜底。
func (p *Processor) ruleVariants(text string) []string {
	synonymMap := map[string][]string{
		"how":        {"method"},
		"why":        {"reason"},
		"best":       {"recommended"},
		"difference": {"comparison"},
		"example":    {"sample"},
		"explain":    {"describe"},
		"use":        {"apply"},
		"problem":    {"issue"},
	}

	variants := []string{}
	for _, word := range strings.Fields(strings.ToLower(text)) {
		if synonyms, ok := synonymMap[word]; ok {
			for _, syn := range synonyms {
				v := strings.Replace(strings.ToLower(text), word, syn, 1)
				if v != strings.ToLower(text) {
					variants = append(variants, v)
				}
				if len(variants) >= p.config.MaxVariants {
					return dedupeVariants(text, variants)
				}
			}
		}
	}
	return dedupeVariants(text, variants)
}

// dedupeVariants 去掉与原查询或彼此重复的变体（大小写/空白不敏感）。
func dedupeVariants(original string, variants []string) []string {
	seen := map[string]bool{normalize(original): true}
	out := make([]string, 0, len(variants))
	for _, v := range variants {
		n := normalize(v)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, v)
	}
	return out
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Classify 用启发式把问题分到四类之一：
// 疑问词、长度与比较词共同决定类型。
func Classify(text string) types.QueryType {
	lower := strings.ToLower(strings.TrimSpace(text))
	words := strings.Fields(lower)

	procedural := []string{"how to", "how do i", "how can i", "steps to", "guide", "tutorial"}
	for _, pat := range procedural {
		if strings.Contains(lower, pat) {
			return types.QueryProcedural
		}
	}

	conceptual := []string{"why", "explain", "how does", "what causes", "compare", "difference between", "versus", " vs "}
	for _, pat := range conceptual {
		if strings.Contains(lower, pat) {
			return types.QueryConceptual
		}
	}

	factual := []string{"what is", "who is", "who was", "when was", "when did", "where is", "define", "how many", "how much"}
	for _, pat := range factual {
		if strings.Contains(lower, pat) {
			return types.QueryFactual
		}
	}

	// 短查询多半是事实查找，长而开放的是探索
	if len(words) <= 4 {
		return types.QueryFactual
	}
	return types.QueryExploratory
}

// ExtractKeywords 抽取去停用词后的关键词。
func ExtractKeywords(text string) []string {
	seen := make(map[string]bool)
	keywords := []string{}
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,;:!?\"'()[]")
		if len(w) < 3 || stopwords[w] || seen[w] {
			continue
		}
		seen[w] = true
		keywords = append(keywords, w)
	}
	return keywords
}

// MergeTopic 把主题名称与描述织入查询文本。
func MergeTopic(text string, topic types.Topic) string {
	if topic.Name == "" {
		return text
	}
	if topic.Description != "" {
		return fmt.Sprintf("%s (topic: %s — %s)", text, topic.Name, topic.Description)
	}
	return fmt.Sprintf("%s (topic: %s)", text, topic.Name)
}

// stopwords 英文常见停用词。
var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "but": true,
	"not": true, "you": true, "all": true, "can": true, "had": true,
	"her": true, "was": true, "one": true, "our": true, "out": true,
	"has": true, "have": true, "what": true, "when": true, "where": true,
	"who": true, "why": true, "how": true, "which": true, "with": true,
	"this": true, "that": true, "these": true, "those": true, "about": true,
	"does": true, "did": true, "from": true, "into": true, "between": true,
	"their": true, "there": true, "will": true, "would": true, "should": true,
}
