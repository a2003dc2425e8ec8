package citation

import (
	"fmt"
	"strings"

	"github.com/nhytera/ragline/types"
	"github.com/nhytera/ragline/web"
)

// 末尾聚簇判定：至少这么多引用、且其中这一比例堆在答案最后一段。
const (
	clusterMinCitations = 3
	clusterTailFraction = 0.2
	clusterRatio        = 0.8
)

// sourceIndex 从实际发送的上下文构建 O(1) 查找索引。
type sourceIndex struct {
	docs     []types.RankedItem
	webs     []types.RankedItem
	combined []types.RankedItem
	byURL    map[string]*types.RankedItem
	byDocID  map[string]*types.RankedItem
	byTitle  map[string]*types.RankedItem
}

func buildIndex(assembled types.AssembledContext) *sourceIndex {
	idx := &sourceIndex{
		docs:     assembled.Documents,
		webs:     assembled.Web,
		combined: assembled.Sources(),
		byURL:    make(map[string]*types.RankedItem),
		byDocID:  make(map[string]*types.RankedItem),
		byTitle:  make(map[string]*types.RankedItem),
	}
	for i := range idx.combined {
		it := &idx.combined[i]
		if it.SourceRef.URL != "" {
			idx.byURL[web.NormalizeURL(it.SourceRef.URL)] = it
		}
		if it.SourceRef.DocumentID != "" {
			idx.byDocID[it.SourceRef.DocumentID] = it
		}
		if t := normalizeTitle(it.SourceRef.Title); t != "" {
			idx.byTitle[t] = it
		}
	}
	return idx
}

// Validate 解析答案中的引用并对照上下文来源验证。
// 解析到的每条引用按「精确索引 → 精确 URL/文档 id → 标题模糊 →
// 未解析」的顺序解析；未解析计为错误，元数据不符计为警告，
// 引用堆在答案末尾只给建议。
func Validate(answer string, assembled types.AssembledContext) types.ValidationResult {
	citations := Parse(answer)
	idx := buildIndex(assembled)

	result := types.ValidationResult{IsValid: true}
	for i := range citations {
		c := &citations[i]
		source := idx.resolve(c)
		if source == nil {
			result.UnmatchedCount++
			result.IsValid = false
			result.Errors = append(result.Errors,
				fmt.Sprintf("citation %s references non-existent source %d", c.RawMarker, c.Index))
			continue
		}

		c.ResolvedSourceID = source.Key()
		if source.SourceRef.DocumentID != "" {
			c.DocumentID = source.SourceRef.DocumentID
		}
		result.MatchedCount++

		if c.URL != "" && source.SourceRef.URL != "" &&
			web.NormalizeURL(c.URL) != web.NormalizeURL(source.SourceRef.URL) {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("citation %s carries url %s but source %d points to %s",
					c.RawMarker, c.URL, c.Index, source.SourceRef.URL))
		}
	}

	if clusteredAtEnd(citations, len(answer)) {
		result.Suggestions = append(result.Suggestions,
			"citations are clustered at the end of the answer; prefer citing next to each claim")
	}

	result.Citations = citations
	return result
}

// resolve 按精确索引、精确 URL/id、标题模糊的顺序解析一条引用。
func (idx *sourceIndex) resolve(c *types.Citation) *types.RankedItem {
	if it := idx.byExactIndex(c); it != nil {
		return it
	}
	if c.URL != "" {
		if it, ok := idx.byURL[web.NormalizeURL(c.URL)]; ok {
			return it
		}
	}
	if c.DocumentID != "" {
		if it, ok := idx.byDocID[c.DocumentID]; ok {
			return it
		}
	}
	// 模糊回退：标记原文里若带了可读名字（少见），按规范化标题找
	if t := normalizeTitle(c.RawMarker); t != "" {
		if it, ok := idx.byTitle[t]; ok {
			return it
		}
	}
	return nil
}

func (idx *sourceIndex) byExactIndex(c *types.Citation) *types.RankedItem {
	pos := c.Index - 1
	if pos < 0 {
		return nil
	}
	var list []types.RankedItem
	switch c.Kind {
	case types.CitationDocument:
		list = idx.docs
	case types.CitationWeb:
		list = idx.webs
	default:
		list = idx.combined
	}
	if pos >= len(list) {
		return nil
	}
	return &list[pos]
}

// clusteredAtEnd 检查引用是否大量堆在答案末尾而非随文内嵌。
func clusteredAtEnd(citations []types.Citation, answerLen int) bool {
	if len(citations) < clusterMinCitations || answerLen == 0 {
		return false
	}
	tailStart := int(float64(answerLen) * (1 - clusterTailFraction))
	inTail := 0
	for _, c := range citations {
		if c.Position >= tailStart {
			inTail++
		}
	}
	return float64(inTail) >= clusterRatio*float64(len(citations))
}

func normalizeTitle(s string) string {
	s = strings.Trim(s, "[]")
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
