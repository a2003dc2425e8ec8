// Package citation 解析 LLM 输出文本中的引用标记，并对照实际
// 发送给模型的上下文来源验证。验证是诊断性的，从不阻断答案返回。
package citation

import (
	"regexp"
	"strconv"

	"github.com/nhytera/ragline/types"
)

// 支持的标记格式：[N]、[N](url)、[doc N]、[web N]、[web N](url)。
var markerPattern = regexp.MustCompile(`\[(?:(doc|web)\s+)?(\d+)\](?:\((\S+?)\))?`)

// Parse 扫描答案文本，产出带位置的引用候选列表。
func Parse(answer string) []types.Citation {
	matches := markerPattern.FindAllStringSubmatchIndex(answer, -1)
	if len(matches) == 0 {
		return nil
	}

	citations := make([]types.Citation, 0, len(matches))
	for _, m := range matches {
		raw := answer[m[0]:m[1]]
		kind := types.CitationReference
		if m[2] >= 0 {
			switch answer[m[2]:m[3]] {
			case "doc":
				kind = types.CitationDocument
			case "web":
				kind = types.CitationWeb
			}
		}
		index, err := strconv.Atoi(answer[m[4]:m[5]])
		if err != nil {
			continue
		}
		c := types.Citation{
			Kind:      kind,
			RawMarker: raw,
			Index:     index,
			Position:  m[0],
		}
		if m[6] >= 0 {
			c.URL = answer[m[6]:m[7]]
			// 裸索引 + URL 视为 web 引用
			if kind == types.CitationReference {
				c.Kind = types.CitationWeb
			}
		}
		citations = append(citations, c)
	}
	return citations
}
