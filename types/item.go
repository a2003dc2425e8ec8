package types

import "fmt"

// SourceType 表示检索结果的来源类型（tagged union 的判别字段）。
type SourceType string

const (
	SourceDocument SourceType = "document"
	SourceWeb      SourceType = "web"
)

// SourceRef 标识结果的来源：文档块用 DocumentID+ChunkIndex，
// web 结果用 URL。两组字段按 SourceType 互斥使用。
type SourceRef struct {
	DocumentID string `json:"document_id,omitempty"`
	ChunkIndex int    `json:"chunk_index,omitempty"`
	URL        string `json:"url,omitempty"`
	Title      string `json:"title,omitempty"`
}

// Key 返回去重用的唯一标识。
func (r SourceRef) Key(st SourceType) string {
	if st == SourceWeb {
		return r.URL
	}
	return fmt.Sprintf("%s#%d", r.DocumentID, r.ChunkIndex)
}

// RetrieverKind 标识找到某条结果的检索器。
type RetrieverKind string

const (
	RetrieverSemantic RetrieverKind = "semantic"
	RetrieverKeyword  RetrieverKind = "keyword"
	RetrieverWeb      RetrieverKind = "web"
)

// RetrievedItem 是检索器产出的不可变结果。
// 融合阶段不修改它，而是生成新的 RankedItem。
type RetrievedItem struct {
	ID         string         `json:"id"`
	Content    string         `json:"content"`
	RawScore   float64        `json:"raw_score"`
	SourceType SourceType     `json:"source_type"`
	SourceRef  SourceRef      `json:"source_ref"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	// Variants 记录找到该结果的查询变体（多变体检索合并时填充）。
	Variants []string `json:"variants,omitempty"`
}

// Key 返回去重用的唯一标识。
func (it RetrievedItem) Key() string {
	return it.SourceRef.Key(it.SourceType)
}

// RankedItem 是融合后的排序结果，下游阶段的排序键为 CombinedScore。
type RankedItem struct {
	RetrievedItem

	NormalizedScore float64         `json:"normalized_score"`
	CombinedScore   float64         `json:"combined_score"`
	Provenance      []RetrieverKind `json:"provenance"`
	TokenCount      int             `json:"token_count"`
	// Truncated 标记内容在预算装配时被截断。
	Truncated bool `json:"truncated,omitempty"`
}

// FoundBy 检查结果是否由指定检索器找到。
func (it RankedItem) FoundBy(kind RetrieverKind) bool {
	for _, p := range it.Provenance {
		if p == kind {
			return true
		}
	}
	return false
}
