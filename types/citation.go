package types

// CitationKind 表示引用标记的类别。
type CitationKind string

const (
	CitationDocument  CitationKind = "document"
	CitationWeb       CitationKind = "web"
	CitationReference CitationKind = "reference"
)

// Citation 是从 LLM 输出文本解析出的引用候选，
// 随后对照实际发送的 AssembledContext 做验证。
type Citation struct {
	Kind       CitationKind `json:"kind"`
	RawMarker  string       `json:"raw_marker"`
	Index      int          `json:"index,omitempty"` // 1-based，按类别
	URL        string       `json:"url,omitempty"`
	DocumentID string       `json:"document_id,omitempty"`
	// Position 是标记在答案文本中的字节偏移，用于聚簇检测。
	Position int `json:"position"`
	// ResolvedSourceID 在验证通过后指向匹配的来源。
	ResolvedSourceID string `json:"resolved_source_id,omitempty"`
}

// ValidationResult 是引用验证的只读产物，附加在响应上，
// 从不阻断答案返回。
type ValidationResult struct {
	IsValid        bool       `json:"is_valid"`
	MatchedCount   int        `json:"matched_count"`
	UnmatchedCount int        `json:"unmatched_count"`
	Citations      []Citation `json:"citations,omitempty"`
	Errors         []string   `json:"errors,omitempty"`
	Warnings       []string   `json:"warnings,omitempty"`
	Suggestions    []string   `json:"suggestions,omitempty"`
}
