package types

import (
	"strings"
	"time"
)

// QueryType 表示启发式分类得到的问题类型，
// 用于选择自适应阈值与 few-shot 示例。
type QueryType string

const (
	QueryFactual     QueryType = "factual"     // 事实查找
	QueryConceptual  QueryType = "conceptual"  // 概念解释
	QueryProcedural  QueryType = "procedural"  // 操作步骤
	QueryExploratory QueryType = "exploratory" // 开放探索
)

// TimeRange 表示 web 检索的时间过滤窗口。
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Window 返回窗口长度。
func (r TimeRange) Window() time.Duration {
	return r.End.Sub(r.Start)
}

// IsZero 检查是否未设置时间过滤。
func (r TimeRange) IsZero() bool {
	return r.Start.IsZero() && r.End.IsZero()
}

// Contains 检查时间点是否落在窗口内。
func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

// Topic 表示查询的可选主题作用域。
type Topic struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	// Strict 为 true 时离题问题被拒答，否则仅降低优先级。
	Strict bool `json:"strict"`
}

// Query 表示一次不可变的用户查询。发出后不再修改，
// 变体改写由 Query Processor 生成后挂在 Variants 上。
type Query struct {
	Text      string     `json:"text"`
	UserID    string     `json:"user_id"`
	Topic     *Topic     `json:"topic,omitempty"`
	TimeRange *TimeRange `json:"time_range,omitempty"`
	Country   string     `json:"country,omitempty"`
	Type      QueryType  `json:"type,omitempty"`
	Variants  []string   `json:"variants,omitempty"`
	Keywords  []string   `json:"keywords,omitempty"`
}

// Normalized 返回大小写与空白不敏感的规范化文本，用作缓存键。
func (q Query) Normalized() string {
	return strings.Join(strings.Fields(strings.ToLower(q.Text)), " ")
}

// AllVariants 返回原始查询加全部变体（原始在前）。
func (q Query) AllVariants() []string {
	out := make([]string, 0, len(q.Variants)+1)
	out = append(out, q.Text)
	for _, v := range q.Variants {
		if v != q.Text {
			out = append(out, v)
		}
	}
	return out
}
