// Package tokenizer 提供按模型精确计数 token 的统一接口，
// 预算装配与提示词构建都依赖它。
package tokenizer

import (
	"fmt"
	"sync"
)

// Tokenizer 是统一的 token 计数接口。
type Tokenizer interface {
	// CountTokens 返回给定文本的 token 数。
	CountTokens(text string) (int, error)

	// Truncate 把文本截断到不超过 maxTokens 个 token。
	// 截断发生时第二个返回值为 true。
	Truncate(text string, maxTokens int) (string, bool, error)

	// MaxTokens 返回模型的最大上下文长度。
	MaxTokens() int

	// Name 返回分词器名称。
	Name() string
}

// 全局分词器注册表。
var (
	modelTokenizers   = make(map[string]Tokenizer)
	modelTokenizersMu sync.RWMutex
)

// Register 为给定模型名注册分词器。
func Register(model string, t Tokenizer) {
	modelTokenizersMu.Lock()
	defer modelTokenizersMu.Unlock()
	modelTokenizers[model] = t
}

// ForModel 返回为模型注册的分词器，支持前缀匹配
// （如 "gpt-4o" 匹配 "gpt-4o-mini"）。
func ForModel(model string) (Tokenizer, error) {
	modelTokenizersMu.RLock()
	defer modelTokenizersMu.RUnlock()

	if t, ok := modelTokenizers[model]; ok {
		return t, nil
	}
	for prefix, t := range modelTokenizers {
		if len(model) >= len(prefix) && model[:len(prefix)] == prefix {
			return t, nil
		}
	}
	return nil, fmt.Errorf("no tokenizer registered for model: %s", model)
}

// ForModelOrEstimator 返回模型的注册分词器，
// 未注册时退回通用估计器，保证预算计算不会硬失败。
func ForModelOrEstimator(model string) Tokenizer {
	if t, err := ForModel(model); err == nil {
		return t
	}
	if t, err := NewTiktoken(model); err == nil {
		return t
	}
	return NewEstimator(model, 0)
}
