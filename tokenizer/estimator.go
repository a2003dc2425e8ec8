package tokenizer

import "unicode/utf8"

// Estimator 是基于字符数的 token 估计器，
// 区分 CJK 与 ASCII 字符，比朴素的 len/4 更准。
// 用作没有精确编码的模型的兜底。
type Estimator struct {
	model     string
	maxTokens int
}

// NewEstimator 创建通用估计器。
func NewEstimator(model string, maxTokens int) *Estimator {
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Estimator{model: model, maxTokens: maxTokens}
}

func (e *Estimator) CountTokens(text string) (int, error) {
	if text == "" {
		return 0, nil
	}

	totalChars := utf8.RuneCountInString(text)
	cjkCount := 0
	for _, r := range text {
		if isCJK(r) {
			cjkCount++
		}
	}

	// CJK 约 1.5 字符/token，ASCII 约 4 字符/token。
	estimated := int(float64(cjkCount)/1.5 + float64(totalChars-cjkCount)/4.0)
	if estimated == 0 {
		estimated = 1
	}
	return estimated, nil
}

func (e *Estimator) Truncate(text string, maxTokens int) (string, bool, error) {
	if maxTokens <= 0 {
		return "", text != "", nil
	}
	count, err := e.CountTokens(text)
	if err != nil {
		return "", false, err
	}
	if count <= maxTokens {
		return text, false, nil
	}

	// 按比例收缩到目标 token 数，从 rune 边界截断。
	runes := []rune(text)
	keep := int(float64(len(runes)) * float64(maxTokens) / float64(count))
	if keep < 1 {
		keep = 1
	}
	if keep >= len(runes) {
		keep = len(runes) - 1
	}
	return string(runes[:keep]), true, nil
}

func (e *Estimator) MaxTokens() int {
	return e.maxTokens
}

func (e *Estimator) Name() string {
	return "estimator"
}

// isCJK 判断 rune 是否为 CJK 字符。
func isCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) ||
		(r >= 0x3400 && r <= 0x4DBF) ||
		(r >= 0x20000 && r <= 0x2A6DF) ||
		(r >= 0xF900 && r <= 0xFAFF) ||
		(r >= 0x3000 && r <= 0x303F) ||
		(r >= 0xFF00 && r <= 0xFFEF)
}
