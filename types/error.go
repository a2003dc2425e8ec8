package types

import (
	"errors"
	"fmt"
)

// ErrorCode 表示管线内统一的错误码。
type ErrorCode string

// 外部依赖错误码
const (
	ErrProviderTimeout     ErrorCode = "PROVIDER_TIMEOUT"
	ErrProviderError       ErrorCode = "PROVIDER_ERROR"
	ErrRateLimited         ErrorCode = "RATE_LIMITED"
	ErrProviderUnavailable ErrorCode = "PROVIDER_UNAVAILABLE"
)

// 管线错误码
const (
	ErrInvalidQuery        ErrorCode = "INVALID_QUERY"
	ErrEmptyResultSet      ErrorCode = "EMPTY_RESULT_SET"
	ErrInsufficientContext ErrorCode = "INSUFFICIENT_CONTEXT"
	ErrBudgetExceeded      ErrorCode = "BUDGET_EXCEEDED"
	ErrSummarizationFailed ErrorCode = "SUMMARIZATION_FAILED"
	ErrCitationUnresolved  ErrorCode = "CITATION_UNRESOLVED"
	ErrTokenizerError      ErrorCode = "TOKENIZER_ERROR"
	ErrInvalidConfig       ErrorCode = "INVALID_CONFIG"
	ErrCancelled           ErrorCode = "CANCELLED"
)

// Error 携带错误码、消息与元数据的结构化错误。
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Provider  string    `json:"provider,omitempty"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
}

// Error 实现 error 接口。
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 返回底层原因。
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError 创建指定错误码与消息的 Error。
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause 附加底层原因。
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithProvider 设置依赖方名称。
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// WithRetryable 标记错误是否可重试。
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// IsRetryable 检查错误是否可重试。
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode 从错误中提取错误码。
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode 检查错误是否携带指定错误码。
func IsCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}
