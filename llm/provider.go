// Package llm 定义管线消费的 LLM 能力接口。
// 具体的模型托管是外部协作方，这里只有进程内契约与弹性包装。
package llm

import (
	"context"
	"strings"
)

// Role 消息角色。
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message 一条对话消息。
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// CompleteOptions 单次补全的参数。
type CompleteOptions struct {
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

// Provider 是 LLM 补全能力的统一接口。
type Provider interface {
	// Complete 生成给定消息集的补全，返回完整文本。
	Complete(ctx context.Context, messages []Message, opts CompleteOptions) (string, error)
}

// StreamChunk 流式补全的一个分片。
type StreamChunk struct {
	Content string
	Err     error
}

// StreamingProvider 是可选的流式接口。
type StreamingProvider interface {
	Provider

	// CompleteStream 以分片流返回补全。通道在补全结束或出错后关闭。
	CompleteStream(ctx context.Context, messages []Message, opts CompleteOptions) (<-chan StreamChunk, error)
}

// BufferStream 把流式响应缓冲为完整文本。引用验证只在完整缓冲上
// 进行，所以流式响应统一走这里收拢；取消时返回已收到的部分与 ctx 错误。
func BufferStream(ctx context.Context, chunks <-chan StreamChunk) (string, error) {
	var sb strings.Builder
	for {
		select {
		case <-ctx.Done():
			return sb.String(), ctx.Err()
		case chunk, ok := <-chunks:
			if !ok {
				return sb.String(), nil
			}
			if chunk.Err != nil {
				return sb.String(), chunk.Err
			}
			sb.WriteString(chunk.Content)
		}
	}
}

// CompleteBuffered 优先走流式接口并缓冲，provider 不支持流式时
// 退回普通补全。
func CompleteBuffered(ctx context.Context, p Provider, messages []Message, opts CompleteOptions) (string, error) {
	if sp, ok := p.(StreamingProvider); ok {
		chunks, err := sp.CompleteStream(ctx, messages, opts)
		if err == nil {
			return BufferStream(ctx, chunks)
		}
		// 流式建立失败时退回普通补全
	}
	return p.Complete(ctx, messages, opts)
}
