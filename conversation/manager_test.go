package conversation

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nhytera/ragline/config"
	"github.com/nhytera/ragline/llm"
	"github.com/nhytera/ragline/types"
)

type fakeSummarizer struct {
	response string
	delay    time.Duration
	prompts  []string
}

func (f *fakeSummarizer) Complete(ctx context.Context, messages []llm.Message, _ llm.CompleteOptions) (string, error) {
	f.prompts = append(f.prompts, messages[0].Content)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.response, nil
}

func convConfig() config.ConversationConfig {
	return config.ConversationConfig{
		RecentWindow:       5,
		SummarizeThreshold: 20,
		SummaryTimeout:     time.Second,
	}
}

func makeTurns(n int) []types.Turn {
	turns := make([]types.Turn, n)
	for i := range turns {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		turns[i] = types.Turn{Role: role, Content: fmt.Sprintf("turn-%d body", i+1)}
	}
	return turns
}

// 25 轮、窗口 5 → 摘要只覆盖第 1–20 轮，第 21–25 轮逐字保留。
func TestPrepare_SummarizesOlderKeepsRecentVerbatim(t *testing.T) {
	s := &fakeSummarizer{response: "they discussed deployment options"}
	m := NewManager(convConfig(), s, zap.NewNop())

	summary, degraded := m.Prepare(context.Background(), makeTurns(25), types.Query{Text: "next step"})
	assert.False(t, degraded)

	assert.Equal(t, "they discussed deployment options", summary.SummaryText)
	assert.Equal(t, 20, summary.SummarizedTurns)
	require.Len(t, summary.PreservedTurns, 5)
	for i, turn := range summary.PreservedTurns {
		assert.Equal(t, fmt.Sprintf("turn-%d body", 21+i), turn.Content)
	}

	// 摘要提示词只含第 1–20 轮
	require.Len(t, s.prompts, 1)
	assert.Contains(t, s.prompts[0], "turn-1 body")
	assert.Contains(t, s.prompts[0], "turn-20 body")
	assert.NotContains(t, s.prompts[0], "turn-21 body")
	assert.NotContains(t, s.prompts[0], "turn-25 body")
}

func TestPrepare_BelowThresholdNoSummary(t *testing.T) {
	s := &fakeSummarizer{response: "should not be called"}
	m := NewManager(convConfig(), s, zap.NewNop())

	summary, degraded := m.Prepare(context.Background(), makeTurns(12), types.Query{})
	assert.False(t, degraded)
	assert.Empty(t, summary.SummaryText)
	assert.Equal(t, 0, summary.SummarizedTurns)
	assert.Len(t, summary.PreservedTurns, 5)
	assert.Empty(t, s.prompts)
}

func TestPrepare_ShortHistoryKeptWhole(t *testing.T) {
	m := NewManager(convConfig(), nil, zap.NewNop())
	summary, degraded := m.Prepare(context.Background(), makeTurns(3), types.Query{})
	assert.False(t, degraded)
	assert.Len(t, summary.PreservedTurns, 3)
}

func TestPrepare_TimeoutFallsBackToWindow(t *testing.T) {
	cfg := convConfig()
	cfg.SummaryTimeout = 10 * time.Millisecond
	s := &fakeSummarizer{response: "late", delay: 200 * time.Millisecond}
	m := NewManager(cfg, s, zap.NewNop())

	summary, degraded := m.Prepare(context.Background(), makeTurns(25), types.Query{})
	assert.True(t, degraded)
	assert.Empty(t, summary.SummaryText)
	assert.Equal(t, 0, summary.SummarizedTurns)
	assert.Len(t, summary.PreservedTurns, 5)
}

func TestPrepare_NoProviderDegrades(t *testing.T) {
	m := NewManager(convConfig(), nil, zap.NewNop())
	summary, degraded := m.Prepare(context.Background(), makeTurns(25), types.Query{})
	assert.True(t, degraded)
	assert.Empty(t, summary.SummaryText)
	assert.Len(t, summary.PreservedTurns, 5)
}

func TestPrepare_RelevanceFilter(t *testing.T) {
	cfg := convConfig()
	cfg.RelevanceFilter = true
	m := NewManager(cfg, nil, zap.NewNop())

	turns := []types.Turn{
		{Role: "user", Content: "tell me about postgres indexing"},
		{Role: "assistant", Content: "btree indexes are the default"},
		{Role: "user", Content: "what about the weather tomorrow"},
	}
	q := types.Query{Text: "postgres index types", Keywords: []string{"postgres", "index", "indexes", "indexing"}}

	summary, _ := m.Prepare(context.Background(), turns, q)
	require.Len(t, summary.PreservedTurns, 2)
	assert.True(t, strings.Contains(summary.PreservedTurns[0].Content, "postgres"))
}

func TestPrepare_RelevanceFilterKeepsAllWhenNothingMatches(t *testing.T) {
	cfg := convConfig()
	cfg.RelevanceFilter = true
	m := NewManager(cfg, nil, zap.NewNop())

	turns := makeTurns(3)
	q := types.Query{Text: "unrelated", Keywords: []string{"unrelated"}}
	summary, _ := m.Prepare(context.Background(), turns, q)
	assert.Len(t, summary.PreservedTurns, 3)
}
