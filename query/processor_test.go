package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nhytera/ragline/config"
	"github.com/nhytera/ragline/internal/cache"
	"github.com/nhytera/ragline/llm"
	"github.com/nhytera/ragline/types"
)

type stubProvider struct {
	response string
	err      error
	calls    int
}

func (s *stubProvider) Complete(_ context.Context, _ []llm.Message, _ llm.CompleteOptions) (string, error) {
	s.calls++
	return s.response, s.err
}

func testConfig() config.QueryConfig {
	return config.QueryConfig{
		MaxVariants:     3,
		VariantCacheTTL: time.Hour,
		UseLLMVariants:  true,
		VariantTimeout:  time.Second,
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		text string
		want types.QueryType
	}{
		{"What is the capital of France?", types.QueryFactual},
		{"Who was the first person on the moon", types.QueryFactual},
		{"How many goroutines can a program run", types.QueryFactual},
		{"How to configure a reverse proxy with nginx", types.QueryProcedural},
		{"steps to deploy a container", types.QueryProcedural},
		{"Why does garbage collection pause the program?", types.QueryConceptual},
		{"Explain the CAP theorem", types.QueryConceptual},
		{"difference between TCP and UDP", types.QueryConceptual},
		{"golang channels", types.QueryFactual},
		{"interesting approaches people have tried for caching in distributed systems", types.QueryExploratory},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(tc.text), "query: %s", tc.text)
	}
}

func TestExtractKeywords(t *testing.T) {
	kws := ExtractKeywords("What is the difference between TCP and UDP?")
	assert.Equal(t, []string{"difference", "tcp", "udp"}, kws)

	// 重复词只保留一次
	kws = ExtractKeywords("cache cache invalidation")
	assert.Equal(t, []string{"cache", "invalidation"}, kws)
}

func TestMergeTopic(t *testing.T) {
	topic := types.Topic{Name: "Kubernetes", Description: "container orchestration"}
	merged := MergeTopic("how to scale pods", topic)
	assert.Contains(t, merged, "how to scale pods")
	assert.Contains(t, merged, "Kubernetes")
	assert.Contains(t, merged, "container orchestration")

	// 空主题名不改动查询
	assert.Equal(t, "foo", MergeTopic("foo", types.Topic{}))
}

func TestProcess_LLMVariants(t *testing.T) {
	provider := &stubProvider{response: "1. how do I scale kubernetes pods\n2) scaling pods in k8s\n3. pod autoscaling guide"}
	p := NewProcessor(testConfig(), provider, cache.Backends{}, zap.NewNop())

	q, err := p.Process(context.Background(), types.Query{Text: "how to scale pods"})
	require.NoError(t, err)

	assert.Equal(t, types.QueryProcedural, q.Type)
	require.Len(t, q.Variants, 3)
	// 编号前缀已剥离
	assert.Equal(t, "how do I scale kubernetes pods", q.Variants[0])
	assert.Equal(t, "scaling pods in k8s", q.Variants[1])
}

func TestProcess_VariantsCached(t *testing.T) {
	provider := &stubProvider{response: "alternative one\nalternative two"}
	p := NewProcessor(testConfig(), provider, cache.Backends{}, zap.NewNop())

	_, err := p.Process(context.Background(), types.Query{Text: "What is Raft?"})
	require.NoError(t, err)
	_, err = p.Process(context.Background(), types.Query{Text: "what is raft?"})
	require.NoError(t, err)

	// 规范化后命中缓存，LLM 只调用一次
	assert.Equal(t, 1, provider.calls)
}

func TestProcess_LLMFailureFallsBackToRules(t *testing.T) {
	provider := &stubProvider{err: errors.New("provider down")}
	p := NewProcessor(testConfig(), provider, cache.Backends{}, zap.NewNop())

	q, err := p.Process(context.Background(), types.Query{Text: "explain the problem with shared mutable state"})
	require.NoError(t, err)

	// 规则改写兜底：explain→describe、problem→issue
	require.NotEmpty(t, q.Variants)
	for _, v := range q.Variants {
		assert.NotEqual(t, "explain the problem with shared mutable state", v)
	}
}

func TestProcess_NoProviderUsesRules(t *testing.T) {
	p := NewProcessor(testConfig(), nil, cache.Backends{}, zap.NewNop())

	q, err := p.Process(context.Background(), types.Query{Text: "best way to use goroutines"})
	require.NoError(t, err)
	assert.NotEmpty(t, q.Variants)
}

func TestProcess_EmptyQueryRejected(t *testing.T) {
	p := NewProcessor(testConfig(), nil, cache.Backends{}, zap.NewNop())
	_, err := p.Process(context.Background(), types.Query{Text: "   "})
	require.Error(t, err)
	// 输入非法不是检索空结果，错误码要区分开
	assert.Equal(t, types.ErrInvalidQuery, types.GetErrorCode(err))
}

func TestProcess_DuplicateVariantsDropped(t *testing.T) {
	provider := &stubProvider{response: "What is Raft\nWHAT IS RAFT\nraft consensus algorithm"}
	p := NewProcessor(testConfig(), provider, cache.Backends{}, zap.NewNop())

	q, err := p.Process(context.Background(), types.Query{Text: "what is raft"})
	require.NoError(t, err)

	// 与原查询及彼此重复的变体被去掉
	require.Len(t, q.Variants, 1)
	assert.Equal(t, "raft consensus algorithm", q.Variants[0])
}

func TestAllVariants_IncludesOriginalFirst(t *testing.T) {
	q := types.Query{Text: "original", Variants: []string{"alt one", "alt two"}}
	all := q.AllVariants()
	require.Len(t, all, 3)
	assert.Equal(t, "original", all[0])
}
