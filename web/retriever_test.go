package web

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
	"github.com/nhytera/ragline/internal/resilience"
	"github.com/nhytera/ragline/types"
)

type fakeSearch struct {
	results []RawResult
	err     error
	calls   int
}

func (f *fakeSearch) Search(context.Context, string, SearchFilter) ([]RawResult, error) {
	f.calls++
	return f.results, f.err
}

func webConfig() config.WebConfig {
	return config.WebConfig{
		MaxResults:            10,
		Timeout:               time.Second,
		RelevanceWeight:       0.5,
		QualityWeight:         0.3,
		AuthorityWeight:       0.2,
		ContentDedupThreshold: 0.85,
		RateLimit:             1000,
		CacheTTL:              time.Hour,
	}
}

func testResilience() config.ResilienceConfig {
	return config.ResilienceConfig{
		Retry:   resilience.RetryPolicy{MaxRetries: 1, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2},
		Breaker: resilience.BreakerPolicy{FailureThreshold: 10, CoolDown: time.Second, HalfOpenMaxCalls: 1},
	}
}

func ts(s string) *time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return &t
}

func TestNormalizeURL(t *testing.T) {
	cases := map[string]string{
		"https://www.example.com/a/?utm_source=x&utm_medium=y": "https://example.com/a",
		"https://example.com/a#section":                        "https://example.com/a",
		"https://Example.COM/a/b/":                             "https://example.com/a/b",
		"https://example.com/a?fbclid=123&page=2":              "https://example.com/a?page=2",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeURL(in), "input: %s", in)
	}
}

func TestScoreAuthority(t *testing.T) {
	assert.InDelta(t, 0.85, ScoreAuthority("https://en.wikipedia.org/wiki/Raft"), 1e-9)
	assert.InDelta(t, 0.85, ScoreAuthority("https://cs.stanford.edu/paper"), 1e-9)
	assert.InDelta(t, 0.80, ScoreAuthority("https://data.gov/dataset"), 1e-9)
	assert.InDelta(t, 0.60, ScoreAuthority("https://random-blog.com/post"), 1e-9)
}

func TestScoreQuality(t *testing.T) {
	assert.Equal(t, 0.0, ScoreQuality(""))

	long := "This is a full sentence about the topic. It continues with detail. " +
		"And it concludes with a third sentence that rounds out the passage. " +
		"More body text follows to reach a useful length for a reader who wants depth."
	short := "click here"
	assert.Greater(t, ScoreQuality(long), ScoreQuality(short))
	assert.LessOrEqual(t, ScoreQuality(long), 1.0)
}

// 24 小时窗口内，正文明确提到窗外日期的结果被排除。
func TestRetrieve_StrictWindowExcludesStaleContent(t *testing.T) {
	end := time.Date(2026, time.January, 10, 12, 0, 0, 0, time.UTC)
	tr := &types.TimeRange{Start: end.Add(-24 * time.Hour), End: end}

	provider := &fakeSearch{results: []RawResult{
		{
			Title: "stale", URL: "https://example.com/stale", Relevance: 0.9,
			Content:     "Breaking update. The event happened on November 5, 2025 in the capital.",
			PublishedAt: ts("2026-01-10T08:00:00Z"),
		},
		{
			Title: "fresh", URL: "https://example.com/fresh", Relevance: 0.8,
			Content:     "Live coverage continues this morning. Officials confirmed the numbers.",
			PublishedAt: ts("2026-01-10T09:00:00Z"),
		},
		{
			Title: "undated", URL: "https://example.com/undated", Relevance: 0.95,
			Content: "No trustworthy publish timestamp on this one.",
		},
	}}
	r := NewRetriever(webConfig(), provider, testResilience(), cache.Backends{}, zap.NewNop())

	items, err := r.Retrieve(context.Background(), types.Query{Text: "latest news", TimeRange: tr})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "https://example.com/fresh", items[0].SourceRef.URL)
}

// 长窗口只校验发布时间，不追究正文日期。
func TestRetrieve_LooseWindowKeepsDatedContent(t *testing.T) {
	end := time.Date(2026, time.January, 10, 12, 0, 0, 0, time.UTC)
	tr := &types.TimeRange{Start: end.AddDate(0, -1, 0), End: end}

	provider := &fakeSearch{results: []RawResult{
		{
			Title: "monthly", URL: "https://example.com/a", Relevance: 0.9,
			Content:     "A retrospective mentioning November 5, 2025 explicitly.",
			PublishedAt: ts("2026-01-05T00:00:00Z"),
		},
		{
			Title: "undated", URL: "https://example.com/b", Relevance: 0.8,
			Content: "No publish timestamp but the window is loose.",
		},
	}}
	r := NewRetriever(webConfig(), provider, testResilience(), cache.Backends{}, zap.NewNop())

	items, err := r.Retrieve(context.Background(), types.Query{Text: "monthly recap", TimeRange: tr})
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestRetrieve_DedupByURLThenContent(t *testing.T) {
	provider := &fakeSearch{results: []RawResult{
		{Title: "a", URL: "https://www.example.com/post?utm_source=x", Relevance: 0.9,
			Content: "the quick brown fox jumps over the lazy dog near the river bank"},
		{Title: "a-dup", URL: "https://example.com/post", Relevance: 0.5,
			Content: "completely different words in this snippet about foxes"},
		{Title: "mirror", URL: "https://mirror.example.org/post", Relevance: 0.4,
			Content: "the quick brown fox jumps over the lazy dog near the river bank"},
		{Title: "other", URL: "https://example.com/other", Relevance: 0.3,
			Content: "unrelated article about postgres tuning and vacuum settings"},
	}}
	r := NewRetriever(webConfig(), provider, testResilience(), cache.Backends{}, zap.NewNop())

	items, err := r.Retrieve(context.Background(), types.Query{Text: "foxes"})
	require.NoError(t, err)
	require.Len(t, items, 2)

	urls := []string{items[0].SourceRef.URL, items[1].SourceRef.URL}
	assert.ElementsMatch(t, []string{"https://example.com/post", "https://example.com/other"}, urls)
}

func TestRetrieve_BlendedScoreOrdering(t *testing.T) {
	rich := "A thorough explanation spanning several sentences. It covers the mechanism. " +
		"It cites sources and walks through the edge cases carefully with detail."
	provider := &fakeSearch{results: []RawResult{
		{Title: "thin", URL: "https://random-blog.com/x", Relevance: 0.9, Content: "short"},
		{Title: "rich", URL: "https://en.wikipedia.org/wiki/X", Relevance: 0.7, Content: rich},
	}}
	r := NewRetriever(webConfig(), provider, testResilience(), cache.Backends{}, zap.NewNop())

	items, err := r.Retrieve(context.Background(), types.Query{Text: "x"})
	require.NoError(t, err)
	require.Len(t, items, 2)
	// 质量与权威把相关分略低的结果顶到前面
	assert.Equal(t, "rich", items[0].SourceRef.Title)
	assert.Greater(t, items[0].RawScore, items[1].RawScore)
}

func TestRetrieve_ProviderFailureSurfacesError(t *testing.T) {
	provider := &fakeSearch{err: errors.New("search api down")}
	r := NewRetriever(webConfig(), provider, testResilience(), cache.Backends{}, zap.NewNop())

	_, err := r.Retrieve(context.Background(), types.Query{Text: "q"})
	require.Error(t, err)
	assert.Equal(t, types.ErrProviderError, types.GetErrorCode(err))
}

func TestRetrieve_ResultsCached(t *testing.T) {
	provider := &fakeSearch{results: []RawResult{
		{Title: "a", URL: "https://example.com/a", Relevance: 0.5, Content: "body text here"},
	}}
	r := NewRetriever(webConfig(), provider, testResilience(), cache.Backends{}, zap.NewNop())

	_, err := r.Retrieve(context.Background(), types.Query{Text: "Same Query"})
	require.NoError(t, err)
	_, err = r.Retrieve(context.Background(), types.Query{Text: "same   query"})
	require.NoError(t, err)
	assert.Equal(t, 1, provider.calls)
}

func TestExtractContentDates(t *testing.T) {
	dates := extractContentDates("Published November 5, 2025, updated 2026-01-03, see Jan 7th, 2026.")
	require.Len(t, dates, 3)
	assert.Equal(t, time.Date(2025, time.November, 5, 0, 0, 0, 0, time.UTC), dates[0])
	assert.Equal(t, time.Date(2026, time.January, 7, 0, 0, 0, 0, time.UTC), dates[1])
	assert.Equal(t, time.Date(2026, time.January, 3, 0, 0, 0, 0, time.UTC), dates[2])
}
