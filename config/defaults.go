package config

import (
	"time"

	"github.com/nhytera/ragline/internal/resilience"
	"github.com/nhytera/ragline/types"
)

// DefaultConfig 返回全部默认值。
func DefaultConfig() *Config {
	return &Config{
		Query: QueryConfig{
			MaxVariants:     3,
			VariantCacheTTL: time.Hour,
			UseLLMVariants:  true,
			VariantTimeout:  3 * time.Second,
		},
		Retrieval: RetrievalConfig{
			TopK:              20,
			BaseThreshold:     0.35,
			BM25K1:            1.5,
			BM25B:             0.75,
			Timeout:           5 * time.Second,
			EmbeddingCacheTTL: time.Hour,
		},
		Fusion: FusionConfig{
			SemanticWeight:   0.6,
			KeywordWeight:    0.4,
			JaccardThreshold: 0.85,
			EnableMMR:        false,
			MMRLambda:        0.7,
		},
		Web: WebConfig{
			MaxResults:            10,
			Timeout:               10 * time.Second,
			RelevanceWeight:       0.5,
			QualityWeight:         0.3,
			AuthorityWeight:       0.2,
			ContentDedupThreshold: 0.85,
			RateLimit:             5,
			CacheTTL:              30 * time.Minute,
		},
		Rerank: RerankConfig{
			Enabled:       true,
			TopK:          20,
			TopM:          5,
			LatencyBudget: time.Second,
		},
		Budget: BudgetConfig{
			Model:              "gpt-4o-mini",
			Allocation:         types.DefaultAllocation(),
			DocumentBias:       1.1,
			EnableCompression:  false,
			CompressionTimeout: 3 * time.Second,
		},
		Conversation: ConversationConfig{
			RecentWindow:       5,
			SummarizeThreshold: 20,
			SummaryTimeout:     2 * time.Second,
			RelevanceFilter:    true,
		},
		Prompt: PromptConfig{
			FewShotTokenBudget: 512,
			EnableFewShot:      true,
		},
		Resilience: ResilienceConfig{
			Retry:   resilience.DefaultRetryPolicy(),
			Breaker: resilience.DefaultBreakerPolicy(),
		},
		Redis: RedisConfig{
			Enabled: false,
			Addr:    "localhost:6379",
		},
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			User:    "ragline",
			Name:    "ragline",
			SSLMode: "disable",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
