// Package config 提供 ragline 的统一配置加载，
// 支持 YAML 文件 + 环境变量覆盖。
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("ragline.yaml").
//	    WithEnvPrefix("RAGLINE").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
package config

import (
	"time"

	"github.com/nhytera/ragline/internal/resilience"
	"github.com/nhytera/ragline/types"
)

// Config 是 ragline 的完整配置结构。
type Config struct {
	// Query 查询处理配置
	Query QueryConfig `yaml:"query" env:"QUERY"`

	// Retrieval 文档/关键词检索配置
	Retrieval RetrievalConfig `yaml:"retrieval" env:"RETRIEVAL"`

	// Fusion 混合融合配置
	Fusion FusionConfig `yaml:"fusion" env:"FUSION"`

	// Web web 检索配置
	Web WebConfig `yaml:"web" env:"WEB"`

	// Rerank 重排配置
	Rerank RerankConfig `yaml:"rerank" env:"RERANK"`

	// Budget 上下文预算配置
	Budget BudgetConfig `yaml:"budget" env:"BUDGET"`

	// Conversation 会话管理配置
	Conversation ConversationConfig `yaml:"conversation" env:"CONVERSATION"`

	// Prompt 提示词构建配置
	Prompt PromptConfig `yaml:"prompt" env:"PROMPT"`

	// Resilience 外部调用重试/熔断配置
	Resilience ResilienceConfig `yaml:"resilience" env:"RESILIENCE"`

	// Redis 可选的共享缓存后端
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Database 会话历史只读库
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`
}

// QueryConfig 查询处理器配置。
type QueryConfig struct {
	// 最大 LLM 变体数
	MaxVariants int `yaml:"max_variants" env:"MAX_VARIANTS"`
	// 变体缓存 TTL
	VariantCacheTTL time.Duration `yaml:"variant_cache_ttl" env:"VARIANT_CACHE_TTL"`
	// 是否用 LLM 生成变体（关闭时退回规则改写）
	UseLLMVariants bool `yaml:"use_llm_variants" env:"USE_LLM_VARIANTS"`
	// 变体生成调用超时
	VariantTimeout time.Duration `yaml:"variant_timeout" env:"VARIANT_TIMEOUT"`
}

// RetrievalConfig 文档/关键词检索配置。
type RetrievalConfig struct {
	// 每个变体取回的结果数
	TopK int `yaml:"top_k" env:"TOP_K"`
	// 向量相似度基准阈值，按问题类型自适应调整
	BaseThreshold float64 `yaml:"base_threshold" env:"BASE_THRESHOLD"`
	// BM25 参数
	BM25K1 float64 `yaml:"bm25_k1" env:"BM25_K1"`
	BM25B  float64 `yaml:"bm25_b" env:"BM25_B"`
	// 向量检索调用超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 查询向量缓存 TTL
	EmbeddingCacheTTL time.Duration `yaml:"embedding_cache_ttl" env:"EMBEDDING_CACHE_TTL"`
}

// FusionConfig 混合融合配置。
type FusionConfig struct {
	// 语义/关键词权重，二者之和应为 1
	SemanticWeight float64 `yaml:"semantic_weight" env:"SEMANTIC_WEIGHT"`
	KeywordWeight  float64 `yaml:"keyword_weight" env:"KEYWORD_WEIGHT"`
	// 近重复折叠的 Jaccard 阈值
	JaccardThreshold float64 `yaml:"jaccard_threshold" env:"JACCARD_THRESHOLD"`
	// MMR 多样性过滤
	EnableMMR bool    `yaml:"enable_mmr" env:"ENABLE_MMR"`
	MMRLambda float64 `yaml:"mmr_lambda" env:"MMR_LAMBDA"`
	// A/B 权重变体（键为变体名），按用户 id 确定性分配
	ABVariants map[string]WeightPair `yaml:"ab_variants" env:"-"`
}

// WeightPair 一组语义/关键词权重。
type WeightPair struct {
	Semantic float64 `yaml:"semantic" json:"semantic"`
	Keyword  float64 `yaml:"keyword" json:"keyword"`
}

// WebConfig web 检索配置。
type WebConfig struct {
	// 最多取回的 web 结果数
	MaxResults int `yaml:"max_results" env:"MAX_RESULTS"`
	// 单次搜索超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 最终分的混合权重：provider 相关性 / 内容质量 / 域名权威度
	RelevanceWeight float64 `yaml:"relevance_weight" env:"RELEVANCE_WEIGHT"`
	QualityWeight   float64 `yaml:"quality_weight" env:"QUALITY_WEIGHT"`
	AuthorityWeight float64 `yaml:"authority_weight" env:"AUTHORITY_WEIGHT"`
	// 内容近重复折叠的 Jaccard 阈值
	ContentDedupThreshold float64 `yaml:"content_dedup_threshold" env:"CONTENT_DEDUP_THRESHOLD"`
	// 每秒允许的 provider 调用数
	RateLimit float64 `yaml:"rate_limit" env:"RATE_LIMIT"`
	// 结果缓存 TTL
	CacheTTL time.Duration `yaml:"cache_ttl" env:"CACHE_TTL"`
}

// RerankConfig 重排配置。
type RerankConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 进入重排的候选数与输出数
	TopK int `yaml:"top_k" env:"TOP_K"`
	TopM int `yaml:"top_m" env:"TOP_M"`
	// 硬延迟预算，超时直接跳过该阶段
	LatencyBudget time.Duration `yaml:"latency_budget" env:"LATENCY_BUDGET"`
}

// BudgetConfig 上下文预算配置。
type BudgetConfig struct {
	// 目标模型（决定分词器与上下文窗口）
	Model string `yaml:"model" env:"MODEL"`
	// 模型上下文窗口覆盖（0 表示用分词器默认值）
	ModelLimit int `yaml:"model_limit" env:"MODEL_LIMIT"`
	// 各类别比例分配，之和必须 ≤ 1.0
	Allocation types.Allocation `yaml:"allocation" env:"-"`
	// 文档来源的优先加权（文档略高于 web）
	DocumentBias float64 `yaml:"document_bias" env:"DOCUMENT_BIAS"`
	// 低优先级条目的 LLM 压缩（尽力而为）
	EnableCompression  bool          `yaml:"enable_compression" env:"ENABLE_COMPRESSION"`
	CompressionTimeout time.Duration `yaml:"compression_timeout" env:"COMPRESSION_TIMEOUT"`
}

// ConversationConfig 会话管理配置。
type ConversationConfig struct {
	// 逐字保留的最近轮数
	RecentWindow int `yaml:"recent_window" env:"RECENT_WINDOW"`
	// 触发摘要的总轮数阈值
	SummarizeThreshold int `yaml:"summarize_threshold" env:"SUMMARIZE_THRESHOLD"`
	// 摘要 LLM 调用的时间上限
	SummaryTimeout time.Duration `yaml:"summary_timeout" env:"SUMMARY_TIMEOUT"`
	// 按与当前查询的相关性过滤保留历史
	RelevanceFilter bool `yaml:"relevance_filter" env:"RELEVANCE_FILTER"`
}

// PromptConfig 提示词构建配置。
type PromptConfig struct {
	// few-shot 示例的 token 子预算
	FewShotTokenBudget int `yaml:"few_shot_token_budget" env:"FEW_SHOT_TOKEN_BUDGET"`
	// 是否启用 few-shot 示例
	EnableFewShot bool `yaml:"enable_few_shot" env:"ENABLE_FEW_SHOT"`
}

// ResilienceConfig 外部调用的重试与熔断策略。
type ResilienceConfig struct {
	Retry   resilience.RetryPolicy   `yaml:"retry" env:"-"`
	Breaker resilience.BreakerPolicy `yaml:"breaker" env:"-"`
}

// RedisConfig 可选 Redis 缓存后端。
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled" env:"ENABLED"`
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
}

// DatabaseConfig 会话历史只读库配置。
type DatabaseConfig struct {
	// 主机
	Host string `yaml:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名
	Name string `yaml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
}

// LogConfig 日志配置。
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
}
