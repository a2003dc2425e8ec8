// Package ragline implements a retrieval-augmented answer pipeline:
// query processing, hybrid document+keyword retrieval, web retrieval,
// score fusion, optional reranking, token-budgeted context assembly,
// prompt building, and citation validation against the exact context
// that was sent to the model.
//
// Usage:
//
//	import "github.com/nhytera/ragline"
//
//	engine, err := ragline.New(cfg,
//	    ragline.WithEmbedder(embedder),
//	    ragline.WithVectorIndex(index),
//	    ragline.WithChunkSource(chunks),
//	    ragline.WithWebSearch(searcher),
//	    ragline.WithLLM(provider),
//	)
//	result, err := engine.RetrieveContext(ctx, ragline.Request{Query: "...", UserID: "u1"})
//	messages := engine.BuildPrompt(result)
//	answer, err := engine.Answer(ctx, ragline.Request{Query: "...", UserID: "u1"})
package ragline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nhytera/ragline/assemble"
	"github.com/nhytera/ragline/citation"
	"github.com/nhytera/ragline/config"
	"github.com/nhytera/ragline/conversation"
	"github.com/nhytera/ragline/fusion"
	"github.com/nhytera/ragline/internal/cache"
	"github.com/nhytera/ragline/internal/metrics"
	"github.com/nhytera/ragline/llm"
	"github.com/nhytera/ragline/prompt"
	"github.com/nhytera/ragline/query"
	"github.com/nhytera/ragline/rerank"
	"github.com/nhytera/ragline/retrieval"
	"github.com/nhytera/ragline/tokenizer"
	"github.com/nhytera/ragline/types"
	"github.com/nhytera/ragline/web"
)

// ConversationSource 会话历史的只读来源（如 store.ConversationStore）。
type ConversationSource interface {
	Turns(ctx context.Context, conversationID string) ([]types.Turn, error)
}

// Request 一次回答请求。
type Request struct {
	Query          string
	UserID         string
	ConversationID string
	Topic          *types.Topic
	TimeRange      *types.TimeRange
	Country        string
}

// Result 检索阶段的产物：处理后的查询、装好预算的上下文与会话摘要。
type Result struct {
	RequestID string
	Query     types.Query
	Context   types.AssembledContext
	Summary   types.ConversationSummary
}

// Answer 完整管线的最终产物。
type Answer struct {
	RequestID  string
	Text       string
	Context    types.AssembledContext
	Validation types.ValidationResult
}

// Engine 管线门面：一次构建，按请求编排各阶段。
type Engine struct {
	config    *config.Config
	logger    *zap.Logger
	tok       tokenizer.Tokenizer
	processor *query.Processor
	docs      *retrieval.DocumentRetriever
	keywords  *retrieval.KeywordRetriever
	combiner  *fusion.Combiner
	webr      *web.Retriever
	reranker  *rerank.Reranker
	assembler *assemble.Assembler
	conv      *conversation.Manager
	prompts   *prompt.Builder
	llm       llm.Provider
	convs     ConversationSource
	metrics   *metrics.Collector
	redis     *cache.Redis
}

// Option 配置 Engine 的外部协作方。
type Option func(*engineDeps)

type engineDeps struct {
	embedder     retrieval.EmbeddingProvider
	index        retrieval.VectorIndex
	chunks       retrieval.ChunkSource
	webSearch    web.SearchProvider
	llm          llm.Provider
	rerankScorer rerank.Scorer
	convs        ConversationSource
	registry     prometheus.Registerer
	logger       *zap.Logger
}

// WithEmbedder 设置向量化能力（文档检索必需）。
func WithEmbedder(e retrieval.EmbeddingProvider) Option {
	return func(d *engineDeps) { d.embedder = e }
}

// WithVectorIndex 设置最近邻索引能力（文档检索必需）。
func WithVectorIndex(v retrieval.VectorIndex) Option {
	return func(d *engineDeps) { d.index = v }
}

// WithChunkSource 设置关键词检索的块语料来源（必需）。
func WithChunkSource(c retrieval.ChunkSource) Option {
	return func(d *engineDeps) { d.chunks = c }
}

// WithWebSearch 设置 web 搜索能力。缺省时 web 分支永远为空。
func WithWebSearch(p web.SearchProvider) Option {
	return func(d *engineDeps) { d.webSearch = p }
}

// WithLLM 设置 LLM 能力，变体生成、摘要、压缩与最终回答都用它。
// 缺省时这些阶段按各自的降级路径工作，Answer 不可用。
func WithLLM(p llm.Provider) Option {
	return func(d *engineDeps) { d.llm = p }
}

// WithRerankScorer 设置重排模型。缺省时重排阶段跳过。
func WithRerankScorer(s rerank.Scorer) Option {
	return func(d *engineDeps) { d.rerankScorer = s }
}

// WithConversationSource 设置会话历史来源。
func WithConversationSource(c ConversationSource) Option {
	return func(d *engineDeps) { d.convs = c }
}

// WithMetricsRegistry 设置 prometheus registry，缺省用默认 registry。
func WithMetricsRegistry(r prometheus.Registerer) Option {
	return func(d *engineDeps) { d.registry = r }
}

// WithLogger 设置 zap logger。
func WithLogger(l *zap.Logger) Option {
	return func(d *engineDeps) { d.logger = l }
}

// New 构建管线引擎。
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		loaded, err := config.NewLoader().Load()
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	var deps engineDeps
	for _, opt := range opts {
		opt(&deps)
	}
	if deps.embedder == nil || deps.index == nil {
		return nil, types.NewError(types.ErrInvalidConfig, "embedder and vector index are required")
	}
	if deps.chunks == nil {
		return nil, types.NewError(types.ErrInvalidConfig, "chunk source is required")
	}

	logger := deps.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	tokenizer.RegisterKnownModels()
	tok := tokenizer.ForModelOrEstimator(cfg.Budget.Model)

	// LLM 辅助调用（变体/摘要/压缩）统一走弹性包装
	var resilientLLM llm.Provider
	if deps.llm != nil {
		resilientLLM = llm.NewResilientProvider(deps.llm, "pipeline-llm",
			30*time.Second, cfg.Resilience.Retry, cfg.Resilience.Breaker, logger)
	}

	collector := metrics.NewCollector("ragline", deps.registry, logger)

	// 缓存后端：启用 Redis 时向量/变体/web 结果缓存跨副本共享，
	// 否则退回进程内存
	caches := cache.Backends{Recorder: collector}
	var redisCache *cache.Redis
	if cfg.Redis.Enabled {
		rc, err := cache.NewRedis(cache.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, logger)
		if err != nil {
			return nil, types.NewError(types.ErrProviderError, "connecting redis cache backend").
				WithProvider("redis").WithCause(err)
		}
		redisCache = rc
		caches.Redis = rc
	}

	e := &Engine{
		config:    cfg,
		logger:    logger.With(zap.String("component", "engine")),
		tok:       tok,
		processor: query.NewProcessor(cfg.Query, resilientLLM, caches, logger),
		docs:      retrieval.NewDocumentRetriever(cfg.Retrieval, deps.embedder, deps.index, cfg.Resilience, caches, logger),
		keywords:  retrieval.NewKeywordRetriever(cfg.Retrieval, deps.chunks, logger),
		combiner:  fusion.NewCombiner(cfg.Fusion, logger),
		reranker:  rerank.NewReranker(cfg.Rerank, deps.rerankScorer, logger),
		assembler: assemble.NewAssembler(cfg.Budget, tok, resilientLLM, logger),
		conv:      conversation.NewManager(cfg.Conversation, resilientLLM, logger),
		prompts:   prompt.NewBuilder(cfg.Prompt, tok, logger),
		llm:       resilientLLM,
		convs:     deps.convs,
		metrics:   collector,
		redis:     redisCache,
	}
	if deps.webSearch != nil {
		e.webr = web.NewRetriever(cfg.Web, deps.webSearch, cfg.Resilience, caches, logger)
	}
	return e, nil
}

// Close 释放引擎持有的外部连接（如 redis 缓存后端）。
func (e *Engine) Close() error {
	if e.redis != nil {
		return e.redis.Close()
	}
	return nil
}

// RetrieveContext 执行检索与装配：查询处理 → 文档/关键词并发检索 →
// 融合（与 web 检索并发）→ 可选重排 → 预算装配。
// 单个分支失败降级为空并告警；全部分支失败才硬失败。
func (e *Engine) RetrieveContext(ctx context.Context, req Request) (*Result, error) {
	requestID := uuid.NewString()
	logger := e.logger.With(zap.String("request_id", requestID))

	q, err := e.processor.Process(ctx, types.Query{
		Text:      req.Query,
		UserID:    req.UserID,
		Topic:     req.Topic,
		TimeRange: req.TimeRange,
		Country:   req.Country,
	})
	if err != nil {
		return nil, err
	}
	filter := retrieval.Filter{UserID: req.UserID}
	if req.Topic != nil {
		filter.TopicID = req.Topic.ID
	}

	var (
		fused   []types.RankedItem
		webOut  []types.RankedItem
		summary types.ConversationSummary
		docErr  error
		webErr  error
	)

	g, gctx := errgroup.WithContext(ctx)

	// 分支一：文档+关键词并发检索，随后融合与可选重排。
	// 融合与 web 检索（分支二）天然并发。
	g.Go(func() error {
		var semantic, keyword []types.RetrievedItem
		var semErr, kwErr error

		rg, rctx := errgroup.WithContext(gctx)
		rg.Go(func() error {
			start := time.Now()
			semantic, semErr = e.docs.Retrieve(rctx, q, filter)
			e.metrics.ObserveRetrieval("semantic", outcome(semErr), len(semantic), time.Since(start))
			return nil
		})
		rg.Go(func() error {
			start := time.Now()
			keyword, kwErr = e.keywords.Retrieve(rctx, q, filter)
			e.metrics.ObserveRetrieval("keyword", outcome(kwErr), len(keyword), time.Since(start))
			return nil
		})
		_ = rg.Wait()

		if semErr != nil {
			logger.Warn("semantic retrieval degraded to empty", zap.Error(semErr))
		}
		if kwErr != nil {
			logger.Warn("keyword retrieval degraded to empty", zap.Error(kwErr))
		}
		if semErr != nil && kwErr != nil {
			docErr = semErr
			return nil
		}

		start := time.Now()
		fused = e.combiner.Fuse(semantic, keyword, q.UserID)
		e.metrics.ObserveFusion(time.Since(start))

		var skipped bool
		fused, skipped = e.reranker.Rerank(gctx, q.Text, fused)
		if skipped && e.config.Rerank.Enabled {
			e.metrics.ObserveRerankSkip("timeout_or_error")
		}
		return nil
	})

	// 分支二：web 检索。
	g.Go(func() error {
		if e.webr == nil {
			return nil
		}
		start := time.Now()
		items, err := e.webr.Retrieve(gctx, q)
		e.metrics.ObserveRetrieval("web", outcome(err), len(items), time.Since(start))
		if err != nil {
			webErr = err
			logger.Warn("web retrieval degraded to document-only context", zap.Error(err))
			return nil
		}
		webOut = rankWebItems(items)
		return nil
	})

	// 分支三：会话历史准备，与检索独立并发。
	g.Go(func() error {
		if e.convs == nil || req.ConversationID == "" {
			return nil
		}
		turns, err := e.convs.Turns(gctx, req.ConversationID)
		if err != nil {
			logger.Warn("conversation history unavailable", zap.Error(err))
			return nil
		}
		var degraded bool
		summary, degraded = e.conv.Prepare(gctx, turns, q)
		if degraded {
			e.metrics.ObserveSummaryFallback()
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, types.NewError(types.ErrCancelled, "pipeline cancelled").WithCause(err)
	}

	// 所有配置的检索分支都失败且没有任何可用上下文才硬失败；
	// 某个分支成功但为空时照常继续，让模型自己说明没有来源
	if len(fused) == 0 && len(webOut) == 0 && docErr != nil && (e.webr == nil || webErr != nil) {
		return nil, types.NewError(types.ErrInsufficientContext,
			"insufficient information to answer").WithCause(firstErr(docErr, webErr))
	}

	systemText := e.prompts.SystemPrompt(q)
	assembled, err := e.assembler.Assemble(ctx, requestID, fused, webOut, systemText, q.Text)
	if err != nil {
		return nil, err
	}
	e.metrics.ObserveAssembly(assembled.Tokens.Document, assembled.Tokens.Web,
		assembled.DroppedItems, anyTruncated(assembled))
	if assembled.Compressed {
		e.metrics.ObserveCompression()
	}

	logger.Info("context retrieved",
		zap.String("query_type", string(q.Type)),
		zap.Int("documents", len(assembled.Documents)),
		zap.Int("web", len(assembled.Web)),
		zap.Int("total_tokens", assembled.Tokens.Total()))

	return &Result{
		RequestID: requestID,
		Query:     q,
		Context:   assembled,
		Summary:   summary,
	}, nil
}

// BuildPrompt 把检索结果组装为最终消息集。从不调用 LLM。
func (e *Engine) BuildPrompt(res *Result) []llm.Message {
	return e.prompts.Build(res.Query, res.Context, res.Summary)
}

// ValidateCitations 对照实际发送的上下文验证答案中的引用。
// 只做诊断，从不阻断答案。
func (e *Engine) ValidateCitations(answerText string, assembled types.AssembledContext) types.ValidationResult {
	start := time.Now()
	result := citation.Validate(answerText, assembled)
	e.metrics.ObserveCitations(len(result.Citations), result.UnmatchedCount)
	e.logger.Debug("citations validated",
		zap.Int("matched", result.MatchedCount),
		zap.Int("unmatched", result.UnmatchedCount),
		zap.Duration("elapsed", time.Since(start)))
	return result
}

// Answer 跑完整管线：检索 → 提示词 → LLM 回答（流式响应完整缓冲
// 后再验证）→ 引用验证。
func (e *Engine) Answer(ctx context.Context, req Request) (*Answer, error) {
	if e.llm == nil {
		return nil, types.NewError(types.ErrInvalidConfig, "no llm provider configured")
	}

	res, err := e.RetrieveContext(ctx, req)
	if err != nil {
		return nil, err
	}

	messages := e.BuildPrompt(res)
	text, err := e.llm.Complete(ctx, messages, llm.CompleteOptions{
		Model:     e.config.Budget.Model,
		MaxTokens: res.Context.Budget.ResponseReserve,
	})
	if err != nil {
		return nil, err
	}

	return &Answer{
		RequestID:  res.RequestID,
		Text:       text,
		Context:    res.Context,
		Validation: e.ValidateCitations(text, res.Context),
	}, nil
}

// rankWebItems 把 web 检索结果抬为 RankedItem：混合分已在 0–1 区间，
// 直接作为 combinedScore 参与装配排序。
func rankWebItems(items []types.RetrievedItem) []types.RankedItem {
	ranked := make([]types.RankedItem, len(items))
	for i, it := range items {
		ranked[i] = types.RankedItem{
			RetrievedItem:   it,
			NormalizedScore: it.RawScore,
			CombinedScore:   it.RawScore,
			Provenance:      []types.RetrieverKind{types.RetrieverWeb},
		}
	}
	return ranked
}

func anyTruncated(a types.AssembledContext) bool {
	for _, it := range a.Sources() {
		if it.Truncated {
			return true
		}
	}
	return false
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return "error"
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
