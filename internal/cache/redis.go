package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisConfig Redis 缓存配置。
type RedisConfig struct {
	// 地址
	Addr string `yaml:"addr" json:"addr"`
	// 密码
	Password string `yaml:"password" json:"password"`
	// 数据库编号
	DB int `yaml:"db" json:"db"`
	// 默认过期时间
	DefaultTTL time.Duration `yaml:"default_ttl" json:"default_ttl"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" json:"pool_size"`
}

// DefaultRedisConfig 返回默认配置。
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:       "localhost:6379",
		DefaultTTL: 5 * time.Minute,
		PoolSize:   10,
	}
}

// Redis 是跨进程共享的缓存后端，用于多副本部署时共享
// 查询向量与 RAG 上下文缓存。
type Redis struct {
	client *redis.Client
	config RedisConfig
	logger *zap.Logger
}

// NewRedis 创建 Redis 缓存并验证连通性。
func NewRedis(config RedisConfig, logger *zap.Logger) (*Redis, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
		PoolSize: config.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	logger.Info("redis cache connected", zap.String("addr", config.Addr))
	return &Redis{client: client, config: config, logger: logger}, nil
}

// GetJSON 读取并反序列化缓存值到 dest。
func (r *Redis) GetJSON(ctx context.Context, key string, dest any) (bool, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("redis unmarshal %s: %w", key, err)
	}
	return true, nil
}

// SetJSON 序列化并写入缓存值；ttl 为 0 时使用默认 TTL。
func (r *Redis) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = r.config.DefaultTTL
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("redis marshal %s: %w", key, err)
	}
	return r.client.Set(ctx, key, data, ttl).Err()
}

// Invalidate 显式删除键。
func (r *Redis) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}

// InvalidatePrefix 按前缀扫描删除（文档更新触发整组失效）。
func (r *Redis) InvalidatePrefix(ctx context.Context, prefix string) (int, error) {
	var deleted int
	iter := r.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
			return deleted, err
		}
		deleted++
	}
	if err := iter.Err(); err != nil {
		return deleted, err
	}
	r.logger.Debug("cache prefix invalidated",
		zap.String("prefix", prefix),
		zap.Int("deleted", deleted))
	return deleted, nil
}

// Close 关闭连接。
func (r *Redis) Close() error {
	return r.client.Close()
}

// RedisStore 把 Redis 适配成 Flight 的类型化后端，值经 JSON 往返。
// 后端故障只降级为未命中，从不向上传播。
type RedisStore[T any] struct {
	redis *Redis
}

// NewRedisStore 创建类型化的 Redis 后端。
func NewRedisStore[T any](r *Redis) *RedisStore[T] {
	return &RedisStore[T]{redis: r}
}

// Get 读取并反序列化缓存值，后端错误按未命中处理。
func (s *RedisStore[T]) Get(ctx context.Context, key string) (any, bool) {
	var v T
	ok, err := s.redis.GetJSON(ctx, key, &v)
	if err != nil {
		s.redis.logger.Warn("redis cache read failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	return v, true
}

// Set 序列化并写入缓存值，写失败只记 warning。
func (s *RedisStore[T]) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	if err := s.redis.SetJSON(ctx, key, value, ttl); err != nil {
		s.redis.logger.Warn("redis cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// Invalidate 显式删除键。
func (s *RedisStore[T]) Invalidate(ctx context.Context, key string) {
	if err := s.redis.Invalidate(ctx, key); err != nil {
		s.redis.logger.Warn("redis cache invalidate failed", zap.String("key", key), zap.Error(err))
	}
}
