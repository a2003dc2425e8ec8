// Package store 提供会话历史的只读适配。聊天历史由外部服务
// 拥有与写入，本管线只按会话读取轮次供摘要与提示词使用。
package store

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/nhytera/ragline/config"
	"github.com/nhytera/ragline/types"
)

// messageRecord 映射外部服务拥有的消息表。
type messageRecord struct {
	ID             string    `gorm:"column:id;primaryKey"`
	ConversationID string    `gorm:"column:conversation_id"`
	Role           string    `gorm:"column:role"`
	Content        string    `gorm:"column:content"`
	CreatedAt      time.Time `gorm:"column:created_at"`
}

func (messageRecord) TableName() string { return "conversation_messages" }

// ConversationStore 只读会话存取。
type ConversationStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open 按配置连接会话库。
func Open(cfg config.DatabaseConfig, logger *zap.Logger) (*ConversationStore, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, types.NewError(types.ErrProviderError, "opening conversation store").WithCause(err)
	}
	return NewConversationStore(db, logger), nil
}

// NewConversationStore 用已有连接创建存取器（测试注入用）。
func NewConversationStore(db *gorm.DB, logger *zap.Logger) *ConversationStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConversationStore{
		db:     db,
		logger: logger.With(zap.String("component", "conversation_store")),
	}
}

// Turns 按时间顺序读取一个会话的全部轮次。
func (s *ConversationStore) Turns(ctx context.Context, conversationID string) ([]types.Turn, error) {
	var records []messageRecord
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Find(&records).Error
	if err != nil {
		return nil, types.NewError(types.ErrProviderError, "loading conversation turns").
			WithProvider("conversation_store").WithRetryable(true).WithCause(err)
	}

	turns := make([]types.Turn, len(records))
	for i, r := range records {
		turns[i] = types.Turn{Role: r.Role, Content: r.Content}
	}
	s.logger.Debug("conversation loaded",
		zap.String("conversation_id", conversationID), zap.Int("turns", len(turns)))
	return turns, nil
}
