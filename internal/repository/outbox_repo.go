package repository

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"revledger/internal/event"
	"revledger/internal/model"

	"gorm.io/gorm"
)

// last_error 列宽（字符数）
const maxLastErrorLen = 512

type OutboxRepository struct {
	db *gorm.DB
}

func NewOutboxRepository(db *gorm.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// Enqueue 在业务事务内写入变更事件，与账本写入同时提交或同时回滚
func (r *OutboxRepository) Enqueue(ctx context.Context, tx *gorm.DB, topic string, events ...event.ChangeEvent) error {
	if len(events) == 0 {
		return nil
	}
	if tx == nil {
		tx = r.db
	}
	msgs := make([]*model.OutboxMessage, 0, len(events))
	for _, e := range events {
		payload, err := e.Marshal()
		if err != nil {
			return fmt.Errorf("序列化事件失败: %w", err)
		}
		msgs = append(msgs, &model.OutboxMessage{
			Topic:      topic,
			MessageKey: e.Key(),
			EventType:  e.Type,
			Payload:    string(payload),
			Status:     model.OutboxStatusPending,
		})
	}
	return tx.WithContext(ctx).Create(&msgs).Error
}

// Pending 按写入顺序读取待投递消息
func (r *OutboxRepository) Pending(ctx context.Context, limit int) ([]*model.OutboxMessage, error) {
	var messages []*model.OutboxMessage
	err := r.db.WithContext(ctx).
		Where("status = ?", model.OutboxStatusPending).
		Order("id ASC").
		Limit(limit).
		Find(&messages).Error
	return messages, err
}

// MarkSent 批量标记已投递
func (r *OutboxRepository) MarkSent(ctx context.Context, ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&model.OutboxMessage{}).
		Where("id IN ? AND status = ?", ids, model.OutboxStatusPending).
		Updates(map[string]any{
			"status":     model.OutboxStatusSent,
			"sent_at":    time.Now(),
			"last_error": "",
		}).Error
}

// RecordFailure 记录一次投递失败；giveUp 为 true 时转为 FAILED，不再自动重试
func (r *OutboxRepository) RecordFailure(ctx context.Context, id int64, cause error, giveUp bool) error {
	updates := map[string]any{
		"attempts":   gorm.Expr("attempts + 1"),
		"last_error": truncateRunes(cause.Error(), maxLastErrorLen),
	}
	if giveUp {
		updates["status"] = model.OutboxStatusFailed
	}
	return r.db.WithContext(ctx).
		Model(&model.OutboxMessage{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// Requeue 把 FAILED 消息放回待投递队列，返回影响条数
func (r *OutboxRepository) Requeue(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&model.OutboxMessage{}).
		Where("status = ?", model.OutboxStatusFailed).
		Updates(map[string]any{"status": model.OutboxStatusPending, "attempts": 0})
	return res.RowsAffected, res.Error
}

// CountByStatus 指定状态的消息数量
func (r *OutboxRepository) CountByStatus(ctx context.Context, status string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.OutboxMessage{}).Where("status = ?", status).Count(&n).Error
	return n, err
}

// truncateRunes 按字符截断，不会切开多字节字符
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
