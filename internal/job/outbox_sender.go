package job

import (
	"context"
	"log/slog"
	"time"

	"revledger/internal/config"
	"revledger/internal/infrastructure/mq"
	"revledger/internal/model"
	"revledger/internal/repository"

	"gorm.io/gorm"
)

// OutboxSender 轮询 outbox 表，把账本变更事件投递给 Publisher（Kafka / RabbitMQ / 进程内 Hub）
//
// 投递语义为至少一次：发送成功但标记失败时，下一轮会重复投递，消费方按事件内容去重。
type OutboxSender struct {
	outboxRepo    *repository.OutboxRepository
	publisher     mq.Publisher
	log           *slog.Logger
	interval      time.Duration
	batchSize     int
	maxRetryCount int
}

func NewOutboxSender(db *gorm.DB, publisher mq.Publisher, cfg *config.JobsConfig) *OutboxSender {
	return &OutboxSender{
		outboxRepo:    repository.NewOutboxRepository(db),
		publisher:     publisher,
		log:           slog.Default().With("component", "outbox"),
		interval:      cfg.OutboxInterval,
		batchSize:     cfg.OutboxBatchSize,
		maxRetryCount: cfg.MaxRetryCount,
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	s.log.Info("消息发送任务启动", "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("任务退出")
			return
		case <-ticker.C:
			s.ProcessPendingMessages(ctx)
		}
	}
}

// ProcessPendingMessages 投递一批待发送消息，返回成功条数
func (s *OutboxSender) ProcessPendingMessages(ctx context.Context) int {
	messages, err := s.outboxRepo.Pending(ctx, s.batchSize)
	if err != nil {
		s.log.Error("查询消息失败", "error", err)
		return 0
	}

	sent := make([]int64, 0, len(messages))
	for _, msg := range messages {
		if s.sendMessage(ctx, msg) {
			sent = append(sent, msg.ID)
		}
	}
	if err := s.outboxRepo.MarkSent(ctx, sent...); err != nil {
		// 下一轮会重复投递
		s.log.Error("更新消息状态失败", "count", len(sent), "error", err)
		return 0
	}
	return len(sent)
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) bool {
	err := s.publisher.Publish(ctx, msg.Topic, msg.MessageKey, []byte(msg.Payload))
	if err == nil {
		s.log.Debug("消息发送成功", "id", msg.ID, "topic", msg.Topic, "event_type", msg.EventType)
		return true
	}

	giveUp := msg.Attempts+1 >= s.maxRetryCount
	if recErr := s.outboxRepo.RecordFailure(ctx, msg.ID, err, giveUp); recErr != nil {
		s.log.Error("记录投递失败出错", "id", msg.ID, "error", recErr)
		return false
	}
	if giveUp {
		s.log.Error("消息超过最大重试次数，标记为失败", "id", msg.ID, "topic", msg.Topic, "error", err)
	} else {
		s.log.Warn("消息发送失败", "id", msg.ID, "attempts", msg.Attempts+1, "error", err)
	}
	return false
}
