package model

import (
	"time"
)

// 发件箱消息状态
const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED" // 超过最大投递次数，需人工处理
)

// OutboxMessage 账本变更事件，与记账写入同一事务落库，由 OutboxSender 异步投递
type OutboxMessage struct {
	ID         int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	Topic      string     `gorm:"type:varchar(64);not null" json:"topic"`
	MessageKey string     `gorm:"type:varchar(64);not null" json:"message_key"` // 账户ID，同账户事件有序
	EventType  string     `gorm:"type:varchar(32);not null" json:"event_type"`
	Payload    string     `gorm:"type:text;not null" json:"payload"`
	Status     string     `gorm:"type:varchar(20);index;not null;default:PENDING" json:"status"`
	Attempts   int        `gorm:"not null;default:0" json:"attempts"`
	LastError  string     `gorm:"type:varchar(512)" json:"last_error,omitempty"`
	CreatedAt  time.Time  `gorm:"autoCreateTime" json:"created_at"`
	SentAt     *time.Time `json:"sent_at,omitempty"`
}

func (OutboxMessage) TableName() string {
	return "ledger_outbox"
}
