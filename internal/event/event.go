package event

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// 事件类型
const (
	TypeAccountCreated     = "account.created"
	TypeAccountUpdated     = "account.updated"
	TypeAccountDeleted     = "account.deleted"
	TypeTransactionPosted  = "transaction.posted"
	TypeTransactionDeleted = "transaction.deleted"
)

// ChangeEvent 账本变更事件，结构化描述"哪个账户/流水发生了什么"，
// 取代前端的无差别"刷新"信号
type ChangeEvent struct {
	Type          string           `json:"type"`
	AccountID     string           `json:"accountId"`
	TransactionID string           `json:"transactionId,omitempty"`
	LinkGroupID   string           `json:"linkGroupId,omitempty"`
	Kind          string           `json:"kind,omitempty"`
	Amount        *decimal.Decimal `json:"amount,omitempty"`
	Balance       *decimal.Decimal `json:"balance,omitempty"`
	Actor         string           `json:"actor"`
	OccurredAt    time.Time        `json:"occurredAt"`
}

// Key 消息 key：同一账户的事件保持有序
func (e ChangeEvent) Key() string {
	return e.AccountID
}

func (e ChangeEvent) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

func Unmarshal(data []byte) (ChangeEvent, error) {
	var e ChangeEvent
	err := json.Unmarshal(data, &e)
	return e, err
}
