package model

import (
	"time"

	"revledger/pkg/amount"

	"github.com/shopspring/decimal"
)

// ============================================================================
// 流水方向常量
// ============================================================================

const (
	KindInflow  = "inflow"  // 入账
	KindOutflow = "outflow" // 出账
)

// ValidKind 流水方向是否合法
func ValidKind(kind string) bool {
	return kind == KindInflow || kind == KindOutflow
}

// ============================================================================
// 账户流水实体
// ============================================================================

// Transaction 账户流水表
// 记录账户的每一笔资金变动，是余额的唯一事实来源
//
// 【重要】流水表设计原则：
// 1. 只追加，不修改；更正通过新的冲正流水完成
// 2. 分配、转账产生两条流水，共享 LinkGroupID，金额相等、方向相反，不可单独删除
// 3. 只有未配对的直接流水允许删除，删除后重新推导账户余额
type Transaction struct {
	ID          string          `gorm:"type:varchar(32);primaryKey" json:"id"`
	Title       string          `gorm:"type:varchar(256);not null" json:"title"`
	Kind        string          `gorm:"type:varchar(10);not null" json:"kind"`
	Amount      decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"` // 恒为正数，方向由 Kind 决定
	AccountID   string          `gorm:"type:varchar(32);not null;index:idx_account_occurred,priority:1" json:"accountId"`
	OccurredAt  time.Time       `gorm:"not null;index:idx_account_occurred,priority:2;index" json:"occurredAt"`
	Notes       string          `gorm:"type:varchar(1024)" json:"notes,omitempty"`
	LinkGroupID *string         `gorm:"type:varchar(32);index" json:"linkGroupId,omitempty"`
	CreatedBy   string          `gorm:"type:varchar(64)" json:"createdBy"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"createdAt"`

	Account *Account `gorm:"foreignKey:AccountID;constraint:OnUpdate:RESTRICT,OnDelete:RESTRICT" json:"-"`
}

func (Transaction) TableName() string {
	return "ledger_transaction"
}

// Signed 带符号金额：入账为正，出账为负
func (t *Transaction) Signed() decimal.Decimal {
	return amount.Signed(t.Kind == KindInflow, t.Amount)
}

// Paired 是否为分配/转账的一条腿
func (t *Transaction) Paired() bool {
	return t.LinkGroupID != nil && *t.LinkGroupID != ""
}
