package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ============================================================================
// 账户类型常量
// ============================================================================

const (
	AccountTypeMain      = "main"      // 主账户（未分配收入）
	AccountTypeOperating = "operating" // 运营
	AccountTypeSavings   = "savings"   // 储蓄
	AccountTypeOther     = "other"     // 其他
)

// ValidAccountType 账户类型是否合法
func ValidAccountType(t string) bool {
	switch t {
	case AccountTypeMain, AccountTypeOperating, AccountTypeSavings, AccountTypeOther:
		return true
	}
	return false
}

// Account 收入账户表
//
// 【不变量】
// 1. 有且仅有一个 IsMain = true 的账户，且永不删除
// 2. Balance 始终 >= 0
// 3. Balance 等于该账户全部流水的带符号求和（入账 +，出账 -），是流水的缓存值
type Account struct {
	ID          string          `gorm:"type:varchar(32);primaryKey" json:"id"`
	Name        string          `gorm:"type:varchar(128);not null" json:"name"`
	Details     string          `gorm:"type:varchar(512)" json:"details"`
	AccountType string          `gorm:"type:varchar(20);not null" json:"accountType"`
	IsMain      bool            `gorm:"not null;default:false;index" json:"isMain"`
	Balance     decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"balance"`
	Version     int             `gorm:"not null;default:0" json:"version"` // 乐观锁版本号
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updatedAt"`
	DeletedAt   gorm.DeletedAt  `gorm:"index" json:"-"` // 软删除：历史流水仍然引用该账户
}

func (Account) TableName() string {
	return "account"
}
