package repository

import (
	"context"
	"errors"
	"strings"

	"revledger/internal/errs"
	"revledger/internal/model"
	"revledger/pkg/amount"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AccountRepository 账户存储
// 余额写入原语（AdjustBalance）只由 LedgerService 在事务内调用
type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// AccountUpdate 账户可修改字段，nil 表示不修改
type AccountUpdate struct {
	Name        *string
	Details     *string
	AccountType *string
	IsMain      *bool
}

func (r *AccountRepository) conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx)
}

func (r *AccountRepository) Create(ctx context.Context, tx *gorm.DB, account *model.Account) error {
	return r.conn(ctx, tx).Create(account).Error
}

func (r *AccountRepository) first(query *gorm.DB, what string) (*model.Account, error) {
	var account model.Account
	err := query.First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.NotFound("account", what)
		}
		return nil, err
	}
	return &account, nil
}

func (r *AccountRepository) GetByID(ctx context.Context, tx *gorm.DB, id string) (*model.Account, error) {
	return r.first(r.conn(ctx, tx).Where("id = ?", id), id)
}

// GetForUpdate 行锁读取（SELECT ... FOR UPDATE），必须在事务内调用
func (r *AccountRepository) GetForUpdate(ctx context.Context, tx *gorm.DB, id string) (*model.Account, error) {
	return r.first(tx.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id), id)
}

func (r *AccountRepository) GetMain(ctx context.Context, tx *gorm.DB) (*model.Account, error) {
	return r.first(r.conn(ctx, tx).Where("is_main = ?", true), "main")
}

func (r *AccountRepository) GetMainForUpdate(ctx context.Context, tx *gorm.DB) (*model.Account, error) {
	return r.first(tx.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).Where("is_main = ?", true), "main")
}

// List 主账户在前，其余按创建顺序
func (r *AccountRepository) List(ctx context.Context, tx *gorm.DB) ([]*model.Account, error) {
	var accounts []*model.Account
	err := r.conn(ctx, tx).
		Order("is_main DESC").
		Order("created_at ASC").
		Order("id ASC").
		Find(&accounts).Error
	return accounts, err
}

// Update 修改账户的展示字段
//
// 主账户标识不可变：不能把主账户改为普通账户，也不能把普通账户升级为主账户
func (r *AccountRepository) Update(ctx context.Context, tx *gorm.DB, account *model.Account, upd AccountUpdate) error {
	if upd.IsMain != nil && *upd.IsMain != account.IsMain {
		return errs.ErrMainAccountImmutable
	}

	updates := map[string]interface{}{}
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return errs.New(errs.KindInvalidRequest, "account name cannot be empty")
		}
		updates["name"] = name
	}
	if upd.Details != nil {
		updates["details"] = *upd.Details
	}
	if upd.AccountType != nil && *upd.AccountType != account.AccountType {
		if !model.ValidAccountType(*upd.AccountType) {
			return errs.New(errs.KindInvalidRequest, "unknown account type %q", *upd.AccountType)
		}
		if account.IsMain || *upd.AccountType == model.AccountTypeMain {
			return errs.ErrMainAccountImmutable
		}
		updates["account_type"] = *upd.AccountType
	}
	if len(updates) == 0 {
		return nil
	}
	updates["version"] = gorm.Expr("version + 1")

	result := r.conn(ctx, tx).
		Model(&model.Account{}).
		Where("id = ?", account.ID).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errs.NotFound("account", account.ID)
	}

	if v, ok := updates["name"].(string); ok {
		account.Name = v
	}
	if v, ok := updates["details"].(string); ok {
		account.Details = v
	}
	if v, ok := updates["account_type"].(string); ok {
		account.AccountType = v
	}
	account.Version++
	return nil
}

// Delete 软删除账户；主账户受保护，余额非零拒绝删除（避免资金被静默销毁）
func (r *AccountRepository) Delete(ctx context.Context, tx *gorm.DB, account *model.Account) error {
	if account.IsMain {
		return errs.ErrMainAccountProtected
	}
	if !account.Balance.IsZero() {
		return errs.New(errs.KindNonZeroBalance, "account %s still holds %s", account.ID, account.Balance.StringFixed(2))
	}

	result := r.conn(ctx, tx).Where("id = ?", account.ID).Delete(&model.Account{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errs.NotFound("account", account.ID)
	}
	return nil
}

// AdjustBalance 余额增减，结果为负时返回 InsufficientFunds
//
// 调用方已通过 GetForUpdate 持有行锁，这里再用版本号做一次校验：
// 即使有人绕过行锁修改了余额，也只会得到可重试的冲突，而不是覆盖写。
func (r *AccountRepository) AdjustBalance(ctx context.Context, tx *gorm.DB, account *model.Account, delta decimal.Decimal) error {
	newBalance := account.Balance.Add(delta)
	if newBalance.IsNegative() {
		return errs.New(errs.KindInsufficientFunds, "account %s balance %s is insufficient for %s",
			account.ID, account.Balance.StringFixed(2), delta.Neg().StringFixed(2))
	}
	if !amount.InRange(newBalance) {
		return errs.New(errs.KindInvalidAmount, "account %s balance would exceed %s",
			account.ID, amount.Max.StringFixed(amount.Scale))
	}

	result := r.conn(ctx, tx).
		Model(&model.Account{}).
		Where("id = ? AND version = ?", account.ID, account.Version).
		Updates(map[string]interface{}{
			"balance": newBalance,
			"version": gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errs.Unavailable("balance version conflict on "+account.ID, ErrOptimisticLock)
	}

	account.Balance = newBalance
	account.Version++
	return nil
}

var ErrOptimisticLock = errors.New("乐观锁冲突，请重试")
