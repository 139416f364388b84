package repository

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"revledger/internal/errs"
	"revledger/internal/model"
	"revledger/pkg/amount"
	"revledger/pkg/idgen"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// TransactionRepository 流水存储：只追加，按 occurred_at DESC, id DESC 游标分页
type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// TransactionFilter 流水查询条件，零值表示不过滤
type TransactionFilter struct {
	AccountID string
	From      *time.Time // 含
	To        *time.Time // 不含
	Query     string     // 标题模糊匹配（不区分大小写）
	Kind      string
	Paired    *bool
}

// Cursor 分页游标，指向上一页最后一条
type Cursor struct {
	OccurredAt time.Time
	ID         string
}

// Encode 编码为不透明字符串；时间用 RFC3339Nano，任意年份都能往返
func (c Cursor) Encode() string {
	raw := c.OccurredAt.UTC().Format(time.RFC3339Nano) + "|" + c.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor 解析游标；空字符串返回 nil
func DecodeCursor(token string) (*Cursor, error) {
	if token == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, errs.New(errs.KindInvalidRequest, "malformed cursor")
	}
	ts, id, ok := strings.Cut(string(raw), "|")
	if !ok || id == "" {
		return nil, errs.New(errs.KindInvalidRequest, "malformed cursor")
	}
	at, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, errs.New(errs.KindInvalidRequest, "malformed cursor")
	}
	return &Cursor{OccurredAt: at.UTC(), ID: id}, nil
}

func (r *TransactionRepository) conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx)
}

// Append 追加一条流水：分配ID，缺省发生时间为当前时间
// 时间统一为 UTC 并截断到毫秒，与 MySQL datetime(3) 精度一致，保证游标比较稳定
func (r *TransactionRepository) Append(ctx context.Context, tx *gorm.DB, trans *model.Transaction) error {
	if trans.ID == "" {
		trans.ID = idgen.GenerateTransactionID()
	}
	if trans.OccurredAt.IsZero() {
		trans.OccurredAt = time.Now()
	}
	trans.OccurredAt = trans.OccurredAt.UTC().Truncate(time.Millisecond)
	return r.conn(ctx, tx).Create(trans).Error
}

func (r *TransactionRepository) GetByID(ctx context.Context, tx *gorm.DB, id string) (*model.Transaction, error) {
	var trans model.Transaction
	err := r.conn(ctx, tx).Where("id = ?", id).First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.NotFound("transaction", id)
		}
		return nil, err
	}
	return &trans, nil
}

func (r *TransactionRepository) ListByLinkGroup(ctx context.Context, tx *gorm.DB, linkGroupID string) ([]*model.Transaction, error) {
	var list []*model.Transaction
	err := r.conn(ctx, tx).
		Where("link_group_id = ?", linkGroupID).
		Order("kind DESC"). // outflow 在前
		Find(&list).Error
	return list, err
}

// Delete 删除未配对流水；配对流水（分配、转账的一条腿）不可单独删除
func (r *TransactionRepository) Delete(ctx context.Context, tx *gorm.DB, trans *model.Transaction) error {
	if trans.Paired() {
		return errs.New(errs.KindPairedTransactionImmutable,
			"transaction %s is one leg of %s and cannot be deleted on its own", trans.ID, *trans.LinkGroupID)
	}
	result := r.conn(ctx, tx).Where("id = ? AND link_group_id IS NULL", trans.ID).Delete(&model.Transaction{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errs.NotFound("transaction", trans.ID)
	}
	return nil
}

func escapeLike(s string) string {
	return strings.NewReplacer("!", "!!", "%", "!%", "_", "!_").Replace(s)
}

func (r *TransactionRepository) filtered(ctx context.Context, tx *gorm.DB, f TransactionFilter) *gorm.DB {
	q := r.conn(ctx, tx).Model(&model.Transaction{})
	if f.AccountID != "" {
		q = q.Where("account_id = ?", f.AccountID)
	}
	if f.From != nil {
		q = q.Where("occurred_at >= ?", f.From.UTC())
	}
	if f.To != nil {
		q = q.Where("occurred_at < ?", f.To.UTC())
	}
	if f.Query != "" {
		q = q.Where("LOWER(title) LIKE ? ESCAPE '!'", "%"+escapeLike(strings.ToLower(f.Query))+"%")
	}
	if f.Kind != "" {
		q = q.Where("kind = ?", f.Kind)
	}
	if f.Paired != nil {
		if *f.Paired {
			q = q.Where("link_group_id IS NOT NULL")
		} else {
			q = q.Where("link_group_id IS NULL")
		}
	}
	return q
}

// Page 按游标读取一页；返回的 next 为 nil 表示没有更多数据
func (r *TransactionRepository) Page(ctx context.Context, f TransactionFilter, cursor *Cursor, limit int) ([]*model.Transaction, *Cursor, error) {
	if limit < 1 {
		return nil, nil, errs.New(errs.KindInvalidRequest, "limit must be positive")
	}

	q := r.filtered(ctx, nil, f)
	if cursor != nil {
		q = q.Where("(occurred_at < ?) OR (occurred_at = ? AND id < ?)", cursor.OccurredAt, cursor.OccurredAt, cursor.ID)
	}

	var list []*model.Transaction
	err := q.Order("occurred_at DESC").Order("id DESC").Limit(limit + 1).Find(&list).Error
	if err != nil {
		return nil, nil, err
	}

	if len(list) <= limit {
		return list, nil, nil
	}
	list = list[:limit]
	last := list[limit-1]
	return list, &Cursor{OccurredAt: last.OccurredAt, ID: last.ID}, nil
}

// Iterate 惰性遍历：按页拉取，消费方停止迭代即停止查询；每次 range 都从头开始
func (r *TransactionRepository) Iterate(ctx context.Context, f TransactionFilter, pageSize int) iter.Seq2[*model.Transaction, error] {
	return func(yield func(*model.Transaction, error) bool) {
		var cursor *Cursor
		for {
			page, next, err := r.Page(ctx, f, cursor, pageSize)
			if err != nil {
				yield(nil, err)
				return
			}
			for _, t := range page {
				if !yield(t, nil) {
					return
				}
			}
			if next == nil {
				return
			}
			cursor = next
		}
	}
}

// ListByAccount 单个账户的流水序列
func (r *TransactionRepository) ListByAccount(ctx context.Context, accountID string, f TransactionFilter, pageSize int) iter.Seq2[*model.Transaction, error] {
	f.AccountID = accountID
	return r.Iterate(ctx, f, pageSize)
}

type signedRow struct {
	AccountID   string
	Kind        string
	Amount      decimal.Decimal
	LinkGroupID *string
}

func (row signedRow) signed() decimal.Decimal {
	return amount.Signed(row.Kind == model.KindInflow, row.Amount)
}

// SignedSumByAccount 由流水推导账户余额
func (r *TransactionRepository) SignedSumByAccount(ctx context.Context, tx *gorm.DB, accountID string) (decimal.Decimal, error) {
	var rows []signedRow
	err := r.conn(ctx, tx).
		Model(&model.Transaction{}).
		Select("account_id", "kind", "amount").
		Where("account_id = ?", accountID).
		Find(&rows).Error
	if err != nil {
		return decimal.Zero, err
	}
	sum := decimal.Zero
	for _, row := range rows {
		sum = sum.Add(row.signed())
	}
	return sum, nil
}

// LedgerTotals 全量流水的推导结果
type LedgerTotals struct {
	ByAccount map[string]decimal.Decimal // 每个账户的带符号求和
	Unpaired  decimal.Decimal            // 未配对（直接入账/出账）流水的带符号求和
	Count     int64
}

// Totals 逐行扫描全部流水（游标读取，不一次性载入内存）
// 传入 tx 时与同一事务内的账户读取构成一致快照
func (r *TransactionRepository) Totals(ctx context.Context, tx *gorm.DB) (*LedgerTotals, error) {
	rows, err := r.conn(ctx, tx).
		Model(&model.Transaction{}).
		Select("account_id", "kind", "amount", "link_group_id").
		Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	totals := &LedgerTotals{ByAccount: make(map[string]decimal.Decimal), Unpaired: decimal.Zero}
	for rows.Next() {
		var row signedRow
		if err := r.db.ScanRows(rows, &row); err != nil {
			return nil, fmt.Errorf("扫描流水失败: %w", err)
		}
		s := row.signed()
		totals.ByAccount[row.AccountID] = totals.ByAccount[row.AccountID].Add(s)
		if row.LinkGroupID == nil {
			totals.Unpaired = totals.Unpaired.Add(s)
		}
		totals.Count++
	}
	return totals, rows.Err()
}
