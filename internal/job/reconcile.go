package job

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"revledger/internal/model"
	"revledger/internal/repository"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// BalanceDrift 账户缓存余额与流水推导值不一致
type BalanceDrift struct {
	AccountID string
	Cached    decimal.Decimal
	Derived   decimal.Decimal
}

// ReconcileReport 一次对账的结果
type ReconcileReport struct {
	Accounts     int
	Transactions int64
	TotalBalance decimal.Decimal // 未删除账户余额之和
	UnpairedNet  decimal.Decimal // 未配对流水带符号之和
	Drifts       []BalanceDrift
}

// Balanced 所有账户一致且总额守恒
func (r *ReconcileReport) Balanced() bool {
	return len(r.Drifts) == 0 && r.TotalBalance.Equal(r.UnpairedNet)
}

// ReconcileJob 定期由流水重新推导每个账户的余额，与缓存值比对
//
// 【只报告不修复】发现不一致时记录 error 日志，由人工介入；
// 自动改写余额会掩盖引擎的缺陷。
type ReconcileJob struct {
	db              *gorm.DB
	accountRepo     *repository.AccountRepository
	transactionRepo *repository.TransactionRepository
	log             *slog.Logger
	interval        time.Duration
}

func NewReconcileJob(db *gorm.DB, interval time.Duration) *ReconcileJob {
	return &ReconcileJob{
		db:              db,
		accountRepo:     repository.NewAccountRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
		log:             slog.Default().With("component", "reconcile"),
		interval:        interval,
	}
}

func (j *ReconcileJob) Start(ctx context.Context) {
	j.log.Info("对账任务启动", "interval", j.interval)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.log.Info("任务退出")
			return
		case <-ticker.C:
			if _, err := j.Run(ctx); err != nil {
				j.log.Error("对账失败", "error", err)
			}
		}
	}
}

// Run 执行一次对账；账户与流水在同一个只读事务内读取
func (j *ReconcileJob) Run(ctx context.Context) (*ReconcileReport, error) {
	var (
		accounts []*model.Account
		totals   *repository.LedgerTotals
	)
	err := j.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if accounts, err = j.accountRepo.List(ctx, tx); err != nil {
			return err
		}
		totals, err = j.transactionRepo.Totals(ctx, tx)
		return err
	})
	if err != nil {
		return nil, err
	}

	report := &ReconcileReport{
		Accounts:     len(accounts),
		Transactions: totals.Count,
		TotalBalance: decimal.Zero,
		UnpairedNet:  totals.Unpaired,
	}

	live := make(map[string]struct{}, len(accounts))
	for _, a := range accounts {
		live[a.ID] = struct{}{}
		report.TotalBalance = report.TotalBalance.Add(a.Balance)
		if derived := totals.ByAccount[a.ID]; !a.Balance.Equal(derived) {
			report.Drifts = append(report.Drifts, BalanceDrift{AccountID: a.ID, Cached: a.Balance, Derived: derived})
		}
	}
	// 已删除账户删除时余额为 0，其流水之和也必须为 0
	for id, derived := range totals.ByAccount {
		if _, ok := live[id]; !ok && !derived.IsZero() {
			report.Drifts = append(report.Drifts, BalanceDrift{AccountID: id, Cached: decimal.Zero, Derived: derived})
		}
	}
	sort.Slice(report.Drifts, func(a, b int) bool { return report.Drifts[a].AccountID < report.Drifts[b].AccountID })

	for _, d := range report.Drifts {
		j.log.Error("账户余额与流水不一致",
			"account_id", d.AccountID, "cached", d.Cached.String(), "derived", d.Derived.String())
	}
	if !report.TotalBalance.Equal(report.UnpairedNet) {
		j.log.Error("总额不守恒",
			"total_balance", report.TotalBalance.String(), "unpaired_net", report.UnpairedNet.String())
	}
	if report.Balanced() {
		j.log.Debug("对账通过", "accounts", report.Accounts, "transactions", report.Transactions)
	}
	return report, nil
}
