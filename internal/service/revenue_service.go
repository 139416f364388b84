package service

import (
	"context"
	"iter"
	"log/slog"
	"sort"
	"strings"
	"time"

	"revledger/internal/config"
	"revledger/internal/errs"
	"revledger/internal/infrastructure/cache"
	"revledger/internal/model"
	"revledger/internal/repository"
	"revledger/pkg/amount"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

// UncategorizedCategory 标题中没有分类前缀时的归类
const UncategorizedCategory = "uncategorized"

// AccountSummary 汇总中的单个账户
type AccountSummary struct {
	AccountID   string          `json:"accountId"`
	Name        string          `json:"name"`
	Balance     decimal.Decimal `json:"balance"`
	AccountType string          `json:"accountType"`
	IsMain      bool            `json:"isMain"`
	Display     string          `json:"display"`
}

type SummaryDisplay struct {
	MainAccountBalance string `json:"mainAccountBalance"`
	AllocatedTotal     string `json:"allocatedTotal"`
	TotalRevenue       string `json:"totalRevenue"`
}

// Summary 账户汇总
//
// TotalRevenue 定义为所有未删除账户余额之和。
// 分配与转账只在账户间移动资金，因此它等于全部未配对流水的带符号之和，对账任务会校验这一点。
type Summary struct {
	Accounts           []AccountSummary `json:"accounts"`
	MainAccountBalance decimal.Decimal  `json:"mainAccountBalance"`
	AllocatedTotal     decimal.Decimal  `json:"allocatedTotal"`
	TotalRevenue       decimal.Decimal  `json:"totalRevenue"`
	Currency           string           `json:"currency"`
	Display            SummaryDisplay   `json:"display"`
}

// CategoryTotal 某个分类的入账、出账与净额
type CategoryTotal struct {
	Category string          `json:"category"`
	Inflow   decimal.Decimal `json:"inflow"`
	Outflow  decimal.Decimal `json:"outflow"`
	Net      decimal.Decimal `json:"net"`
	Count    int             `json:"count"`
}

// RevenueReport 收入报表：TotalRevenue 为当前总额，PeriodNet 与 Breakdown 只统计区间内的未配对流水
type RevenueReport struct {
	TotalRevenue decimal.Decimal `json:"totalRevenue"`
	PeriodNet    decimal.Decimal `json:"periodNet"`
	From         *time.Time      `json:"from,omitempty"`
	To           *time.Time      `json:"to,omitempty"`
	Breakdown    []CategoryTotal `json:"breakdown"`
	Currency     string          `json:"currency"`
	Display      string          `json:"display"`
}

// Summarize 由账户列表计算汇总，纯函数
func Summarize(accounts []*model.Account, currency string) *Summary {
	s := &Summary{
		Accounts:           make([]AccountSummary, 0, len(accounts)),
		MainAccountBalance: decimal.Zero,
		AllocatedTotal:     decimal.Zero,
		TotalRevenue:       decimal.Zero,
		Currency:           currency,
	}
	for _, a := range accounts {
		s.Accounts = append(s.Accounts, AccountSummary{
			AccountID:   a.ID,
			Name:        a.Name,
			Balance:     a.Balance,
			AccountType: a.AccountType,
			IsMain:      a.IsMain,
			Display:     amount.Format(a.Balance, currency),
		})
		if a.IsMain {
			s.MainAccountBalance = s.MainAccountBalance.Add(a.Balance)
		} else {
			s.AllocatedTotal = s.AllocatedTotal.Add(a.Balance)
		}
		s.TotalRevenue = s.TotalRevenue.Add(a.Balance)
	}
	s.Display = SummaryDisplay{
		MainAccountBalance: amount.Format(s.MainAccountBalance, currency),
		AllocatedTotal:     amount.Format(s.AllocatedTotal, currency),
		TotalRevenue:       amount.Format(s.TotalRevenue, currency),
	}
	return s
}

// DefaultCategory 取标题中第一个冒号之前的部分作为分类（去空白、小写）
// 例如 "Consulting: ACME" -> "consulting"
func DefaultCategory(t *model.Transaction) string {
	prefix, _, ok := strings.Cut(t.Title, ":")
	if !ok {
		return UncategorizedCategory
	}
	prefix = strings.ToLower(strings.TrimSpace(prefix))
	if prefix == "" {
		return UncategorizedCategory
	}
	return prefix
}

// BreakdownByCategory 按分类汇总流水，按净额降序、分类名升序排列
// 只消费传入的序列，不访问存储
func BreakdownByCategory(seq iter.Seq[*model.Transaction], classify func(*model.Transaction) string) []CategoryTotal {
	if classify == nil {
		classify = DefaultCategory
	}
	byCategory := make(map[string]*CategoryTotal)
	for t := range seq {
		name := classify(t)
		ct, ok := byCategory[name]
		if !ok {
			ct = &CategoryTotal{Category: name, Inflow: decimal.Zero, Outflow: decimal.Zero, Net: decimal.Zero}
			byCategory[name] = ct
		}
		if t.Kind == model.KindInflow {
			ct.Inflow = ct.Inflow.Add(t.Amount)
		} else {
			ct.Outflow = ct.Outflow.Add(t.Amount)
		}
		ct.Net = ct.Net.Add(t.Signed())
		ct.Count++
	}

	out := make([]CategoryTotal, 0, len(byCategory))
	for _, ct := range byCategory {
		out = append(out, *ct)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Net.Cmp(out[j].Net); c != 0 {
			return c > 0
		}
		return out[i].Category < out[j].Category
	})
	return out
}

// RevenueService 只读汇总；汇总结果走缓存，并发未命中合并为一次查询
type RevenueService struct {
	accountRepo     *repository.AccountRepository
	transactionRepo *repository.TransactionRepository
	cache           cache.SummaryCache
	cfg             *config.Config
	log             *slog.Logger
	group           singleflight.Group
}

func NewRevenueService(db *gorm.DB, summary cache.SummaryCache, cfg *config.Config) *RevenueService {
	return &RevenueService{
		accountRepo:     repository.NewAccountRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
		cache:           summary,
		cfg:             cfg,
		log:             slog.Default().With("component", "revenue"),
	}
}

// AccountsSummary 账户汇总；缓存读写失败只记录日志，回落到数据库
func (s *RevenueService) AccountsSummary(ctx context.Context) (*Summary, error) {
	if s.cache != nil {
		var cached Summary
		hit, err := s.cache.Get(ctx, &cached)
		if err != nil {
			s.log.Warn("读取汇总缓存失败", "error", err)
		} else if hit {
			return &cached, nil
		}
	}

	v, err, _ := s.group.Do("summary", func() (interface{}, error) {
		accounts, err := s.accountRepo.List(ctx, nil)
		if err != nil {
			return nil, errs.Classify("list accounts", err)
		}
		summary := Summarize(accounts, s.cfg.Ledger.Currency)
		if s.cache != nil {
			if err := s.cache.Set(ctx, summary); err != nil {
				s.log.Warn("写入汇总缓存失败", "error", err)
			}
		}
		return summary, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Summary), nil
}

func (s *RevenueService) TotalRevenue(ctx context.Context) (decimal.Decimal, error) {
	summary, err := s.AccountsSummary(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return summary.TotalRevenue, nil
}

// Unallocated 主账户余额
func (s *RevenueService) Unallocated(ctx context.Context) (decimal.Decimal, error) {
	summary, err := s.AccountsSummary(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return summary.MainAccountBalance, nil
}

// AllocatedTotal 全部子账户余额之和
func (s *RevenueService) AllocatedTotal(ctx context.Context) (decimal.Decimal, error) {
	summary, err := s.AccountsSummary(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return summary.AllocatedTotal, nil
}

// RevenueTotal 收入报表；分类只统计未配对流水，内部资金移动不算收入
func (s *RevenueService) RevenueTotal(ctx context.Context, from, to *time.Time) (*RevenueReport, error) {
	if from != nil && to != nil && !from.Before(*to) {
		return nil, errs.New(errs.KindInvalidRequest, "from must be before to")
	}
	total, err := s.TotalRevenue(ctx)
	if err != nil {
		return nil, err
	}

	unpaired := false
	filter := repository.TransactionFilter{From: from, To: to, Paired: &unpaired}
	var iterErr error
	seq := func(yield func(*model.Transaction) bool) {
		for t, err := range s.transactionRepo.Iterate(ctx, filter, s.cfg.Ledger.MaxPageSize) {
			if err != nil {
				iterErr = err
				return
			}
			if !yield(t) {
				return
			}
		}
	}
	breakdown := BreakdownByCategory(seq, DefaultCategory)
	if iterErr != nil {
		return nil, errs.Classify("scan transactions", iterErr)
	}

	net := decimal.Zero
	for _, ct := range breakdown {
		net = net.Add(ct.Net)
	}
	return &RevenueReport{
		TotalRevenue: total,
		PeriodNet:    net,
		From:         from,
		To:           to,
		Breakdown:    breakdown,
		Currency:     s.cfg.Ledger.Currency,
		Display:      amount.Format(total, s.cfg.Ledger.Currency),
	}, nil
}
