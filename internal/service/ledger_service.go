package service

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"revledger/internal/config"
	"revledger/internal/errs"
	"revledger/internal/event"
	"revledger/internal/infrastructure/cache"
	"revledger/internal/infrastructure/lock"
	"revledger/internal/model"
	"revledger/internal/repository"
	"revledger/pkg/amount"
	"revledger/pkg/idgen"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Caller 调用方身份，由 HTTP 边界从可信请求头解析后显式传入
type Caller struct {
	ID string
}

func (c Caller) actor() string {
	if c.ID == "" {
		return "anonymous"
	}
	return c.ID
}

// LedgerService 账本引擎：唯一允许修改余额与流水的组件
//
// 【每个写操作的固定流程】
// 1. 校验入参（不触碰存储）
// 2. 按排序后的账户ID加锁（lock.Locker）
// 3. 单个数据库事务：FOR UPDATE 读取 -> 锁内重新校验 -> 写流水 -> 调整余额 -> 写 outbox 事件
// 4. 提交后失效汇总缓存，返回更新后的状态
type LedgerService struct {
	db              *gorm.DB
	locker          lock.Locker
	summary         cache.SummaryCache
	cfg             *config.Config
	log             *slog.Logger
	accountRepo     *repository.AccountRepository
	transactionRepo *repository.TransactionRepository
	outboxRepo      *repository.OutboxRepository

	mainMu sync.Mutex
	mainID string
}

func NewLedgerService(db *gorm.DB, locker lock.Locker, summary cache.SummaryCache, cfg *config.Config) *LedgerService {
	return &LedgerService{
		db:              db,
		locker:          locker,
		summary:         summary,
		cfg:             cfg,
		log:             slog.Default().With("component", "ledger"),
		accountRepo:     repository.NewAccountRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
		outboxRepo:      repository.NewOutboxRepository(db),
	}
}

// ============================================================================
// 入参与返回值
// ============================================================================

type PostTransactionInput struct {
	AccountID  string
	Kind       string
	Amount     decimal.Decimal
	Title      string
	Notes      string
	OccurredAt *time.Time
}

type CreateAccountInput struct {
	Name              string
	Details           string
	AccountType       string
	InitialAllocation decimal.Decimal
}

// AccountChanges 账户修改，nil 表示不修改
// Balance 为目标余额，通过与主账户之间的配对流水实现
type AccountChanges struct {
	Name        *string
	Details     *string
	AccountType *string
	IsMain      *bool
	Balance     *decimal.Decimal
}

func (c AccountChanges) hasFields() bool {
	return c.Name != nil || c.Details != nil || c.AccountType != nil || c.IsMain != nil
}

type PostResult struct {
	Account     *model.Account     `json:"account"`
	Transaction *model.Transaction `json:"transaction"`
}

type AllocationResult struct {
	Account      *model.Account       `json:"account"`
	MainAccount  *model.Account       `json:"mainAccount"`
	Transactions []*model.Transaction `json:"transactions"`
}

type TransferResult struct {
	FromAccount  *model.Account       `json:"fromAccount"`
	ToAccount    *model.Account       `json:"toAccount"`
	Transactions []*model.Transaction `json:"transactions"`
}

// AccountResult 创建/修改账户的结果；未涉及资金移动时 MainAccount 为 nil
type AccountResult struct {
	Account      *model.Account       `json:"account"`
	MainAccount  *model.Account       `json:"mainAccount,omitempty"`
	Transactions []*model.Transaction `json:"transactions"`
}

type TransactionPage struct {
	List       []*model.Transaction `json:"list"`
	NextCursor string               `json:"nextCursor,omitempty"`
}

// ============================================================================
// 写操作
// ============================================================================

// PostTransaction 直接入账/出账，产生一条未配对流水
func (s *LedgerService) PostTransaction(ctx context.Context, caller Caller, in PostTransactionInput) (*PostResult, error) {
	if err := validAmount(in.Amount); err != nil {
		return nil, err
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, errs.New(errs.KindInvalidRequest, "title is required")
	}
	if !model.ValidKind(in.Kind) {
		return nil, errs.New(errs.KindInvalidRequest, "kind must be %q or %q", model.KindInflow, model.KindOutflow)
	}
	if in.AccountID == "" {
		return nil, errs.New(errs.KindInvalidRequest, "account id is required")
	}

	var result *PostResult
	err := s.mutate(ctx, "post transaction", []string{in.AccountID}, func(tx *gorm.DB) error {
		account, err := s.accountRepo.GetForUpdate(ctx, tx, in.AccountID)
		if err != nil {
			return err
		}

		trans := &model.Transaction{
			Title:     title,
			Kind:      in.Kind,
			Amount:    in.Amount,
			AccountID: account.ID,
			Notes:     in.Notes,
			CreatedBy: caller.ID,
		}
		if in.OccurredAt != nil {
			trans.OccurredAt = *in.OccurredAt
		}

		if err := s.accountRepo.AdjustBalance(ctx, tx, account, trans.Signed()); err != nil {
			return err
		}
		if err := s.transactionRepo.Append(ctx, tx, trans); err != nil {
			return err
		}
		if err := s.outboxRepo.Enqueue(ctx, tx, s.cfg.Kafka.Topic.TransactionEvents,
			transactionEvent(event.TypeTransactionPosted, trans, account, caller)); err != nil {
			return err
		}

		result = &PostResult{Account: account, Transaction: trans}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("流水已入账",
		"transaction_id", result.Transaction.ID,
		"account_id", result.Account.ID,
		"kind", result.Transaction.Kind,
		"amount", result.Transaction.Amount.StringFixed(amount.Scale),
		"actor", caller.actor())
	return result, nil
}

// AllocateRevenue 从主账户向子账户分配收入
//
// 【关键点】余额校验在锁内、事务内重新进行：
// 两个并发分配读到同一个主账户余额时，只有先拿到锁的那个能成功，
// 另一个在锁内看到扣减后的余额，返回 AllocationExceedsAvailable。
func (s *LedgerService) AllocateRevenue(ctx context.Context, caller Caller, targetID string, amt decimal.Decimal, description string) (*AllocationResult, error) {
	if err := validAmount(amt); err != nil {
		return nil, err
	}
	mainID, err := s.mainAccountID(ctx)
	if err != nil {
		return nil, err
	}
	if targetID == mainID {
		return nil, errs.ErrCannotAllocateToMain
	}

	var result *AllocationResult
	err = s.mutate(ctx, "allocate revenue", []string{mainID, targetID}, func(tx *gorm.DB) error {
		accounts, err := s.lockAccounts(ctx, tx, mainID, targetID)
		if err != nil {
			return err
		}
		main, target := accounts[mainID], accounts[targetID]

		legs, err := s.allocate(ctx, tx, caller, main, target, amt, "Allocation: "+target.Name, description)
		if err != nil {
			return err
		}
		result = &AllocationResult{Account: target, MainAccount: main, Transactions: legs}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("收入已分配",
		"account_id", targetID,
		"amount", amt.StringFixed(amount.Scale),
		"main_balance", result.MainAccount.Balance.StringFixed(amount.Scale),
		"actor", caller.actor())
	return result, nil
}

// TransferFunds 任意两个账户之间转账
func (s *LedgerService) TransferFunds(ctx context.Context, caller Caller, fromID, toID string, amt decimal.Decimal, description string) (*TransferResult, error) {
	if err := validAmount(amt); err != nil {
		return nil, err
	}
	if fromID == "" || toID == "" {
		return nil, errs.New(errs.KindInvalidRequest, "both account ids are required")
	}
	if fromID == toID {
		return nil, errs.ErrSameAccount
	}

	var result *TransferResult
	err := s.mutate(ctx, "transfer funds", []string{fromID, toID}, func(tx *gorm.DB) error {
		accounts, err := s.lockAccounts(ctx, tx, fromID, toID)
		if err != nil {
			return err
		}
		from, to := accounts[fromID], accounts[toID]

		if from.Balance.LessThan(amt) {
			return errs.New(errs.KindInsufficientFunds, "account %s balance %s is insufficient for transfer of %s",
				from.ID, from.Balance.StringFixed(amount.Scale), amt.StringFixed(amount.Scale))
		}
		legs, err := s.movePaired(ctx, tx, caller, from, to, amt, "Transfer: "+from.Name+" -> "+to.Name, description)
		if err != nil {
			return err
		}
		result = &TransferResult{FromAccount: from, ToAccount: to, Transactions: legs}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("转账成功",
		"from_account_id", fromID,
		"to_account_id", toID,
		"amount", amt.StringFixed(amount.Scale),
		"actor", caller.actor())
	return result, nil
}

// CreateFundedAccount 创建子账户并从主账户分配初始资金
// 校验与创建在同一个事务内：分配失败时不会留下空账户
func (s *LedgerService) CreateFundedAccount(ctx context.Context, caller Caller, in CreateAccountInput) (*AccountResult, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, errs.New(errs.KindInvalidRequest, "account name is required")
	}
	accountType := in.AccountType
	if accountType == "" {
		accountType = model.AccountTypeOperating
	}
	if accountType == model.AccountTypeMain {
		return nil, errs.New(errs.KindMainAccountImmutable, "only one main account may exist")
	}
	if !model.ValidAccountType(accountType) {
		return nil, errs.New(errs.KindInvalidRequest, "unknown account type %q", accountType)
	}
	if !amount.ValidNonNegative(in.InitialAllocation) {
		return nil, errs.New(errs.KindInvalidAmount,
			"initial allocation %s must be zero or positive with at most %d decimal places", in.InitialAllocation, amount.Scale)
	}

	mainID, err := s.mainAccountID(ctx)
	if err != nil {
		return nil, err
	}

	var result *AccountResult
	err = s.mutate(ctx, "create account", []string{mainID}, func(tx *gorm.DB) error {
		main, err := s.accountRepo.GetMainForUpdate(ctx, tx)
		if err != nil {
			return err
		}
		if main.Balance.LessThan(in.InitialAllocation) {
			return exceedsAvailable(in.InitialAllocation, main)
		}

		account := &model.Account{
			ID:          idgen.GenerateAccountID(),
			Name:        name,
			Details:     in.Details,
			AccountType: accountType,
			Balance:     decimal.Zero,
		}
		if err := s.accountRepo.Create(ctx, tx, account); err != nil {
			return err
		}
		if err := s.outboxRepo.Enqueue(ctx, tx, s.cfg.Kafka.Topic.AccountEvents,
			accountEvent(event.TypeAccountCreated, account, caller)); err != nil {
			return err
		}

		result = &AccountResult{Account: account, Transactions: []*model.Transaction{}}
		if in.InitialAllocation.IsZero() {
			return nil
		}
		legs, err := s.allocate(ctx, tx, caller, main, account, in.InitialAllocation, "Allocation: "+account.Name, "initial allocation")
		if err != nil {
			return err
		}
		result.MainAccount = main
		result.Transactions = legs
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("账户已创建",
		"account_id", result.Account.ID,
		"name", result.Account.Name,
		"initial_allocation", in.InitialAllocation.StringFixed(amount.Scale),
		"actor", caller.actor())
	return result, nil
}

// UpdateAccount 修改账户
//
// 名称/描述/类型原地修改；Balance 不允许直接覆盖，而是换算成与主账户之间的配对流水：
// 调高 = 从主账户分配（受未分配余额约束），调低 = 转回主账户。主账户余额不可编辑。
func (s *LedgerService) UpdateAccount(ctx context.Context, caller Caller, id string, changes AccountChanges) (*AccountResult, error) {
	if changes.Balance != nil && !amount.ValidNonNegative(*changes.Balance) {
		return nil, errs.New(errs.KindInvalidAmount,
			"balance %s must be zero or positive with at most %d decimal places", changes.Balance, amount.Scale)
	}

	ids := []string{id}
	mainID := ""
	if changes.Balance != nil {
		var err error
		if mainID, err = s.mainAccountID(ctx); err != nil {
			return nil, err
		}
		if id == mainID {
			return nil, errs.New(errs.KindMainAccountImmutable, "the main account balance is derived from its transactions")
		}
		ids = append(ids, mainID)
	}

	var result *AccountResult
	err := s.mutate(ctx, "update account", ids, func(tx *gorm.DB) error {
		accounts, err := s.lockAccounts(ctx, tx, ids...)
		if err != nil {
			return err
		}
		account := accounts[id]
		result = &AccountResult{Account: account, Transactions: []*model.Transaction{}}

		if changes.hasFields() {
			err := s.accountRepo.Update(ctx, tx, account, repository.AccountUpdate{
				Name:        changes.Name,
				Details:     changes.Details,
				AccountType: changes.AccountType,
				IsMain:      changes.IsMain,
			})
			if err != nil {
				return err
			}
			if err := s.outboxRepo.Enqueue(ctx, tx, s.cfg.Kafka.Topic.AccountEvents,
				accountEvent(event.TypeAccountUpdated, account, caller)); err != nil {
				return err
			}
		}

		if changes.Balance == nil {
			return nil
		}
		main := accounts[mainID]
		delta := changes.Balance.Sub(account.Balance)
		var legs []*model.Transaction
		switch delta.Sign() {
		case 0:
			return nil
		case 1:
			legs, err = s.allocate(ctx, tx, caller, main, account, delta, "Allocation: "+account.Name, "balance adjustment")
		default:
			legs, err = s.movePaired(ctx, tx, caller, account, main, delta.Neg(), "Return to main: "+account.Name, "balance adjustment")
		}
		if err != nil {
			return err
		}
		result.MainAccount = main
		result.Transactions = legs
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("账户已修改", "account_id", id, "balance_changed", len(result.Transactions) > 0, "actor", caller.actor())
	return result, nil
}

// DeleteAccount 删除子账户；余额非零时拒绝，不做自动归集
func (s *LedgerService) DeleteAccount(ctx context.Context, caller Caller, id string) error {
	err := s.mutate(ctx, "delete account", []string{id}, func(tx *gorm.DB) error {
		account, err := s.accountRepo.GetForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := s.accountRepo.Delete(ctx, tx, account); err != nil {
			return err
		}
		return s.outboxRepo.Enqueue(ctx, tx, s.cfg.Kafka.Topic.AccountEvents,
			accountEvent(event.TypeAccountDeleted, account, caller))
	})
	if err != nil {
		return err
	}
	s.log.Info("账户已删除", "account_id", id, "actor", caller.actor())
	return nil
}

// DeleteTransaction 删除未配对流水，并回滚它对账户余额的影响
// 回滚后余额为负（例如删除一笔已被花掉的入账）时返回 InsufficientFunds
func (s *LedgerService) DeleteTransaction(ctx context.Context, caller Caller, id string) (*model.Account, error) {
	trans, err := s.transactionRepo.GetByID(ctx, nil, id)
	if err != nil {
		return nil, errs.Classify("load transaction", err)
	}
	if trans.Paired() {
		return nil, errs.New(errs.KindPairedTransactionImmutable,
			"transaction %s is one leg of %s and cannot be deleted on its own", trans.ID, *trans.LinkGroupID)
	}

	var account *model.Account
	err = s.mutate(ctx, "delete transaction", []string{trans.AccountID}, func(tx *gorm.DB) error {
		current, err := s.transactionRepo.GetByID(ctx, tx, id)
		if err != nil {
			return err
		}
		account, err = s.accountRepo.GetForUpdate(ctx, tx, current.AccountID)
		if err != nil {
			return err
		}
		if err := s.transactionRepo.Delete(ctx, tx, current); err != nil {
			return err
		}
		if err := s.accountRepo.AdjustBalance(ctx, tx, account, current.Signed().Neg()); err != nil {
			return err
		}
		return s.outboxRepo.Enqueue(ctx, tx, s.cfg.Kafka.Topic.TransactionEvents,
			transactionEvent(event.TypeTransactionDeleted, current, account, caller))
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("流水已删除", "transaction_id", id, "account_id", account.ID, "actor", caller.actor())
	return account, nil
}

// ============================================================================
// 读操作（不加账户锁）
// ============================================================================

func (s *LedgerService) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	account, err := s.accountRepo.GetByID(ctx, nil, id)
	return account, errs.Classify("get account", err)
}

func (s *LedgerService) ListAccounts(ctx context.Context) ([]*model.Account, error) {
	accounts, err := s.accountRepo.List(ctx, nil)
	return accounts, errs.Classify("list accounts", err)
}

func (s *LedgerService) GetTransaction(ctx context.Context, id string) (*model.Transaction, error) {
	trans, err := s.transactionRepo.GetByID(ctx, nil, id)
	return trans, errs.Classify("get transaction", err)
}

// ListTransactions 游标分页；limit <= 0 使用默认页大小，超过上限时截断
func (s *LedgerService) ListTransactions(ctx context.Context, f repository.TransactionFilter, cursor string, limit int) (*TransactionPage, error) {
	if f.Kind != "" && !model.ValidKind(f.Kind) {
		return nil, errs.New(errs.KindInvalidRequest, "kind must be %q or %q", model.KindInflow, model.KindOutflow)
	}
	if f.From != nil && f.To != nil && !f.From.Before(*f.To) {
		return nil, errs.New(errs.KindInvalidRequest, "from must be before to")
	}
	c, err := repository.DecodeCursor(cursor)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = s.cfg.Ledger.PageSize
	}
	if limit > s.cfg.Ledger.MaxPageSize {
		limit = s.cfg.Ledger.MaxPageSize
	}

	list, next, err := s.transactionRepo.Page(ctx, f, c, limit)
	if err != nil {
		return nil, errs.Classify("list transactions", err)
	}
	page := &TransactionPage{List: list}
	if page.List == nil {
		page.List = []*model.Transaction{}
	}
	if next != nil {
		page.NextCursor = next.Encode()
	}
	return page, nil
}

// ============================================================================
// 内部方法
// ============================================================================

// mutate 加账户锁 -> 数据库事务 -> 提交后失效缓存；错误统一归类
func (s *LedgerService) mutate(ctx context.Context, op string, accountIDs []string, fn func(tx *gorm.DB) error) error {
	keys := make([]string, len(accountIDs))
	for i, id := range accountIDs {
		keys[i] = lock.AccountKey(id)
	}
	release, err := s.locker.Acquire(ctx, keys...)
	if err != nil {
		return errs.Unavailable(op+": acquire account locks", err)
	}
	defer release()

	if err := s.db.WithContext(ctx).Transaction(fn); err != nil {
		return errs.Classify(op, err)
	}
	s.invalidateSummary(ctx)
	return nil
}

func (s *LedgerService) invalidateSummary(ctx context.Context) {
	if s.summary == nil {
		return
	}
	if err := s.summary.Invalidate(ctx); err != nil {
		s.log.Warn("汇总缓存失效失败", "error", err)
	}
}

// mainAccountID 主账户ID在启动时确定且永不变化，首次读取后缓存
func (s *LedgerService) mainAccountID(ctx context.Context) (string, error) {
	s.mainMu.Lock()
	defer s.mainMu.Unlock()
	if s.mainID != "" {
		return s.mainID, nil
	}
	main, err := s.accountRepo.GetMain(ctx, nil)
	if err != nil {
		return "", errs.Classify("load main account", err)
	}
	s.mainID = main.ID
	return s.mainID, nil
}

// lockAccounts 按ID顺序逐行 FOR UPDATE，与 Locker 的加锁顺序一致
func (s *LedgerService) lockAccounts(ctx context.Context, tx *gorm.DB, ids ...string) (map[string]*model.Account, error) {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	accounts := make(map[string]*model.Account, len(sorted))
	for _, id := range sorted {
		if _, ok := accounts[id]; ok {
			continue
		}
		account, err := s.accountRepo.GetForUpdate(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		accounts[id] = account
	}
	return accounts, nil
}

// allocate 锁内校验主账户余额后写配对流水
func (s *LedgerService) allocate(ctx context.Context, tx *gorm.DB, caller Caller, main, target *model.Account, amt decimal.Decimal, title, notes string) ([]*model.Transaction, error) {
	if target.IsMain {
		return nil, errs.ErrCannotAllocateToMain
	}
	if main.Balance.LessThan(amt) {
		return nil, exceedsAvailable(amt, main)
	}
	return s.movePaired(ctx, tx, caller, main, target, amt, title, notes)
}

// movePaired 写一组配对流水：from 出账、to 入账，金额相等，共享 LinkGroupID
func (s *LedgerService) movePaired(ctx context.Context, tx *gorm.DB, caller Caller, from, to *model.Account, amt decimal.Decimal, title, notes string) ([]*model.Transaction, error) {
	linkID := idgen.GenerateLinkGroupID()
	now := time.Now()
	out := &model.Transaction{
		Title:       title,
		Kind:        model.KindOutflow,
		Amount:      amt,
		AccountID:   from.ID,
		OccurredAt:  now,
		Notes:       notes,
		LinkGroupID: &linkID,
		CreatedBy:   caller.ID,
	}
	in := &model.Transaction{
		Title:       title,
		Kind:        model.KindInflow,
		Amount:      amt,
		AccountID:   to.ID,
		OccurredAt:  now,
		Notes:       notes,
		LinkGroupID: &linkID,
		CreatedBy:   caller.ID,
	}

	if err := s.accountRepo.AdjustBalance(ctx, tx, from, amt.Neg()); err != nil {
		return nil, err
	}
	if err := s.accountRepo.AdjustBalance(ctx, tx, to, amt); err != nil {
		return nil, err
	}
	if err := s.transactionRepo.Append(ctx, tx, out); err != nil {
		return nil, err
	}
	if err := s.transactionRepo.Append(ctx, tx, in); err != nil {
		return nil, err
	}

	err := s.outboxRepo.Enqueue(ctx, tx, s.cfg.Kafka.Topic.TransactionEvents,
		transactionEvent(event.TypeTransactionPosted, out, from, caller),
		transactionEvent(event.TypeTransactionPosted, in, to, caller),
	)
	if err != nil {
		return nil, err
	}
	return []*model.Transaction{out, in}, nil
}

func validAmount(d decimal.Decimal) error {
	if !amount.Valid(d) {
		return errs.New(errs.KindInvalidAmount,
			"amount %s must be greater than zero with at most %d decimal places", d, amount.Scale)
	}
	return nil
}

func exceedsAvailable(amt decimal.Decimal, main *model.Account) error {
	return errs.New(errs.KindAllocationExceedsAvailable, "allocation of %s exceeds unallocated revenue %s",
		amt.StringFixed(amount.Scale), main.Balance.StringFixed(amount.Scale))
}

func transactionEvent(typ string, trans *model.Transaction, account *model.Account, caller Caller) event.ChangeEvent {
	amt, balance := trans.Amount, account.Balance
	e := event.ChangeEvent{
		Type:          typ,
		AccountID:     account.ID,
		TransactionID: trans.ID,
		Kind:          trans.Kind,
		Amount:        &amt,
		Balance:       &balance,
		Actor:         caller.actor(),
		OccurredAt:    time.Now().UTC(),
	}
	if trans.LinkGroupID != nil {
		e.LinkGroupID = *trans.LinkGroupID
	}
	return e
}

func accountEvent(typ string, account *model.Account, caller Caller) event.ChangeEvent {
	balance := account.Balance
	return event.ChangeEvent{
		Type:       typ,
		AccountID:  account.ID,
		Balance:    &balance,
		Actor:      caller.actor(),
		OccurredAt: time.Now().UTC(),
	}
}
