package service_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"revledger/internal/errs"
	"revledger/internal/event"
	"revledger/internal/infrastructure/cache"
	"revledger/internal/infrastructure/lock"
	"revledger/internal/model"
	"revledger/internal/repository"
	"revledger/internal/service"
	"revledger/internal/testutil"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fixture struct {
	db      *gorm.DB
	ledger  *service.LedgerService
	revenue *service.RevenueService
	caller  service.Caller
	mainID  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := testutil.NewConfig(t)
	db := testutil.NewDB(t)
	summary := cache.NewMemorySummaryCache(time.Minute)
	f := &fixture{
		db:      db,
		ledger:  service.NewLedgerService(db, lock.NewLocalLocker(), summary, cfg),
		revenue: service.NewRevenueService(db, summary, cfg),
		caller:  service.Caller{ID: "alice"},
	}
	accounts, err := f.ledger.ListAccounts(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, accounts)
	require.True(t, accounts[0].IsMain)
	f.mainID = accounts[0].ID
	return f
}

func (f *fixture) fundMain(t *testing.T, amt string) {
	t.Helper()
	_, err := f.ledger.PostTransaction(context.Background(), f.caller, service.PostTransactionInput{
		AccountID: f.mainID,
		Kind:      model.KindInflow,
		Amount:    d(amt),
		Title:     "Sales: seed",
	})
	require.NoError(t, err)
}

func (f *fixture) subAccount(t *testing.T, name string) *model.Account {
	t.Helper()
	res, err := f.ledger.CreateFundedAccount(context.Background(), f.caller, service.CreateAccountInput{Name: name})
	require.NoError(t, err)
	return res.Account
}

func (f *fixture) balance(t *testing.T, id string) decimal.Decimal {
	t.Helper()
	account, err := f.ledger.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return account.Balance
}

func (f *fixture) assertBalance(t *testing.T, id, want string) {
	t.Helper()
	got := f.balance(t, id)
	assert.True(t, got.Equal(d(want)), "account %s: balance %s, want %s", id, got, want)
}

// assertLedgerConsistent 每个账户余额等于其流水之和且非负，余额总和等于未配对流水之和
func (f *fixture) assertLedgerConsistent(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	totals, err := repository.NewTransactionRepository(f.db).Totals(ctx, nil)
	require.NoError(t, err)
	accounts, err := f.ledger.ListAccounts(ctx)
	require.NoError(t, err)

	sum := decimal.Zero
	for _, a := range accounts {
		assert.False(t, a.Balance.IsNegative(), "account %s is negative: %s", a.ID, a.Balance)
		assert.True(t, a.Balance.Equal(totals.ByAccount[a.ID]),
			"account %s: cached %s, derived %s", a.ID, a.Balance, totals.ByAccount[a.ID])
		sum = sum.Add(a.Balance)
	}
	assert.True(t, sum.Equal(totals.Unpaired), "sum of balances %s != unpaired net %s", sum, totals.Unpaired)
}

// ============================================================================
// 典型场景
// ============================================================================

func TestAllocateRevenue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fundMain(t, "10000")
	subA := f.subAccount(t, "A")

	res, err := f.ledger.AllocateRevenue(ctx, f.caller, subA.ID, d("3000"), "Q1 budget")
	require.NoError(t, err)
	assert.True(t, res.MainAccount.Balance.Equal(d("7000")))
	assert.True(t, res.Account.Balance.Equal(d("3000")))
	f.assertBalance(t, f.mainID, "7000")
	f.assertBalance(t, subA.ID, "3000")

	require.Len(t, res.Transactions, 2)
	out, in := res.Transactions[0], res.Transactions[1]
	require.True(t, out.Paired())
	assert.Equal(t, *out.LinkGroupID, *in.LinkGroupID)
	assert.Equal(t, model.KindOutflow, out.Kind)
	assert.Equal(t, f.mainID, out.AccountID)
	assert.Equal(t, model.KindInflow, in.Kind)
	assert.Equal(t, subA.ID, in.AccountID)
	assert.True(t, out.Amount.Equal(in.Amount))
	assert.Equal(t, "alice", in.CreatedBy)
	assert.Equal(t, "Q1 budget", in.Notes)

	f.assertLedgerConsistent(t)
}

func TestAllocateRevenueExceedsAvailable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fundMain(t, "7000")
	subA := f.subAccount(t, "A")

	_, err := f.ledger.AllocateRevenue(ctx, f.caller, subA.ID, d("8000"), "")
	assert.ErrorIs(t, err, errs.ErrAllocationExceedsAvailable)
	f.assertBalance(t, f.mainID, "7000")
	f.assertBalance(t, subA.ID, "0")

	paired := true
	page, err := f.ledger.ListTransactions(ctx, repository.TransactionFilter{Paired: &paired}, "", 0)
	require.NoError(t, err)
	assert.Empty(t, page.List, "a rejected allocation writes no legs")
}

func TestTransferFunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fundMain(t, "3000")
	subA := f.subAccount(t, "A")
	subB := f.subAccount(t, "B")
	_, err := f.ledger.AllocateRevenue(ctx, f.caller, subA.ID, d("3000"), "")
	require.NoError(t, err)

	res, err := f.ledger.TransferFunds(ctx, f.caller, subA.ID, subB.ID, d("1500"), "split")
	require.NoError(t, err)
	assert.True(t, res.FromAccount.Balance.Equal(d("1500")))
	assert.True(t, res.ToAccount.Balance.Equal(d("1500")))
	require.Len(t, res.Transactions, 2)
	assert.Equal(t, *res.Transactions[0].LinkGroupID, *res.Transactions[1].LinkGroupID)

	// 子账户也可以转回主账户
	_, err = f.ledger.TransferFunds(ctx, f.caller, subB.ID, f.mainID, d("500"), "")
	require.NoError(t, err)
	f.assertBalance(t, f.mainID, "500")
	f.assertBalance(t, subB.ID, "1000")

	f.assertLedgerConsistent(t)
}

func TestConcurrentAllocationsNeverOverdraw(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fundMain(t, "10000")
	subA := f.subAccount(t, "A")
	subB := f.subAccount(t, "B")

	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		errCh = make(chan error, 2)
	)
	for _, target := range []string{subA.ID, subB.ID} {
		wg.Add(1)
		go func(target string) {
			defer wg.Done()
			<-start
			_, err := f.ledger.AllocateRevenue(ctx, f.caller, target, d("6000"), "")
			errCh <- err
		}(target)
	}
	close(start)
	wg.Wait()
	close(errCh)

	var ok, rejected int
	for err := range errCh {
		switch {
		case err == nil:
			ok++
		case errs.KindOf(err) == errs.KindAllocationExceedsAvailable:
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, rejected)
	f.assertBalance(t, f.mainID, "4000")
	assert.True(t, f.balance(t, subA.ID).Add(f.balance(t, subB.ID)).Equal(d("6000")))
	f.assertLedgerConsistent(t)
}

func TestDeleteAccountRequiresZeroBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fundMain(t, "500")
	subA := f.subAccount(t, "A")
	_, err := f.ledger.AllocateRevenue(ctx, f.caller, subA.ID, d("500"), "")
	require.NoError(t, err)

	err = f.ledger.DeleteAccount(ctx, f.caller, subA.ID)
	assert.ErrorIs(t, err, errs.ErrNonZeroBalance)

	_, err = f.ledger.TransferFunds(ctx, f.caller, subA.ID, f.mainID, d("500"), "")
	require.NoError(t, err)
	require.NoError(t, f.ledger.DeleteAccount(ctx, f.caller, subA.ID))

	_, err = f.ledger.GetAccount(ctx, subA.ID)
	assert.ErrorIs(t, err, errs.ErrNotFound)
	assert.ErrorIs(t, f.ledger.DeleteAccount(ctx, f.caller, f.mainID), errs.ErrMainAccountProtected)
	assert.ErrorIs(t, f.ledger.DeleteAccount(ctx, f.caller, "ACC-missing"), errs.ErrNotFound)

	// 已删除账户的历史流水保留，总额守恒
	f.assertBalance(t, f.mainID, "500")
	total, err := f.revenue.TotalRevenue(ctx)
	require.NoError(t, err)
	assert.True(t, total.Equal(d("500")))
}

// ============================================================================
// 校验与错误
// ============================================================================

func TestValidationErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fundMain(t, "100")
	subA := f.subAccount(t, "A")

	post := func(accountID, kind, amt, title string) error {
		_, err := f.ledger.PostTransaction(ctx, f.caller, service.PostTransactionInput{
			AccountID: accountID, Kind: kind, Amount: d(amt), Title: title,
		})
		return err
	}
	allocate := func(target, amt string) error {
		_, err := f.ledger.AllocateRevenue(ctx, f.caller, target, d(amt), "")
		return err
	}
	transfer := func(from, to, amt string) error {
		_, err := f.ledger.TransferFunds(ctx, f.caller, from, to, d(amt), "")
		return err
	}

	cases := []struct {
		name string
		err  error
		want error
	}{
		{"post zero", post(f.mainID, model.KindInflow, "0", "Sales"), errs.ErrInvalidAmount},
		{"post negative", post(f.mainID, model.KindInflow, "-5", "Sales"), errs.ErrInvalidAmount},
		{"post sub-cent", post(f.mainID, model.KindInflow, "1.005", "Sales"), errs.ErrInvalidAmount},
		{"post above column range", post(f.mainID, model.KindInflow, "1000000000000000000", "Sales"), errs.ErrInvalidAmount},
		{"post balance overflow", post(f.mainID, model.KindInflow, "999999999999999999.99", "Sales"), errs.ErrInvalidAmount},
		{"post unknown account", post("ACC-missing", model.KindInflow, "1", "Sales"), errs.ErrNotFound},
		{"post overdraw", post(subA.ID, model.KindOutflow, "1", "Fees"), errs.ErrInsufficientFunds},
		{"post bad kind", post(f.mainID, "refund", "1", "Sales"), errs.ErrInvalidRequest},
		{"post blank title", post(f.mainID, model.KindInflow, "1", "   "), errs.ErrInvalidRequest},
		{"allocate zero", allocate(subA.ID, "0"), errs.ErrInvalidAmount},
		{"allocate to main", allocate(f.mainID, "1"), errs.ErrCannotAllocateToMain},
		{"allocate unknown", allocate("ACC-missing", "1"), errs.ErrNotFound},
		{"transfer same", transfer(subA.ID, subA.ID, "1"), errs.ErrSameAccount},
		{"transfer negative", transfer(f.mainID, subA.ID, "-1"), errs.ErrInvalidAmount},
		{"transfer overdraw", transfer(subA.ID, f.mainID, "1"), errs.ErrInsufficientFunds},
		{"transfer unknown", transfer(f.mainID, "ACC-missing", "1"), errs.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, tc.err, tc.want)
		})
	}

	f.assertBalance(t, f.mainID, "100")
	f.assertBalance(t, subA.ID, "0")
	f.assertLedgerConsistent(t)
}

func TestPostTransactionUsesSuppliedTime(t *testing.T) {
	f := newFixture(t)
	at := time.Date(2025, 6, 30, 23, 59, 59, 0, time.FixedZone("CST", 8*3600))

	res, err := f.ledger.PostTransaction(context.Background(), f.caller, service.PostTransactionInput{
		AccountID:  f.mainID,
		Kind:       model.KindInflow,
		Amount:     d("12.50"),
		Title:      "Consulting: ACME",
		Notes:      "invoice 42",
		OccurredAt: &at,
	})
	require.NoError(t, err)
	assert.True(t, res.Transaction.OccurredAt.Equal(at))
	assert.True(t, res.Account.Balance.Equal(d("12.5")))

	got, err := f.ledger.GetTransaction(context.Background(), res.Transaction.ID)
	require.NoError(t, err)
	assert.True(t, got.OccurredAt.Equal(at))
	assert.Equal(t, "invoice 42", got.Notes)
}

// ============================================================================
// 创建、修改账户
// ============================================================================

func TestCreateFundedAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fundMain(t, "1000")

	res, err := f.ledger.CreateFundedAccount(ctx, f.caller, service.CreateAccountInput{
		Name:              "Marketing",
		Details:           "ads",
		AccountType:       model.AccountTypeOperating,
		InitialAllocation: d("250.25"),
	})
	require.NoError(t, err)
	assert.True(t, res.Account.Balance.Equal(d("250.25")))
	require.NotNil(t, res.MainAccount)
	assert.True(t, res.MainAccount.Balance.Equal(d("749.75")))
	assert.Len(t, res.Transactions, 2)
	f.assertLedgerConsistent(t)

	before, err := f.ledger.ListAccounts(ctx)
	require.NoError(t, err)

	_, err = f.ledger.CreateFundedAccount(ctx, f.caller, service.CreateAccountInput{Name: "Too big", InitialAllocation: d("749.76")})
	assert.ErrorIs(t, err, errs.ErrAllocationExceedsAvailable)

	after, err := f.ledger.ListAccounts(ctx)
	require.NoError(t, err)
	assert.Len(t, after, len(before), "failed funding leaves no orphan account")

	_, err = f.ledger.CreateFundedAccount(ctx, f.caller, service.CreateAccountInput{Name: "X", AccountType: model.AccountTypeMain})
	assert.ErrorIs(t, err, errs.ErrMainAccountImmutable)
	_, err = f.ledger.CreateFundedAccount(ctx, f.caller, service.CreateAccountInput{Name: "X", InitialAllocation: d("-1")})
	assert.ErrorIs(t, err, errs.ErrInvalidAmount)
	_, err = f.ledger.CreateFundedAccount(ctx, f.caller, service.CreateAccountInput{Name: " "})
	assert.ErrorIs(t, err, errs.ErrInvalidRequest)
	_, err = f.ledger.CreateFundedAccount(ctx, f.caller, service.CreateAccountInput{Name: "X", AccountType: "crypto"})
	assert.ErrorIs(t, err, errs.ErrInvalidRequest)
}

func TestUpdateAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fundMain(t, "1000")
	subA := f.subAccount(t, "A")

	name := "Operations"
	res, err := f.ledger.UpdateAccount(ctx, f.caller, subA.ID, service.AccountChanges{Name: &name, Balance: ptr(d("400"))})
	require.NoError(t, err)
	assert.Equal(t, "Operations", res.Account.Name)
	assert.True(t, res.Account.Balance.Equal(d("400")))
	require.NotNil(t, res.MainAccount)
	assert.True(t, res.MainAccount.Balance.Equal(d("600")))
	require.Len(t, res.Transactions, 2)
	assert.Equal(t, f.mainID, res.Transactions[0].AccountID)

	// 调低余额 = 转回主账户
	res, err = f.ledger.UpdateAccount(ctx, f.caller, subA.ID, service.AccountChanges{Balance: ptr(d("100"))})
	require.NoError(t, err)
	assert.True(t, res.Account.Balance.Equal(d("100")))
	assert.Equal(t, subA.ID, res.Transactions[0].AccountID)
	f.assertBalance(t, f.mainID, "900")

	// 余额不变不产生流水
	res, err = f.ledger.UpdateAccount(ctx, f.caller, subA.ID, service.AccountChanges{Balance: ptr(d("100"))})
	require.NoError(t, err)
	assert.Empty(t, res.Transactions)

	// 超出未分配余额：整个修改回滚，包括改名
	renamed := "Renamed"
	_, err = f.ledger.UpdateAccount(ctx, f.caller, subA.ID, service.AccountChanges{Name: &renamed, Balance: ptr(d("1001"))})
	assert.ErrorIs(t, err, errs.ErrAllocationExceedsAvailable)
	account, err := f.ledger.GetAccount(ctx, subA.ID)
	require.NoError(t, err)
	assert.Equal(t, "Operations", account.Name)
	assert.True(t, account.Balance.Equal(d("100")))

	_, err = f.ledger.UpdateAccount(ctx, f.caller, f.mainID, service.AccountChanges{Balance: ptr(d("1"))})
	assert.ErrorIs(t, err, errs.ErrMainAccountImmutable)
	_, err = f.ledger.UpdateAccount(ctx, f.caller, f.mainID, service.AccountChanges{IsMain: ptr(false)})
	assert.ErrorIs(t, err, errs.ErrMainAccountImmutable)
	_, err = f.ledger.UpdateAccount(ctx, f.caller, subA.ID, service.AccountChanges{IsMain: ptr(true)})
	assert.ErrorIs(t, err, errs.ErrMainAccountImmutable)
	_, err = f.ledger.UpdateAccount(ctx, f.caller, "ACC-missing", service.AccountChanges{Name: &name})
	assert.ErrorIs(t, err, errs.ErrNotFound)

	f.assertLedgerConsistent(t)
}

func ptr[T any](v T) *T { return &v }

// ============================================================================
// 删除流水
// ============================================================================

func TestDeleteTransaction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	subA := f.subAccount(t, "A")

	first, err := f.ledger.PostTransaction(ctx, f.caller, service.PostTransactionInput{
		AccountID: f.mainID, Kind: model.KindInflow, Amount: d("300"), Title: "Sales: one",
	})
	require.NoError(t, err)
	second, err := f.ledger.PostTransaction(ctx, f.caller, service.PostTransactionInput{
		AccountID: f.mainID, Kind: model.KindInflow, Amount: d("200"), Title: "Sales: two",
	})
	require.NoError(t, err)
	alloc, err := f.ledger.AllocateRevenue(ctx, f.caller, subA.ID, d("250"), "")
	require.NoError(t, err)

	_, err = f.ledger.DeleteTransaction(ctx, f.caller, alloc.Transactions[0].ID)
	assert.ErrorIs(t, err, errs.ErrPairedTransactionImmutable)

	// 主账户余额 250，删除 300 的入账会使余额为负
	_, err = f.ledger.DeleteTransaction(ctx, f.caller, first.Transaction.ID)
	assert.ErrorIs(t, err, errs.ErrInsufficientFunds)
	_, err = f.ledger.GetTransaction(ctx, first.Transaction.ID)
	require.NoError(t, err, "rejected delete keeps the transaction")

	account, err := f.ledger.DeleteTransaction(ctx, f.caller, second.Transaction.ID)
	require.NoError(t, err)
	assert.True(t, account.Balance.Equal(d("50")))

	_, err = f.ledger.DeleteTransaction(ctx, f.caller, second.Transaction.ID)
	assert.ErrorIs(t, err, errs.ErrNotFound)

	f.assertLedgerConsistent(t)
}

// ============================================================================
// 并发与守恒
// ============================================================================

func TestConcurrentTransfersConserveTotal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fundMain(t, "1000")
	ids := []string{f.mainID}
	for i := 0; i < 3; i++ {
		res, err := f.ledger.CreateFundedAccount(ctx, f.caller, service.CreateAccountInput{
			Name: fmt.Sprintf("sub-%d", i), InitialAllocation: d("100"),
		})
		require.NoError(t, err)
		ids = append(ids, res.Account.ID)
	}

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				from := ids[(w+i)%len(ids)]
				to := ids[(w+i+1+w%2)%len(ids)]
				_, err := f.ledger.TransferFunds(ctx, f.caller, from, to, d("7.5"), "")
				if err != nil && errs.KindOf(err) != errs.KindInsufficientFunds {
					t.Errorf("transfer %s -> %s: %v", from, to, err)
				}
			}
		}(w)
	}
	wg.Wait()

	total, err := f.revenue.TotalRevenue(ctx)
	require.NoError(t, err)
	assert.True(t, total.Equal(d("1000")), "total %s", total)
	f.assertLedgerConsistent(t)
}

// ============================================================================
// 变更事件
// ============================================================================

func TestMutationsEnqueueChangeEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	outbox := repository.NewOutboxRepository(f.db)

	f.fundMain(t, "100")
	subA := f.subAccount(t, "A")
	_, err := f.ledger.AllocateRevenue(ctx, f.caller, subA.ID, d("40"), "")
	require.NoError(t, err)
	_, err = f.ledger.AllocateRevenue(ctx, f.caller, subA.ID, d("1000"), "")
	require.Error(t, err)

	msgs, err := outbox.Pending(ctx, 100)
	require.NoError(t, err)
	require.Len(t, msgs, 4, "post + account created + two legs; the rejected allocation writes nothing")

	var types []string
	for _, msg := range msgs {
		e, err := event.Unmarshal([]byte(msg.Payload))
		require.NoError(t, err)
		types = append(types, e.Type)
		assert.Equal(t, "alice", e.Actor)
	}
	assert.Equal(t, []string{
		event.TypeTransactionPosted,
		event.TypeAccountCreated,
		event.TypeTransactionPosted,
		event.TypeTransactionPosted,
	}, types)

	last, err := event.Unmarshal([]byte(msgs[3].Payload))
	require.NoError(t, err)
	assert.Equal(t, subA.ID, last.AccountID)
	require.NotNil(t, last.Balance)
	assert.True(t, last.Balance.Equal(d("40")))
	assert.NotEmpty(t, last.LinkGroupID)
}

// ============================================================================
// 分页
// ============================================================================

func TestListTransactionsPages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		f.fundMain(t, "1")
	}

	page, err := f.ledger.ListTransactions(ctx, repository.TransactionFilter{}, "", 2)
	require.NoError(t, err)
	assert.Len(t, page.List, 2)
	require.NotEmpty(t, page.NextCursor)

	seen := len(page.List)
	for page.NextCursor != "" {
		page, err = f.ledger.ListTransactions(ctx, repository.TransactionFilter{}, page.NextCursor, 2)
		require.NoError(t, err)
		seen += len(page.List)
	}
	assert.Equal(t, 5, seen)

	_, err = f.ledger.ListTransactions(ctx, repository.TransactionFilter{}, "not a cursor!", 2)
	assert.ErrorIs(t, err, errs.ErrInvalidRequest)
	_, err = f.ledger.ListTransactions(ctx, repository.TransactionFilter{Kind: "refund"}, "", 2)
	assert.ErrorIs(t, err, errs.ErrInvalidRequest)
}

func TestListTransactionsPagesAcrossDistantDates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	years := []int{1500, 1501, 1502, 2300}
	for _, y := range years {
		at := time.Date(y, 1, 1, 0, 0, 0, 0, time.UTC)
		_, err := f.ledger.PostTransaction(ctx, f.caller, service.PostTransactionInput{
			AccountID: f.mainID, Kind: model.KindInflow, Amount: d("1"), Title: "Sales", OccurredAt: &at,
		})
		require.NoError(t, err)
	}

	seen := map[string]bool{}
	var order []int
	cursor := ""
	for i := 0; i < len(years)+1; i++ {
		page, err := f.ledger.ListTransactions(ctx, repository.TransactionFilter{}, cursor, 1)
		require.NoError(t, err)
		for _, trans := range page.List {
			assert.False(t, seen[trans.ID], "transaction %s returned twice", trans.ID)
			seen[trans.ID] = true
			order = append(order, trans.OccurredAt.Year())
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	assert.Equal(t, []int{2300, 1502, 1501, 1500}, order)
}
