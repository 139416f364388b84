package service_test

import (
	"context"
	"slices"
	"testing"
	"time"

	"revledger/internal/model"
	"revledger/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarize(t *testing.T) {
	accounts := []*model.Account{
		{ID: "ACC1", Name: "Main", IsMain: true, AccountType: model.AccountTypeMain, Balance: d("7000")},
		{ID: "ACC2", Name: "Ops", AccountType: model.AccountTypeOperating, Balance: d("2500.5")},
		{ID: "ACC3", Name: "Rainy day", AccountType: model.AccountTypeSavings, Balance: d("499.5")},
	}
	s := service.Summarize(accounts, "USD")

	require.Len(t, s.Accounts, 3)
	assert.Equal(t, "ACC1", s.Accounts[0].AccountID)
	assert.True(t, s.MainAccountBalance.Equal(d("7000")))
	assert.True(t, s.AllocatedTotal.Equal(d("3000")))
	assert.True(t, s.TotalRevenue.Equal(d("10000")))
	assert.Equal(t, "$10,000.00", s.Display.TotalRevenue)
	assert.Equal(t, "$2,500.50", s.Accounts[1].Display)

	empty := service.Summarize(nil, "EUR")
	assert.True(t, empty.TotalRevenue.IsZero())
	assert.NotNil(t, empty.Accounts)
}

func TestDefaultCategory(t *testing.T) {
	cases := map[string]string{
		"Consulting: ACME": "consulting",
		"  SALES :january": "sales",
		"no prefix here":   service.UncategorizedCategory,
		": missing prefix": service.UncategorizedCategory,
		"a:b:c":            "a",
		"Allocation: Ops":  "allocation",
	}
	for title, want := range cases {
		assert.Equal(t, want, service.DefaultCategory(&model.Transaction{Title: title}), title)
	}
}

func TestBreakdownByCategory(t *testing.T) {
	txns := []*model.Transaction{
		{Title: "Sales: jan", Kind: model.KindInflow, Amount: d("100")},
		{Title: "Sales: refund", Kind: model.KindOutflow, Amount: d("30")},
		{Title: "Consulting: ACME", Kind: model.KindInflow, Amount: d("500")},
		{Title: "Hosting: aws", Kind: model.KindOutflow, Amount: d("20")},
		{Title: "misc", Kind: model.KindInflow, Amount: d("70")},
	}
	breakdown := service.BreakdownByCategory(slices.Values(txns), nil)

	require.Len(t, breakdown, 4)
	var names []string
	for _, ct := range breakdown {
		names = append(names, ct.Category)
	}
	// sales 与 uncategorized 净额同为 70，按名称排序
	assert.Equal(t, []string{"consulting", "sales", "uncategorized", "hosting"}, names)

	sales := breakdown[1]
	assert.True(t, sales.Inflow.Equal(d("100")))
	assert.True(t, sales.Outflow.Equal(d("30")))
	assert.True(t, sales.Net.Equal(d("70")))
	assert.Equal(t, 2, sales.Count)
	assert.True(t, breakdown[3].Net.Equal(d("-20")))

	byKind := service.BreakdownByCategory(slices.Values(txns), func(t *model.Transaction) string { return t.Kind })
	require.Len(t, byKind, 2)
	assert.Equal(t, model.KindInflow, byKind[0].Category)

	assert.Empty(t, service.BreakdownByCategory(slices.Values([]*model.Transaction(nil)), nil))
}

func TestAccountsSummaryReflectsEveryCommit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fundMain(t, "10000")

	first, err := f.revenue.AccountsSummary(ctx)
	require.NoError(t, err)
	second, err := f.revenue.AccountsSummary(ctx)
	require.NoError(t, err)
	require.Len(t, second.Accounts, len(first.Accounts), "repeated reads are stable")
	for i := range first.Accounts {
		assert.Equal(t, first.Accounts[i].AccountID, second.Accounts[i].AccountID)
		assert.True(t, first.Accounts[i].Balance.Equal(second.Accounts[i].Balance))
	}
	assert.True(t, first.TotalRevenue.Equal(second.TotalRevenue))

	subA := f.subAccount(t, "A")
	_, err = f.ledger.AllocateRevenue(ctx, f.caller, subA.ID, d("3000"), "")
	require.NoError(t, err)

	summary, err := f.revenue.AccountsSummary(ctx)
	require.NoError(t, err)
	require.Len(t, summary.Accounts, 2)
	assert.True(t, summary.Accounts[0].IsMain)
	assert.True(t, summary.MainAccountBalance.Equal(d("7000")))
	assert.True(t, summary.AllocatedTotal.Equal(d("3000")))
	assert.True(t, summary.TotalRevenue.Equal(d("10000")), "allocation does not change total revenue")

	unallocated, err := f.revenue.Unallocated(ctx)
	require.NoError(t, err)
	assert.True(t, unallocated.Equal(d("7000")))
	allocated, err := f.revenue.AllocatedTotal(ctx)
	require.NoError(t, err)
	assert.True(t, allocated.Equal(d("3000")))
}

func TestRevenueTotalIgnoresInternalMovements(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	jan := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC)

	post := func(kind, amt, title string, at time.Time) {
		_, err := f.ledger.PostTransaction(ctx, f.caller, service.PostTransactionInput{
			AccountID: f.mainID, Kind: kind, Amount: d(amt), Title: title, OccurredAt: &at,
		})
		require.NoError(t, err)
	}
	post(model.KindInflow, "1000", "Consulting: ACME", jan)
	post(model.KindInflow, "400", "Sales: widgets", feb)
	post(model.KindOutflow, "50", "Sales: refund", feb)

	subA := f.subAccount(t, "A")
	_, err := f.ledger.AllocateRevenue(ctx, f.caller, subA.ID, d("600"), "")
	require.NoError(t, err)

	report, err := f.revenue.RevenueTotal(ctx, nil, nil)
	require.NoError(t, err)
	assert.True(t, report.TotalRevenue.Equal(d("1350")))
	assert.True(t, report.PeriodNet.Equal(d("1350")), "with no range the unpaired net equals total revenue")
	require.Len(t, report.Breakdown, 2)
	assert.Equal(t, "consulting", report.Breakdown[0].Category)
	assert.Equal(t, "$1,350.00", report.Display)

	from := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	feb26, err := f.revenue.RevenueTotal(ctx, &from, &to)
	require.NoError(t, err)
	assert.True(t, feb26.TotalRevenue.Equal(d("1350")))
	assert.True(t, feb26.PeriodNet.Equal(d("350")))
	require.Len(t, feb26.Breakdown, 1)
	assert.Equal(t, "sales", feb26.Breakdown[0].Category)

	_, err = f.revenue.RevenueTotal(ctx, &to, &from)
	assert.Error(t, err)
}
