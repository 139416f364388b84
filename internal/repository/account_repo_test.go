package repository_test

import (
	"context"
	"testing"

	"revledger/internal/errs"
	"revledger/internal/model"
	"revledger/internal/repository"
	"revledger/internal/testutil"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func ptr[T any](v T) *T { return &v }

func newSubAccount(t *testing.T, db *gorm.DB, repo *repository.AccountRepository, name string) *model.Account {
	t.Helper()
	acc := &model.Account{ID: "ACC-" + name, Name: name, AccountType: model.AccountTypeOperating, Balance: decimal.Zero}
	require.NoError(t, repo.Create(context.Background(), nil, acc))
	return acc
}

func TestAccountRepositoryGetAndList(t *testing.T) {
	db := testutil.NewDB(t)
	repo := repository.NewAccountRepository(db)
	ctx := context.Background()

	main, err := repo.GetMain(ctx, nil)
	require.NoError(t, err)
	assert.True(t, main.IsMain)

	sub := newSubAccount(t, db, repo, "ops")
	got, err := repo.GetByID(ctx, nil, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, "ops", got.Name)

	_, err = repo.GetByID(ctx, nil, "ACC-missing")
	assert.ErrorIs(t, err, errs.ErrNotFound)

	list, err := repo.List(ctx, nil)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.True(t, list[0].IsMain, "main account is listed first")
}

func TestAccountRepositoryUpdate(t *testing.T) {
	db := testutil.NewDB(t)
	repo := repository.NewAccountRepository(db)
	ctx := context.Background()
	main, err := repo.GetMain(ctx, nil)
	require.NoError(t, err)
	sub := newSubAccount(t, db, repo, "ops")

	require.NoError(t, repo.Update(ctx, nil, sub, repository.AccountUpdate{
		Name:        ptr("Operations"),
		Details:     ptr("day to day"),
		AccountType: ptr(model.AccountTypeSavings),
	}))
	reloaded, err := repo.GetByID(ctx, nil, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, "Operations", reloaded.Name)
	assert.Equal(t, model.AccountTypeSavings, reloaded.AccountType)
	assert.Equal(t, 1, reloaded.Version)

	// 主账户可以改名
	require.NoError(t, repo.Update(ctx, nil, main, repository.AccountUpdate{Name: ptr("Revenue")}))

	cases := []struct {
		name    string
		account *model.Account
		upd     repository.AccountUpdate
		want    error
	}{
		{"demote main", main, repository.AccountUpdate{IsMain: ptr(false)}, errs.ErrMainAccountImmutable},
		{"promote sub", sub, repository.AccountUpdate{IsMain: ptr(true)}, errs.ErrMainAccountImmutable},
		{"retype main", main, repository.AccountUpdate{AccountType: ptr(model.AccountTypeOther)}, errs.ErrMainAccountImmutable},
		{"sub to main type", sub, repository.AccountUpdate{AccountType: ptr(model.AccountTypeMain)}, errs.ErrMainAccountImmutable},
		{"unknown type", sub, repository.AccountUpdate{AccountType: ptr("crypto")}, errs.ErrInvalidRequest},
		{"blank name", sub, repository.AccountUpdate{Name: ptr("  ")}, errs.ErrInvalidRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, repo.Update(ctx, nil, tc.account, tc.upd), tc.want)
		})
	}
}

func TestAccountRepositoryAdjustBalance(t *testing.T) {
	db := testutil.NewDB(t)
	repo := repository.NewAccountRepository(db)
	ctx := context.Background()
	sub := newSubAccount(t, db, repo, "ops")

	require.NoError(t, repo.AdjustBalance(ctx, nil, sub, decimal.NewFromInt(500)))
	assert.True(t, sub.Balance.Equal(decimal.NewFromInt(500)))

	err := repo.AdjustBalance(ctx, nil, sub, decimal.NewFromInt(-501))
	assert.ErrorIs(t, err, errs.ErrInsufficientFunds)
	assert.True(t, sub.Balance.Equal(decimal.NewFromInt(500)), "failed adjustment leaves balance untouched")

	// 过期的版本号：可重试冲突
	stale := *sub
	require.NoError(t, repo.AdjustBalance(ctx, nil, sub, decimal.NewFromInt(-100)))
	err = repo.AdjustBalance(ctx, nil, &stale, decimal.NewFromInt(-100))
	assert.ErrorIs(t, err, errs.ErrStorageUnavailable)
	assert.True(t, errs.IsRetryable(err))

	reloaded, err := repo.GetByID(ctx, nil, sub.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.Balance.Equal(decimal.NewFromInt(400)))
}

func TestAccountRepositoryDelete(t *testing.T) {
	db := testutil.NewDB(t)
	repo := repository.NewAccountRepository(db)
	ctx := context.Background()
	main, err := repo.GetMain(ctx, nil)
	require.NoError(t, err)
	sub := newSubAccount(t, db, repo, "ops")

	assert.ErrorIs(t, repo.Delete(ctx, nil, main), errs.ErrMainAccountProtected)

	require.NoError(t, repo.AdjustBalance(ctx, nil, sub, decimal.NewFromInt(1)))
	assert.ErrorIs(t, repo.Delete(ctx, nil, sub), errs.ErrNonZeroBalance)

	require.NoError(t, repo.AdjustBalance(ctx, nil, sub, decimal.NewFromInt(-1)))
	require.NoError(t, repo.Delete(ctx, nil, sub))

	_, err = repo.GetByID(ctx, nil, sub.ID)
	assert.ErrorIs(t, err, errs.ErrNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, nil, sub), errs.ErrNotFound)
}
