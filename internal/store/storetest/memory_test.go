package storetest

import (
	"context"
	"errors"
	"testing"

	"banking_system/internal/domain"
	"banking_system/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithinTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := New()
	boom := errors.New("boom")

	err := s.WithinTx(ctx, func(tx store.Store) error {
		require.NoError(t, tx.Accounts().Create(ctx, &domain.Account{UserID: 1, AccountNumber: "1", IBAN: "DE1"}))
		return boom
	})
	assert.ErrorIs(t, err, boom)
	accs, err := s.Accounts().FindByOwnerID(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, accs)
}

func TestNestedWithinTxRollsBackOnlyInnerChanges(t *testing.T) {
	ctx := context.Background()
	s := New()
	boom := errors.New("boom")

	err := s.WithinTx(ctx, func(tx store.Store) error {
		outer := &domain.Account{UserID: 1, AccountNumber: "1", IBAN: "DE1"}
		require.NoError(t, tx.Accounts().Create(ctx, outer))

		inner := tx.WithinTx(ctx, func(tx store.Store) error {
			require.NoError(t, tx.Accounts().UpdateBalance(ctx, outer.ID, decimal.NewFromInt(50)))
			require.NoError(t, tx.Accounts().Create(ctx, &domain.Account{UserID: 1, AccountNumber: "2", IBAN: "DE2"}))
			return boom
		})
		assert.ErrorIs(t, inner, boom)

		// The outer transaction carries on with its own writes intact
		got, err := tx.Accounts().FindByID(ctx, outer.ID)
		require.NoError(t, err)
		assert.True(t, got.Balance.IsZero())
		return tx.Accounts().UpdateBalance(ctx, outer.ID, decimal.NewFromInt(10))
	})
	require.NoError(t, err)

	accs, err := s.Accounts().FindByOwnerID(ctx, 1)
	require.NoError(t, err)
	require.Len(t, accs, 1)
	assert.Equal(t, "1", accs[0].AccountNumber)
	assert.True(t, decimal.NewFromInt(10).Equal(s.TotalBalance()))
}
