package custody

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type journal struct {
	undo []func()
}

func (j *journal) record(f func()) { j.undo = append(j.undo, f) }

func (j *journal) rollback() {
	for i := len(j.undo) - 1; i >= 0; i-- {
		j.undo[i]()
	}
	j.undo = nil
}

func TestMemoryWithdrawDeposit(t *testing.T) {
	const (
		alice = "alice"
		bob   = "bob"
		kind  = "USD"
	)
	ctx := context.Background()
	ledger := NewMemoryLedger()
	var j journal
	tx := ledger.Begin(j.record)

	require.NoError(t, tx.Fund(ctx, alice, kind, decimal.NewFromInt(100)))

	// списание больше баланса
	_, err := tx.Withdraw(ctx, alice, kind, decimal.NewFromInt(101))
	require.ErrorIs(t, err, ErrInsufficientFunds)

	e, err := tx.Withdraw(ctx, alice, kind, decimal.NewFromInt(30))
	require.NoError(t, err)
	require.ErrorIs(t, tx.Settle(), ErrEscrowLeaked)

	part, err := e.Take(decimal.NewFromInt(10))
	require.NoError(t, err)
	require.NoError(t, tx.Deposit(ctx, bob, part))
	require.NoError(t, tx.Deposit(ctx, bob, e))
	require.ErrorIs(t, tx.Deposit(ctx, bob, e), ErrEscrowSpent)
	require.NoError(t, tx.Settle())

	balance, err := tx.Balance(ctx, alice, kind)
	require.NoError(t, err)
	require.True(t, balance.Equal(decimal.NewFromInt(70)))
	balance, err = tx.Balance(ctx, bob, kind)
	require.NoError(t, err)
	require.True(t, balance.Equal(decimal.NewFromInt(30)))
}

func TestMemoryForeignEscrow(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()
	var j journal
	first := ledger.Begin(j.record)
	second := ledger.Begin(j.record)

	require.NoError(t, first.Fund(ctx, "alice", "USD", decimal.NewFromInt(5)))
	e, err := first.Withdraw(ctx, "alice", "USD", decimal.NewFromInt(5))
	require.NoError(t, err)
	require.ErrorIs(t, second.Deposit(ctx, "bob", e), ErrForeignEscrow)
}

func TestMemoryRollback(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()

	var setup journal
	tx := ledger.Begin(setup.record)
	require.NoError(t, tx.Fund(ctx, "alice", "USD", decimal.NewFromInt(10)))
	require.NoError(t, tx.Mint(ctx, "alice", ResourceSellerBadge, 1, ""))

	var j journal
	tx = ledger.Begin(j.record)
	e, err := tx.Withdraw(ctx, "alice", "USD", decimal.NewFromInt(4))
	require.NoError(t, err)
	require.NoError(t, tx.Deposit(ctx, VaultFees, e))
	require.NoError(t, tx.Burn(ctx, "alice", ResourceSellerBadge, 1))
	require.NoError(t, tx.Mint(ctx, "bob", ResourceBuyerTicket, 7, "buyer"))
	j.rollback()

	balance, err := tx.Balance(ctx, "alice", "USD")
	require.NoError(t, err)
	require.True(t, balance.Equal(decimal.NewFromInt(10)))
	balance, err = tx.Balance(ctx, VaultFees, "USD")
	require.NoError(t, err)
	require.True(t, balance.IsZero())
	require.NoError(t, tx.RequireProof(ctx, "alice", ResourceSellerBadge, 1))
	require.ErrorIs(t, tx.RequireProof(ctx, "bob", ResourceBuyerTicket, 7), ErrMissingProof)
}

func TestMemoryNonFungible(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()
	var j journal
	tx := ledger.Begin(j.record)

	require.NoError(t, tx.Mint(ctx, "alice", ResourceSellerTicket, 3, "seller"))
	require.NoError(t, tx.Mint(ctx, "alice", ResourceSellerTicket, 1, "seller"))
	require.ErrorIs(t, tx.Mint(ctx, "bob", ResourceSellerTicket, 3, "seller"), ErrDuplicateNonFungible)

	ids, err := tx.Holdings(ctx, "alice", ResourceSellerTicket)
	require.NoError(t, err)
	require.Equal(t, []uint64{1, 3}, ids)

	id, err := tx.RequireAnyProof(ctx, "alice", ResourceSellerTicket)
	require.NoError(t, err)
	require.Equal(t, uint64(1), id)
	_, err = tx.RequireAnyProof(ctx, "bob", ResourceSellerTicket)
	require.ErrorIs(t, err, ErrMissingProof)

	require.ErrorIs(t, tx.Burn(ctx, "bob", ResourceSellerTicket, 3), ErrMissingProof)
	require.NoError(t, tx.Burn(ctx, "alice", ResourceSellerTicket, 3))
	require.ErrorIs(t, tx.RequireProof(ctx, "alice", ResourceSellerTicket, 3), ErrMissingProof)
}
