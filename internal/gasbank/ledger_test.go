package gasbank

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/r3e-network/faas-core/internal/faaserr"
	"github.com/r3e-network/faas-core/internal/store"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	db, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewLedger(db)
}

func TestDepositCreatesAccount(t *testing.T) {
	l := newTestLedger(t)
	a, err := l.Deposit("neo3", "addr-1", "owner-1", FeeModel{Kind: FeeFixed, Param: 100}, "0xabc", 1000)
	require.NoError(t, err)
	require.Equal(t, int64(1000), a.Balance)
	require.Equal(t, StatusActive, a.Status)

	got, err := l.GetAccount("neo3", "addr-1")
	require.NoError(t, err)
	require.Equal(t, int64(1000), got.Balance)
}

func TestReserveFromBalanceThenCredit(t *testing.T) {
	l := newTestLedger(t)
	_, err := l.Deposit("neo3", "addr-1", "owner-1", FeeModel{Kind: FeeFree}, "0xabc", 100)
	require.NoError(t, err)

	a, err := l.GetAccount("neo3", "addr-1")
	require.NoError(t, err)
	a.CreditLimit = 500
	require.NoError(t, l.putAccount(a))

	res, err := l.Reserve("neo3", "addr-1", 300)
	require.NoError(t, err)
	require.Equal(t, ReservationHeld, res.State)

	a, err = l.GetAccount("neo3", "addr-1")
	require.NoError(t, err)
	require.Equal(t, int64(0), a.Balance)
	require.Equal(t, int64(200), a.UsedCredit)
}

func TestReserveInsufficientFunds(t *testing.T) {
	l := newTestLedger(t)
	_, err := l.Deposit("neo3", "addr-1", "owner-1", FeeModel{Kind: FeeFree}, "0xabc", 50)
	require.NoError(t, err)

	_, err = l.Reserve("neo3", "addr-1", 1000)
	require.Error(t, err)
	require.Equal(t, faaserr.InsufficientFunds, faaserr.KindOf(err))
}

func TestCommitRefundsSurplusToBalance(t *testing.T) {
	l := newTestLedger(t)
	_, err := l.Deposit("neo3", "addr-1", "owner-1", FeeModel{Kind: FeeFree}, "0xabc", 1000)
	require.NoError(t, err)

	res, err := l.Reserve("neo3", "addr-1", 300)
	require.NoError(t, err)

	_, err = l.Commit(res.ID, 200)
	require.NoError(t, err)

	a, err := l.GetAccount("neo3", "addr-1")
	require.NoError(t, err)
	require.Equal(t, int64(800), a.Balance) // 1000 - 300 + 100 refund
}

func TestReleaseReturnsFullReservation(t *testing.T) {
	l := newTestLedger(t)
	_, err := l.Deposit("neo3", "addr-1", "owner-1", FeeModel{Kind: FeeFree}, "0xabc", 1000)
	require.NoError(t, err)

	res, err := l.Reserve("neo3", "addr-1", 300)
	require.NoError(t, err)

	_, err = l.Release(res.ID)
	require.NoError(t, err)

	a, err := l.GetAccount("neo3", "addr-1")
	require.NoError(t, err)
	require.Equal(t, int64(1000), a.Balance)
}

func TestFrozenAccountRejectsReserve(t *testing.T) {
	l := newTestLedger(t)
	_, err := l.Deposit("neo3", "addr-1", "owner-1", FeeModel{Kind: FeeFree}, "0xabc", 1000)
	require.NoError(t, err)

	a, err := l.GetAccount("neo3", "addr-1")
	require.NoError(t, err)
	a.Status = StatusFrozen
	require.NoError(t, l.putAccount(a))

	_, err = l.Reserve("neo3", "addr-1", 10)
	require.Error(t, err)
}

func TestRebuildRecomputesBalanceFromEntries(t *testing.T) {
	l := newTestLedger(t)
	_, err := l.Deposit("neo3", "addr-1", "owner-1", FeeModel{Kind: FeeFree}, "0xabc", 1000)
	require.NoError(t, err)
	res, err := l.Reserve("neo3", "addr-1", 300)
	require.NoError(t, err)
	_, err = l.Commit(res.ID, 250)
	require.NoError(t, err)

	a, err := l.GetAccount("neo3", "addr-1")
	require.NoError(t, err)
	a.Balance = 999999 // corrupt the cache to prove Rebuild recomputes it
	require.NoError(t, l.putAccount(a))

	require.NoError(t, l.Rebuild())

	rebuilt, err := l.GetAccount("neo3", "addr-1")
	require.NoError(t, err)
	require.Equal(t, int64(750), rebuilt.Balance) // 1000 - 300 + 50 refund
}
