package db

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crossgate/crossgate/pkg/transfer"
)

func openTestDb(t *testing.T) *Database {
	t.Helper()
	d, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func testDeposit(nonce uint64) *transfer.Deposit {
	return &transfer.Deposit{
		DestChain:   2,
		DestToken:   transfer.Address{31: 0x11},
		SrcAccount:  transfer.Address{31: 0x22},
		DestAccount: transfer.Address{31: 0x33},
		Amount:      big.NewInt(1000),
		Nonce:       nonce,
	}
}

func TestDepositStoreAndLookup(t *testing.T) {
	d := openTestDb(t)

	dep := testDeposit(0)
	require.NoError(t, d.StoreDeposit(dep))

	got, err := d.GetDeposit(dep.Digest())
	require.NoError(t, err)
	assert.Equal(t, dep, got)

	byNonce, err := d.GetDepositByNonce(0)
	require.NoError(t, err)
	assert.Equal(t, dep, byNonce)

	count, err := d.DepositCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
}

func TestDepositIsImmutable(t *testing.T) {
	d := openTestDb(t)
	dep := testDeposit(0)
	require.NoError(t, d.StoreDeposit(dep))
	assert.Error(t, d.StoreDeposit(dep))
}

func TestGetDepositNotFound(t *testing.T) {
	d := openTestDb(t)
	_, err := d.GetDeposit(transfer.Digest{1})
	assert.ErrorIs(t, err, ErrDepositNotFound)

	_, err = d.GetDepositByNonce(7)
	assert.ErrorIs(t, err, ErrDepositNotFound)
}

func TestPendingWithdrawUpdate(t *testing.T) {
	d := openTestDb(t)

	p := &transfer.PendingWithdraw{
		SrcChain:     1,
		Token:        transfer.Address{31: 0x11},
		SrcAccount:   transfer.Address{31: 0x22},
		DestAccount:  transfer.Address{31: 0x33},
		Amount:       big.NewInt(55),
		Nonce:        4,
		ApprovedAt:   time.Unix(1700000000, 0),
		CancelWindow: time.Hour,
	}
	require.NoError(t, d.StorePendingWithdraw(p))

	exists, err := d.HasPendingWithdraw(p.Digest())
	require.NoError(t, err)
	assert.True(t, exists)

	// Updating the protocol state keeps the same digest.
	p.Cancelled = true
	require.NoError(t, d.StorePendingWithdraw(p))

	got, err := d.GetPendingWithdraw(p.Digest())
	require.NoError(t, err)
	assert.True(t, got.Cancelled)
	assert.False(t, got.Executed)
}

func TestPendingWithdrawNotFound(t *testing.T) {
	d := openTestDb(t)
	_, err := d.GetPendingWithdraw(transfer.Digest{1})
	assert.ErrorIs(t, err, ErrPendingWithdrawNotFound)
}

func TestEventLogOrder(t *testing.T) {
	d := openTestDb(t)
	require.NoError(t, d.AppendEvent([]byte("a")))
	require.NoError(t, d.AppendEvent([]byte("b")))
	require.NoError(t, d.AppendEvent([]byte("c")))

	events, err := d.Events()
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b"), []byte("c")}, events)
}
