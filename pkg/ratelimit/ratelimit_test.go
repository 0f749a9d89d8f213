package ratelimit

import (
	"math/big"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/crossgate/crossgate/pkg/transfer"
)

type fakeSupply map[transfer.Address]sdkmath.Int

func (f fakeSupply) TotalSupply(token transfer.Address) (sdkmath.Int, bool) {
	s, ok := f[token]
	return s, ok
}

func testToken(b byte) transfer.Address {
	var a transfer.Address
	a[31] = b
	return a
}

func TestDefaultCapIsTenthOfAPercent(t *testing.T) {
	token := testToken(1)
	l := New(zap.NewNop(), fakeSupply{token: sdkmath.NewInt(1_000_000)})

	// 0.1% of 1,000,000 = 1,000.
	require.NoError(t, l.CheckAndConsume(token, big.NewInt(1000), Inbound))
	assert.ErrorIs(t, l.CheckAndConsume(token, big.NewInt(1), Inbound), ErrLimitExceeded)
}

func TestExplicitCapOverridesDefault(t *testing.T) {
	token := testToken(1)
	l := New(zap.NewNop(), fakeSupply{token: sdkmath.NewInt(1_000_000)})
	l.SetCap(token, sdkmath.NewInt(50))

	require.NoError(t, l.CheckAndConsume(token, big.NewInt(50), Inbound))
	assert.ErrorIs(t, l.CheckAndConsume(token, big.NewInt(1), Inbound), ErrLimitExceeded)
}

func TestDirectionsAreIndependent(t *testing.T) {
	token := testToken(1)
	l := New(zap.NewNop(), fakeSupply{})
	l.SetCap(token, sdkmath.NewInt(10))

	require.NoError(t, l.CheckAndConsume(token, big.NewInt(10), Inbound))
	require.NoError(t, l.CheckAndConsume(token, big.NewInt(10), Outbound))
	assert.ErrorIs(t, l.CheckAndConsume(token, big.NewInt(1), Inbound), ErrLimitExceeded)
}

func TestWindowBoundaryReset(t *testing.T) {
	token := testToken(1)
	l := New(zap.NewNop(), fakeSupply{})
	l.SetCap(token, sdkmath.NewInt(10))

	now := time.Unix(1700000000, 0)
	l.SetWindowForTest(time.Hour, func() time.Time { return now })

	require.NoError(t, l.CheckAndConsume(token, big.NewInt(10), Inbound))
	assert.ErrorIs(t, l.CheckAndConsume(token, big.NewInt(1), Inbound), ErrLimitExceeded)

	// Just before the boundary the budget is still spent.
	now = now.Add(time.Hour - time.Second)
	assert.ErrorIs(t, l.CheckAndConsume(token, big.NewInt(1), Inbound), ErrLimitExceeded)

	// At the boundary the counter resets in full.
	now = now.Add(time.Second)
	require.NoError(t, l.CheckAndConsume(token, big.NewInt(10), Inbound))
}

func TestRejectedConsumeDoesNotBurnBudget(t *testing.T) {
	token := testToken(1)
	l := New(zap.NewNop(), fakeSupply{})
	l.SetCap(token, sdkmath.NewInt(10))

	require.NoError(t, l.CheckAndConsume(token, big.NewInt(6), Inbound))
	assert.ErrorIs(t, l.CheckAndConsume(token, big.NewInt(6), Inbound), ErrLimitExceeded)
	// The failed attempt must not have consumed anything.
	require.NoError(t, l.CheckAndConsume(token, big.NewInt(4), Inbound))
}

func TestRefundRestoresBudget(t *testing.T) {
	token := testToken(1)
	l := New(zap.NewNop(), fakeSupply{})
	l.SetCap(token, sdkmath.NewInt(10))

	require.NoError(t, l.CheckAndConsume(token, big.NewInt(10), Outbound))
	l.Refund(token, big.NewInt(10), Outbound)
	require.NoError(t, l.CheckAndConsume(token, big.NewInt(10), Outbound))

	// Refunds are per direction.
	l.Refund(token, big.NewInt(10), Inbound)
	assert.ErrorIs(t, l.CheckAndConsume(token, big.NewInt(1), Outbound), ErrLimitExceeded)
}

func TestRefundDoesNotCrossWindowBoundary(t *testing.T) {
	token := testToken(1)
	l := New(zap.NewNop(), fakeSupply{})
	l.SetCap(token, sdkmath.NewInt(10))

	now := time.Unix(1700000000, 0)
	l.SetWindowForTest(time.Hour, func() time.Time { return now })

	require.NoError(t, l.CheckAndConsume(token, big.NewInt(10), Inbound))

	// A refund landing after the window reset must not create headroom in
	// the new window beyond the cap.
	now = now.Add(time.Hour)
	l.Refund(token, big.NewInt(10), Inbound)
	require.NoError(t, l.CheckAndConsume(token, big.NewInt(10), Inbound))
	assert.ErrorIs(t, l.CheckAndConsume(token, big.NewInt(1), Inbound), ErrLimitExceeded)
}

func TestUnknownTokenFailsClosed(t *testing.T) {
	l := New(zap.NewNop(), fakeSupply{})
	assert.Error(t, l.CheckAndConsume(testToken(9), big.NewInt(1), Inbound))
}
