package bridge

import (
	"math/big"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/crossgate/crossgate/pkg/db"
	"github.com/crossgate/crossgate/pkg/normalize"
	"github.com/crossgate/crossgate/pkg/ratelimit"
	"github.com/crossgate/crossgate/pkg/registry"
	"github.com/crossgate/crossgate/pkg/transfer"
)

var (
	operator = transfer.Address{31: 0x01}
	canceler = transfer.Address{31: 0x02}
	admin    = transfer.Address{31: 0x03}
	alice    = transfer.Address{31: 0x0a}
	bob      = transfer.Address{31: 0x0b}
	weth     = transfer.Address{31: 0xee}

	localChain = transfer.ChainID(1)
	destChain  = transfer.ChainID(2)
)

type testRoles struct{}

func (testRoles) IsOperator(a transfer.Address) bool { return a == operator }
func (testRoles) IsCanceler(a transfer.Address) bool { return a == canceler }
func (testRoles) IsAdmin(a transfer.Address) bool    { return a == admin }

type testVault struct {
	locked       map[transfer.Address]*big.Int
	released     map[transfer.Address]*big.Int
	failNext     bool
	failLockNext bool
}

func newTestVault() *testVault {
	return &testVault{
		locked:   make(map[transfer.Address]*big.Int),
		released: make(map[transfer.Address]*big.Int),
	}
}

func (v *testVault) Lock(_ transfer.Address, from transfer.Address, amount *big.Int) error {
	if v.failLockNext {
		v.failLockNext = false
		return assert.AnError
	}
	v.locked[from] = new(big.Int).Set(amount)
	return nil
}

func (v *testVault) Release(_ transfer.Address, to transfer.Address, amount *big.Int) error {
	if v.failNext {
		v.failNext = false
		return assert.AnError
	}
	v.released[to] = new(big.Int).Set(amount)
	return nil
}

type fixture struct {
	bridge *Bridge
	vault  *testVault
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	database, err := db.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	reg := registry.New(localChain)
	require.NoError(t, reg.AddChain(registry.ChainEntry{ID: localChain, Name: "evmnet"}))
	require.NoError(t, reg.AddChain(registry.ChainEntry{ID: destChain, Name: "cosmonet"}))
	supply, ok := sdkmath.NewIntFromString("1000000000000000000000000")
	require.True(t, ok)
	entry := registry.TokenEntry{Token: weth, Symbol: "WETH", TotalSupply: supply}
	require.NoError(t, reg.AddToken(entry, localChain, 18))
	require.NoError(t, reg.AddToken(entry, destChain, 6))

	vault := newTestVault()
	f := &fixture{vault: vault, now: time.Unix(1700000000, 0)}

	b, err := New(Config{
		Logger:   zap.NewNop(),
		ChainID:  localChain,
		DB:       database,
		Registry: reg,
		Limiter:  ratelimit.New(zap.NewNop(), reg),
		Roles:    testRoles{},
		Vault:    vault,
	})
	require.NoError(t, err)
	b.SetClockForTest(func() time.Time { return f.now })

	f.bridge = b
	return f
}

func (f *fixture) approve(t *testing.T, amount *big.Int, nonce uint64) transfer.Digest {
	t.Helper()
	p, err := f.bridge.ApproveWithdraw(operator, destChain, weth, alice, bob, amount, nonce)
	require.NoError(t, err)
	return p.Digest()
}

func TestDepositNormalizesAndAssignsNonces(t *testing.T) {
	f := newFixture(t)

	amount, _ := new(big.Int).SetString("3500000000000000000", 10)
	dep, err := f.bridge.Deposit(alice, weth, amount, destChain, bob)
	require.NoError(t, err)

	// 3.5 WETH at 18 decimals arrives as 3.5 at the destination's 6.
	assert.Equal(t, big.NewInt(3_500000), dep.Amount)
	assert.Equal(t, uint64(0), dep.Nonce)
	assert.Equal(t, amount, f.vault.locked[alice])

	dep2, err := f.bridge.Deposit(alice, weth, amount, destChain, bob)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), dep2.Nonce)

	// The record is addressable by its digest.
	got, err := f.bridge.GetDeposit(dep.Digest())
	require.NoError(t, err)
	assert.Equal(t, dep, got)
}

func TestDepositPrecisionLossTruncates(t *testing.T) {
	f := newFixture(t)

	// 1e12 base units at 18 decimals is exactly one destination base unit.
	dep, err := f.bridge.Deposit(alice, weth, big.NewInt(1_000_000_000_000), destChain, bob)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1), dep.Amount)
}

func TestDepositFailsClosedWithoutDecimals(t *testing.T) {
	f := newFixture(t)

	unregistered := transfer.Address{31: 0x99}
	_, err := f.bridge.Deposit(alice, unregistered, big.NewInt(100), destChain, bob)
	assert.ErrorIs(t, err, normalize.ErrDecimalsNotRegistered)

	_, err = f.bridge.Deposit(alice, weth, big.NewInt(100), transfer.ChainID(99), bob)
	assert.ErrorIs(t, err, ErrUnknownChain)
}

func TestApproveWithdrawRequiresOperator(t *testing.T) {
	f := newFixture(t)
	_, err := f.bridge.ApproveWithdraw(alice, destChain, weth, alice, bob, big.NewInt(100), 0)
	assert.ErrorIs(t, err, ErrNotOperator)
}

func TestApproveWithdrawRejectsDuplicates(t *testing.T) {
	f := newFixture(t)
	f.approve(t, big.NewInt(100), 0)

	_, err := f.bridge.ApproveWithdraw(operator, destChain, weth, alice, bob, big.NewInt(100), 0)
	assert.ErrorIs(t, err, ErrDuplicateApproval)

	// A different nonce is a different transfer.
	_, err = f.bridge.ApproveWithdraw(operator, destChain, weth, alice, bob, big.NewInt(100), 1)
	assert.NoError(t, err)
}

func TestWithdrawWindowEnforcement(t *testing.T) {
	f := newFixture(t)
	digest := f.approve(t, big.NewInt(100), 0)

	// Blocked for the whole window.
	assert.ErrorIs(t, f.bridge.Withdraw(digest), ErrCancelWindowOpen)

	f.now = f.now.Add(DefaultWithdrawDelay - time.Second)
	assert.ErrorIs(t, f.bridge.Withdraw(digest), ErrCancelWindowOpen)

	// Succeeds at the first instant the window has elapsed.
	f.now = f.now.Add(time.Second)
	require.NoError(t, f.bridge.Withdraw(digest))
	assert.Equal(t, big.NewInt(100), f.vault.released[bob])
}

func TestWithdrawExecutesAtMostOnce(t *testing.T) {
	f := newFixture(t)
	digest := f.approve(t, big.NewInt(100), 0)

	f.now = f.now.Add(DefaultWithdrawDelay)
	require.NoError(t, f.bridge.Withdraw(digest))
	assert.ErrorIs(t, f.bridge.Withdraw(digest), ErrAlreadyExecuted)
}

func TestCancelAndExecuteAreMutuallyExclusive(t *testing.T) {
	f := newFixture(t)
	digest := f.approve(t, big.NewInt(100), 0)

	require.NoError(t, f.bridge.CancelWithdrawApproval(canceler, digest))

	// Cancelled is terminal: execution fails forever, even after the window.
	f.now = f.now.Add(DefaultWithdrawDelay * 2)
	assert.ErrorIs(t, f.bridge.Withdraw(digest), ErrAlreadyCancelled)
	assert.ErrorIs(t, f.bridge.CancelWithdrawApproval(canceler, digest), ErrAlreadyCancelled)

	// And the other way around.
	digest2 := f.approve(t, big.NewInt(100), 1)
	f.now = f.now.Add(DefaultWithdrawDelay)
	require.NoError(t, f.bridge.Withdraw(digest2))
	assert.ErrorIs(t, f.bridge.CancelWithdrawApproval(canceler, digest2), ErrAlreadyExecuted)
}

func TestCancelMustBeatTheWindow(t *testing.T) {
	f := newFixture(t)
	digest := f.approve(t, big.NewInt(100), 0)

	// Cancellation must land strictly before the window closes.
	f.now = f.now.Add(DefaultWithdrawDelay)
	assert.ErrorIs(t, f.bridge.CancelWithdrawApproval(canceler, digest), ErrCancelWindowClosed)
}

func TestCancelRequiresCanceler(t *testing.T) {
	f := newFixture(t)
	digest := f.approve(t, big.NewInt(100), 0)
	assert.ErrorIs(t, f.bridge.CancelWithdrawApproval(operator, digest), ErrNotCanceler)
	assert.ErrorIs(t, f.bridge.CancelWithdrawApproval(canceler, transfer.Digest{9}), ErrUnknownWithdraw)
}

func TestWithdrawDelaySnapshot(t *testing.T) {
	f := newFixture(t)
	digest := f.approve(t, big.NewInt(100), 0)

	// Shortening the delay mid-flight must not shorten the pending window.
	require.NoError(t, f.bridge.SetWithdrawDelay(admin, time.Second))
	f.now = f.now.Add(2 * time.Second)
	assert.ErrorIs(t, f.bridge.Withdraw(digest), ErrCancelWindowOpen)

	// New approvals pick up the new delay.
	digest2 := f.approve(t, big.NewInt(100), 1)
	f.now = f.now.Add(time.Second)
	require.NoError(t, f.bridge.Withdraw(digest2))

	assert.ErrorIs(t, f.bridge.SetWithdrawDelay(operator, time.Second), ErrNotAdmin)
}

func TestWithdrawRateLimited(t *testing.T) {
	f := newFixture(t)

	// Default cap = 0.1% of supply = 1e21.
	cap, _ := new(big.Int).SetString("1000000000000000000000", 10)
	over := new(big.Int).Add(cap, big.NewInt(1))

	_, err := f.bridge.ApproveWithdraw(operator, destChain, weth, alice, bob, over, 0)
	assert.ErrorIs(t, err, ratelimit.ErrLimitExceeded)

	_, err = f.bridge.ApproveWithdraw(operator, destChain, weth, alice, bob, cap, 1)
	assert.NoError(t, err)
}

func TestDepositLockFailureRefundsBudget(t *testing.T) {
	f := newFixture(t)

	// Default cap = 0.1% of supply = 1e21.
	cap, _ := new(big.Int).SetString("1000000000000000000000", 10)

	f.vault.failLockNext = true
	_, err := f.bridge.Deposit(alice, weth, cap, destChain, bob)
	require.Error(t, err)

	// The failed deposit must not have burned the window budget; a
	// full-cap deposit still goes through.
	dep, err := f.bridge.Deposit(alice, weth, cap, destChain, bob)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), dep.Nonce)
	assert.Equal(t, cap, f.vault.locked[alice])
}

func TestReleaseFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	digest := f.approve(t, big.NewInt(100), 0)
	f.now = f.now.Add(DefaultWithdrawDelay)

	f.vault.failNext = true
	require.Error(t, f.bridge.Withdraw(digest))

	// The record was rolled back, so a retry pays exactly once.
	require.NoError(t, f.bridge.Withdraw(digest))
	assert.Equal(t, big.NewInt(100), f.vault.released[bob])
	assert.ErrorIs(t, f.bridge.Withdraw(digest), ErrAlreadyExecuted)
}

func TestEventsCarryDigestFields(t *testing.T) {
	f := newFixture(t)

	events := make(chan *Event, 8)
	f.bridge.eventsC = events

	amount, _ := new(big.Int).SetString("3500000000000000000", 10)
	dep, err := f.bridge.Deposit(alice, weth, amount, destChain, bob)
	require.NoError(t, err)

	ev := <-events
	require.Equal(t, EventDepositCreated, ev.Kind)
	require.NotNil(t, ev.Deposit)
	// The event alone must suffice to recompute the digest.
	assert.Equal(t, dep.Digest(), ev.Deposit.Digest())

	p, err := f.bridge.ApproveWithdraw(operator, destChain, weth, alice, bob, big.NewInt(3_500000), dep.Nonce)
	require.NoError(t, err)

	ev = <-events
	require.Equal(t, EventWithdrawApproved, ev.Kind)
	require.NotNil(t, ev.Withdraw)
	w := ev.Withdraw
	assert.Equal(t, p.Digest(), transfer.WithdrawDigest(w.SrcChain, w.Token, w.SrcAccount, w.DestAccount, w.Amount, w.Nonce))

	// The window is serialized in seconds, not nanoseconds.
	assert.Equal(t, int64(DefaultWithdrawDelay/time.Second), w.CancelWindowSeconds)
	data, err := ev.Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"cancelWindowSeconds":1800`)
}
