// Package bridge implements the per-ledger deposit/approve/cancel/execute
// state machine. Each exported operation executes as one serializable unit:
// either every effect of a call is committed or none is.
package bridge

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/crossgate/crossgate/pkg/db"
	"github.com/crossgate/crossgate/pkg/normalize"
	"github.com/crossgate/crossgate/pkg/ratelimit"
	"github.com/crossgate/crossgate/pkg/registry"
	"github.com/crossgate/crossgate/pkg/transfer"
)

// DefaultWithdrawDelay is the cancellation window applied to approvals until
// the admin overrides it.
const DefaultWithdrawDelay = 30 * time.Minute

var (
	depositsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossgate_bridge_deposits_created_total",
			Help: "Total number of deposits recorded by the bridge state machine",
		}, []string{"chain"})
	withdrawsApproved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossgate_bridge_withdraws_approved_total",
			Help: "Total number of withdraw approvals recorded",
		}, []string{"chain"})
	withdrawsCancelled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossgate_bridge_withdraws_cancelled_total",
			Help: "Total number of withdraw approvals cancelled inside the window",
		}, []string{"chain"})
	withdrawsExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossgate_bridge_withdraws_executed_total",
			Help: "Total number of withdraws executed after the window",
		}, []string{"chain"})
)

type (
	// Roles is the external role/permission system. The state machine only
	// checks membership; it never manages grants.
	Roles interface {
		IsOperator(account transfer.Address) bool
		IsCanceler(account transfer.Address) bool
		IsAdmin(account transfer.Address) bool
	}

	// Vault moves the actual funds on the host ledger: locking or burning
	// on deposit, releasing or minting on withdraw.
	Vault interface {
		Lock(token transfer.Address, from transfer.Address, amount *big.Int) error
		Release(token transfer.Address, to transfer.Address, amount *big.Int) error
	}

	Config struct {
		Logger   *zap.Logger
		ChainID  transfer.ChainID
		DB       *db.Database
		Registry *registry.Registry
		Limiter  *ratelimit.Limiter
		Roles    Roles
		Vault    Vault

		// Events receives every state transition. Nil disables emission
		// (tests that only exercise preconditions).
		Events chan<- *Event
	}

	Bridge struct {
		logger   *zap.Logger
		chainID  transfer.ChainID
		db       *db.Database
		registry *registry.Registry
		limiter  *ratelimit.Limiter
		roles    Roles
		vault    Vault
		eventsC  chan<- *Event

		mu            sync.Mutex
		nextNonce     uint64
		withdrawDelay time.Duration
		now           func() time.Time
	}
)

func New(cfg Config) (*Bridge, error) {
	nextNonce, err := cfg.DB.DepositCount()
	if err != nil {
		return nil, fmt.Errorf("failed to read deposit log length: %w", err)
	}

	return &Bridge{
		logger:        cfg.Logger.With(zap.Stringer("chain", cfg.ChainID)),
		chainID:       cfg.ChainID,
		db:            cfg.DB,
		registry:      cfg.Registry,
		limiter:       cfg.Limiter,
		roles:         cfg.Roles,
		vault:         cfg.Vault,
		eventsC:       cfg.Events,
		nextNonce:     nextNonce,
		withdrawDelay: DefaultWithdrawDelay,
		now:           time.Now,
	}, nil
}

// SetClockForTest lets tests drive the window timer.
func (b *Bridge) SetClockForTest(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// Deposit locks amount of token from the caller and records an immutable,
// destination-normalized Deposit. Normalization uses the destination chain's
// registered decimals and fails closed when none are registered.
func (b *Bridge) Deposit(caller transfer.Address, token transfer.Address, amount *big.Int, destChain transfer.ChainID, destAccount transfer.Address) (*transfer.Deposit, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.registry.KnownChain(destChain) {
		return nil, ErrUnknownChain
	}
	if destAccount.IsZero() {
		return nil, ErrInvalidRecipient
	}

	normalized, err := normalize.ForDeposit(b.registry, token, destChain, amount)
	if err != nil {
		return nil, err
	}

	if err := b.limiter.CheckAndConsume(token, amount, ratelimit.Outbound); err != nil {
		return nil, err
	}

	if err := b.vault.Lock(token, caller, amount); err != nil {
		b.limiter.Refund(token, amount, ratelimit.Outbound)
		return nil, fmt.Errorf("failed to lock funds: %w", err)
	}

	dep := &transfer.Deposit{
		DestChain:   destChain,
		DestToken:   token,
		SrcAccount:  caller,
		DestAccount: destAccount,
		Amount:      normalized,
		Nonce:       b.nextNonce,
	}
	if err := b.db.StoreDeposit(dep); err != nil {
		// Unwind the budget and the locked funds; a deposit that did not
		// commit must leave no trace.
		b.limiter.Refund(token, amount, ratelimit.Outbound)
		if releaseErr := b.vault.Release(token, caller, amount); releaseErr != nil {
			b.logger.Error("failed to return locked funds after store failure",
				zap.Stringer("digest", dep.Digest()),
				zap.Error(releaseErr),
			)
		}
		return nil, err
	}
	b.nextNonce++

	digest := dep.Digest()
	b.logger.Info("deposit created",
		zap.Stringer("digest", digest),
		zap.Stringer("destChain", destChain),
		zap.String("amount", normalized.String()),
		zap.Uint64("nonce", dep.Nonce),
	)
	depositsCreated.WithLabelValues(b.chainID.String()).Inc()

	b.emit(&Event{
		Kind:    EventDepositCreated,
		Chain:   b.chainID,
		Time:    b.now(),
		Digest:  digest,
		Deposit: dep,
	})
	return dep, nil
}

// ApproveWithdraw records a pending withdraw claiming that a matching
// deposit exists on srcChain, and opens the cancellation window. The window
// length is snapshotted from the current configuration; later delay changes
// never affect records already approved.
func (b *Bridge) ApproveWithdraw(caller transfer.Address, srcChain transfer.ChainID, token transfer.Address, srcAccount transfer.Address, destAccount transfer.Address, amount *big.Int, nonce uint64) (*transfer.PendingWithdraw, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.roles.IsOperator(caller) {
		return nil, ErrNotOperator
	}
	if !b.registry.KnownChain(srcChain) {
		return nil, ErrUnknownChain
	}
	if destAccount.IsZero() {
		return nil, ErrInvalidRecipient
	}
	if err := transfer.ValidateAmount(amount); err != nil {
		return nil, err
	}

	digest := transfer.WithdrawDigest(srcChain, token, srcAccount, destAccount, amount, nonce)
	exists, err := b.db.HasPendingWithdraw(digest)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrDuplicateApproval
	}

	if err := b.limiter.CheckAndConsume(token, amount, ratelimit.Inbound); err != nil {
		return nil, err
	}

	p := &transfer.PendingWithdraw{
		SrcChain:     srcChain,
		Token:        token,
		SrcAccount:   srcAccount,
		DestAccount:  destAccount,
		Amount:       new(big.Int).Set(amount),
		Nonce:        nonce,
		ApprovedAt:   b.now(),
		CancelWindow: b.withdrawDelay,
	}
	if err := b.db.StorePendingWithdraw(p); err != nil {
		b.limiter.Refund(token, amount, ratelimit.Inbound)
		return nil, err
	}

	b.logger.Info("withdraw approved",
		zap.Stringer("digest", digest),
		zap.Stringer("srcChain", srcChain),
		zap.String("amount", p.Amount.String()),
		zap.Uint64("nonce", nonce),
		zap.Duration("cancelWindow", p.CancelWindow),
	)
	withdrawsApproved.WithLabelValues(b.chainID.String()).Inc()

	b.emit(&Event{
		Kind:   EventWithdrawApproved,
		Chain:  b.chainID,
		Time:   p.ApprovedAt,
		Digest: digest,
		Withdraw: &ApprovalEvent{
			SrcChain:            p.SrcChain,
			Token:               p.Token,
			SrcAccount:          p.SrcAccount,
			DestAccount:         p.DestAccount,
			Amount:              p.Amount,
			Nonce:               p.Nonce,
			ApprovedAt:          p.ApprovedAt,
			CancelWindowSeconds: int64(p.CancelWindow / time.Second),
		},
	})
	return p, nil
}

// CancelWithdrawApproval vetoes a pending withdraw. It must land strictly
// before the window closes; this is the race the watchtower has to win.
func (b *Bridge) CancelWithdrawApproval(caller transfer.Address, digest transfer.Digest) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.roles.IsCanceler(caller) {
		return ErrNotCanceler
	}

	p, err := b.getPending(digest)
	if err != nil {
		return err
	}
	if p.Executed {
		return ErrAlreadyExecuted
	}
	if p.Cancelled {
		return ErrAlreadyCancelled
	}
	if !b.now().Before(p.ExecutableAt()) {
		return ErrCancelWindowClosed
	}

	p.Cancelled = true
	if err := b.db.StorePendingWithdraw(p); err != nil {
		return err
	}

	b.logger.Warn("withdraw approval cancelled", zap.Stringer("digest", digest))
	withdrawsCancelled.WithLabelValues(b.chainID.String()).Inc()

	b.emit(&Event{
		Kind:   EventWithdrawCancelled,
		Chain:  b.chainID,
		Time:   b.now(),
		Digest: digest,
	})
	return nil
}

// Withdraw releases the approved funds once the window has elapsed. Open to
// anyone; the record itself authorizes the payout. At most one execution per
// digest ever succeeds.
func (b *Bridge) Withdraw(digest transfer.Digest) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, err := b.getPending(digest)
	if err != nil {
		return err
	}
	if p.Executed {
		return ErrAlreadyExecuted
	}
	if p.Cancelled {
		return ErrAlreadyCancelled
	}
	if b.now().Before(p.ExecutableAt()) {
		return ErrCancelWindowOpen
	}

	// State is committed before the external release call so a re-entrant
	// call observes the record as executed.
	p.Executed = true
	if err := b.db.StorePendingWithdraw(p); err != nil {
		return err
	}

	if err := b.vault.Release(p.Token, p.DestAccount, p.Amount); err != nil {
		// Roll the terminal flag back under the same lock; no caller can
		// have observed the intermediate state.
		p.Executed = false
		if storeErr := b.db.StorePendingWithdraw(p); storeErr != nil {
			b.logger.Error("failed to roll back executed flag", zap.Stringer("digest", digest), zap.Error(storeErr))
		}
		return fmt.Errorf("failed to release funds: %w", err)
	}

	b.logger.Info("withdraw executed",
		zap.Stringer("digest", digest),
		zap.Stringer("to", p.DestAccount),
		zap.String("amount", p.Amount.String()),
	)
	withdrawsExecuted.WithLabelValues(b.chainID.String()).Inc()

	b.emit(&Event{
		Kind:   EventWithdrawExecuted,
		Chain:  b.chainID,
		Time:   b.now(),
		Digest: digest,
	})
	return nil
}

// SetWithdrawDelay changes the cancellation window applied to future
// approvals. Records already approved keep their snapshotted window.
func (b *Bridge) SetWithdrawDelay(caller transfer.Address, delay time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.roles.IsAdmin(caller) {
		return ErrNotAdmin
	}
	if delay <= 0 {
		return fmt.Errorf("withdraw delay must be positive")
	}

	b.withdrawDelay = delay
	b.logger.Info("withdraw delay updated", zap.Duration("delay", delay))

	b.emit(&Event{
		Kind:         EventWithdrawDelaySet,
		Chain:        b.chainID,
		Time:         b.now(),
		DelaySeconds: int64(delay / time.Second),
	})
	return nil
}

// GetDeposit serves the watchtower's source-side lookup.
func (b *Bridge) GetDeposit(digest transfer.Digest) (*transfer.Deposit, error) {
	return b.db.GetDeposit(digest)
}

// GetPendingWithdraw returns the current state of a pending withdraw.
func (b *Bridge) GetPendingWithdraw(digest transfer.Digest) (*transfer.PendingWithdraw, error) {
	return b.db.GetPendingWithdraw(digest)
}

func (b *Bridge) getPending(digest transfer.Digest) (*transfer.PendingWithdraw, error) {
	p, err := b.db.GetPendingWithdraw(digest)
	if err != nil {
		if errors.Is(err, db.ErrPendingWithdrawNotFound) {
			return nil, ErrUnknownWithdraw
		}
		return nil, err
	}
	return p, nil
}

func (b *Bridge) emit(ev *Event) {
	data, err := ev.Marshal()
	if err != nil {
		b.logger.Error("failed to marshal event", zap.Error(err))
	} else if err := b.db.AppendEvent(data); err != nil {
		b.logger.Error("failed to persist event", zap.Error(err))
	}

	if b.eventsC != nil {
		b.eventsC <- ev
	}
}
