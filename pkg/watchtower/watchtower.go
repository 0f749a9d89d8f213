// Package watchtower implements the canceler service. It consumes withdraw
// approvals observed on destination chains, verifies each against the deposit
// log of the claimed source chain, and races the cancellation window to veto
// anything it cannot verify.
package watchtower

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crossgate/crossgate/pkg/supervisor"
	"github.com/crossgate/crossgate/pkg/transfer"
)

// ErrNoDeposit is returned by a DepositSource when the source chain has no
// deposit under the queried digest. It is a verification verdict, not a
// transient failure.
var ErrNoDeposit = errors.New("no deposit recorded under this digest")

// DefaultSafetyMargin is subtracted from the window deadline; once the
// remaining time is inside the margin the verifier stops reading and commits
// to cancellation.
const DefaultSafetyMargin = 30 * time.Second

type (
	// Approval is one WithdrawApproved event observed on a destination
	// chain. It carries every field needed to recompute the deposit-side
	// digest without another read of the destination chain.
	Approval struct {
		// Chain the approval was observed on. It takes the destination
		// role in the deposit-side digest.
		Chain transfer.ChainID

		// Digest of the pending withdraw on the destination chain, used
		// to address the cancellation.
		Digest transfer.Digest

		SrcChain    transfer.ChainID
		Token       transfer.Address
		SrcAccount  transfer.Address
		DestAccount transfer.Address
		Amount      *big.Int
		Nonce       uint64

		ApprovedAt   time.Time
		CancelWindow time.Duration

		TxHash string
	}

	// DepositSource reads the deposit log of one source chain.
	DepositSource interface {
		QueryDeposit(ctx context.Context, digest transfer.Digest) (*transfer.Deposit, error)
	}

	// Canceler submits a cancellation on one destination chain. The call
	// must be idempotent: an already-cancelled or already-executed response
	// from the ledger is success.
	Canceler interface {
		CancelWithdrawApproval(ctx context.Context, digest transfer.Digest) error
	}

	Config struct {
		Logger    *zap.Logger
		Approvals <-chan *Approval

		// Sources maps each source chain id to its deposit reader,
		// Cancelers each destination chain id to its submitter.
		Sources   map[transfer.ChainID]DepositSource
		Cancelers map[transfer.ChainID]Canceler

		// SafetyMargin overrides DefaultSafetyMargin when positive.
		SafetyMargin time.Duration
	}

	Watchtower struct {
		logger       *zap.Logger
		approvalC    <-chan *Approval
		sources      map[transfer.ChainID]DepositSource
		cancelers    map[transfer.ChainID]Canceler
		safetyMargin time.Duration
		now          func() time.Time

		mu       sync.Mutex
		inFlight map[transfer.Digest]struct{}
		wg       sync.WaitGroup
	}
)

func New(cfg Config) *Watchtower {
	margin := cfg.SafetyMargin
	if margin <= 0 {
		margin = DefaultSafetyMargin
	}
	return &Watchtower{
		logger:       cfg.Logger,
		approvalC:    cfg.Approvals,
		sources:      cfg.Sources,
		cancelers:    cfg.Cancelers,
		safetyMargin: margin,
		now:          time.Now,
		inFlight:     make(map[transfer.Digest]struct{}),
	}
}

// SetClockForTest lets tests drive the deadline math.
func (w *Watchtower) SetClockForTest(now func() time.Time) {
	w.now = now
}

// Run is the aggregator runnable. It dedupes approvals by digest and hands
// each new one to its own verifier goroutine, so ingestion never blocks on a
// slow source-chain read.
func (w *Watchtower) Run(ctx context.Context) error {
	supervisor.Signal(ctx, supervisor.SignalHealthy)

	for {
		select {
		case <-ctx.Done():
			w.wg.Wait()
			return ctx.Err()
		case a := <-w.approvalC:
			if a == nil {
				continue
			}
			w.ingest(ctx, a)
		}
	}
}

func (w *Watchtower) ingest(ctx context.Context, a *Approval) {
	w.mu.Lock()
	if _, dup := w.inFlight[a.Digest]; dup {
		w.mu.Unlock()
		approvalsDeduped.Inc()
		return
	}
	w.inFlight[a.Digest] = struct{}{}
	w.mu.Unlock()

	approvalsObserved.WithLabelValues(a.Chain.String()).Inc()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() {
			w.mu.Lock()
			delete(w.inFlight, a.Digest)
			w.mu.Unlock()
		}()
		w.handle(ctx, a)
	}()
}

// handle drives one approval from observation to a verdict.
func (w *Watchtower) handle(ctx context.Context, a *Approval) {
	logger := w.logger.With(
		zap.Stringer("digest", a.Digest),
		zap.Stringer("chain", a.Chain),
		zap.Stringer("srcChain", a.SrcChain),
		zap.Uint64("nonce", a.Nonce),
	)

	windowCloses := a.ApprovedAt.Add(a.CancelWindow)
	deadline := windowCloses.Add(-w.safetyMargin)

	if !w.now().Before(windowCloses) {
		// Nothing can be done for this one; it is already executable.
		logger.Warn("approval observed after its window closed, skipping")
		approvalsExpired.WithLabelValues(a.Chain.String()).Inc()
		return
	}

	ok, err := w.verify(ctx, a, deadline)
	if err == nil && ok {
		logger.Info("approval verified against source deposit log")
		approvalsVerified.WithLabelValues(a.Chain.String()).Inc()
		return
	}
	if err != nil {
		logger.Warn("verification inconclusive, committing to cancel", zap.Error(err))
	} else {
		logger.Warn("approval failed verification, cancelling")
	}

	w.cancel(ctx, a, windowCloses, logger)
}

// verify resolves the approval against the source chain. It returns
// (true, nil) for a verified approval, (false, nil) for a definitive fraud
// verdict, and an error when reads kept failing until the deadline.
func (w *Watchtower) verify(ctx context.Context, a *Approval, deadline time.Time) (bool, error) {
	source, ok := w.sources[a.SrcChain]
	if !ok {
		// An approval naming a chain we cannot read is unverifiable.
		return false, nil
	}

	depositDigest := transfer.DepositDigest(a.Chain, a.Token, a.SrcAccount, a.DestAccount, a.Amount, a.Nonce)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.MaxInterval = 10 * time.Second
	bo.MaxElapsedTime = 0

	for {
		if !w.now().Before(deadline) {
			return false, fmt.Errorf("deadline reached before a definitive read")
		}

		dep, err := source.QueryDeposit(ctx, depositDigest)
		switch {
		case err == nil:
			return dep.Amount.Cmp(a.Amount) == 0 && dep.Nonce == a.Nonce, nil
		case errors.Is(err, ErrNoDeposit):
			return false, nil
		case ctx.Err() != nil:
			return false, ctx.Err()
		}

		sourceReadErrors.WithLabelValues(a.SrcChain.String()).Inc()
		wait := bo.NextBackOff()
		if until := deadline.Sub(w.now()); wait > until {
			wait = until
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(wait):
		}
	}
}

// cancel submits the veto and retries until it lands or the window closes.
// A window that closes with the cancellation unconfirmed is a security
// incident: the fraudulent withdraw is now executable.
func (w *Watchtower) cancel(ctx context.Context, a *Approval, windowCloses time.Time, logger *zap.Logger) {
	canceler, ok := w.cancelers[a.Chain]
	if !ok {
		w.incident(logger, a, fmt.Errorf("no canceler configured for chain %s", a.Chain))
		return
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = 0

	for {
		if !w.now().Before(windowCloses) {
			w.incident(logger, a, fmt.Errorf("window closed before cancellation confirmed"))
			return
		}

		err := canceler.CancelWithdrawApproval(ctx, a.Digest)
		if err == nil {
			logger.Warn("withdraw approval cancelled")
			approvalsCancelled.WithLabelValues(a.Chain.String()).Inc()
			return
		}
		if ctx.Err() != nil {
			w.incident(logger, a, fmt.Errorf("shutdown before cancellation confirmed: %w", err))
			return
		}
		logger.Warn("cancellation submission failed, retrying", zap.Error(err))

		// Cap the wait at the window close so the incident is raised the
		// moment it becomes real, not one backoff interval later.
		wait := bo.NextBackOff()
		if until := windowCloses.Sub(w.now()); wait > until {
			wait = until
		}
		select {
		case <-ctx.Done():
			w.incident(logger, a, ctx.Err())
			return
		case <-time.After(wait):
		}
	}
}

func (w *Watchtower) incident(logger *zap.Logger, a *Approval, cause error) {
	securityIncidents.WithLabelValues(a.Chain.String()).Inc()
	logger.Error("SECURITY INCIDENT: unverified withdraw approval was not cancelled in time",
		zap.String("incidentId", uuid.New().String()),
		zap.String("amount", a.Amount.String()),
		zap.String("txHash", a.TxHash),
		zap.Error(cause),
	)
}
