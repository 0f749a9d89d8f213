package evm

import (
	"context"
	"fmt"
	"time"

	ethBind "github.com/ethereum/go-ethereum/accounts/abi/bind"
	ethCrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/crossgate/crossgate/pkg/transfer"
	"github.com/crossgate/crossgate/pkg/watchtower"
)

// Submitter sends cancellation transactions to an evm destination chain. It
// implements watchtower.Canceler and is idempotent: a withdraw that is
// already cancelled or executed counts as submitted.
type Submitter struct {
	connector *Connector
	signer    *ethBind.TransactOpts
}

// NewSubmitter loads the hex-encoded secp256k1 key at keyPath. The key never
// leaves this struct and is never logged.
func NewSubmitter(ctx context.Context, connector *Connector, keyPath string) (*Submitter, error) {
	key, err := ethCrypto.LoadECDSA(keyPath)
	if err != nil {
		return nil, fmt.Errorf("loading canceler key failed: %w", err)
	}

	evmChainID, err := connector.client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("querying evm chain id failed: %w", err)
	}
	signer, err := ethBind.NewKeyedTransactorWithChainID(key, evmChainID)
	if err != nil {
		return nil, fmt.Errorf("creating transactor failed: %w", err)
	}

	return &Submitter{connector: connector, signer: signer}, nil
}

func (s *Submitter) CancelWithdrawApproval(ctx context.Context, digest transfer.Digest) error {
	terminal, err := s.isTerminal(ctx, digest)
	if err == nil && terminal {
		return nil
	}

	opts := *s.signer
	opts.Context = ctx

	tx, err := s.connector.contract.Transact(&opts, "cancelWithdrawApproval", [32]byte(digest))
	if err != nil {
		// The revert may be the good kind: someone else won the race.
		if terminal, checkErr := s.isTerminal(ctx, digest); checkErr == nil && terminal {
			return nil
		}
		return fmt.Errorf("cancel transaction failed: %w", err)
	}

	receipt, err := ethBind.WaitMined(ctx, s.connector.client, tx)
	if err != nil {
		return fmt.Errorf("waiting for cancel transaction failed: %w", err)
	}
	if receipt.Status == 0 {
		if terminal, checkErr := s.isTerminal(ctx, digest); checkErr == nil && terminal {
			return nil
		}
		return fmt.Errorf("cancel transaction %s reverted", tx.Hash().Hex())
	}
	return nil
}

// isTerminal reports whether the pending withdraw has already been cancelled
// or executed on chain.
func (s *Submitter) isTerminal(ctx context.Context, digest transfer.Digest) (bool, error) {
	timeout, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	var out []interface{}
	err := s.connector.contract.Call(&ethBind.CallOpts{Context: timeout}, &out, "pendingWithdraws", [32]byte(digest))
	if err != nil {
		return false, err
	}
	if len(out) != 2 {
		return false, fmt.Errorf("pendingWithdraws call returned %d values, want 2", len(out))
	}
	cancelled, _ := out[0].(bool)
	executed, _ := out[1].(bool)
	return cancelled || executed, nil
}

var _ watchtower.Canceler = (*Submitter)(nil)
