package evm

import (
	"context"
	"fmt"
	"math/big"
	"time"

	ethBind "github.com/ethereum/go-ethereum/accounts/abi/bind"

	"github.com/crossgate/crossgate/pkg/transfer"
	"github.com/crossgate/crossgate/pkg/watchtower"
)

// Querier reads the deposit log of an evm source chain. It implements
// watchtower.DepositSource.
type Querier struct {
	connector *Connector
}

func NewQuerier(connector *Connector) *Querier {
	return &Querier{connector: connector}
}

func (q *Querier) QueryDeposit(ctx context.Context, digest transfer.Digest) (*transfer.Deposit, error) {
	timeout, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	var out []interface{}
	err := q.connector.contract.Call(&ethBind.CallOpts{Context: timeout}, &out, "deposits", [32]byte(digest))
	if err != nil {
		return nil, fmt.Errorf("deposits call failed: %w", err)
	}
	if len(out) != 7 {
		return nil, fmt.Errorf("deposits call returned %d values, want 7", len(out))
	}

	exists, ok := out[6].(bool)
	if !ok {
		return nil, fmt.Errorf("deposits call returned malformed exists flag")
	}
	if !exists {
		return nil, watchtower.ErrNoDeposit
	}

	return &transfer.Deposit{
		DestChain:   transfer.ChainID(out[0].(uint32)),
		DestToken:   transfer.Address(out[1].([32]byte)),
		SrcAccount:  transfer.Address(out[2].([32]byte)),
		DestAccount: transfer.Address(out[3].([32]byte)),
		Amount:      out[4].(*big.Int),
		Nonce:       out[5].(uint64),
	}, nil
}

var _ watchtower.DepositSource = (*Querier)(nil)
