// Package evm watches a go-ethereum style chain for withdraw approvals,
// serves deposit-log reads for verification, and submits cancellations.
package evm

import (
	"context"
	"fmt"
	"math/big"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	ethBind "github.com/ethereum/go-ethereum/accounts/abi/bind"
	ethCommon "github.com/ethereum/go-ethereum/common"
	ethTypes "github.com/ethereum/go-ethereum/core/types"
	ethClient "github.com/ethereum/go-ethereum/ethclient"
	ethRpc "github.com/ethereum/go-ethereum/rpc"

	"github.com/crossgate/crossgate/pkg/transfer"
	"github.com/crossgate/crossgate/pkg/watchtower"
)

// Connector holds one chain's RPC connection and the bound bridge contract.
type Connector struct {
	networkName string
	chainID     transfer.ChainID
	address     ethCommon.Address
	client      *ethClient.Client
	rawClient   *ethRpc.Client
	contract    *ethBind.BoundContract
}

func NewConnector(ctx context.Context, networkName, rawUrl string, address ethCommon.Address, chainID transfer.ChainID) (*Connector, error) {
	rawClient, err := ethRpc.DialContext(ctx, rawUrl)
	if err != nil {
		return nil, fmt.Errorf("dialing %s failed: %w", networkName, err)
	}
	client := ethClient.NewClient(rawClient)

	return &Connector{
		networkName: networkName,
		chainID:     chainID,
		address:     address,
		client:      client,
		rawClient:   rawClient,
		contract:    ethBind.NewBoundContract(address, parsedABI, client, client, client),
	}, nil
}

func (c *Connector) NetworkName() string {
	return c.networkName
}

func (c *Connector) Close() {
	c.rawClient.Close()
}

func (c *Connector) LatestBlock(ctx context.Context) (uint64, error) {
	timeout, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	return c.client.BlockNumber(timeout)
}

// FilterApprovals returns the approvals emitted by the bridge contract in the
// inclusive block range.
func (c *Connector) FilterApprovals(ctx context.Context, fromBlock, toBlock uint64) ([]*watchtower.Approval, error) {
	timeout, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	logs, err := c.client.FilterLogs(timeout, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []ethCommon.Address{c.address},
		Topics:    [][]ethCommon.Hash{{parsedABI.Events[withdrawApprovedTopic].ID}},
	})
	if err != nil {
		return nil, fmt.Errorf("filtering logs failed: %w", err)
	}

	approvals := make([]*watchtower.Approval, 0, len(logs))
	for i := range logs {
		a, err := c.parseApproval(&logs[i])
		if err != nil {
			return nil, err
		}
		approvals = append(approvals, a)
	}
	return approvals, nil
}

type withdrawApprovedEvent struct {
	Digest       [32]byte
	SrcChain     uint32
	Token        [32]byte
	SrcAccount   [32]byte
	DestAccount  [32]byte
	Amount       *big.Int
	Nonce        uint64
	ApprovedAt   uint64
	CancelWindow uint64
}

func (c *Connector) parseApproval(log *ethTypes.Log) (*watchtower.Approval, error) {
	ev := &withdrawApprovedEvent{}
	if err := c.contract.UnpackLog(ev, withdrawApprovedTopic, *log); err != nil {
		return nil, fmt.Errorf("unpacking approval log failed: %w", err)
	}

	return &watchtower.Approval{
		Chain:        c.chainID,
		Digest:       transfer.Digest(ev.Digest),
		SrcChain:     transfer.ChainID(ev.SrcChain),
		Token:        transfer.Address(ev.Token),
		SrcAccount:   transfer.Address(ev.SrcAccount),
		DestAccount:  transfer.Address(ev.DestAccount),
		Amount:       ev.Amount,
		Nonce:        ev.Nonce,
		ApprovedAt:   time.Unix(int64(ev.ApprovedAt), 0), //#nosec G115 block timestamps fit in int64
		CancelWindow: time.Duration(ev.CancelWindow) * time.Second,
		TxHash:       log.TxHash.Hex(),
	}, nil
}
