package cosmos

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/tidwall/gjson"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/crossgate/crossgate/pkg/transfer"
	"github.com/crossgate/crossgate/pkg/watchtower"
)

// Querier reads the deposit log of a cosmos source chain through the bridge
// contract's smart query interface. It implements watchtower.DepositSource.
type Querier struct {
	conn     *ClientConn
	contract string
}

func NewQuerier(conn *ClientConn, contract string) *Querier {
	return &Querier{conn: conn, contract: contract}
}

type depositQuery struct {
	Deposit depositQueryParams `json:"deposit"`
}

type depositQueryParams struct {
	Digest string `json:"digest"`
}

func (q *Querier) QueryDeposit(ctx context.Context, digest transfer.Digest) (*transfer.Deposit, error) {
	queryBytes, err := json.Marshal(depositQuery{Deposit: depositQueryParams{Digest: digest.Hex()}})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal deposit query: %w", err)
	}

	data, err := q.conn.SubmitQuery(ctx, q.contract, queryBytes)
	if err != nil {
		// The contract reports a missing key as a query error.
		if status.Code(err) == codes.NotFound || strings.Contains(err.Error(), "not found") {
			return nil, watchtower.ErrNoDeposit
		}
		return nil, fmt.Errorf("deposit query failed: %w", err)
	}

	return parseDepositResponse(data)
}

func parseDepositResponse(data []byte) (*transfer.Deposit, error) {
	body := string(data)
	if !gjson.Valid(body) {
		return nil, fmt.Errorf("deposit query returned invalid json")
	}

	destChain := gjson.Get(body, "dest_chain")
	amountRaw := gjson.Get(body, "amount")
	nonceRaw := gjson.Get(body, "nonce")
	if !destChain.Exists() || !amountRaw.Exists() || !nonceRaw.Exists() {
		return nil, fmt.Errorf("deposit query response is missing fields")
	}

	token, err := transfer.StringToAddress(gjson.Get(body, "token").String())
	if err != nil {
		return nil, fmt.Errorf("malformed token in deposit response: %w", err)
	}
	srcAccount, err := transfer.StringToAddress(gjson.Get(body, "src_account").String())
	if err != nil {
		return nil, fmt.Errorf("malformed src_account in deposit response: %w", err)
	}
	destAccount, err := transfer.StringToAddress(gjson.Get(body, "dest_account").String())
	if err != nil {
		return nil, fmt.Errorf("malformed dest_account in deposit response: %w", err)
	}

	// Amounts are serialized as strings; they exceed json numbers.
	amount, ok := new(big.Int).SetString(amountRaw.String(), 10)
	if !ok {
		return nil, fmt.Errorf("malformed amount in deposit response: %q", amountRaw.String())
	}

	return &transfer.Deposit{
		DestChain:   transfer.ChainID(destChain.Uint()), //#nosec G115 chain ids fit in uint32
		DestToken:   token,
		SrcAccount:  srcAccount,
		DestAccount: destAccount,
		Amount:      amount,
		Nonce:       nonceRaw.Uint(),
	}, nil
}

var _ watchtower.DepositSource = (*Querier)(nil)
