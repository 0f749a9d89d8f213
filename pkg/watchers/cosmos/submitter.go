package cosmos

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	wasmdtypes "github.com/CosmWasm/wasmd/x/wasm/types"
	sdktypes "github.com/cosmos/cosmos-sdk/types"

	"github.com/crossgate/crossgate/pkg/transfer"
	"github.com/crossgate/crossgate/pkg/watchtower"
)

// Submitter executes the bridge contract's cancel entrypoint on a cosmos
// destination chain. It implements watchtower.Canceler and treats a race
// lost to another canceler as success.
type Submitter struct {
	conn     *ClientConn
	contract string
}

func NewSubmitter(conn *ClientConn, contract string) *Submitter {
	return &Submitter{conn: conn, contract: contract}
}

type cancelMsg struct {
	CancelWithdrawApproval cancelParams `json:"cancel_withdraw_approval"`
}

type cancelParams struct {
	Digest string `json:"digest"`
}

func (s *Submitter) CancelWithdrawApproval(ctx context.Context, digest transfer.Digest) error {
	msgBytes, err := json.Marshal(cancelMsg{CancelWithdrawApproval: cancelParams{Digest: digest.Hex()}})
	if err != nil {
		return fmt.Errorf("failed to marshal cancel message: %w", err)
	}

	subMsg := wasmdtypes.MsgExecuteContract{
		Sender:   s.conn.SenderAddress(),
		Contract: s.contract,
		Msg:      msgBytes,
		Funds:    sdktypes.Coins{},
	}

	txResp, err := s.conn.SignAndBroadcastTx(ctx, &subMsg)
	if err != nil {
		return fmt.Errorf("failed to broadcast cancel tx: %w", err)
	}
	if txResp.TxResponse.Code != 0 {
		if alreadyTerminal(txResp.TxResponse.RawLog) {
			return nil
		}
		return fmt.Errorf("cancel tx rejected with code %d: %s", txResp.TxResponse.Code, txResp.TxResponse.RawLog)
	}
	return nil
}

// alreadyTerminal matches contract errors that mean someone else settled the
// withdraw before this cancellation landed.
func alreadyTerminal(rawLog string) bool {
	return strings.Contains(rawLog, "already cancelled") || strings.Contains(rawLog, "already executed")
}

var _ watchtower.Canceler = (*Submitter)(nil)
