package bridge

import (
	"encoding/json"
	"math/big"
	"time"

	"github.com/crossgate/crossgate/pkg/transfer"
)

// Events are the only channel the watchtower and indexers consume; each one
// carries every field needed to recompute the transfer digest without
// touching storage.

type EventKind string

const (
	EventDepositCreated    EventKind = "deposit_created"
	EventWithdrawApproved  EventKind = "withdraw_approved"
	EventWithdrawCancelled EventKind = "withdraw_cancelled"
	EventWithdrawExecuted  EventKind = "withdraw_executed"
	EventWithdrawDelaySet  EventKind = "withdraw_delay_set"
)

type (
	Event struct {
		Kind  EventKind        `json:"kind"`
		Chain transfer.ChainID `json:"chain"`
		Time  time.Time        `json:"time"`

		Digest transfer.Digest `json:"digest,omitempty"`

		// Set on deposit_created.
		Deposit *transfer.Deposit `json:"deposit,omitempty"`

		// Set on withdraw_approved.
		Withdraw *ApprovalEvent `json:"withdraw,omitempty"`

		// Set on withdraw_delay_set.
		DelaySeconds int64 `json:"delaySeconds,omitempty"`
	}

	// ApprovalEvent mirrors the pending-withdraw fields the watchtower
	// needs: the full digest tuple plus the window timing. The window is
	// serialized in seconds, matching the delay-set event.
	ApprovalEvent struct {
		SrcChain            transfer.ChainID `json:"srcChain"`
		Token               transfer.Address `json:"token"`
		SrcAccount          transfer.Address `json:"srcAccount"`
		DestAccount         transfer.Address `json:"destAccount"`
		Amount              *big.Int         `json:"amount"`
		Nonce               uint64           `json:"nonce"`
		ApprovedAt          time.Time        `json:"approvedAt"`
		CancelWindowSeconds int64            `json:"cancelWindowSeconds"`
	}
)

func (e *Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

func UnmarshalEvent(data []byte) (*Event, error) {
	e := &Event{}
	if err := json.Unmarshal(data, e); err != nil {
		return nil, err
	}
	return e, nil
}
