package cosmos

import (
	"encoding/base64"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/crossgate/crossgate/pkg/transfer"
	"github.com/crossgate/crossgate/pkg/watchtower"
)

const (
	contractAddressLogKey = "_contract_address"
	approveWithdrawAction = "approve_withdraw"
)

// EventsToApprovals extracts withdraw approvals from the wasm events of one
// transaction. Events from other contracts and other actions are skipped;
// malformed approval events are logged and dropped rather than guessed at.
func EventsToApprovals(contract string, txHash string, events []gjson.Result, logger *zap.Logger, chainID transfer.ChainID, b64Encoded bool) []*watchtower.Approval {
	approvals := make([]*watchtower.Approval, 0, len(events))
	for _, event := range events {
		if !event.IsObject() {
			logger.Warn("event is invalid", zap.String("txHash", txHash), zap.String("event", event.String()))
			continue
		}
		if gjson.Get(event.String(), "type").String() != "wasm" {
			continue
		}

		attributes := gjson.Get(event.String(), "attributes")
		if !attributes.Exists() {
			logger.Warn("wasm event has no attributes", zap.String("txHash", txHash), zap.String("event", event.String()))
			continue
		}

		attrs := map[string]string{}
		for _, attribute := range attributes.Array() {
			if !attribute.IsObject() {
				logger.Warn("event attribute is invalid", zap.String("txHash", txHash), zap.String("attribute", attribute.String()))
				continue
			}
			keyRaw := gjson.Get(attribute.String(), "key")
			valueRaw := gjson.Get(attribute.String(), "value")
			if !keyRaw.Exists() || !valueRaw.Exists() {
				logger.Warn("event attribute is missing key or value", zap.String("txHash", txHash), zap.String("attribute", attribute.String()))
				continue
			}

			key, value := keyRaw.String(), valueRaw.String()
			if b64Encoded {
				keyBytes, err := base64.StdEncoding.DecodeString(key)
				if err != nil {
					logger.Warn("event attribute key is not base64", zap.String("txHash", txHash), zap.String("key", key))
					continue
				}
				valueBytes, err := base64.StdEncoding.DecodeString(value)
				if err != nil {
					logger.Warn("event attribute value is not base64", zap.String("txHash", txHash), zap.String("key", string(keyBytes)))
					continue
				}
				key, value = string(keyBytes), string(valueBytes)
			}

			if _, ok := attrs[key]; ok {
				continue
			}
			attrs[key] = value
		}

		if attrs[contractAddressLogKey] != contract {
			continue
		}
		if attrs["action"] != approveWithdrawAction {
			continue
		}

		a, err := approvalFromAttributes(chainID, txHash, attrs)
		if err != nil {
			logger.Error("malformed approval event", zap.String("txHash", txHash), zap.Error(err))
			continue
		}
		approvals = append(approvals, a)
	}
	return approvals
}

func approvalFromAttributes(chainID transfer.ChainID, txHash string, attrs map[string]string) (*watchtower.Approval, error) {
	digest, err := transfer.StringToAddress(attrs["digest"])
	if err != nil {
		return nil, err
	}
	token, err := transfer.StringToAddress(attrs["token"])
	if err != nil {
		return nil, err
	}
	srcAccount, err := transfer.StringToAddress(attrs["src_account"])
	if err != nil {
		return nil, err
	}
	destAccount, err := transfer.StringToAddress(attrs["dest_account"])
	if err != nil {
		return nil, err
	}

	amount, ok := new(big.Int).SetString(attrs["amount"], 10)
	if !ok {
		return nil, errMalformedAttr("amount", attrs["amount"])
	}
	srcChain, err := parseUint(attrs["src_chain"])
	if err != nil {
		return nil, err
	}
	nonce, err := parseUint(attrs["nonce"])
	if err != nil {
		return nil, err
	}
	approvedAt, err := parseUint(attrs["approved_at"])
	if err != nil {
		return nil, err
	}
	cancelWindow, err := parseUint(attrs["cancel_window"])
	if err != nil {
		return nil, err
	}

	return &watchtower.Approval{
		Chain:        chainID,
		Digest:       transfer.Digest(digest),
		SrcChain:     transfer.ChainID(srcChain), //#nosec G115 validated against registry downstream
		Token:        token,
		SrcAccount:   srcAccount,
		DestAccount:  destAccount,
		Amount:       amount,
		Nonce:        nonce,
		ApprovedAt:   time.Unix(int64(approvedAt), 0), //#nosec G115 block timestamps fit in int64
		CancelWindow: time.Duration(cancelWindow) * time.Second, //#nosec G115 window is bounded by config
		TxHash:       txHash,
	}, nil
}

func parseUint(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed numeric attribute %q: %w", s, err)
	}
	return v, nil
}

func errMalformedAttr(key, value string) error {
	return fmt.Errorf("malformed %s attribute %q", key, value)
}
