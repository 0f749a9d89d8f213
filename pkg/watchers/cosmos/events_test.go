package cosmos

import (
	"encoding/base64"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/zap/zaptest"

	"github.com/crossgate/crossgate/pkg/transfer"
)

const testContract = "wasm14hj2tavq8fpesdwxxcu44rty3hh90vhujrvcmstl4zr3txmfvw9srsl6sm"

func b64Attr(key, value string) string {
	return fmt.Sprintf(`{"key":%q,"value":%q}`,
		base64.StdEncoding.EncodeToString([]byte(key)),
		base64.StdEncoding.EncodeToString([]byte(value)))
}

func approvalEventJSON(contract string) string {
	attrs := []string{
		b64Attr("_contract_address", contract),
		b64Attr("action", "approve_withdraw"),
		b64Attr("digest", "0x00000000000000000000000000000000000000000000000000000000000000aa"),
		b64Attr("src_chain", "1"),
		b64Attr("token", "0x00000000000000000000000000000000000000000000000000000000000000ee"),
		b64Attr("src_account", "0x000000000000000000000000000000000000000000000000000000000000000a"),
		b64Attr("dest_account", "0x000000000000000000000000000000000000000000000000000000000000000b"),
		b64Attr("amount", "3500000"),
		b64Attr("nonce", "7"),
		b64Attr("approved_at", "1700000000"),
		b64Attr("cancel_window", "1800"),
	}
	body := attrs[0]
	for _, a := range attrs[1:] {
		body += "," + a
	}
	return fmt.Sprintf(`{"type":"wasm","attributes":[%s]}`, body)
}

func TestEventsToApprovals(t *testing.T) {
	events := gjson.Parse(fmt.Sprintf("[%s]", approvalEventJSON(testContract))).Array()

	approvals := EventsToApprovals(testContract, "ABC123", events, zaptest.NewLogger(t), transfer.ChainID(2), true)
	require.Len(t, approvals, 1)

	a := approvals[0]
	assert.Equal(t, transfer.ChainID(2), a.Chain)
	assert.Equal(t, transfer.ChainID(1), a.SrcChain)
	assert.Equal(t, transfer.Address{31: 0xee}, a.Token)
	assert.Equal(t, transfer.Address{31: 0x0a}, a.SrcAccount)
	assert.Equal(t, transfer.Address{31: 0x0b}, a.DestAccount)
	assert.Equal(t, big.NewInt(3_500000), a.Amount)
	assert.Equal(t, uint64(7), a.Nonce)
	assert.Equal(t, time.Unix(1700000000, 0), a.ApprovedAt)
	assert.Equal(t, 30*time.Minute, a.CancelWindow)
	assert.Equal(t, "ABC123", a.TxHash)
}

func TestEventsFromOtherContractsAreSkipped(t *testing.T) {
	events := gjson.Parse(fmt.Sprintf("[%s]", approvalEventJSON("wasm1othercontract"))).Array()
	approvals := EventsToApprovals(testContract, "ABC123", events, zaptest.NewLogger(t), transfer.ChainID(2), true)
	assert.Empty(t, approvals)
}

func TestNonWasmEventsAreSkipped(t *testing.T) {
	events := gjson.Parse(`[{"type":"transfer","attributes":[]}]`).Array()
	approvals := EventsToApprovals(testContract, "ABC123", events, zaptest.NewLogger(t), transfer.ChainID(2), true)
	assert.Empty(t, approvals)
}

func TestMalformedApprovalIsDropped(t *testing.T) {
	event := fmt.Sprintf(`{"type":"wasm","attributes":[%s,%s,%s]}`,
		b64Attr("_contract_address", testContract),
		b64Attr("action", "approve_withdraw"),
		b64Attr("amount", "not-a-number"),
	)
	events := gjson.Parse(fmt.Sprintf("[%s]", event)).Array()
	approvals := EventsToApprovals(testContract, "ABC123", events, zaptest.NewLogger(t), transfer.ChainID(2), true)
	assert.Empty(t, approvals)
}

func TestParseDepositResponse(t *testing.T) {
	body := `{
		"dest_chain": 2,
		"token": "0x00000000000000000000000000000000000000000000000000000000000000ee",
		"src_account": "0x000000000000000000000000000000000000000000000000000000000000000a",
		"dest_account": "0x000000000000000000000000000000000000000000000000000000000000000b",
		"amount": "340282366920938463463374607431768211456",
		"nonce": 7
	}`

	dep, err := parseDepositResponse([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, transfer.ChainID(2), dep.DestChain)
	assert.Equal(t, uint64(7), dep.Nonce)

	// 2^128 survives the string round trip.
	expected, _ := new(big.Int).SetString("340282366920938463463374607431768211456", 10)
	assert.Equal(t, expected, dep.Amount)
}

func TestParseDepositResponseRejectsMissingFields(t *testing.T) {
	_, err := parseDepositResponse([]byte(`{"token": "0xee"}`))
	assert.Error(t, err)
}
