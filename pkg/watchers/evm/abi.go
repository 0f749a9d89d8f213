package evm

import (
	"strings"

	ethAbi "github.com/ethereum/go-ethereum/accounts/abi"
)

// bridgeABI covers the slice of the bridge contract the watchtower touches:
// the approval event, the deposit and pending-withdraw views, and the cancel
// entrypoint.
const bridgeABI = `[
  {
    "type": "event",
    "name": "WithdrawApproved",
    "inputs": [
      {"name": "digest", "type": "bytes32", "indexed": true},
      {"name": "srcChain", "type": "uint32", "indexed": false},
      {"name": "token", "type": "bytes32", "indexed": false},
      {"name": "srcAccount", "type": "bytes32", "indexed": false},
      {"name": "destAccount", "type": "bytes32", "indexed": false},
      {"name": "amount", "type": "uint256", "indexed": false},
      {"name": "nonce", "type": "uint64", "indexed": false},
      {"name": "approvedAt", "type": "uint64", "indexed": false},
      {"name": "cancelWindow", "type": "uint64", "indexed": false}
    ]
  },
  {
    "type": "function",
    "name": "deposits",
    "stateMutability": "view",
    "inputs": [{"name": "digest", "type": "bytes32"}],
    "outputs": [
      {"name": "destChain", "type": "uint32"},
      {"name": "token", "type": "bytes32"},
      {"name": "srcAccount", "type": "bytes32"},
      {"name": "destAccount", "type": "bytes32"},
      {"name": "amount", "type": "uint256"},
      {"name": "nonce", "type": "uint64"},
      {"name": "exists", "type": "bool"}
    ]
  },
  {
    "type": "function",
    "name": "pendingWithdraws",
    "stateMutability": "view",
    "inputs": [{"name": "digest", "type": "bytes32"}],
    "outputs": [
      {"name": "cancelled", "type": "bool"},
      {"name": "executed", "type": "bool"}
    ]
  },
  {
    "type": "function",
    "name": "cancelWithdrawApproval",
    "stateMutability": "nonpayable",
    "inputs": [{"name": "digest", "type": "bytes32"}],
    "outputs": []
  }
]`

var (
	parsedABI             ethAbi.ABI
	withdrawApprovedTopic = "WithdrawApproved"
)

func init() {
	var err error
	parsedABI, err = ethAbi.JSON(strings.NewReader(bridgeABI))
	if err != nil {
		panic(err)
	}
}
