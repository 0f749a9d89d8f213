package transfer

import (
	"bytes"
	"fmt"
	"math/big"

	eth_common "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// MaxAmountBits bounds transfer amounts to what a 32-byte field can encode.
const MaxAmountBits = 256

// Digest is the 32-byte identity of one side of a logical transfer.
type Digest = eth_common.Hash

/*
SECURITY: Do not change the field order or widths! The ledger contracts and
the watchtower must produce byte-for-byte identical encodings or fraud
detection silently breaks.
*/
func canonicalDigest(chain ChainID, token Address, from Address, to Address, amount *big.Int, nonce uint64) Digest {
	buf := new(bytes.Buffer)
	buf.Write(chain.Bytes())
	buf.Write(token[:])
	buf.Write(from[:])
	buf.Write(to[:])

	var amt [32]byte
	amount.FillBytes(amt[:])
	buf.Write(amt[:])

	var n [32]byte
	big.NewInt(0).SetUint64(nonce).FillBytes(n[24:])
	buf.Write(n[:])

	return crypto.Keccak256Hash(buf.Bytes())
}

// DepositDigest computes the digest the source chain files a deposit under.
// The tuple is keyed by the deposit's destination-looking fields.
func DepositDigest(destChain ChainID, destToken Address, srcAccount Address, destAccount Address, amount *big.Int, nonce uint64) Digest {
	return canonicalDigest(destChain, destToken, srcAccount, destAccount, amount, nonce)
}

// WithdrawDigest computes the digest the destination chain files a pending
// withdraw under. The tuple is keyed by the withdraw's source-looking fields.
// It is deliberately not equal to the deposit digest of the same logical
// transfer; see Deposit.Digest and PendingWithdraw.Digest.
func WithdrawDigest(srcChain ChainID, token Address, srcAccount Address, destAccount Address, amount *big.Int, nonce uint64) Digest {
	return canonicalDigest(srcChain, token, srcAccount, destAccount, amount, nonce)
}

// ValidateAmount rejects amounts that cannot be canonically encoded in the
// 32-byte amount field.
func ValidateAmount(amount *big.Int) error {
	if amount == nil {
		return fmt.Errorf("amount is nil")
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("amount is negative")
	}
	if amount.BitLen() > MaxAmountBits {
		return fmt.Errorf("amount exceeds %d bits", MaxAmountBits)
	}
	return nil
}
