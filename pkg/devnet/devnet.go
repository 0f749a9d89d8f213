// Package devnet provides deterministic key material for local development
// networks. Nothing in here is safe for production use.
package devnet

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"fmt"
	mathrand "math/rand"
	"os"

	ethCrypto "github.com/ethereum/go-ethereum/crypto"
)

// InsecureDeterministicEcdsaKeyByIndex generates a deterministic
// ecdsa.PrivateKey from a given index.
func InsecureDeterministicEcdsaKeyByIndex(c elliptic.Curve, idx uint64) *ecdsa.PrivateKey {
	r := mathrand.New(mathrand.NewSource(int64(555 + idx))) //#nosec G404 devnet keys are not secret
	key, err := ecdsa.GenerateKey(c, r)
	if err != nil {
		panic(err)
	}
	return key
}

// WriteDevnetEvmKey writes the deterministic canceler key for idx to path in
// the hex format the evm submitter loads. Existing files are left alone so a
// devnet can be restarted without key churn.
func WriteDevnetEvmKey(path string, idx uint64) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	key := InsecureDeterministicEcdsaKeyByIndex(ethCrypto.S256(), idx)
	return os.WriteFile(path, []byte(fmt.Sprintf("%x", ethCrypto.FromECDSA(key))), 0600)
}
