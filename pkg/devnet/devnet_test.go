package devnet

import (
	"os"
	"path/filepath"
	"testing"

	ethCrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeterministicKeysAreStable(t *testing.T) {
	a := InsecureDeterministicEcdsaKeyByIndex(ethCrypto.S256(), 0)
	b := InsecureDeterministicEcdsaKeyByIndex(ethCrypto.S256(), 0)
	assert.Equal(t, a.D, b.D)

	c := InsecureDeterministicEcdsaKeyByIndex(ethCrypto.S256(), 1)
	assert.NotEqual(t, a.D, c.D)
}

func TestWriteDevnetEvmKeyRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "canceler.key")
	require.NoError(t, WriteDevnetEvmKey(path, 0))

	loaded, err := ethCrypto.LoadECDSA(path)
	require.NoError(t, err)
	assert.Equal(t, InsecureDeterministicEcdsaKeyByIndex(ethCrypto.S256(), 0).D, loaded.D)

	// A second write must not clobber the existing key.
	before, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, WriteDevnetEvmKey(path, 1))
	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}
