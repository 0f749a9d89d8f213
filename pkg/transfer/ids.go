package transfer

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	eth_common "github.com/ethereum/go-ethereum/common"
)

type (
	// ChainID identifies a ledger participating in the bridge. It is an
	// opaque 4-byte value assigned by the chain registry; the bridge core
	// never interprets it beyond equality and wire encoding.
	ChainID uint32

	// Address is a universal 32-byte account or token address. Native
	// addresses shorter than 32 bytes (e.g. 20-byte EVM addresses) are
	// left-padded with zeros.
	Address [32]byte
)

func (c ChainID) String() string {
	return fmt.Sprintf("%d", uint32(c))
}

// Bytes returns the canonical 4-byte big-endian encoding of the chain id.
func (c ChainID) Bytes() []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(c))
	return b
}

func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

func (a Address) Bytes() []byte {
	return a[:]
}

// IsZero reports whether the address is all zeros. The zero address is not
// a valid account or token on any configured chain.
func (a Address) IsZero() bool {
	return a == Address{}
}

func (a Address) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf(`"%s"`, a)), nil
}

func (a *Address) UnmarshalJSON(data []byte) error {
	addr, err := StringToAddress(strings.Trim(string(data), `"`))
	if err != nil {
		return err
	}
	*a = addr
	return nil
}

// StringToAddress parses a 64-character hex string into a universal address.
func StringToAddress(value string) (Address, error) {
	var address Address

	value = strings.TrimPrefix(value, "0x")

	res, err := hex.DecodeString(value)
	if err != nil {
		return address, err
	}
	if len(res) > 32 {
		return address, fmt.Errorf("address longer than 32 bytes")
	}
	copy(address[32-len(res):], res)

	return address, nil
}

// AddressFromEth converts a native 20-byte EVM address into a universal
// address by left-padding it to 32 bytes.
func AddressFromEth(addr eth_common.Address) Address {
	var out Address
	copy(out[12:], addr.Bytes())
	return out
}

// EthAddress truncates a universal address back to its native 20-byte EVM
// form. Only meaningful for addresses that originated on an EVM chain.
func (a Address) EthAddress() eth_common.Address {
	return eth_common.BytesToAddress(a[12:])
}
