// Package registry holds the read-only token and chain lookups consumed by
// the bridge state machine. Managing which tokens and chains participate is
// out of scope for the core; this package only answers queries.
package registry

import (
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"

	"github.com/crossgate/crossgate/pkg/normalize"
	"github.com/crossgate/crossgate/pkg/transfer"
)

type (
	// ChainEntry describes one ledger known to the bridge.
	ChainEntry struct {
		ID   transfer.ChainID
		Name string
	}

	// TokenEntry describes one fungible token known to the bridge. The
	// total supply is used by the rate limiter to derive its default cap.
	TokenEntry struct {
		Token       transfer.Address
		Symbol      string
		TotalSupply sdkmath.Int
	}

	decimalsKey struct {
		token transfer.Address
		chain transfer.ChainID
	}

	// Registry is the per-ledger view of the token and chain registries.
	// localChain identifies the ledger this instance serves; deposit
	// normalization reads the token's local decimals from it.
	Registry struct {
		mu         sync.RWMutex
		localChain transfer.ChainID
		chains     map[transfer.ChainID]ChainEntry
		tokens     map[transfer.Address]TokenEntry
		decimals   map[decimalsKey]uint8
	}
)

func New(localChain transfer.ChainID) *Registry {
	return &Registry{
		localChain: localChain,
		chains:     make(map[transfer.ChainID]ChainEntry),
		tokens:     make(map[transfer.Address]TokenEntry),
		decimals:   make(map[decimalsKey]uint8),
	}
}

// AddChain registers a chain identifier. Zero is reserved for "unset".
func (r *Registry) AddChain(e ChainEntry) error {
	if e.ID == 0 {
		return fmt.Errorf("chain id 0 is reserved")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chains[e.ID] = e
	return nil
}

// AddToken registers a token together with its decimal count on one chain.
// Called once per (token, chain) pair as registrations are loaded.
func (r *Registry) AddToken(e TokenEntry, chain transfer.ChainID, decimals uint8) error {
	if e.Token.IsZero() {
		return fmt.Errorf("token address is zero")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[e.Token] = e
	r.decimals[decimalsKey{token: e.Token, chain: chain}] = decimals
	return nil
}

// KnownChain reports whether a chain id is registered.
func (r *Registry) KnownChain(id transfer.ChainID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.chains[id]
	return ok
}

// Token returns the registered token entry, if any.
func (r *Registry) Token(token transfer.Address) (TokenEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tokens[token]
	return e, ok
}

// TotalSupply returns the registered total supply for a token. The rate
// limiter uses it to derive default caps.
func (r *Registry) TotalSupply(token transfer.Address) (sdkmath.Int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tokens[token]
	if !ok {
		return sdkmath.Int{}, false
	}
	return e.TotalSupply, true
}

// Decimals implements normalize.DecimalSource: it returns the token's
// decimals on the local chain and on the destination chain. A missing
// registration on either side fails closed.
func (r *Registry) Decimals(token transfer.Address, destChain transfer.ChainID) (uint8, uint8, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	srcDec, ok := r.decimals[decimalsKey{token: token, chain: r.localChain}]
	if !ok {
		return 0, 0, normalize.ErrDecimalsNotRegistered
	}
	destDec, ok := r.decimals[decimalsKey{token: token, chain: destChain}]
	if !ok {
		return 0, 0, normalize.ErrDecimalsNotRegistered
	}
	return srcDec, destDec, nil
}

var _ normalize.DecimalSource = (*Registry)(nil)
