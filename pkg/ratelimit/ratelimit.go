// Package ratelimit enforces the per-token daily usage caps consulted by the
// bridge state machine before honoring withdrawals. Usage accumulates in a
// fixed 24 hour window that resets at the window boundary; this is a hard
// reset, not a sliding window.
package ratelimit

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/crossgate/crossgate/pkg/transfer"
)

// Direction distinguishes inbound (withdraw) from outbound (deposit) flow.
type Direction uint8

const (
	Inbound Direction = iota
	Outbound
)

func (d Direction) String() string {
	if d == Inbound {
		return "in"
	}
	return "out"
}

// ErrLimitExceeded is returned when honoring an amount would exceed the
// token's cap for the current window.
var ErrLimitExceeded = errors.New("rate limit exceeded for token in current window")

// defaultCapDivisor derives the default cap when a token has no explicit
// configuration: one part in a thousand of total supply (0.1%).
const defaultCapDivisor = 1000

var (
	limitExceededTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossgate_ratelimit_exceeded_total",
			Help: "Total number of transfers rejected by the rate limiter",
		}, []string{"token", "direction"})
	windowUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "crossgate_ratelimit_window_usage",
			Help: "Usage accumulated in the current rate limit window, in token base units",
		}, []string{"token", "direction"})
)

type (
	counterKey struct {
		token     transfer.Address
		direction Direction
	}

	counter struct {
		windowStart time.Time
		used        sdkmath.Int
	}

	// SupplySource exposes the registered total supply for a token, used
	// for the default cap. The token registry implements it.
	SupplySource interface {
		TotalSupply(token transfer.Address) (sdkmath.Int, bool)
	}

	// Limiter tracks per-token, per-direction usage.
	Limiter struct {
		logger   *zap.Logger
		supplies SupplySource
		window   time.Duration
		now      func() time.Time

		mu       sync.Mutex
		caps     map[transfer.Address]sdkmath.Int
		counters map[counterKey]*counter
	}
)

func New(logger *zap.Logger, supplies SupplySource) *Limiter {
	return &Limiter{
		logger:   logger,
		supplies: supplies,
		window:   24 * time.Hour,
		now:      time.Now,
		caps:     make(map[transfer.Address]sdkmath.Int),
		counters: make(map[counterKey]*counter),
	}
}

// SetCap overrides the default cap for one token.
func (l *Limiter) SetCap(token transfer.Address, cap sdkmath.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.caps[token] = cap
}

// SetWindowForTest compresses the window so boundary behavior is testable.
func (l *Limiter) SetWindowForTest(window time.Duration, now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.window = window
	l.now = now
}

// CheckAndConsume consumes amount from the token's window budget, or returns
// ErrLimitExceeded without consuming anything.
func (l *Limiter) CheckAndConsume(token transfer.Address, amount *big.Int, direction Direction) error {
	if err := transfer.ValidateAmount(amount); err != nil {
		return fmt.Errorf("invalid amount: %w", err)
	}
	amt := sdkmath.NewIntFromBigInt(amount)

	l.mu.Lock()
	defer l.mu.Unlock()

	cap, err := l.capFor(token)
	if err != nil {
		return err
	}

	now := l.now()
	key := counterKey{token: token, direction: direction}
	c, ok := l.counters[key]
	if !ok {
		c = &counter{windowStart: now, used: sdkmath.ZeroInt()}
		l.counters[key] = c
	}

	// Boundary reset: a new window starts exactly one window length after
	// the previous one began.
	if now.Sub(c.windowStart) >= l.window {
		c.windowStart = now
		c.used = sdkmath.ZeroInt()
	}

	if c.used.Add(amt).GT(cap) {
		limitExceededTotal.WithLabelValues(token.String(), direction.String()).Inc()
		if l.logger != nil {
			l.logger.Warn("rate limit exceeded",
				zap.String("token", token.String()),
				zap.String("direction", direction.String()),
				zap.String("amount", amt.String()),
				zap.String("used", c.used.String()),
				zap.String("cap", cap.String()),
			)
		}
		return ErrLimitExceeded
	}

	c.used = c.used.Add(amt)
	usage, _ := new(big.Float).SetInt(c.used.BigInt()).Float64()
	windowUsage.WithLabelValues(token.String(), direction.String()).Set(usage)
	return nil
}

// Refund returns amount to the token's current window after an operation
// that consumed it failed to commit. A refund never crosses a window
// boundary; once the window has reset there is nothing to give back.
func (l *Limiter) Refund(token transfer.Address, amount *big.Int, direction Direction) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := counterKey{token: token, direction: direction}
	c, ok := l.counters[key]
	if !ok {
		return
	}
	if l.now().Sub(c.windowStart) >= l.window {
		return
	}

	c.used = c.used.Sub(sdkmath.NewIntFromBigInt(amount))
	if c.used.IsNegative() {
		c.used = sdkmath.ZeroInt()
	}
	usage, _ := new(big.Float).SetInt(c.used.BigInt()).Float64()
	windowUsage.WithLabelValues(token.String(), direction.String()).Set(usage)
}

func (l *Limiter) capFor(token transfer.Address) (sdkmath.Int, error) {
	if cap, ok := l.caps[token]; ok {
		return cap, nil
	}
	supply, ok := l.supplies.TotalSupply(token)
	if !ok {
		return sdkmath.Int{}, fmt.Errorf("no cap and no registered supply for token %s", token)
	}
	return supply.QuoRaw(defaultCapDivisor), nil
}
