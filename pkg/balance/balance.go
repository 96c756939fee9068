// Package balance implements the bounded per-peer balance ledger.
//
// A balance is a signed big integer in the peer's asset scale. Positive values
// mean this connector owes the peer; negative values mean the peer owes us.
// Every mutation keeps minimum <= value <= maximum, and in-flight packets
// reserve room through holds so concurrent packets cannot jointly overshoot a bound.
package balance

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"sync"

	"ilp-connector/pkg/model"
)

// Default bounds used when a balance rule leaves minimum or maximum unset.
var (
	MinInt64 = big.NewInt(math.MinInt64)
	MaxInt64 = big.NewInt(math.MaxInt64)
)

var (
	ErrExceedsMaximum = errors.New("balance would exceed maximum")
	ErrBelowMinimum   = errors.New("balance would fall below minimum")
	ErrInvalidBounds  = errors.New("invalid balance bounds")
)

// Balance is safe for concurrent use.
type Balance struct {
	mu            sync.Mutex
	value         *big.Int
	minimum       *big.Int
	maximum       *big.Int
	pendingDebit  *big.Int // sum of outstanding negative holds, <= 0
	pendingCredit *big.Int // sum of outstanding positive holds, >= 0
	scale         int
}

// New validates minimum <= initial <= maximum.
func New(initial, minimum, maximum *big.Int, scale int) (*Balance, error) {
	if minimum.Cmp(maximum) > 0 || initial.Cmp(minimum) < 0 || initial.Cmp(maximum) > 0 {
		return nil, fmt.Errorf("%w: minimum=%s initial=%s maximum=%s", ErrInvalidBounds, minimum, initial, maximum)
	}
	if scale < 0 {
		return nil, fmt.Errorf("%w: negative scale %d", ErrInvalidBounds, scale)
	}
	return &Balance{
		value:         new(big.Int).Set(initial),
		minimum:       new(big.Int).Set(minimum),
		maximum:       new(big.Int).Set(maximum),
		pendingDebit:  new(big.Int),
		pendingCredit: new(big.Int),
		scale:         scale,
	}, nil
}

// Update applies diff if the result, together with outstanding holds, stays within bounds.
// On error the balance is unchanged.
func (b *Balance) Update(diff *big.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	next := new(big.Int).Add(b.value, diff)
	if err := b.checkLocked(next); err != nil {
		return err
	}
	b.value = next
	return nil
}

func (b *Balance) checkLocked(next *big.Int) error {
	if new(big.Int).Add(next, b.pendingDebit).Cmp(b.minimum) < 0 {
		return fmt.Errorf("%w: value=%s minimum=%s", ErrBelowMinimum, next, b.minimum)
	}
	if new(big.Int).Add(next, b.pendingCredit).Cmp(b.maximum) > 0 {
		return fmt.Errorf("%w: value=%s maximum=%s", ErrExceedsMaximum, next, b.maximum)
	}
	return nil
}

// Hold reserves room for diff without changing the value. The hold must be
// either committed (the packet fulfilled) or released (it did not).
func (b *Balance) Hold(diff *big.Int) (*Hold, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch diff.Sign() {
	case -1:
		worst := new(big.Int).Add(b.value, b.pendingDebit)
		if worst.Add(worst, diff).Cmp(b.minimum) < 0 {
			return nil, fmt.Errorf("%w: value=%s pending=%s diff=%s minimum=%s", ErrBelowMinimum, b.value, b.pendingDebit, diff, b.minimum)
		}
		b.pendingDebit.Add(b.pendingDebit, diff)
	case 1:
		worst := new(big.Int).Add(b.value, b.pendingCredit)
		if worst.Add(worst, diff).Cmp(b.maximum) > 0 {
			return nil, fmt.Errorf("%w: value=%s pending=%s diff=%s maximum=%s", ErrExceedsMaximum, b.value, b.pendingCredit, diff, b.maximum)
		}
		b.pendingCredit.Add(b.pendingCredit, diff)
	}
	return &Hold{balance: b, diff: new(big.Int).Set(diff)}, nil
}

// ReduceTo lowers the value to target when it has reached threshold and
// returns the amount taken off. The check and the update are atomic.
func (b *Balance) ReduceTo(threshold, target *big.Int) (*big.Int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.value.Cmp(threshold) < 0 || b.value.Cmp(target) <= 0 {
		return nil, false
	}
	if err := b.checkLocked(target); err != nil {
		return nil, false
	}
	amount := new(big.Int).Sub(b.value, target)
	b.value = new(big.Int).Set(target)
	return amount, true
}

// Value returns a copy of the current value.
func (b *Balance) Value() *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return new(big.Int).Set(b.value)
}

func (b *Balance) Scale() int {
	return b.scale
}

// Summary renders the balance for the admin API.
func (b *Balance) Summary() model.BalanceSummary {
	b.mu.Lock()
	defer b.mu.Unlock()
	return model.BalanceSummary{
		Value:   b.value.String(),
		Minimum: b.minimum.String(),
		Maximum: b.maximum.String(),
		Scale:   b.scale,
	}
}

// Hold is a reservation against a Balance. Commit and Release are mutually
// exclusive and only the first call has any effect.
type Hold struct {
	balance *Balance
	diff    *big.Int
	done    bool
}

// Commit applies the held diff to the value.
func (h *Hold) Commit() {
	b := h.balance
	b.mu.Lock()
	defer b.mu.Unlock()
	if h.done {
		return
	}
	h.done = true
	b.unpendLocked(h.diff)
	b.value.Add(b.value, h.diff)
}

// Release drops the reservation.
func (h *Hold) Release() {
	b := h.balance
	b.mu.Lock()
	defer b.mu.Unlock()
	if h.done {
		return
	}
	h.done = true
	b.unpendLocked(h.diff)
}

func (b *Balance) unpendLocked(diff *big.Int) {
	switch diff.Sign() {
	case -1:
		b.pendingDebit.Sub(b.pendingDebit, diff)
	case 1:
		b.pendingCredit.Sub(b.pendingCredit, diff)
	}
}

// Rescale converts diff from fromScale to toScale. It reports false when
// toScale < fromScale, since that would need fractional units.
func Rescale(diff *big.Int, fromScale, toScale int) (*big.Int, bool) {
	if toScale < fromScale {
		return nil, false
	}
	ratio := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(toScale-fromScale)), nil)
	return new(big.Int).Mul(diff, ratio), true
}
