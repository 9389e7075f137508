// Package game holds the rules of a lottery deployment: the selection domain
// players bet on, how a winning selection is sampled, how stakes are validated
// and how the prize pool is derived and split.
//
// Everything here is stateless. Draw state lives in model.DrawPeriod.
// All monetary values use shopspring/decimal, never float64 for money.
package game

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidMode is returned when a mode's domain cannot produce a selection.
	ErrInvalidMode = errors.New("game: invalid mode")

	// ErrInvalidSelection is returned when a selection falls outside the domain.
	ErrInvalidSelection = errors.New("game: invalid selection")

	// ErrInvalidStake is returned when a stake does not satisfy the stake policy.
	ErrInvalidStake = errors.New("game: invalid stake")

	// ErrInvalidPrize is returned for a prize policy with neither a ratio nor a fixed prize.
	ErrInvalidPrize = errors.New("game: invalid prize policy")
)

// MoneyScale is the number of decimal places money is kept at (cents).
const MoneyScale int32 = 2

// Rand is the uniform integer source used for draws. *rand.Rand from
// math/rand/v2 satisfies it.
type Rand interface {
	IntN(n int) int
}

// globalRand draws from the auto-seeded, goroutine-safe math/rand/v2 source.
type globalRand struct{}

func (globalRand) IntN(n int) int { return rand.IntN(n) }

// DefaultRand is the generator used when none is injected.
var DefaultRand Rand = globalRand{}

// Mode is the selection domain of a deployment: every bet and every draw is
// exactly Picks distinct integers in [1, MaxNumber].
//
//	Picks=1, MaxNumber=500 → single-number personal draw
//	Picks=6, MaxNumber=60  → k-number pooled draw
type Mode struct {
	Picks     int `json:"picks"`
	MaxNumber int `json:"max_number"`
}

// NewMode validates the domain and returns a Mode.
func NewMode(picks, maxNumber int) (Mode, error) {
	m := Mode{Picks: picks, MaxNumber: maxNumber}
	if err := m.Check(); err != nil {
		return Mode{}, err
	}
	return m, nil
}

// Check reports whether the domain is usable.
func (m Mode) Check() error {
	if m.Picks < 1 {
		return fmt.Errorf("%w: picks must be at least 1, got %d", ErrInvalidMode, m.Picks)
	}
	if m.MaxNumber < m.Picks {
		return fmt.Errorf("%w: max number %d cannot hold %d distinct picks", ErrInvalidMode, m.MaxNumber, m.Picks)
	}
	return nil
}

// SingleNumber reports whether a selection is one number.
func (m Mode) SingleNumber() bool { return m.Picks == 1 }

// Normalize validates a selection and returns its canonical (ascending) copy.
func (m Mode) Normalize(selection []int) ([]int, error) {
	if len(selection) != m.Picks {
		return nil, fmt.Errorf("%w: expected %d number(s), got %d", ErrInvalidSelection, m.Picks, len(selection))
	}
	out := slices.Clone(selection)
	slices.Sort(out)
	for i, n := range out {
		if n < 1 || n > m.MaxNumber {
			return nil, fmt.Errorf("%w: %d is outside [1, %d]", ErrInvalidSelection, n, m.MaxNumber)
		}
		if i > 0 && out[i-1] == n {
			return nil, fmt.Errorf("%w: %d appears more than once", ErrInvalidSelection, n)
		}
	}
	return out, nil
}

// Draw samples a winning selection uniformly from the domain: one IntN call
// per number, without replacement. The result is canonical.
func (m Mode) Draw(r Rand) []int {
	if r == nil {
		r = DefaultRand
	}
	picked := make(map[int]bool, m.Picks)
	out := make([]int, 0, m.Picks)
	// Partial Fisher-Yates over the virtual range [1, MaxNumber]: each step
	// picks the k-th still-unused number.
	for len(out) < m.Picks {
		k := r.IntN(m.MaxNumber - len(out))
		n := 0
		for v := 1; v <= m.MaxNumber; v++ {
			if picked[v] {
				continue
			}
			if k == 0 {
				n = v
				break
			}
			k--
		}
		picked[n] = true
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

// Key returns the canonical string form of a normalized selection, used as
// the per-user uniqueness key and for set-equality.
func Key(selection []int) string {
	parts := make([]string, len(selection))
	for i, n := range selection {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, "-")
}

// Matches reports whether two canonical selections are set-equal.
func Matches(a, b []int) bool {
	return slices.Equal(a, b)
}

// StakePolicy validates bet stakes. A non-zero Fixed makes every bet cost
// exactly Fixed; otherwise stakes must lie in [Min, Max] (Max zero = unbounded).
type StakePolicy struct {
	Fixed decimal.Decimal `json:"fixed"`
	Min   decimal.Decimal `json:"min"`
	Max   decimal.Decimal `json:"max"`
}

// FixedStake returns a policy charging amount per bet.
func FixedStake(amount decimal.Decimal) StakePolicy {
	return StakePolicy{Fixed: amount}
}

// Resolve returns the stake to charge for a requested amount. With a fixed
// stake a zero request means "the fixed stake".
func (p StakePolicy) Resolve(requested decimal.Decimal) (decimal.Decimal, error) {
	if p.Fixed.IsPositive() {
		if requested.IsZero() || requested.Equal(p.Fixed) {
			return p.Fixed, nil
		}
		return decimal.Zero, fmt.Errorf("%w: stake is fixed at %s", ErrInvalidStake, p.Fixed.StringFixed(MoneyScale))
	}
	if !requested.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: stake must be positive", ErrInvalidStake)
	}
	if !requested.Equal(requested.Truncate(MoneyScale)) {
		return decimal.Zero, fmt.Errorf("%w: stake has more than %d decimal places", ErrInvalidStake, MoneyScale)
	}
	if p.Min.IsPositive() && requested.LessThan(p.Min) {
		return decimal.Zero, fmt.Errorf("%w: minimum stake is %s", ErrInvalidStake, p.Min.StringFixed(MoneyScale))
	}
	if p.Max.IsPositive() && requested.GreaterThan(p.Max) {
		return decimal.Zero, fmt.Errorf("%w: maximum stake is %s", ErrInvalidStake, p.Max.StringFixed(MoneyScale))
	}
	return requested, nil
}

// PrizePolicy derives the prize pool of a drawn period. A positive FixedPrize
// wins over Ratio.
type PrizePolicy struct {
	Ratio      decimal.Decimal `json:"ratio"`
	FixedPrize decimal.Decimal `json:"fixed_prize"`
}

// RatioPrize returns a policy paying ratio × stake total.
func RatioPrize(ratio decimal.Decimal) PrizePolicy {
	return PrizePolicy{Ratio: ratio}
}

// Check reports whether the policy can produce a pool.
func (p PrizePolicy) Check() error {
	if p.FixedPrize.IsPositive() {
		return nil
	}
	if !p.Ratio.IsPositive() || p.Ratio.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: ratio must be in (0, 1], got %s", ErrInvalidPrize, p.Ratio)
	}
	return nil
}

// Pool computes the prize pool from the frozen stake total plus any carried
// over amount, rounded down to cents so the pool never exceeds what was collected.
func (p PrizePolicy) Pool(stakeTotal, carryover decimal.Decimal) decimal.Decimal {
	base := p.FixedPrize
	if !base.IsPositive() {
		base = stakeTotal.Mul(p.Ratio)
	}
	return base.Add(carryover).RoundFloor(MoneyScale)
}

// Split divides pool among winners. Each share is rounded down to cents; the
// residual is returned separately and is never distributed.
func Split(pool decimal.Decimal, winners int) (share, residual decimal.Decimal) {
	if winners <= 0 {
		return decimal.Zero, pool
	}
	share = pool.Div(decimal.NewFromInt(int64(winners))).RoundFloor(MoneyScale)
	residual = pool.Sub(share.Mul(decimal.NewFromInt(int64(winners))))
	return share, residual
}
