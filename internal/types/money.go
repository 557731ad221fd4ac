// README: Common money value object and fixed-point helpers used across modules.
package types

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ID identifies any persisted entity (node, charge, share, remittance, user).
type ID string

func NewID() ID {
	return ID(uuid.NewString())
}

// Money is an amount in minor currency units (centavos for PHP).
type Money struct {
	Amount   int64
	Currency string
}

// BasisPoints expresses rates, percentages and multipliers; 10000 == 100% == 1x.
type BasisPoints int64

const (
	Hundred BasisPoints = 10000
	One     BasisPoints = 10000
)

// ApplyTo returns round_half_up(amount * bp / 10000).
func (bp BasisPoints) ApplyTo(amount int64) int64 {
	return MulDivRound(amount, int64(bp), int64(Hundred))
}

func (bp BasisPoints) String() string {
	return decimal.New(int64(bp), -2).String() + "%"
}

// MulDivRound computes round(a*b/c) with half-away-from-zero rounding.
// Intermediates are arbitrary precision so large products never overflow.
func MulDivRound(a, b, c int64) int64 {
	return ScaleRound(c, a, b)
}

// ScaleRound computes round(product(factors)/den), rounding half away from zero.
// Rounding happens once, after every factor has been applied.
func ScaleRound(den int64, factors ...int64) int64 {
	if den == 0 {
		panic("types: ScaleRound divide by zero")
	}
	num := big.NewInt(1)
	for _, f := range factors {
		num.Mul(num, big.NewInt(f))
	}
	d := big.NewInt(den)
	neg := (num.Sign() < 0) != (d.Sign() < 0)
	num.Abs(num)
	d.Abs(d)

	q, r := new(big.Int).QuoRem(num, d, new(big.Int))
	if r.Lsh(r, 1).Cmp(d) >= 0 {
		q.Add(q, big.NewInt(1))
	}
	if neg {
		q.Neg(q)
	}
	return q.Int64()
}

// ParsePercent converts a human percentage such as "12" or "12.5" into basis points.
// More than two decimal places is rejected rather than rounded.
func ParsePercent(s string) (BasisPoints, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid percentage %q: %w", s, err)
	}
	scaled := d.Shift(2)
	if !scaled.IsInteger() {
		return 0, fmt.Errorf("invalid percentage %q: at most two decimal places", s)
	}
	return BasisPoints(scaled.IntPart()), nil
}

// ParseMultiplier converts "1.5" into 15000 basis points.
func ParseMultiplier(s string) (BasisPoints, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid multiplier %q: %w", s, err)
	}
	scaled := d.Shift(4)
	if !scaled.IsInteger() {
		return 0, fmt.Errorf("invalid multiplier %q: at most four decimal places", s)
	}
	return BasisPoints(scaled.IntPart()), nil
}

// ParseAmount converts a major-unit string such as "50.00" into minor units.
func ParseAmount(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	scaled := d.Shift(2)
	if !scaled.IsInteger() {
		return 0, fmt.Errorf("invalid amount %q: at most two decimal places", s)
	}
	return scaled.IntPart(), nil
}

// FormatAmount renders minor units as a major-unit string ("3333" -> "33.33").
func FormatAmount(minor int64) string {
	return decimal.New(minor, -2).StringFixed(2)
}
