// Package tier maps an auction's current price to the bid increment and the
// largest bid accepted at that price.
package tier

import (
	"github.com/shopspring/decimal"
)

// Unit is the smallest bid granularity. Every accepted amount is a multiple of it.
const Unit int64 = 100

// Tier is a price band with its own increment and maximum-bid rule.
type Tier struct {
	// Floor is the inclusive lower bound of the band.
	Floor int64
	// MinIncrement is the smallest step above the current price.
	MinIncrement int64
	// Multiplier scales the current price into the maximum allowed bid.
	// Zero means the band uses FixedLimit instead.
	Multiplier int64
	// FixedLimit is the maximum allowed bid for bands without a multiplier.
	FixedLimit int64
}

// table is ordered by descending floor so Lookup can stop at the first match.
var table = []Tier{
	{Floor: 10_000_000, MinIncrement: 10_000, Multiplier: 2},
	{Floor: 1_000_000, MinIncrement: 5_000, Multiplier: 3},
	{Floor: 100_000, MinIncrement: 1_000, Multiplier: 4},
	{Floor: 10_000, MinIncrement: 1_000, Multiplier: 5},
	{Floor: 0, MinIncrement: 500, FixedLimit: 50_000},
}

// Lookup returns the tier in effect at price.
func Lookup(price int64) Tier {
	for _, t := range table {
		if price >= t.Floor {
			return t
		}
	}
	return table[len(table)-1]
}

// MaxLimit returns the largest bid accepted when the current price is price.
func (t Tier) MaxLimit(price int64) int64 {
	if t.Multiplier == 0 {
		return t.FixedLimit
	}
	return price * t.Multiplier
}

// MinIncrement returns the minimum increment at price.
func MinIncrement(price int64) int64 {
	return Lookup(price).MinIncrement
}

// MaxLimit returns the maximum allowed bid at price.
func MaxLimit(price int64) int64 {
	return Lookup(price).MaxLimit(price)
}

// NextMinimum returns the smallest amount that outbids price.
func NextMinimum(price int64) int64 {
	return price + MinIncrement(price)
}

// IsValidUnit reports whether amount is a positive multiple of both Unit and
// the increment in effect at price.
func IsValidUnit(amount, price int64) bool {
	if amount <= 0 || amount%Unit != 0 {
		return false
	}
	return amount%MinIncrement(price) == 0
}

// RoundUp rounds amount up to the next multiple of step.
func RoundUp(amount, step int64) int64 {
	if step <= 0 {
		return amount
	}
	if r := amount % step; r != 0 {
		return amount + step - r
	}
	return amount
}

// RoundDown rounds amount down to a multiple of step.
func RoundDown(amount, step int64) int64 {
	if step <= 0 {
		return amount
	}
	return amount - amount%step
}

// ApplyPercentage returns price raised by pct percent, rounded up to the
// increment in effect at price.
func ApplyPercentage(price int64, pct int) int64 {
	raised := decimal.NewFromInt(price).
		Mul(decimal.NewFromInt(int64(100 + pct))).
		Div(decimal.NewFromInt(100)).
		Ceil()
	return RoundUp(raised.IntPart(), MinIncrement(price))
}
