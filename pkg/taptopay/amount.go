package taptopay

import (
	"math/big"
	"strconv"
)

var hundred = big.NewInt(100)

// roundCents rounds x to two decimals, half away from zero, using the
// shortest decimal representation of x. Binary rounding would turn 1.005
// into 1.00.
func roundCents(x float64) *big.Rat {
	r, ok := new(big.Rat).SetString(strconv.FormatFloat(x, 'f', -1, 64))
	if !ok {
		return new(big.Rat)
	}

	r.Mul(r, new(big.Rat).SetInt(hundred))

	q, m := new(big.Int).QuoRem(r.Num(), r.Denom(), new(big.Int))
	m.Abs(m).Lsh(m, 1)
	if m.Cmp(r.Denom()) >= 0 {
		if r.Sign() < 0 {
			q.Sub(q, big.NewInt(1))
		} else {
			q.Add(q, big.NewInt(1))
		}
	}

	return new(big.Rat).SetFrac(q, hundred)
}

// RoundAmount normalises a monetary amount to two decimals.
func RoundAmount(x float64) float64 {
	f, _ := roundCents(x).Float64()
	return f
}

// FormatAmount renders x rounded to two decimals, e.g. "12.30".
func FormatAmount(x float64) string {
	return roundCents(x).FloatString(2)
}
