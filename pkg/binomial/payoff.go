package binomial

import "math"

// Payoff returns the intrinsic value at expiry. It never fails and is never negative.
func Payoff(stockPrice, strikePrice float64, kind OptionKind) float64 {
	var v float64
	if kind == Put {
		v = strikePrice - stockPrice
	} else {
		v = stockPrice - strikePrice
	}
	if v > 0 {
		return v
	}
	return 0
}

// PowerTable holds factor^0 .. factor^n built by repeated multiplication.
type PowerTable []float64

// NewPowerTable precomputes the powers of factor for exponents 0..n.
func NewPowerTable(factor float64, n int) PowerTable {
	if n < 0 {
		n = 0
	}
	table := make(PowerTable, n+1)
	table[0] = 1
	for i := 1; i <= n; i++ {
		table[i] = table[i-1] * factor
	}
	return table
}

// nodePricer computes S*u^ups*d^downs. It multiplies power table entries
// while they are finite and non-zero and falls back to log space once either
// table has overflowed or underflowed, so a node is only +Inf or 0 when its
// true price is.
type nodePricer struct {
	initial float64
	upPow   PowerTable
	downPow PowerTable
	lnUp    float64
	lnDown  float64
}

func newNodePricer(initial, up, down float64, n int) nodePricer {
	return nodePricer{
		initial: initial,
		upPow:   NewPowerTable(up, n),
		downPow: NewPowerTable(down, n),
		lnUp:    math.Log(up),
		lnDown:  math.Log(down),
	}
}

func (np nodePricer) price(ups, downs int) float64 {
	u, d := np.upPow[ups], np.downPow[downs]
	if isRegular(u) && isRegular(d) {
		return np.initial * u * d
	}
	return np.initial * math.Exp(float64(ups)*np.lnUp+float64(downs)*np.lnDown)
}

func isRegular(v float64) bool {
	return v != 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

// callRatio is the terminal call value per unit of stock, max(1-K/S, 0).
// It stays in [0,1] when S has overflowed or underflowed.
func callRatio(stockPrice, strikePrice float64) float64 {
	v := 1 - strikePrice/stockPrice
	if v > 0 {
		return v
	}
	return 0
}
