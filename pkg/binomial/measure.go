package binomial

import (
	"fmt"
	"math"
	"strings"
)

// Compounding is the interest convention shared by the risk-neutral
// probability, the per-step discount and the replication model.
type Compounding int

const (
	// Discrete grows money by 1+r per step.
	Discrete Compounding = iota
	// Continuous grows money by e^r per step.
	Continuous
)

func (c Compounding) String() string {
	switch c {
	case Discrete:
		return "discrete"
	case Continuous:
		return "continuous"
	default:
		return fmt.Sprintf("Compounding(%d)", int(c))
	}
}

// ParseCompounding accepts "discrete" or "continuous". An empty string means Discrete.
func ParseCompounding(value string) (Compounding, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "discrete":
		return Discrete, nil
	case "continuous":
		return Continuous, nil
	default:
		return Discrete, fmt.Errorf("unknown compounding %q, expected discrete or continuous", value)
	}
}

// Growth returns the one-step growth of a unit of cash at rate r.
func (c Compounding) Growth(r float64) float64 {
	if c == Continuous {
		return math.Exp(r)
	}
	return 1 + r
}

// RiskNeutralMeasure is the pricing probability derived from (u, d, r).
type RiskNeutralMeasure struct {
	Q           float64
	Growth      float64
	Discount    float64
	Compounding Compounding

	// Stock-numeraire weights q*u/growth and (1-q)*d/growth, which sum to
	// one. They are used to roll back values expressed per unit of stock.
	upShare   float64
	downShare float64
}

// NewRiskNeutralMeasure derives q = (growth - d) / (u - d). It fails unless
// u > growth > d, which is the same as 0 < q < 1.
func NewRiskNeutralMeasure(up, down, rate float64, c Compounding) (RiskNeutralMeasure, error) {
	if c != Discrete && c != Continuous {
		return RiskNeutralMeasure{}, fmt.Errorf("%w: unknown compounding %d", ErrInvalidModelParameters, int(c))
	}
	if !(up > down) {
		return RiskNeutralMeasure{}, fmt.Errorf("%w: up factor %v must be greater than down factor %v", ErrInvalidModelParameters, up, down)
	}
	growth := c.Growth(rate)
	q := (growth - down) / (up - down)
	if !(q > 0 && q < 1) {
		return RiskNeutralMeasure{}, fmt.Errorf("%w: risk-neutral probability %v outside (0,1), u > %v > d > 0 must hold", ErrInvalidModelParameters, q, growth)
	}
	return RiskNeutralMeasure{
		Q:           q,
		Growth:      growth,
		Discount:    1 / growth,
		Compounding: c,
		upShare:     q * up / growth,
		downShare:   1 - q*up/growth,
	}, nil
}

// Rollback discounts the q-weighted average of the two successor values.
// The explicit conversions keep the compiler from fusing the multiply-adds,
// so every caller rounds identically.
func (m RiskNeutralMeasure) Rollback(upValue, downValue float64) float64 {
	weighted := float64(m.Q*upValue) + float64((1-m.Q)*downValue)
	return m.Discount * weighted
}

// StockRollback rolls back values expressed per unit of stock price. With
// W = V/S the recursion V = discount*(q*V_up + (1-q)*V_down) becomes
// W = q*u/growth*W_up + (1-q)*d/growth*W_down, which needs no discounting
// and stays bounded by the terminal ratios.
func (m RiskNeutralMeasure) StockRollback(upRatio, downRatio float64) float64 {
	return float64(m.upShare*upRatio) + float64(m.downShare*downRatio)
}
