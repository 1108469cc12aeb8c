// Package mathutil provides common mathematical utility functions.
package mathutil

import (
	"math"

	"github.com/iwvelando/binomial-lattice/pkg/constants"
)

// WithinTolerance checks if two values are within a specified tolerance
func WithinTolerance(val1, val2, tolerance float64) bool {
	return math.Abs(val1-val2) <= tolerance
}

// AlmostEqual compares two prices with an absolute tolerance that grows with
// their magnitude.
func AlmostEqual(val1, val2 float64) bool {
	scale := math.Max(1, math.Max(math.Abs(val1), math.Abs(val2)))
	return WithinTolerance(val1, val2, constants.PriceTolerance*scale)
}
