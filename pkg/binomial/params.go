// Package binomial prices European options on a recombining binomial lattice
// and provides the one-step replication cross-check.
package binomial

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrInvalidModelParameters is returned for any financially inconsistent
// request. Errors returned by this package wrap it, so callers should test
// with errors.Is.
var ErrInvalidModelParameters = errors.New("invalid model parameters")

// OptionKind selects the payoff of the contract.
type OptionKind int

const (
	// Call pays max(S-K, 0) at expiry.
	Call OptionKind = iota
	// Put pays max(K-S, 0) at expiry.
	Put
)

func (k OptionKind) String() string {
	switch k {
	case Call:
		return "call"
	case Put:
		return "put"
	default:
		return fmt.Sprintf("OptionKind(%d)", int(k))
	}
}

// ParseOptionKind converts "call" or "put" (case-insensitive) into an OptionKind.
func ParseOptionKind(value string) (OptionKind, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "call", "c":
		return Call, nil
	case "put", "p":
		return Put, nil
	default:
		return Call, fmt.Errorf("%w: unknown option kind %q, expected call or put", ErrInvalidModelParameters, value)
	}
}

// MarketParameters holds everything needed to price one contract.
type MarketParameters struct {
	InitialPrice  float64
	StrikePrice   float64
	ProbabilityUp float64 // physical probability, only used by Replicate
	UpFactor      float64
	DownFactor    float64
	InterestRate  float64 // per step
	Kind          OptionKind
	Steps         int
}

// NewMarketParameters builds and validates a MarketParameters value using
// discrete compounding for the no-arbitrage check.
func NewMarketParameters(initialPrice, strikePrice, probabilityUp, upFactor, downFactor, interestRate float64, kind OptionKind, steps int) (MarketParameters, error) {
	p := MarketParameters{
		InitialPrice:  initialPrice,
		StrikePrice:   strikePrice,
		ProbabilityUp: probabilityUp,
		UpFactor:      upFactor,
		DownFactor:    downFactor,
		InterestRate:  interestRate,
		Kind:          kind,
		Steps:         steps,
	}
	if err := p.Validate(); err != nil {
		return MarketParameters{}, err
	}
	return p, nil
}

// Validate checks the parameters against discrete compounding.
func (p MarketParameters) Validate() error {
	_, err := p.measure(Discrete)
	return err
}

// WithSteps returns a copy of p using the given step count.
func (p MarketParameters) WithSteps(steps int) MarketParameters {
	p.Steps = steps
	return p
}

// checkFields validates everything that does not depend on the compounding
// convention. NaN inputs fail every comparison below.
func (p MarketParameters) checkFields() error {
	if !(p.ProbabilityUp >= 0 && p.ProbabilityUp <= 1) {
		return fmt.Errorf("%w: probability up %v out of bounds, must be between 0 and 1", ErrInvalidModelParameters, p.ProbabilityUp)
	}
	if !(p.UpFactor > p.DownFactor) {
		return fmt.Errorf("%w: up factor %v must be greater than down factor %v", ErrInvalidModelParameters, p.UpFactor, p.DownFactor)
	}
	if p.Steps <= 0 {
		return fmt.Errorf("%w: steps must be greater than zero, got %d", ErrInvalidModelParameters, p.Steps)
	}
	if !(p.InitialPrice > 0) || math.IsInf(p.InitialPrice, 0) {
		return fmt.Errorf("%w: initial price must be positive, got %v", ErrInvalidModelParameters, p.InitialPrice)
	}
	if !(p.StrikePrice > 0) || math.IsInf(p.StrikePrice, 0) {
		return fmt.Errorf("%w: strike price must be positive, got %v", ErrInvalidModelParameters, p.StrikePrice)
	}
	if !(p.DownFactor > 0) || math.IsInf(p.UpFactor, 0) {
		return fmt.Errorf("%w: factors must be positive and finite, got up %v down %v", ErrInvalidModelParameters, p.UpFactor, p.DownFactor)
	}
	if !(p.InterestRate > -1) {
		return fmt.Errorf("%w: interest rate must be greater than -1, got %v", ErrInvalidModelParameters, p.InterestRate)
	}
	if p.Kind != Call && p.Kind != Put {
		return fmt.Errorf("%w: unknown option kind %d", ErrInvalidModelParameters, int(p.Kind))
	}
	return nil
}

func (p MarketParameters) measure(c Compounding) (RiskNeutralMeasure, error) {
	if err := p.checkFields(); err != nil {
		return RiskNeutralMeasure{}, err
	}
	return NewRiskNeutralMeasure(p.UpFactor, p.DownFactor, p.InterestRate, c)
}
