package binomial

// ReplicationResult describes the one-period replicating portfolio.
type ReplicationResult struct {
	PriceUp    float64
	PriceDown  float64
	PayoffUp   float64
	PayoffDown float64

	// Delta is the hedge ratio, units of stock held.
	Delta float64
	// PresentPortfolioValue is the discounted value of delta*S_up - payoff_up.
	PresentPortfolioValue float64
	// OptionPrice is delta*S - PresentPortfolioValue. It equals the one-step
	// lattice price.
	OptionPrice float64
	// ExpectedValue is the discounted expected payoff under the physical
	// probability. It generally differs from OptionPrice.
	ExpectedValue float64
}

func replicate(p MarketParameters, m RiskNeutralMeasure) ReplicationResult {
	priceUp := p.InitialPrice * p.UpFactor
	priceDown := p.InitialPrice * p.DownFactor
	payoffUp := Payoff(priceUp, p.StrikePrice, p.Kind)
	payoffDown := Payoff(priceDown, p.StrikePrice, p.Kind)

	delta := (payoffUp - payoffDown) / (priceUp - priceDown)
	portfolio := (delta*priceUp - payoffUp) / m.Growth

	return ReplicationResult{
		PriceUp:               priceUp,
		PriceDown:             priceDown,
		PayoffUp:              payoffUp,
		PayoffDown:            payoffDown,
		Delta:                 delta,
		PresentPortfolioValue: portfolio,
		OptionPrice:           delta*p.InitialPrice - portfolio,
		ExpectedValue:         (p.ProbabilityUp*payoffUp + (1-p.ProbabilityUp)*payoffDown) / m.Growth,
	}
}
