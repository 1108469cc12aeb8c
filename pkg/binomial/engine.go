package binomial

import (
	"fmt"

	"go.uber.org/zap"
)

// Lattice is the full tree of stock and option values, indexed by
// [step][upCount]. Row s holds s+1 nodes. It is read-only once built.
type Lattice struct {
	stockPrices  [][]float64
	optionValues [][]float64
}

// Steps returns the number of steps n; the lattice has n+1 rows.
func (l *Lattice) Steps() int {
	return len(l.stockPrices) - 1
}

// Node returns the stock price and option value after upCount up-moves
// within the given step.
func (l *Lattice) Node(step, upCount int) (stockPrice, optionValue float64, err error) {
	if step < 0 || step >= len(l.stockPrices) {
		return 0, 0, fmt.Errorf("step %d out of range [0,%d]", step, l.Steps())
	}
	if upCount < 0 || upCount > step {
		return 0, 0, fmt.Errorf("up count %d out of range [0,%d] for step %d", upCount, step, step)
	}
	return l.stockPrices[step][upCount], l.optionValues[step][upCount], nil
}

// StockRow returns a copy of the stock prices at the given step.
func (l *Lattice) StockRow(step int) []float64 {
	if step < 0 || step >= len(l.stockPrices) {
		return nil
	}
	return append([]float64(nil), l.stockPrices[step]...)
}

// OptionRow returns a copy of the option values at the given step.
func (l *Lattice) OptionRow(step int) []float64 {
	if step < 0 || step >= len(l.optionValues) {
		return nil
	}
	return append([]float64(nil), l.optionValues[step]...)
}

// PricingResult is the outcome of a pricing call. Lattice is nil for
// compact pricing.
type PricingResult struct {
	Price   float64
	Measure RiskNeutralMeasure
	Lattice *Lattice
}

// Engine prices options under a single compounding convention. An Engine
// holds no per-call state and is safe for concurrent use.
type Engine struct {
	logger      *zap.Logger
	compounding Compounding
}

// NewEngine creates an engine. If logger is nil a no-op logger is used.
func NewEngine(logger *zap.Logger, compounding Compounding) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{logger: logger, compounding: compounding}
}

// Compounding reports the convention the engine prices with.
func (e *Engine) Compounding() Compounding {
	return e.compounding
}

// Measure validates params and derives the risk-neutral measure.
func (e *Engine) Measure(params MarketParameters) (RiskNeutralMeasure, error) {
	return params.measure(e.compounding)
}

// PriceFull runs backward induction keeping every step, O(n^2) memory.
func (e *Engine) PriceFull(params MarketParameters) (*PricingResult, error) {
	m, err := e.Measure(params)
	if err != nil {
		return nil, err
	}

	n := params.Steps
	nodes := newNodePricer(params.InitialPrice, params.UpFactor, params.DownFactor, n)
	in := newInduction(params, m)

	lattice := &Lattice{
		stockPrices:  make([][]float64, n+1),
		optionValues: make([][]float64, n+1),
	}
	var next []float64
	for step := n; step >= 0; step-- {
		stock := make([]float64, step+1)
		option := make([]float64, step+1)
		carried := make([]float64, step+1)
		for i := 0; i <= step; i++ {
			stock[i] = nodes.price(i, step-i)
			if step == n {
				carried[i] = in.terminal(stock[i])
			} else {
				carried[i] = in.rollback(next[i+1], next[i])
			}
			option[i] = in.value(stock[i], carried[i])
		}
		lattice.stockPrices[step] = stock
		lattice.optionValues[step] = option
		next = carried
	}

	price := lattice.optionValues[0][0]
	e.logger.Debug("priced full lattice",
		zap.String("op", "binomial.PriceFull"),
		zap.Int("steps", n),
		zap.Float64("q", m.Q),
		zap.Float64("price", price),
	)
	return &PricingResult{Price: price, Measure: m, Lattice: lattice}, nil
}

// PriceOnly runs backward induction in a single reusable array, O(n) memory.
// It returns the same root price as PriceFull.
func (e *Engine) PriceOnly(params MarketParameters) (float64, error) {
	m, err := e.Measure(params)
	if err != nil {
		return 0, err
	}

	n := params.Steps
	nodes := newNodePricer(params.InitialPrice, params.UpFactor, params.DownFactor, n)
	in := newInduction(params, m)

	values := make([]float64, n+1)
	for i := 0; i <= n; i++ {
		values[i] = in.terminal(nodes.price(i, n-i))
	}

	// values[i+1] is still the step+1 value when values[i] is overwritten,
	// since i ascends and slots above step are never written again.
	for step := n - 1; step >= 0; step-- {
		for i := 0; i <= step; i++ {
			values[i] = in.rollback(values[i+1], values[i])
		}
	}
	return in.value(nodes.price(0, 0), values[0]), nil
}

// induction carries option values through backward induction. Calls are
// carried per unit of stock so that upper nodes whose stock price exceeds
// the float64 range cannot turn the root into +Inf. Puts are bounded by the
// strike and are carried as plain values.
type induction struct {
	kind    OptionKind
	strike  float64
	measure RiskNeutralMeasure
}

func newInduction(params MarketParameters, m RiskNeutralMeasure) induction {
	return induction{kind: params.Kind, strike: params.StrikePrice, measure: m}
}

func (in induction) terminal(stockPrice float64) float64 {
	if in.kind == Call {
		return callRatio(stockPrice, in.strike)
	}
	return Payoff(stockPrice, in.strike, in.kind)
}

func (in induction) rollback(upValue, downValue float64) float64 {
	if in.kind == Call {
		return in.measure.StockRollback(upValue, downValue)
	}
	return in.measure.Rollback(upValue, downValue)
}

// value converts a carried value back into an option value at a node.
func (in induction) value(stockPrice, carried float64) float64 {
	if in.kind != Call || carried == 0 {
		return carried
	}
	return stockPrice * carried
}

// Replicate computes the one-period hedge over [0,1] from the raw factors,
// ignoring params.Steps.
func (e *Engine) Replicate(params MarketParameters) (ReplicationResult, error) {
	m, err := e.Measure(params)
	if err != nil {
		return ReplicationResult{}, err
	}
	return replicate(params, m), nil
}

var defaultEngine = NewEngine(nil, Discrete)

// PriceFull prices with discrete compounding and returns the whole lattice.
func PriceFull(params MarketParameters) (*PricingResult, error) {
	return defaultEngine.PriceFull(params)
}

// PriceOnly prices with discrete compounding and returns only the root price.
func PriceOnly(params MarketParameters) (float64, error) {
	return defaultEngine.PriceOnly(params)
}

// Replicate computes the one-step replication with discrete compounding.
func Replicate(params MarketParameters) (ReplicationResult, error) {
	return defaultEngine.Replicate(params)
}
