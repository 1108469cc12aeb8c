package binomial

import (
	"errors"
	"math"
	"testing"
)

const tolerance = 1e-6

func referenceParams(t *testing.T, kind OptionKind, steps int) MarketParameters {
	t.Helper()
	params, err := NewMarketParameters(100, 100, 0.5, 1.1, 0.9, 0.05, kind, steps)
	if err != nil {
		t.Fatalf("NewMarketParameters() error = %v", err)
	}
	return params
}

func TestRiskNeutralMeasure(t *testing.T) {
	m, err := NewRiskNeutralMeasure(1.1, 0.9, 0.05, Discrete)
	if err != nil {
		t.Fatalf("NewRiskNeutralMeasure() error = %v", err)
	}
	if math.Abs(m.Q-0.75) > tolerance {
		t.Errorf("Q = %v, expected 0.75", m.Q)
	}
	if math.Abs(m.Discount-1/1.05) > tolerance {
		t.Errorf("Discount = %v, expected %v", m.Discount, 1/1.05)
	}

	c, err := NewRiskNeutralMeasure(1.1, 0.9, 0.05, Continuous)
	if err != nil {
		t.Fatalf("NewRiskNeutralMeasure(Continuous) error = %v", err)
	}
	expectedQ := (math.Exp(0.05) - 0.9) / 0.2
	if math.Abs(c.Q-expectedQ) > tolerance {
		t.Errorf("continuous Q = %v, expected %v", c.Q, expectedQ)
	}
	if math.Abs(c.Discount-math.Exp(-0.05)) > tolerance {
		t.Errorf("continuous Discount = %v, expected %v", c.Discount, math.Exp(-0.05))
	}
}

func TestRiskNeutralMeasureRejectsArbitrage(t *testing.T) {
	tests := []struct {
		name string
		up   float64
		down float64
		rate float64
	}{
		{"q above one", 1.05, 1.0, 0.10},
		{"q below zero", 1.2, 1.1, 0.0},
		{"up equals down", 1.0, 1.0, 0.0},
		{"up below down", 0.9, 1.1, 0.0},
		{"NaN rate", 1.1, 0.9, math.NaN()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRiskNeutralMeasure(tt.up, tt.down, tt.rate, Discrete)
			if !errors.Is(err, ErrInvalidModelParameters) {
				t.Errorf("NewRiskNeutralMeasure(%v, %v, %v) error = %v, expected ErrInvalidModelParameters", tt.up, tt.down, tt.rate, err)
			}
		})
	}
}

func TestNewMarketParametersRejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name  string
		s, k  float64
		p     float64
		u, d  float64
		r     float64
		kind  OptionKind
		steps int
	}{
		{"probability above one", 100, 100, 1.5, 1.1, 0.9, 0.05, Call, 3},
		{"negative probability", 100, 100, -0.1, 1.1, 0.9, 0.05, Call, 3},
		{"up below down", 100, 100, 0.5, 0.9, 1.1, 0.05, Call, 3},
		{"zero steps", 100, 100, 0.5, 1.1, 0.9, 0.05, Call, 0},
		{"negative steps", 100, 100, 0.5, 1.1, 0.9, 0.05, Put, -2},
		{"risk-neutral probability above one", 100, 100, 0.5, 1.05, 1.0, 0.10, Call, 3},
		{"zero initial price", 0, 100, 0.5, 1.1, 0.9, 0.05, Call, 3},
		{"negative strike", 100, -5, 0.5, 1.1, 0.9, 0.05, Call, 3},
		{"zero down factor", 100, 100, 0.5, 1.1, 0, 0.05, Call, 3},
		{"rate at minus one", 100, 100, 0.5, 1.1, 0.9, -1, Call, 3},
		{"unknown kind", 100, 100, 0.5, 1.1, 0.9, 0.05, OptionKind(7), 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params, err := NewMarketParameters(tt.s, tt.k, tt.p, tt.u, tt.d, tt.r, tt.kind, tt.steps)
			if !errors.Is(err, ErrInvalidModelParameters) {
				t.Fatalf("NewMarketParameters() error = %v, expected ErrInvalidModelParameters", err)
			}
			if params != (MarketParameters{}) {
				t.Errorf("expected zero parameters on error, got %+v", params)
			}
		})
	}
}

func TestEngineRejectsBeforeAllocating(t *testing.T) {
	params := MarketParameters{
		InitialPrice:  100,
		StrikePrice:   100,
		ProbabilityUp: 0.5,
		UpFactor:      1.05,
		DownFactor:    1.0,
		InterestRate:  0.10,
		Kind:          Call,
		Steps:         4,
	}

	result, err := PriceFull(params)
	if !errors.Is(err, ErrInvalidModelParameters) {
		t.Fatalf("PriceFull() error = %v, expected ErrInvalidModelParameters", err)
	}
	if result != nil {
		t.Errorf("PriceFull() returned a lattice alongside an error")
	}
	if _, err := PriceOnly(params); !errors.Is(err, ErrInvalidModelParameters) {
		t.Errorf("PriceOnly() error = %v, expected ErrInvalidModelParameters", err)
	}
	if _, err := Replicate(params); !errors.Is(err, ErrInvalidModelParameters) {
		t.Errorf("Replicate() error = %v, expected ErrInvalidModelParameters", err)
	}
}

func TestPriceOneStepScenario(t *testing.T) {
	params := referenceParams(t, Call, 1)

	result, err := PriceFull(params)
	if err != nil {
		t.Fatalf("PriceFull() error = %v", err)
	}
	if math.Abs(result.Price-7.142857) > tolerance {
		t.Errorf("PriceFull() = %v, expected 7.142857", result.Price)
	}
	if math.Abs(result.Measure.Q-0.75) > tolerance {
		t.Errorf("Measure.Q = %v, expected 0.75", result.Measure.Q)
	}

	terminal := result.Lattice.StockRow(1)
	if math.Abs(terminal[0]-90) > tolerance || math.Abs(terminal[1]-110) > tolerance {
		t.Errorf("terminal stock row = %v, expected [90 110]", terminal)
	}
	payoffs := result.Lattice.OptionRow(1)
	if math.Abs(payoffs[0]) > tolerance || math.Abs(payoffs[1]-10) > tolerance {
		t.Errorf("terminal payoffs = %v, expected [0 10]", payoffs)
	}
}

func TestPriceTwoStepScenario(t *testing.T) {
	params := referenceParams(t, Call, 2)

	result, err := PriceFull(params)
	if err != nil {
		t.Fatalf("PriceFull() error = %v", err)
	}

	expectedStock := []float64{81, 99, 121}
	expectedPayoff := []float64{0, 0, 21}
	for i := range expectedStock {
		stock, value, err := result.Lattice.Node(2, i)
		if err != nil {
			t.Fatalf("Node(2, %d) error = %v", i, err)
		}
		if math.Abs(stock-expectedStock[i]) > tolerance {
			t.Errorf("stock(2,%d) = %v, expected %v", i, stock, expectedStock[i])
		}
		if math.Abs(value-expectedPayoff[i]) > tolerance {
			t.Errorf("option(2,%d) = %v, expected %v", i, value, expectedPayoff[i])
		}
	}

	stepOne := result.Lattice.OptionRow(1)
	if math.Abs(stepOne[0]) > tolerance || math.Abs(stepOne[1]-15) > tolerance {
		t.Errorf("step 1 option values = %v, expected [0 15]", stepOne)
	}
	if math.Abs(result.Price-10.714286) > tolerance {
		t.Errorf("PriceFull() = %v, expected 10.714286", result.Price)
	}
}

func TestModeEquivalence(t *testing.T) {
	tests := []struct {
		name   string
		params MarketParameters
	}{
		{"call 1 step", MarketParameters{100, 100, 0.5, 1.1, 0.9, 0.05, Call, 1}},
		{"put 7 steps", MarketParameters{100, 105, 0.4, 1.1, 0.9, 0.05, Put, 7}},
		{"call 50 steps", MarketParameters{50, 45, 0.6, 1.02, 0.98, 0.001, Call, 50}},
		{"put 250 steps", MarketParameters{120, 100, 0.5, 1.01, 0.99, 0.0005, Put, 250}},
		{"deep out of the money call", MarketParameters{10, 500, 0.5, 1.2, 0.8, 0.01, Call, 12}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			full, err := PriceFull(tt.params)
			if err != nil {
				t.Fatalf("PriceFull() error = %v", err)
			}
			compact, err := PriceOnly(tt.params)
			if err != nil {
				t.Fatalf("PriceOnly() error = %v", err)
			}
			if full.Price != compact {
				t.Errorf("PriceFull() = %v, PriceOnly() = %v, expected identical roots", full.Price, compact)
			}
		})
	}
}

func TestLatticeShapeAndNonNegativity(t *testing.T) {
	for _, kind := range []OptionKind{Call, Put} {
		params := referenceParams(t, kind, 30)
		result, err := PriceFull(params)
		if err != nil {
			t.Fatalf("PriceFull(%s) error = %v", kind, err)
		}
		lattice := result.Lattice
		if lattice.Steps() != 30 {
			t.Fatalf("Steps() = %d, expected 30", lattice.Steps())
		}
		for step := 0; step <= lattice.Steps(); step++ {
			stocks := lattice.StockRow(step)
			values := lattice.OptionRow(step)
			if len(stocks) != step+1 || len(values) != step+1 {
				t.Fatalf("row %d has %d stock and %d option nodes, expected %d", step, len(stocks), len(values), step+1)
			}
			for i, v := range values {
				if v < 0 {
					t.Errorf("%s option(%d,%d) = %v, expected non-negative", kind, step, i, v)
				}
			}
		}
	}
}

func TestLatticeRowsAreCopies(t *testing.T) {
	result, err := PriceFull(referenceParams(t, Call, 3))
	if err != nil {
		t.Fatalf("PriceFull() error = %v", err)
	}
	row := result.Lattice.OptionRow(0)
	row[0] = -1
	_, value, err := result.Lattice.Node(0, 0)
	if err != nil {
		t.Fatalf("Node() error = %v", err)
	}
	if value != result.Price {
		t.Errorf("mutating a returned row changed the lattice: root = %v, price = %v", value, result.Price)
	}
	if _, _, err := result.Lattice.Node(2, 3); err == nil {
		t.Errorf("Node(2, 3) expected out of range error")
	}
	if result.Lattice.StockRow(9) != nil {
		t.Errorf("StockRow(9) expected nil for missing step")
	}
}

func TestPutCallParity(t *testing.T) {
	for _, steps := range []int{1, 2, 5, 20, 100} {
		call, err := PriceOnly(referenceParams(t, Call, steps))
		if err != nil {
			t.Fatalf("PriceOnly(call) error = %v", err)
		}
		put, err := PriceOnly(referenceParams(t, Put, steps))
		if err != nil {
			t.Fatalf("PriceOnly(put) error = %v", err)
		}
		expected := 100 - 100/math.Pow(1.05, float64(steps))
		if math.Abs((call-put)-expected) > 1e-8 {
			t.Errorf("steps=%d: call-put = %v, expected %v", steps, call-put, expected)
		}
	}
}

func TestStrikeMonotonicity(t *testing.T) {
	var prevCall, prevPut float64
	for i, strike := range []float64{60, 80, 95, 100, 105, 120, 150} {
		params := referenceParams(t, Call, 10)
		params.StrikePrice = strike
		call, err := PriceOnly(params)
		if err != nil {
			t.Fatalf("PriceOnly(call, K=%v) error = %v", strike, err)
		}
		params.Kind = Put
		put, err := PriceOnly(params)
		if err != nil {
			t.Fatalf("PriceOnly(put, K=%v) error = %v", strike, err)
		}
		if i > 0 {
			if call > prevCall {
				t.Errorf("call price rose from %v to %v at K=%v", prevCall, call, strike)
			}
			if put < prevPut {
				t.Errorf("put price fell from %v to %v at K=%v", prevPut, put, strike)
			}
		}
		prevCall, prevPut = call, put
	}
}

func TestContinuousCompoundingEngine(t *testing.T) {
	engine := NewEngine(nil, Continuous)
	params := referenceParams(t, Call, 2)

	full, err := engine.PriceFull(params)
	if err != nil {
		t.Fatalf("PriceFull() error = %v", err)
	}
	compact, err := engine.PriceOnly(params)
	if err != nil {
		t.Fatalf("PriceOnly() error = %v", err)
	}
	if full.Price != compact {
		t.Errorf("continuous PriceFull() = %v, PriceOnly() = %v", full.Price, compact)
	}

	q := (math.Exp(0.05) - 0.9) / 0.2
	expected := q * q * 21 * math.Exp(-0.1)
	if math.Abs(compact-expected) > tolerance {
		t.Errorf("continuous price = %v, expected %v", compact, expected)
	}

	// Continuous growth e^r moves the no-arbitrage bound above 1+r.
	edge := MarketParameters{100, 100, 0.5, 1.051, 0.9, 0.05, Call, 2}
	if _, err := PriceOnly(edge); err != nil {
		t.Fatalf("discrete PriceOnly() error = %v", err)
	}
	if _, err := engine.PriceOnly(edge); !errors.Is(err, ErrInvalidModelParameters) {
		t.Errorf("continuous PriceOnly() error = %v, expected ErrInvalidModelParameters", err)
	}
}

func TestPriceStaysFiniteAtExtremeSteps(t *testing.T) {
	tests := []struct {
		name   string
		params MarketParameters
		full   bool
	}{
		// 100*2^1100 is beyond the float64 range.
		{"wide factors", MarketParameters{100, 100, 0.5, 2, 0.5, 0.05, Call, 1100}, true},
		// 1.1^7500 overflows while 0.9^7500 underflows.
		{"deep lattice", MarketParameters{100, 100, 0.5, 1.1, 0.9, 0.05, Call, 7500}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			call, err := PriceOnly(tt.params)
			if err != nil {
				t.Fatalf("PriceOnly(call) error = %v", err)
			}
			if math.IsNaN(call) || math.IsInf(call, 0) || call <= 0 || call > tt.params.InitialPrice*(1+1e-9) {
				t.Errorf("call price = %v, expected finite and within (0, %v]", call, tt.params.InitialPrice)
			}

			put := tt.params
			put.Kind = Put
			putPrice, err := PriceOnly(put)
			if err != nil {
				t.Fatalf("PriceOnly(put) error = %v", err)
			}
			if math.IsNaN(putPrice) || putPrice < 0 || putPrice > tt.params.StrikePrice {
				t.Errorf("put price = %v, expected within [0, %v]", putPrice, tt.params.StrikePrice)
			}

			if tt.full {
				result, err := PriceFull(tt.params)
				if err != nil {
					t.Fatalf("PriceFull() error = %v", err)
				}
				if result.Price != call {
					t.Errorf("PriceFull() = %v, PriceOnly() = %v, expected identical roots", result.Price, call)
				}
			}
		})
	}
}

func TestNodePricerAvoidsIntermediateOverflow(t *testing.T) {
	nodes := newNodePricer(100, 2, 0.5, 1100)

	// 2^1050 and 0.5^1050 are out of range on their own; the product is one.
	if got := nodes.price(1050, 1050); math.Abs(got-100) > 1e-6 {
		t.Errorf("price(1050, 1050) = %v, expected 100", got)
	}
	if got := nodes.price(2, 1); got != 200 {
		t.Errorf("price(2, 1) = %v, expected 200", got)
	}
	if got := nodes.price(1100, 0); !math.IsInf(got, 1) {
		t.Errorf("price(1100, 0) = %v, expected +Inf", got)
	}
	if got := nodes.price(0, 1100); got != 0 {
		t.Errorf("price(0, 1100) = %v, expected 0", got)
	}
}

func TestStockRollbackMatchesDiscountedRollback(t *testing.T) {
	m, err := NewRiskNeutralMeasure(1.1, 0.9, 0.05, Discrete)
	if err != nil {
		t.Fatalf("NewRiskNeutralMeasure() error = %v", err)
	}
	// Node at S=110 with successors 121 (value 21) and 99 (value 0).
	ratio := m.StockRollback(21.0/121, 0)
	if got := 110 * ratio; math.Abs(got-m.Rollback(21, 0)) > 1e-12 {
		t.Errorf("stock-numeraire value = %v, expected %v", got, m.Rollback(21, 0))
	}
	if got := m.StockRollback(1, 1); math.Abs(got-1) > 1e-15 {
		t.Errorf("StockRollback(1, 1) = %v, expected weights summing to one", got)
	}
}

func TestPowerTable(t *testing.T) {
	table := NewPowerTable(1.1, 4)
	if len(table) != 5 {
		t.Fatalf("len(NewPowerTable(1.1, 4)) = %d, expected 5", len(table))
	}
	for i, v := range table {
		if math.Abs(v-math.Pow(1.1, float64(i))) > 1e-12 {
			t.Errorf("table[%d] = %v, expected %v", i, v, math.Pow(1.1, float64(i)))
		}
	}
	if empty := NewPowerTable(2, -1); len(empty) != 1 || empty[0] != 1 {
		t.Errorf("NewPowerTable(2, -1) = %v, expected [1]", empty)
	}
}

func TestPayoff(t *testing.T) {
	tests := []struct {
		name     string
		stock    float64
		strike   float64
		kind     OptionKind
		expected float64
	}{
		{"call in the money", 121, 100, Call, 21},
		{"call out of the money", 81, 100, Call, 0},
		{"call at the money", 100, 100, Call, 0},
		{"put in the money", 81, 100, Put, 19},
		{"put out of the money", 121, 100, Put, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Payoff(tt.stock, tt.strike, tt.kind); math.Abs(got-tt.expected) > tolerance {
				t.Errorf("Payoff(%v, %v, %s) = %v, expected %v", tt.stock, tt.strike, tt.kind, got, tt.expected)
			}
		})
	}
}

func TestParseOptionKind(t *testing.T) {
	tests := map[string]OptionKind{"call": Call, "CALL": Call, " put ": Put, "p": Put}
	for input, expected := range tests {
		got, err := ParseOptionKind(input)
		if err != nil {
			t.Fatalf("ParseOptionKind(%q) error = %v", input, err)
		}
		if got != expected {
			t.Errorf("ParseOptionKind(%q) = %s, expected %s", input, got, expected)
		}
	}
	if _, err := ParseOptionKind("straddle"); err == nil {
		t.Error("expected error for unknown option kind")
	}
	if _, err := ParseCompounding("annual"); err == nil {
		t.Error("expected error for unknown compounding")
	}
}

func BenchmarkPriceFull(b *testing.B) {
	params := MarketParameters{100, 100, 0.5, 1.01, 0.99, 0.001, Call, 500}
	for i := 0; i < b.N; i++ {
		if _, err := PriceFull(params); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkPriceOnly(b *testing.B) {
	params := MarketParameters{100, 100, 0.5, 1.01, 0.99, 0.001, Call, 500}
	for i := 0; i < b.N; i++ {
		if _, err := PriceOnly(params); err != nil {
			b.Fatal(err)
		}
	}
}
