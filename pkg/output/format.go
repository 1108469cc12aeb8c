// Package output provides utilities for formatting and displaying pricing results.
package output

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/iwvelando/binomial-lattice/internal/batch"
	"github.com/iwvelando/binomial-lattice/pkg/binomial"
	"github.com/iwvelando/binomial-lattice/pkg/constants"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// ErrNonFinite is returned when a price cannot be rendered as a decimal.
var ErrNonFinite = errors.New("price is not finite")

// CsvHeader is the header row of the price-vs-steps export.
var CsvHeader = []string{"Step", "OptionPrice", "ElapsedNanos"}

// PrettyPrice writes the lattice, step by step, followed by the price and
// the one-step replication figures.
func PrettyPrice(w io.Writer, params binomial.MarketParameters, result *binomial.PricingResult, repl binomial.ReplicationResult) {
	p := message.NewPrinter(language.English)
	_, _ = p.Fprintf(w, "--- %s option, S=%.2f K=%.2f u=%.4f d=%.4f r=%.4f, %d steps ---\n",
		params.Kind.String(), params.InitialPrice, params.StrikePrice, params.UpFactor, params.DownFactor, params.InterestRate, params.Steps)
	_, _ = p.Fprintf(w, "Risk-neutral probability: %.6f (%s compounding)\n", result.Measure.Q, result.Measure.Compounding.String())

	if lattice := result.Lattice; lattice != nil {
		fmt.Fprintf(w, "Step | Ups | Stock Price | Option Value\n")
		fmt.Fprintf(w, "____ | ___ | ___________ | ____________\n")
		for step := 0; step <= lattice.Steps(); step++ {
			stocks := lattice.StockRow(step)
			values := lattice.OptionRow(step)
			// Highest up count first, matching a tree drawn with up-moves on top.
			for i := step; i >= 0; i-- {
				fmt.Fprintf(w, "%4d | %3d | %11.4f | %12.6f\n", step, i, stocks[i], values[i])
			}
		}
	}

	_, _ = p.Fprintf(w, "Option Price: %.6f\n", result.Price)
	PrettyReplication(w, repl)
}

// PrettyReplication writes the one-step hedge figures.
func PrettyReplication(w io.Writer, repl binomial.ReplicationResult) {
	p := message.NewPrinter(language.English)
	_, _ = p.Fprintf(w, "Delta: %.6f\n", repl.Delta)
	_, _ = p.Fprintf(w, "Present Portfolio Value: %.6f\n", repl.PresentPortfolioValue)
	_, _ = p.Fprintf(w, "Replicated Price (one step): %.6f\n", repl.OptionPrice)
	_, _ = p.Fprintf(w, "Expected Value: %.6f\n", repl.ExpectedValue)
}

// PrettySeries writes the price-vs-steps table and a summary of the run.
func PrettySeries(w io.Writer, report *batch.Report) {
	p := message.NewPrinter(language.English)
	fmt.Fprintf(w, "Steps | Option Price | Elapsed\n")
	fmt.Fprintf(w, "_____ | ____________ | _______\n")
	for _, pt := range report.Points {
		fmt.Fprintf(w, "%5d | %12.6f | %s\n", pt.Steps, pt.Price, pt.Elapsed)
	}
	if last := report.Find(report.AchievedSteps); last != nil {
		_, _ = p.Fprintf(w, "Price at %d steps: %.6f\n", last.Steps, last.Price)
	}
	_, _ = p.Fprintf(w, "Achieved %d steps in %s (stopped: %s)\n", report.AchievedSteps, report.Elapsed.String(), string(report.StopReason))
	if m := report.Memory; m != nil {
		_, _ = p.Fprintf(w, "Allocated %d bytes in %d allocations, heap %d bytes, %d GC cycles\n",
			m.TotalAllocBytes, m.Mallocs, m.HeapAllocBytes, m.NumGC)
	}
}

// CsvSeries writes the series in comma-separated value format.
func CsvSeries(w io.Writer, points []batch.Point) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CsvHeader); err != nil {
		return err
	}
	for _, pt := range points {
		price, err := FormatPrice(pt.Price)
		if err != nil {
			return fmt.Errorf("step %d: %w", pt.Steps, err)
		}
		row := []string{
			strconv.Itoa(pt.Steps),
			price,
			strconv.FormatInt(pt.Elapsed.Nanoseconds(), 10),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// CsvString returns the CSV export as a string.
func CsvString(points []batch.Point) (string, error) {
	var buf bytes.Buffer
	if err := CsvSeries(&buf, points); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// FormatPrice renders a price with the display precision and no grouping.
func FormatPrice(price float64) (string, error) {
	if math.IsNaN(price) || math.IsInf(price, 0) {
		return "", fmt.Errorf("%w: %v", ErrNonFinite, price)
	}
	return decimal.NewFromFloat(price).StringFixed(constants.DisplayPrecision), nil
}
