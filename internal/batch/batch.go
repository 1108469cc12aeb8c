// Package batch prices one contract for an increasing number of lattice
// steps, producing the price-vs-steps series.
package batch

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync/atomic"
	"time"

	"github.com/iwvelando/binomial-lattice/pkg/binomial"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrInvalidRequest is returned when a Request cannot be run.
var ErrInvalidRequest = errors.New("invalid batch request")

// StopReason tells why a run ended.
type StopReason string

const (
	StopCeiling   StopReason = "ceiling"
	StopBudget    StopReason = "budget"
	StopCancelled StopReason = "cancelled"
)

// Request describes a batch run. At least one of MaxSteps and Budget must
// be positive; when both are set the run ends at whichever comes first.
type Request struct {
	Base        binomial.MarketParameters
	MaxSteps    int
	Budget      time.Duration
	Workers     int
	TrackMemory bool
}

// Point is one entry of the series.
type Point struct {
	Steps   int
	Price   float64
	Elapsed time.Duration
}

// MemoryUsage summarizes allocator activity over the run.
type MemoryUsage struct {
	TotalAllocBytes uint64
	Mallocs         uint64
	HeapAllocBytes  uint64
	NumGC           uint32
}

// Report is the result of a run. Points are ordered by step count.
type Report struct {
	Points []Point
	// AchievedSteps is the largest n for which every step count 1..n was priced.
	AchievedSteps int
	Elapsed       time.Duration
	StopReason    StopReason
	Memory        *MemoryUsage
}

// Runner drives the compact pricing mode across step counts.
type Runner struct {
	logger *zap.Logger
	engine *binomial.Engine
}

// NewRunner creates a runner. A nil engine prices with discrete compounding.
func NewRunner(logger *zap.Logger, engine *binomial.Engine) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if engine == nil {
		engine = binomial.NewEngine(logger, binomial.Discrete)
	}
	return &Runner{logger: logger, engine: engine}
}

func (req Request) validate() error {
	if req.MaxSteps < 0 {
		return fmt.Errorf("%w: max steps must not be negative, got %d", ErrInvalidRequest, req.MaxSteps)
	}
	if req.Budget < 0 {
		return fmt.Errorf("%w: budget must not be negative, got %s", ErrInvalidRequest, req.Budget)
	}
	if req.MaxSteps == 0 && req.Budget == 0 {
		return fmt.Errorf("%w: either max steps or budget is required", ErrInvalidRequest)
	}
	if req.Workers < 0 {
		return fmt.Errorf("%w: workers must not be negative, got %d", ErrInvalidRequest, req.Workers)
	}
	return nil
}

// Run prices req.Base with 1, 2, 3, ... steps until the ceiling or budget is
// exhausted or ctx is cancelled. Cancellation is only observed between
// steps, so every reported point is a complete pricing.
func (r *Runner) Run(ctx context.Context, req Request) (*Report, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if _, err := r.engine.Measure(req.Base.WithSteps(1)); err != nil {
		return nil, err
	}

	runCtx := ctx
	cancel := context.CancelFunc(func() {})
	if req.Budget > 0 {
		runCtx, cancel = context.WithTimeout(ctx, req.Budget)
	}
	defer cancel()

	workers := req.Workers
	if workers == 0 {
		workers = 1
	}

	var before runtime.MemStats
	if req.TrackMemory {
		runtime.ReadMemStats(&before)
	}

	start := time.Now()
	var next atomic.Int64
	perWorker := make([][]Point, workers)

	g, gctx := errgroup.WithContext(runCtx)
	for w := 0; w < workers; w++ {
		w := w
		g.Go(func() error {
			for {
				if gctx.Err() != nil {
					return nil
				}
				steps := int(next.Add(1))
				if req.MaxSteps > 0 && steps > req.MaxSteps {
					return nil
				}

				stepStart := time.Now()
				price, err := r.engine.PriceOnly(req.Base.WithSteps(steps))
				if err != nil {
					return fmt.Errorf("failed to price %d steps: %w", steps, err)
				}
				elapsed := time.Since(stepStart)
				perWorker[w] = append(perWorker[w], Point{Steps: steps, Price: price, Elapsed: elapsed})

				r.logger.Debug("priced step count",
					zap.String("op", "batch.Run"),
					zap.Int("worker", w),
					zap.Int("steps", steps),
					zap.Float64("price", price),
					zap.Duration("elapsed", elapsed),
				)
			}
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &Report{
		Points:     mergePoints(perWorker),
		Elapsed:    time.Since(start),
		StopReason: StopCeiling,
	}
	report.AchievedSteps = contiguousSteps(report.Points)
	switch {
	case req.MaxSteps > 0 && report.AchievedSteps == req.MaxSteps:
		// every step up to the ceiling was priced
	case ctx.Err() != nil:
		report.StopReason = StopCancelled
	case runCtx.Err() != nil:
		report.StopReason = StopBudget
	}

	if req.TrackMemory {
		var after runtime.MemStats
		runtime.ReadMemStats(&after)
		report.Memory = &MemoryUsage{
			TotalAllocBytes: after.TotalAlloc - before.TotalAlloc,
			Mallocs:         after.Mallocs - before.Mallocs,
			HeapAllocBytes:  after.HeapAlloc,
			NumGC:           after.NumGC - before.NumGC,
		}
	}

	r.logger.Info("batch run finished",
		zap.String("op", "batch.Run"),
		zap.Int("points", len(report.Points)),
		zap.Int("achievedSteps", report.AchievedSteps),
		zap.String("stopReason", string(report.StopReason)),
		zap.Int("workers", workers),
		zap.Duration("elapsed", report.Elapsed),
	)
	return report, nil
}

func mergePoints(perWorker [][]Point) []Point {
	total := 0
	for _, pts := range perWorker {
		total += len(pts)
	}
	points := make([]Point, 0, total)
	for _, pts := range perWorker {
		points = append(points, pts...)
	}
	sort.Slice(points, func(i, j int) bool {
		return points[i].Steps < points[j].Steps
	})
	return points
}

func contiguousSteps(points []Point) int {
	achieved := 0
	for _, p := range points {
		if p.Steps != achieved+1 {
			break
		}
		achieved = p.Steps
	}
	return achieved
}

// Find returns the point priced with the given step count, or nil.
func (r *Report) Find(steps int) *Point {
	i := sort.Search(len(r.Points), func(i int) bool {
		return r.Points[i].Steps >= steps
	})
	if i < len(r.Points) && r.Points[i].Steps == steps {
		return &r.Points[i]
	}
	return nil
}
