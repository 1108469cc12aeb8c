package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/iwvelando/binomial-lattice/internal/batch"
	"github.com/iwvelando/binomial-lattice/internal/config"
	"github.com/iwvelando/binomial-lattice/pkg/binomial"
	"github.com/iwvelando/binomial-lattice/pkg/constants"
	"github.com/iwvelando/binomial-lattice/pkg/mathutil"
	"github.com/iwvelando/binomial-lattice/pkg/output"
	"github.com/iwvelando/binomial-lattice/pkg/validation"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type handler struct {
	logger  *zap.Logger
	cfg     *Config
	version string
}

// NewHandler constructs the HTTP handler that serves the pricing API.
func NewHandler(logger *zap.Logger, cfg *Config, version string) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}

	trimmedVersion := strings.TrimSpace(version)
	if trimmedVersion == "" {
		trimmedVersion = "dev"
	}

	h := &handler{logger: logger, cfg: cfg, version: trimmedVersion}

	mux := http.NewServeMux()

	// Single contract, full lattice or root price only
	mux.HandleFunc("/api/price", h.handlePrice)

	// One-period replicating portfolio
	mux.HandleFunc("/api/replicate", h.handleReplicate)

	// Price-vs-steps series
	mux.HandleFunc("/api/batch", h.handleBatch)

	// YAML run configuration upload
	mux.HandleFunc("/api/config", h.handleConfigUpload)

	mux.HandleFunc("/api/version", h.handleVersion)

	return mux
}

type marketPayload struct {
	InitialPrice  float64 `json:"initialPrice"`
	StrikePrice   float64 `json:"strikePrice"`
	ProbabilityUp float64 `json:"probabilityUp"`
	UpFactor      float64 `json:"upFactor"`
	DownFactor    float64 `json:"downFactor"`
	InterestRate  float64 `json:"interestRate"`
	OptionKind    string  `json:"optionKind"`
	Steps         int     `json:"steps"`
	Compounding   string  `json:"compounding,omitempty"`
}

type priceRequest struct {
	marketPayload
	Mode string `json:"mode,omitempty"`
}

type batchRequest struct {
	marketPayload
	MaxSteps    int    `json:"maxSteps"`
	Duration    string `json:"duration,omitempty"`
	Workers     int    `json:"workers,omitempty"`
	TrackMemory bool   `json:"trackMemory,omitempty"`
}

type measurePayload struct {
	Q           float64 `json:"q"`
	Growth      float64 `json:"growth"`
	Discount    float64 `json:"discount"`
	Compounding string  `json:"compounding"`
}

type latticePayload struct {
	StockPrices  [][]float64 `json:"stockPrices"`
	OptionValues [][]float64 `json:"optionValues"`
}

type replicationPayload struct {
	PriceUp               float64 `json:"priceUp"`
	PriceDown             float64 `json:"priceDown"`
	PayoffUp              float64 `json:"payoffUp"`
	PayoffDown            float64 `json:"payoffDown"`
	Delta                 float64 `json:"delta"`
	PresentPortfolioValue float64 `json:"presentPortfolioValue"`
	OptionPrice           float64 `json:"optionPrice"`
	ExpectedValue         float64 `json:"expectedValue"`
}

type priceResponse struct {
	Price       float64                `json:"price"`
	PriceText   string                 `json:"priceText"`
	Mode        string                 `json:"mode"`
	Steps       int                    `json:"steps"`
	Measure     measurePayload         `json:"measure"`
	Lattice     *latticePayload        `json:"lattice,omitempty"`
	Replication replicationPayload     `json:"replication"`
	Consistent  bool                   `json:"replicationConsistent"`
	Warnings    []string               `json:"warnings,omitempty"`
	Duration    string                 `json:"duration"`
	Config      map[string]interface{} `json:"config,omitempty"`
	ConfigYAML  string                 `json:"configYaml,omitempty"`
}

type pointPayload struct {
	Steps        int     `json:"steps"`
	Price        float64 `json:"price"`
	ElapsedNanos int64   `json:"elapsedNanos"`
}

type memoryPayload struct {
	TotalAllocBytes uint64 `json:"totalAllocBytes"`
	Mallocs         uint64 `json:"mallocs"`
	HeapAllocBytes  uint64 `json:"heapAllocBytes"`
	NumGC           uint32 `json:"numGC"`
}

type batchResponse struct {
	Points        []pointPayload `json:"points"`
	AchievedSteps int            `json:"achievedSteps"`
	StopReason    string         `json:"stopReason"`
	Memory        *memoryPayload `json:"memory,omitempty"`
	CSV           string         `json:"csv"`
	Duration      string         `json:"duration"`
}

func (h *handler) handlePrice(w http.ResponseWriter, r *http.Request) {
	const op = "server.handlePrice"
	if r.Method != http.MethodPost {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	start := time.Now()
	var req priceRequest
	if !h.decodeJSON(w, r, &req, op) {
		return
	}
	if err := validation.ValidateLatticeMode(req.Mode); err != nil {
		h.respondErrorWithOp(w, http.StatusBadRequest, err.Error(), op)
		return
	}

	params, engine, err := req.parameters(h.logger)
	if err != nil {
		h.respondErrorWithOp(w, http.StatusBadRequest, err.Error(), op)
		return
	}

	resp, err := h.price(engine, params, req.Mode)
	if err != nil {
		h.respondErrorWithOp(w, statusFor(err), err.Error(), op)
		return
	}
	resp.Duration = time.Since(start).String()

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *handler) handleReplicate(w http.ResponseWriter, r *http.Request) {
	const op = "server.handleReplicate"
	if r.Method != http.MethodPost {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	var req marketPayload
	if !h.decodeJSON(w, r, &req, op) {
		return
	}
	params, engine, err := req.parameters(h.logger)
	if err != nil {
		h.respondErrorWithOp(w, http.StatusBadRequest, err.Error(), op)
		return
	}

	repl, err := engine.Replicate(params)
	if err != nil {
		h.respondErrorWithOp(w, statusFor(err), err.Error(), op)
		return
	}

	h.writeJSON(w, http.StatusOK, toReplicationPayload(repl))
}

func (h *handler) handleBatch(w http.ResponseWriter, r *http.Request) {
	const op = "server.handleBatch"
	if r.Method != http.MethodPost {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	start := time.Now()
	var req batchRequest
	if !h.decodeJSON(w, r, &req, op) {
		return
	}
	params, engine, err := req.parameters(h.logger)
	if err != nil {
		h.respondErrorWithOp(w, http.StatusBadRequest, err.Error(), op)
		return
	}

	batchReq, err := h.boundedBatchRequest(req, params)
	if err != nil {
		h.respondErrorWithOp(w, http.StatusBadRequest, err.Error(), op)
		return
	}

	report, err := batch.NewRunner(h.logger, engine).Run(r.Context(), batchReq)
	if err != nil {
		h.respondErrorWithOp(w, statusFor(err), err.Error(), op)
		return
	}

	resp := batchResponse{
		Points:        make([]pointPayload, 0, len(report.Points)),
		AchievedSteps: report.AchievedSteps,
		StopReason:    string(report.StopReason),
		Duration:      time.Since(start).String(),
	}
	csvText, err := output.CsvString(report.Points)
	if err != nil {
		h.respondErrorWithOp(w, statusFor(err), err.Error(), op)
		return
	}
	resp.CSV = csvText
	for _, pt := range report.Points {
		resp.Points = append(resp.Points, pointPayload{
			Steps:        pt.Steps,
			Price:        pt.Price,
			ElapsedNanos: pt.Elapsed.Nanoseconds(),
		})
	}
	if m := report.Memory; m != nil {
		resp.Memory = &memoryPayload{
			TotalAllocBytes: m.TotalAllocBytes,
			Mallocs:         m.Mallocs,
			HeapAllocBytes:  m.HeapAllocBytes,
			NumGC:           m.NumGC,
		}
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// boundedBatchRequest applies the server limits. Every batch run has both a
// step ceiling and a wall-clock budget.
func (h *handler) boundedBatchRequest(req batchRequest, params binomial.MarketParameters) (batch.Request, error) {
	if req.MaxSteps > h.cfg.MaxBatchSteps {
		return batch.Request{}, fmt.Errorf("maxSteps %d exceeds limit of %d", req.MaxSteps, h.cfg.MaxBatchSteps)
	}
	if req.MaxSteps < 0 {
		return batch.Request{}, fmt.Errorf("maxSteps must not be negative, got %d", req.MaxSteps)
	}
	maxSteps := req.MaxSteps
	if maxSteps == 0 {
		maxSteps = h.cfg.MaxBatchSteps
	}

	limit := h.cfg.BatchTimeoutDuration()
	budget := limit
	if d := strings.TrimSpace(req.Duration); d != "" {
		parsed, err := time.ParseDuration(d)
		if err != nil {
			return batch.Request{}, fmt.Errorf("invalid duration %q: %w", req.Duration, err)
		}
		if parsed <= 0 {
			return batch.Request{}, fmt.Errorf("duration must be positive, got %s", req.Duration)
		}
		if parsed < limit {
			budget = parsed
		}
	}

	if req.Workers < 0 {
		return batch.Request{}, fmt.Errorf("workers must not be negative, got %d", req.Workers)
	}
	workers := req.Workers
	if maxWorkers := runtime.GOMAXPROCS(0); workers > maxWorkers {
		workers = maxWorkers
	}

	return batch.Request{
		Base:        params,
		MaxSteps:    maxSteps,
		Budget:      budget,
		Workers:     workers,
		TrackMemory: req.TrackMemory,
	}, nil
}

func (h *handler) handleConfigUpload(w http.ResponseWriter, r *http.Request) {
	const op = "server.handleConfigUpload"
	if r.Method != http.MethodPost {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	start := time.Now()
	maxBytes := h.cfg.BodySizeBytes()
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			h.respondErrorWithOp(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("upload exceeds limit of %d bytes", maxBytes), op)
			return
		}
		h.respondErrorWithOp(w, http.StatusBadRequest, fmt.Sprintf("failed to parse upload: %v", err), op)
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		h.respondErrorWithOp(w, http.StatusBadRequest, "missing configuration file", op)
		return
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			h.logger.Warn("failed to close uploaded file",
				zap.String("op", op),
				zap.Error(closeErr),
			)
		}
	}()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, file); err != nil {
		h.respondErrorWithOp(w, http.StatusInternalServerError, fmt.Sprintf("failed to read configuration: %v", err), op)
		return
	}

	configBytes := buf.Bytes()
	configMap, err := decodeYAMLToMap(configBytes)
	if err != nil {
		h.respondErrorWithOp(w, http.StatusBadRequest, fmt.Sprintf("error reading config data, %v", err), op)
		return
	}

	conf, err := config.LoadConfigurationFromReader(bytes.NewReader(configBytes))
	if err != nil {
		h.respondErrorWithOp(w, http.StatusBadRequest, err.Error(), op)
		return
	}
	params, err := conf.MarketParameters()
	if err != nil {
		h.respondErrorWithOp(w, http.StatusBadRequest, err.Error(), op)
		return
	}
	engine, err := conf.Engine(h.logger)
	if err != nil {
		h.respondErrorWithOp(w, http.StatusBadRequest, err.Error(), op)
		return
	}

	mode := constants.LatticeModeFull
	warnings := conf.ValidateConfiguration()
	if params.Steps > h.cfg.MaxLatticeSteps {
		mode = constants.LatticeModeCompact
		warnings = append(warnings, fmt.Sprintf("steps %d exceeds lattice limit of %d; returning the price only",
			params.Steps, h.cfg.MaxLatticeSteps))
	}

	resp, err := h.price(engine, params, mode)
	if err != nil {
		h.respondErrorWithOp(w, statusFor(err), err.Error(), op)
		return
	}
	resp.Warnings = append(resp.Warnings, warnings...)
	resp.Config = configMap
	if encoded, err := yaml.Marshal(configMap); err == nil && len(configMap) > 0 {
		resp.ConfigYAML = string(encoded)
	}
	resp.Duration = time.Since(start).String()

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *handler) handleVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{
		"version": h.version,
	})
}

// price runs one contract in the requested lattice mode and attaches the
// one-step replication figures.
func (h *handler) price(engine *binomial.Engine, params binomial.MarketParameters, mode string) (priceResponse, error) {
	if mode == "" {
		mode = constants.LatticeModeFull
	}

	resp := priceResponse{Mode: mode, Steps: params.Steps}
	switch mode {
	case constants.LatticeModeFull:
		if params.Steps > h.cfg.MaxLatticeSteps {
			return priceResponse{}, fmt.Errorf("%w: steps %d exceeds lattice limit of %d, use compact mode",
				errLimitExceeded, params.Steps, h.cfg.MaxLatticeSteps)
		}
		result, err := engine.PriceFull(params)
		if err != nil {
			return priceResponse{}, err
		}
		if !latticeFinite(result.Lattice) {
			return priceResponse{}, fmt.Errorf("%w: lattice node values overflow at %d steps, use compact mode",
				output.ErrNonFinite, params.Steps)
		}
		resp.Price = result.Price
		resp.Measure = toMeasurePayload(result.Measure)
		resp.Lattice = toLatticePayload(result.Lattice)
	default:
		price, err := engine.PriceOnly(params)
		if err != nil {
			return priceResponse{}, err
		}
		measure, err := engine.Measure(params)
		if err != nil {
			return priceResponse{}, err
		}
		resp.Price = price
		resp.Measure = toMeasurePayload(measure)
	}
	priceText, err := output.FormatPrice(resp.Price)
	if err != nil {
		return priceResponse{}, err
	}
	resp.PriceText = priceText

	repl, err := engine.Replicate(params)
	if err != nil {
		return priceResponse{}, err
	}
	resp.Replication = toReplicationPayload(repl)

	oneStep, err := engine.PriceOnly(params.WithSteps(1))
	if err != nil {
		return priceResponse{}, err
	}
	resp.Consistent = mathutil.AlmostEqual(repl.OptionPrice, oneStep)
	if !resp.Consistent {
		h.logger.Warn("replicated price disagrees with one-step lattice",
			zap.String("op", "server.price"),
			zap.Float64("replicated", repl.OptionPrice),
			zap.Float64("lattice", oneStep),
		)
		resp.Warnings = append(resp.Warnings, "replicated price disagrees with the one-step lattice")
	}
	return resp, nil
}

var errLimitExceeded = errors.New("request exceeds server limit")

func statusFor(err error) int {
	switch {
	case errors.Is(err, binomial.ErrInvalidModelParameters),
		errors.Is(err, batch.ErrInvalidRequest),
		errors.Is(err, errLimitExceeded),
		errors.Is(err, output.ErrNonFinite):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (m marketPayload) parameters(logger *zap.Logger) (binomial.MarketParameters, *binomial.Engine, error) {
	kind, err := binomial.ParseOptionKind(m.OptionKind)
	if err != nil {
		return binomial.MarketParameters{}, nil, err
	}
	compounding, err := binomial.ParseCompounding(m.Compounding)
	if err != nil {
		return binomial.MarketParameters{}, nil, err
	}

	params := binomial.MarketParameters{
		InitialPrice:  m.InitialPrice,
		StrikePrice:   m.StrikePrice,
		ProbabilityUp: m.ProbabilityUp,
		UpFactor:      m.UpFactor,
		DownFactor:    m.DownFactor,
		InterestRate:  m.InterestRate,
		Kind:          kind,
		Steps:         m.Steps,
	}
	return params, binomial.NewEngine(logger, compounding), nil
}

func toMeasurePayload(m binomial.RiskNeutralMeasure) measurePayload {
	return measurePayload{
		Q:           m.Q,
		Growth:      m.Growth,
		Discount:    m.Discount,
		Compounding: m.Compounding.String(),
	}
}

func toLatticePayload(l *binomial.Lattice) *latticePayload {
	if l == nil {
		return nil
	}
	payload := &latticePayload{
		StockPrices:  make([][]float64, 0, l.Steps()+1),
		OptionValues: make([][]float64, 0, l.Steps()+1),
	}
	for step := 0; step <= l.Steps(); step++ {
		payload.StockPrices = append(payload.StockPrices, l.StockRow(step))
		payload.OptionValues = append(payload.OptionValues, l.OptionRow(step))
	}
	return payload
}

// latticeFinite reports whether every node value can be encoded as JSON.
func latticeFinite(l *binomial.Lattice) bool {
	for step := 0; step <= l.Steps(); step++ {
		for _, row := range [][]float64{l.StockRow(step), l.OptionRow(step)} {
			for _, v := range row {
				if math.IsInf(v, 0) || math.IsNaN(v) {
					return false
				}
			}
		}
	}
	return true
}

func toReplicationPayload(r binomial.ReplicationResult) replicationPayload {
	return replicationPayload{
		PriceUp:               r.PriceUp,
		PriceDown:             r.PriceDown,
		PayoffUp:              r.PayoffUp,
		PayoffDown:            r.PayoffDown,
		Delta:                 r.Delta,
		PresentPortfolioValue: r.PresentPortfolioValue,
		OptionPrice:           r.OptionPrice,
		ExpectedValue:         r.ExpectedValue,
	}
}

func (h *handler) decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}, op string) bool {
	maxBytes := h.cfg.BodySizeBytes()
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			h.respondErrorWithOp(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("request exceeds limit of %d bytes", maxBytes), op)
			return false
		}
		h.respondErrorWithOp(w, http.StatusBadRequest, fmt.Sprintf("failed to decode request: %v", err), op)
		return false
	}
	return true
}

func decodeYAMLToMap(data []byte) (map[string]interface{}, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return make(map[string]interface{}), nil
	}

	var result map[string]interface{}
	if err := yaml.Unmarshal(trimmed, &result); err != nil {
		return nil, err
	}
	if result == nil {
		result = make(map[string]interface{})
	}
	return result, nil
}

func (h *handler) respondErrorWithOp(w http.ResponseWriter, status int, msg string, op string) {
	h.logger.Error("pricing request failed",
		zap.String("op", op),
		zap.Int("status", status),
		zap.String("error", msg),
	)

	h.writeJSON(w, status, map[string]string{"error": msg})
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		h.logger.Error("failed to encode JSON response", zap.Error(err))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error":"failed to encode response"}`+"\n")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		h.logger.Error("failed to write JSON response", zap.Error(err))
	}
}
