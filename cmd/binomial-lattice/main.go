package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/iwvelando/binomial-lattice/internal/batch"
	"github.com/iwvelando/binomial-lattice/internal/config"
	"github.com/iwvelando/binomial-lattice/internal/logging"
	"github.com/iwvelando/binomial-lattice/pkg/constants"
	"github.com/iwvelando/binomial-lattice/pkg/mathutil"
	"github.com/iwvelando/binomial-lattice/pkg/output"
	"github.com/iwvelando/binomial-lattice/pkg/validation"
	"go.uber.org/zap"
)

func main() {
	// Process command line flags first to get config location
	configLocation := flag.String("config", constants.DefaultConfigFile, "path to configuration file")
	modeFlag := flag.String("mode", constants.ModePrice, "run mode: price, batch")
	outputFormatFlag := flag.String("output-format", "", "type of output override: pretty, csv")
	logLevel := flag.String("log-level", "", "log level override (debug, info, warn, error)")
	stepsFlag := flag.Int("steps", 0, "override lattice steps (price mode) or the step ceiling (batch mode)")
	flag.Parse()

	// Load the config file to get logging configuration
	conf, err := config.LoadConfiguration(*configLocation)
	if err != nil {
		fmt.Printf("{\"op\": \"main\", \"level\": \"fatal\", \"msg\": \"failed to load configuration at %s\", \"error\": \"%v\"}\n", *configLocation, err)
		os.Exit(1)
	}

	logger, err := logging.New(conf.Logging, *logLevel)
	if err != nil {
		fmt.Printf("{\"op\": \"main\", \"level\": \"fatal\", \"msg\": \"failed to initialize logger\", \"error\": \"%v\"}\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := validation.ValidateMode(*modeFlag); err != nil {
		logger.Fatal(err.Error(), zap.String("op", "main"))
	}

	// CLI override takes precedence over config
	outputFormat := conf.Output.Format
	if *outputFormatFlag != "" {
		outputFormat = *outputFormatFlag
	}
	if outputFormat == "" {
		outputFormat = constants.OutputFormatPretty
	}
	if err := validation.ValidateOutputFormat(outputFormat); err != nil {
		logger.Fatal(err.Error(), zap.String("op", "main"))
	}

	if *stepsFlag > 0 {
		if *modeFlag == constants.ModeBatch {
			conf.Batch.MaxSteps = *stepsFlag
		} else {
			conf.Market.Steps = *stepsFlag
		}
	}

	for _, warning := range conf.ValidateConfiguration() {
		logger.Warn("Configuration warning: "+warning,
			zap.String("op", "main"),
		)
	}

	switch *modeFlag {
	case constants.ModePrice:
		runPrice(logger, conf, outputFormat)
	case constants.ModeBatch:
		runBatch(logger, conf, outputFormat)
	}
}

func runPrice(logger *zap.Logger, conf *config.Configuration, outputFormat string) {
	params, err := conf.MarketParameters()
	if err != nil {
		logger.Fatal("invalid market parameters",
			zap.String("op", "main.runPrice"),
			zap.Error(err),
		)
	}
	engine, err := conf.Engine(logger)
	if err != nil {
		logger.Fatal("invalid model configuration",
			zap.String("op", "main.runPrice"),
			zap.Error(err),
		)
	}

	start := time.Now()
	result, err := engine.PriceFull(params)
	elapsed := time.Since(start)
	if err != nil {
		logger.Fatal("failed to price option",
			zap.String("op", "main.runPrice"),
			zap.Error(err),
		)
	}
	repl, err := engine.Replicate(params)
	if err != nil {
		logger.Fatal("failed to compute replicating portfolio",
			zap.String("op", "main.runPrice"),
			zap.Error(err),
		)
	}

	oneStep, err := engine.PriceOnly(params.WithSteps(1))
	if err == nil && !mathutil.AlmostEqual(oneStep, repl.OptionPrice) {
		logger.Warn("replicated price disagrees with one-step lattice",
			zap.String("op", "main.runPrice"),
			zap.Float64("replicated", repl.OptionPrice),
			zap.Float64("lattice", oneStep),
		)
	}

	switch outputFormat {
	case constants.OutputFormatPretty:
		output.PrettyPrice(os.Stdout, params, result, repl)
	case constants.OutputFormatCSV:
		point := batch.Point{Steps: params.Steps, Price: result.Price, Elapsed: elapsed}
		if err := output.CsvSeries(os.Stdout, []batch.Point{point}); err != nil {
			logger.Fatal("failed to write CSV output",
				zap.String("op", "main.runPrice"),
				zap.Error(err),
			)
		}
	}
}

func runBatch(logger *zap.Logger, conf *config.Configuration, outputFormat string) {
	req, err := conf.BatchRequest()
	if err != nil {
		logger.Fatal("invalid batch configuration",
			zap.String("op", "main.runBatch"),
			zap.Error(err),
		)
	}
	engine, err := conf.Engine(logger)
	if err != nil {
		logger.Fatal("invalid model configuration",
			zap.String("op", "main.runBatch"),
			zap.Error(err),
		)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := batch.NewRunner(logger, engine).Run(ctx, req)
	if err != nil {
		logger.Fatal("batch run failed",
			zap.String("op", "main.runBatch"),
			zap.Error(err),
		)
	}

	switch outputFormat {
	case constants.OutputFormatPretty:
		output.PrettySeries(os.Stdout, report)
	case constants.OutputFormatCSV:
		if err := output.CsvSeries(os.Stdout, report.Points); err != nil {
			logger.Fatal("failed to write CSV output",
				zap.String("op", "main.runBatch"),
				zap.Error(err),
			)
		}
	}
}
