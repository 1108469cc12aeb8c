// Package config defines the data structures related to configuration and
// includes functions for loading the config and converting it into pricing
// inputs.
package config

import (
	"fmt"
	"io"
	"time"

	"github.com/iwvelando/binomial-lattice/internal/batch"
	"github.com/iwvelando/binomial-lattice/pkg/binomial"
	"github.com/iwvelando/binomial-lattice/pkg/constants"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Configuration holds all configuration for binomial-lattice.
type Configuration struct {
	Market  Market        `yaml:"market"`
	Model   ModelConfig   `yaml:"model,omitempty"`
	Batch   BatchConfig   `yaml:"batch,omitempty"`
	Logging LoggingConfig `yaml:"logging,omitempty"`
	Output  OutputConfig  `yaml:"output,omitempty"`
}

// LoggingConfig holds logging configuration options
type LoggingConfig struct {
	Level      string `yaml:"level,omitempty"`      // debug, info, warn, error
	Format     string `yaml:"format,omitempty"`     // json, console
	OutputFile string `yaml:"outputFile,omitempty"` // optional file output
}

// OutputConfig holds output format configuration options
type OutputConfig struct {
	Format string `yaml:"format,omitempty"` // pretty, csv
}

// Market holds the contract and the one-step market model.
type Market struct {
	InitialPrice  float64 `yaml:"initialPrice"`
	StrikePrice   float64 `yaml:"strikePrice"`
	ProbabilityUp float64 `yaml:"probabilityUp"`
	UpFactor      float64 `yaml:"upFactor"`
	DownFactor    float64 `yaml:"downFactor"`
	InterestRate  float64 `yaml:"interestRate"`
	OptionKind    string  `yaml:"optionKind"` // call, put
	Steps         int     `yaml:"steps"`
}

// ModelConfig selects the interest convention.
type ModelConfig struct {
	Compounding string `yaml:"compounding,omitempty"` // discrete, continuous
}

// BatchConfig controls the price-vs-steps run.
type BatchConfig struct {
	MaxSteps    int           `yaml:"maxSteps,omitempty"`
	Duration    time.Duration `yaml:"duration,omitempty"`
	Workers     int           `yaml:"workers,omitempty"`
	TrackMemory bool          `yaml:"trackMemory,omitempty"`
}

// LoadConfiguration takes a file path as input and loads the YAML-formatted
// configuration there.
func LoadConfiguration(configPath string) (*Configuration, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yml")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file, %s", err)
	}
	return decode(v)
}

// LoadConfigurationFromReader loads a YAML-formatted configuration from r.
func LoadConfigurationFromReader(r io.Reader) (*Configuration, error) {
	v := viper.New()
	v.SetConfigType("yml")

	if err := v.ReadConfig(r); err != nil {
		return nil, fmt.Errorf("error reading config data, %s", err)
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Configuration, error) {
	var configuration Configuration
	if err := v.Unmarshal(&configuration); err != nil {
		return nil, fmt.Errorf("unable to decode into struct, %s", err)
	}
	return &configuration, nil
}

// MarketParameters converts the market section into validated pricing inputs.
func (conf *Configuration) MarketParameters() (binomial.MarketParameters, error) {
	kind, err := binomial.ParseOptionKind(conf.Market.OptionKind)
	if err != nil {
		return binomial.MarketParameters{}, err
	}
	m := conf.Market
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

	engine, err := conf.Engine(nil)
	if err != nil {
		return binomial.MarketParameters{}, err
	}
	if _, err := engine.Measure(params); err != nil {
		return binomial.MarketParameters{}, err
	}
	return params, nil
}

// Compounding parses the configured interest convention.
func (conf *Configuration) Compounding() (binomial.Compounding, error) {
	return binomial.ParseCompounding(conf.Model.Compounding)
}

// Engine builds a pricing engine for the configured convention.
func (conf *Configuration) Engine(logger *zap.Logger) (*binomial.Engine, error) {
	c, err := conf.Compounding()
	if err != nil {
		return nil, err
	}
	return binomial.NewEngine(logger, c), nil
}

// BatchRequest builds the batch request for the configured contract.
func (conf *Configuration) BatchRequest() (batch.Request, error) {
	params, err := conf.MarketParameters()
	if err != nil {
		return batch.Request{}, err
	}
	return batch.Request{
		Base:        params,
		MaxSteps:    conf.Batch.MaxSteps,
		Budget:      conf.Batch.Duration,
		Workers:     conf.Batch.Workers,
		TrackMemory: conf.Batch.TrackMemory,
	}, nil
}

// ValidateConfiguration performs general validation of the configuration and returns warnings
func (conf *Configuration) ValidateConfiguration() []string {
	var warnings []string

	if conf.Market.Steps > constants.LargeFullLatticeSteps {
		warnings = append(warnings, fmt.Sprintf("steps %d exceeds %d; the full lattice holds %d nodes",
			conf.Market.Steps, constants.LargeFullLatticeSteps, nodeCount(conf.Market.Steps)))
	}
	if conf.Batch.MaxSteps == 0 && conf.Batch.Duration == 0 {
		warnings = append(warnings, "batch has neither maxSteps nor duration; batch mode will be rejected")
	}
	if conf.Batch.Workers > 1 && conf.Batch.MaxSteps == 0 && conf.Batch.Duration > 0 {
		warnings = append(warnings, fmt.Sprintf("batch uses %d workers with only a duration; the series may end with gaps", conf.Batch.Workers))
	}
	if conf.Batch.Duration > 0 && conf.Batch.Duration < constants.MinBatchDuration {
		warnings = append(warnings, fmt.Sprintf("batch duration %s is below %s; durations need a unit suffix such as 5s",
			conf.Batch.Duration, constants.MinBatchDuration))
	}
	if conf.Market.ProbabilityUp == 0 || conf.Market.ProbabilityUp == 1 {
		warnings = append(warnings, fmt.Sprintf("probabilityUp %v is degenerate; the expected value ignores one branch", conf.Market.ProbabilityUp))
	}
	if c, err := conf.Compounding(); err != nil {
		warnings = append(warnings, err.Error())
	} else if c == binomial.Continuous {
		warnings = append(warnings, "continuous compounding selected; prices differ from the discrete 1/(1+r) convention")
	}

	return warnings
}

func nodeCount(steps int) int {
	return (steps + 1) * (steps + 2) / 2
}
