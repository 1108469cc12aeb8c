// Package constants provides shared constants for the binomial-lattice application.
package constants

import "time"

// Output format constants
const (
	// OutputFormatPretty is the human-readable output format
	OutputFormatPretty = "pretty"

	// OutputFormatCSV is the CSV output format
	OutputFormatCSV = "csv"
)

// Run mode constants
const (
	// ModePrice prices a single contract and prints the lattice
	ModePrice = "price"

	// ModeBatch prices the contract for an increasing number of steps
	ModeBatch = "batch"
)

// Lattice mode constants used by the HTTP API
const (
	// LatticeModeFull keeps every step of the lattice
	LatticeModeFull = "full"

	// LatticeModeCompact returns the root price only
	LatticeModeCompact = "compact"
)

// Configuration file constants
const (
	// DefaultConfigFile is the default configuration file name
	DefaultConfigFile = "config.yaml"

	// DefaultServerConfigFile is the default server configuration file name
	DefaultServerConfigFile = "server-config.yaml"
)

// Server configuration defaults
const (
	// DefaultServerAddress is the default HTTP listen address for the API
	DefaultServerAddress = ":8080"

	// DefaultMaxBodySizeBytes is the default maximum request body size (256 KB)
	DefaultMaxBodySizeBytes int64 = 256 * 1024

	// DefaultMaxLatticeSteps caps full lattices returned over HTTP
	DefaultMaxLatticeSteps = 200

	// DefaultMaxBatchSteps caps batch runs requested over HTTP
	DefaultMaxBatchSteps = 5000

	// DefaultBatchTimeout caps the wall-clock time of a batch request
	DefaultBatchTimeout = "10s"
)

// Pricing constants
const (
	// PriceTolerance is the absolute tolerance for comparing prices
	PriceTolerance = 1e-9

	// DisplayPrecision is the number of decimals shown for prices
	DisplayPrecision = 6

	// LargeFullLatticeSteps is the step count above which a full lattice
	// triggers a memory warning
	LargeFullLatticeSteps = 2000

	// MinBatchDuration is the smallest batch budget accepted without a
	// warning. Bare numbers in YAML decode as nanoseconds.
	MinBatchDuration = time.Millisecond
)
