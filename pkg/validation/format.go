// Package validation provides common validation utilities.
package validation

import (
	"fmt"

	"github.com/iwvelando/binomial-lattice/pkg/constants"
)

// ValidateOutputFormat checks if the output format is one of the supported formats.
func ValidateOutputFormat(format string) error {
	if format != constants.OutputFormatPretty && format != constants.OutputFormatCSV {
		return fmt.Errorf("expected output format of %s or %s, got %s",
			constants.OutputFormatPretty, constants.OutputFormatCSV, format)
	}
	return nil
}

// ValidateMode checks if the run mode is one of the supported modes.
func ValidateMode(mode string) error {
	if mode != constants.ModePrice && mode != constants.ModeBatch {
		return fmt.Errorf("expected mode of %s or %s, got %s",
			constants.ModePrice, constants.ModeBatch, mode)
	}
	return nil
}

// ValidateLatticeMode checks if the lattice mode is full or compact. An
// empty mode is accepted and means full.
func ValidateLatticeMode(mode string) error {
	switch mode {
	case "", constants.LatticeModeFull, constants.LatticeModeCompact:
		return nil
	}
	return fmt.Errorf("expected lattice mode of %s or %s, got %s",
		constants.LatticeModeFull, constants.LatticeModeCompact, mode)
}
