// Package testutil provides common utility functions for testing.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/iwvelando/binomial-lattice/pkg/binomial"
)

// ReferenceParams returns the S=100, K=100, u=1.1, d=0.9, r=0.05 contract
// with a physical up probability of 0.5.
func ReferenceParams(t testing.TB, kind binomial.OptionKind, steps int) binomial.MarketParameters {
	t.Helper()
	params, err := binomial.NewMarketParameters(100, 100, 0.5, 1.1, 0.9, 0.05, kind, steps)
	if err != nil {
		t.Fatalf("failed to build reference parameters: %v", err)
	}
	return params
}

// WriteFile writes contents to name inside a fresh temp directory and
// returns the full path.
func WriteFile(t testing.TB, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0600); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}
