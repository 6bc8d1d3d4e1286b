// Package testutil provides shared test infrastructure for the scheduler simulator.
// It resolves the repository testdata directory and holds assertion helpers used
// across sim/ and its sub-packages.
package testutil

import (
	"math"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"gopkg.in/yaml.v3"
)

// TestdataPath returns the absolute path of a file under the repository testdata/ directory.
// The path is resolved relative to this source file: sim/internal/testutil/ → testdata/.
func TestdataPath(t *testing.T, name string) string {
	t.Helper()

	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("Failed to get current file path")
	}
	return filepath.Join(filepath.Dir(thisFile), "..", "..", "..", "testdata", name)
}

// LoadYAML decodes a testdata YAML file into out.
func LoadYAML(t *testing.T, name string, out any) {
	t.Helper()
	data, err := os.ReadFile(TestdataPath(t, name))
	if err != nil {
		t.Fatalf("Failed to read %s: %v", name, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		t.Fatalf("Failed to parse %s: %v", name, err)
	}
}

// AssertFloat64Equal compares two float64 values with relative tolerance.
func AssertFloat64Equal(t *testing.T, name string, want, got, relTol float64) {
	t.Helper()
	if want == 0 && got == 0 {
		return
	}
	diff := math.Abs(want - got)
	maxVal := math.Max(math.Abs(want), math.Abs(got))
	if diff/maxVal > relTol {
		t.Errorf("%s: got %v, want %v (diff=%v, relDiff=%v)", name, got, want, diff, diff/maxVal)
	}
}
