package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/livekv/internal/ir"
)

// GoldenDir is where scenario traces are stored, relative to the test's
// package directory.
const GoldenDir = "testdata/golden"

// CanonicalTrace renders a result's trace as canonical JSON:
// {"scenario_name": ..., "trace": [...]}.
func CanonicalTrace(scenarioName string, result *Result) ([]byte, error) {
	return ir.MarshalCanonical(result.TraceObject(scenarioName))
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns the result so callers can also check Pass and Errors.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares the given result's trace against a golden file.
// This is useful when you've already run a scenario and want to compare
// the result against a golden file without re-running.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	traceJSON, err := CanonicalTrace(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir(GoldenDir),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, traceJSON)
	return nil
}
