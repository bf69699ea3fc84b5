package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/livekv/internal/ir"
	"github.com/roach88/livekv/internal/storage"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] step %d %s", i+1, event.Step, event.Type)
			if event.View != "" {
				fmt.Fprintf(&buf, " %s", event.View)
			}
			if event.Value != nil {
				fmt.Fprintf(&buf, " %s", render(event.Value))
			}
			if event.Code != "" {
				fmt.Fprintf(&buf, " %s", event.Code)
			}
			buf.WriteByte('\n')
		}
	}

	return buf.String()
}

// assertTraceCount checks that the trace holds exactly Count entries of the
// given type, restricted to one view when View is set.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Type != assertion.Event {
			continue
		}
		if assertion.View != "" && event.View != assertion.View {
			continue
		}
		count++
	}

	if count != assertion.Count {
		what := assertion.Event
		if assertion.View != "" {
			what += " on " + assertion.View
		}
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, what),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertFinalState reads the record at Key and checks the expected fields
// (subset semantics). A null Expect asserts that no record exists.
func assertFinalState(ctx context.Context, adapter storage.Adapter, assertion Assertion) error {
	key, err := ir.FromGo(assertion.Key)
	if err != nil {
		return fmt.Errorf("final_state: key: %w", err)
	}
	expect, err := ir.FromGo(assertion.Expect)
	if err != nil {
		return fmt.Errorf("final_state: expect: %w", err)
	}

	var (
		rec    ir.Object
		exists bool
	)
	err = adapter.View(ctx, assertion.Store, func(r storage.Reader) error {
		var err error
		rec, exists, err = r.Get(key)
		return err
	})
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("read %s at %s", assertion.Store, render(key)),
			Actual:   fmt.Sprintf("read error: %v", err),
		}
	}

	if _, absent := expect.(ir.Null); absent {
		if exists {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("no record in %s at %s", assertion.Store, render(key)),
				Actual:   render(rec),
			}
		}
		return nil
	}

	fields, ok := expect.(ir.Object)
	if !ok {
		return fmt.Errorf("final_state: expect must be an object or null, got %T", expect)
	}
	if !exists {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("record in %s at %s", assertion.Store, render(key)),
			Actual:   "record not found",
		}
	}

	for _, field := range fields.SortedKeys() {
		actual, present := ir.Lookup(rec, field)
		if !present {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q to exist", field),
				Actual:   fmt.Sprintf("field %q not present in %s", field, render(rec)),
			}
		}
		if !ir.Equal(fields[field], actual) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q = %s", field, render(fields[field])),
				Actual:   fmt.Sprintf("field %q = %s", field, render(actual)),
			}
		}
	}
	return nil
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The adapter provides database access for final_state assertions.
func EvaluateAssertions(ctx context.Context, result *Result, assertions []Assertion, adapter storage.Adapter) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertFinalState:
			if adapter == nil {
				err = fmt.Errorf("assertion[%d]: final_state requires a database", i)
			} else {
				err = assertFinalState(ctx, adapter, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
