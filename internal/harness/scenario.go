package harness

import (
	"bytes"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/roach88/livekv/internal/ir"
	"github.com/roach88/livekv/internal/mutation"
	"github.com/roach88/livekv/internal/query"
	"github.com/roach88/livekv/internal/schema"
	"github.com/roach88/livekv/internal/storage/backends"
)

// Scenario defines one live-query test.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Backend selects the storage adapter: "sqlite" (default) or "bolt".
	Backend string `yaml:"backend,omitempty"`

	// Schema defines the stores inline.
	Schema SchemaSpec `yaml:"schema"`

	// Seed writes run before the first step and must succeed.
	Seed []mutation.RequestSpec `yaml:"seed,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and store state.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// SchemaSpec is the inline form of a schema.
type SchemaSpec struct {
	Stores map[string]StoreSpec `yaml:"stores"`
}

// StoreSpec is the inline form of a store.
type StoreSpec struct {
	KeyPath       string               `yaml:"key_path,omitempty"`
	AutoIncrement bool                 `yaml:"auto_increment,omitempty"`
	Indexes       map[string]IndexSpec `yaml:"indexes,omitempty"`
}

// IndexSpec is the inline form of an index.
type IndexSpec struct {
	KeyPath string `yaml:"key_path"`
	Unique  bool   `yaml:"unique,omitempty"`
}

// Build converts the declared stores into a validated schema.
func (s SchemaSpec) Build() (*schema.Schema, error) {
	stores := make([]schema.Store, 0, len(s.Stores))
	for name, st := range s.Stores {
		store := schema.Store{Name: name, KeyPath: st.KeyPath, AutoIncrement: st.AutoIncrement}
		for ixName, ix := range st.Indexes {
			store.Indexes = append(store.Indexes, schema.Index{Name: ixName, KeyPath: ix.KeyPath, Unique: ix.Unique})
		}
		slices.SortFunc(store.Indexes, func(a, b schema.Index) int {
			switch {
			case a.Name < b.Name:
				return -1
			case a.Name > b.Name:
				return 1
			}
			return 0
		})
		stores = append(stores, store)
	}
	return schema.New(stores...)
}

// Step is one scenario step. Exactly one field is set.
type Step struct {
	Subscribe   *SubscribeStep   `yaml:"subscribe,omitempty"`
	Write       *WriteStep       `yaml:"write,omitempty"`
	Expect      *ExpectStep      `yaml:"expect,omitempty"`
	ExpectNone  *ViewRef         `yaml:"expect_none,omitempty"`
	ExpectError *ExpectErrorStep `yaml:"expect_error,omitempty"`
}

// SubscribeStep attaches a subscriber to a view and names it.
type SubscribeStep struct {
	ID    string         `yaml:"id"`
	Store string         `yaml:"store"`
	Index string         `yaml:"index,omitempty"`
	Kind  string         `yaml:"kind,omitempty"`
	Key   any            `yaml:"key,omitempty"`
	Range *RangeSpec     `yaml:"range,omitempty"`
	Where map[string]any `yaml:"where,omitempty"`
}

// RangeSpec is the YAML form of a key range. Omitted bounds are open-ended.
type RangeSpec struct {
	Lower     any  `yaml:"lower,omitempty"`
	Upper     any  `yaml:"upper,omitempty"`
	LowerOpen bool `yaml:"lower_open,omitempty"`
	UpperOpen bool `yaml:"upper_open,omitempty"`
}

// KeyRange converts the spec.
func (r RangeSpec) KeyRange() (ir.KeyRange, error) {
	var kr ir.KeyRange
	if r.Lower != nil {
		v, err := ir.FromGo(r.Lower)
		if err != nil {
			return kr, fmt.Errorf("lower: %w", err)
		}
		kr.Lower = v
	}
	if r.Upper != nil {
		v, err := ir.FromGo(r.Upper)
		if err != nil {
			return kr, fmt.Errorf("upper: %w", err)
		}
		kr.Upper = v
	}
	kr.LowerOpen = r.LowerOpen
	kr.UpperOpen = r.UpperOpen
	return kr, nil
}

// WriteStep executes one request. Fails names the expected error code;
// empty means the write must succeed.
type WriteStep struct {
	mutation.RequestSpec `yaml:",inline"`
	Fails                string `yaml:"fails,omitempty"`
}

// ExpectStep waits for the next update of a view and compares its value.
type ExpectStep struct {
	View  string `yaml:"view"`
	Value any    `yaml:"value"`
}

// ViewRef names a subscribed view.
type ViewRef struct {
	View string `yaml:"view"`
}

// ExpectErrorStep waits for the failure of a view. Code optionally pins
// the storage error code.
type ExpectErrorStep struct {
	View string `yaml:"view"`
	Code string `yaml:"code,omitempty"`
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type is "final_state" or "trace_count".
	Type string `yaml:"type"`

	// Store and Key locate the record (final_state).
	Store string `yaml:"store,omitempty"`
	Key   any    `yaml:"key,omitempty"`

	// Expect holds the expected fields (final_state). Null asserts that
	// the record is absent.
	Expect any `yaml:"expect"`

	// Event is the trace entry type and View the optional view filter
	// (trace_count).
	Event string `yaml:"event,omitempty"`
	View  string `yaml:"view,omitempty"`
	Count int    `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertFinalState = "final_state"
	AssertTraceCount = "trace_count"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks required fields and step references.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if !backends.Valid(s.Backend) {
		return fmt.Errorf("unknown backend %q", s.Backend)
	}
	if len(s.Schema.Stores) == 0 {
		return fmt.Errorf("schema: at least one store is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("at least one step is required")
	}

	views := make(map[string]bool)
	for i, step := range s.Steps {
		if err := validateStep(i, step, views); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(i int, step Step, views map[string]bool) error {
	set := 0
	for _, present := range []bool{
		step.Subscribe != nil, step.Write != nil, step.Expect != nil,
		step.ExpectNone != nil, step.ExpectError != nil,
	} {
		if present {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("steps[%d]: exactly one of subscribe, write, expect, expect_none, expect_error is required", i)
	}

	switch {
	case step.Subscribe != nil:
		sub := step.Subscribe
		if sub.ID == "" {
			return fmt.Errorf("steps[%d]: subscribe id is required", i)
		}
		if views[sub.ID] {
			return fmt.Errorf("steps[%d]: view %q is already subscribed", i, sub.ID)
		}
		if sub.Store == "" {
			return fmt.Errorf("steps[%d]: subscribe store is required", i)
		}
		if sub.Key != nil && sub.Range != nil {
			return fmt.Errorf("steps[%d]: key and range are mutually exclusive", i)
		}
		if sub.Kind != "" {
			if _, err := query.ParseKind(sub.Kind); err != nil {
				return fmt.Errorf("steps[%d]: %w", i, err)
			}
		}
		views[sub.ID] = true
	case step.Write != nil:
		if _, err := step.Write.Request(); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	case step.Expect != nil:
		if !views[step.Expect.View] {
			return fmt.Errorf("steps[%d]: unknown view %q", i, step.Expect.View)
		}
	case step.ExpectNone != nil:
		if !views[step.ExpectNone.View] {
			return fmt.Errorf("steps[%d]: unknown view %q", i, step.ExpectNone.View)
		}
	case step.ExpectError != nil:
		if !views[step.ExpectError.View] {
			return fmt.Errorf("steps[%d]: unknown view %q", i, step.ExpectError.View)
		}
	}
	return nil
}

func validateAssertion(index int, a Assertion) error {
	switch a.Type {
	case AssertFinalState:
		if a.Store == "" {
			return fmt.Errorf("assertions[%d]: store is required for final_state", index)
		}
		if a.Key == nil {
			return fmt.Errorf("assertions[%d]: key is required for final_state", index)
		}
	case AssertTraceCount:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
