package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario is a scripted sequence of reads and writes run against a fresh
// tenant, followed by assertions on the step trace and the stored rows.
type Scenario struct {
	// Name uniquely identifies this scenario.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Schema lists CUE class definition files registered before the steps
	// run. Paths are relative to the scenario file location.
	Schema []string `yaml:"schema,omitempty"`

	// Config overrides tenant configuration keys, as in a config file.
	Config map[string]any `yaml:"config,omitempty"`

	// Setup steps establish initial state. They run as master unless they
	// say otherwise, must succeed and are not traced.
	Setup []Step `yaml:"setup,omitempty"`

	// Flow contains the steps under test.
	Flow []Step `yaml:"flow"`

	// Assertions validate the final trace and state.
	// Supported types: trace_contains, trace_order, trace_count, final_state
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step is one operation against the tenant.
type Step struct {
	// Op is one of create, update, find, get or call.
	Op string `yaml:"op"`

	// Class is the target class. Not used by call.
	Class string `yaml:"class,omitempty"`

	// Function is the cloud function name for call.
	Function string `yaml:"function,omitempty"`

	// As selects the caller: "master", "readonly", "anonymous" (the
	// default in flow steps) or the alias of a saved user.
	As string `yaml:"as,omitempty"`

	// Installation is the installation id of the caller.
	Installation string `yaml:"installation,omitempty"`

	// ID is the objectId for update and get. "$alias" resolves to the
	// objectId saved under alias.
	ID string `yaml:"id,omitempty"`

	// Data is the write payload or the function params.
	Data map[string]any `yaml:"data,omitempty"`

	// Where is the find constraint.
	Where map[string]any `yaml:"where,omitempty"`

	// Options are the read options of find and get.
	Options *ReadOptions `yaml:"options,omitempty"`

	// SaveAs stores the step response under an alias for later steps.
	SaveAs string `yaml:"save_as,omitempty"`

	// Expect validates the step outcome. Without it the step must succeed.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ReadOptions mirror the client read options.
type ReadOptions struct {
	Keys        string `yaml:"keys,omitempty"`
	ExcludeKeys string `yaml:"exclude_keys,omitempty"`
	Include     string `yaml:"include,omitempty"`
	Order       string `yaml:"order,omitempty"`
	Limit       *int   `yaml:"limit,omitempty"`
	Skip        int    `yaml:"skip,omitempty"`
	Count       bool   `yaml:"count,omitempty"`
	Distinct    string `yaml:"distinct,omitempty"`
}

// ExpectClause specifies the expected outcome of a step.
type ExpectClause struct {
	// Error is the expected error code name, e.g. "OBJECT_NOT_FOUND".
	Error string `yaml:"error,omitempty"`

	// Status is the expected write status (201 for creates).
	Status int `yaml:"status,omitempty"`

	// Response is a subset match on the write response, the get object or
	// the function result.
	Response map[string]any `yaml:"response,omitempty"`

	// Absent lists keys that must not appear in the response.
	Absent []string `yaml:"absent,omitempty"`

	// Results is matched pairwise, subset per row, against find results.
	// The number of rows must be equal.
	Results []map[string]any `yaml:"results,omitempty"`

	// Count is the expected find count.
	Count *int `yaml:"count,omitempty"`
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": a traced step has Action and a matching response
	// - "trace_order": Actions appear in order
	// - "trace_count": Action appears exactly Count times
	// - "final_state": rows of Class matching Where
	Type string `yaml:"type"`

	// Action is a step label such as "create:Post" or "call:hello".
	Action string `yaml:"action,omitempty"`

	// Response is a subset match on the traced response (trace_contains).
	Response map[string]any `yaml:"response,omitempty"`

	// Actions is the expected action order (trace_order).
	Actions []string `yaml:"actions,omitempty"`

	// Count is the expected number of occurrences (trace_count) or of
	// matching rows (final_state).
	Count *int `yaml:"count,omitempty"`

	// Class is the class queried by final_state.
	Class string `yaml:"class,omitempty"`

	// Where constrains the final_state rows.
	Where map[string]any `yaml:"where,omitempty"`

	// Expect is a subset match applied to every final_state row.
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

// Step operations.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpFind   = "find"
	OpGet    = "get"
	OpCall   = "call"
)

// LoadScenario reads and parses a scenario YAML file. Schema paths are
// resolved relative to the file's directory.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving schema paths relative to basePath.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data, basePath)
}

// ParseScenario decodes a scenario. Unknown fields are rejected.
func ParseScenario(data []byte, basePath string) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	for i, p := range scenario.Schema {
		if !filepath.IsAbs(p) && basePath != "" {
			scenario.Schema[i] = filepath.Join(basePath, p)
		}
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}

	for _, p := range s.Schema {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			return fmt.Errorf("schema file not found: %s", p)
		}
	}

	for i, step := range s.Setup {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("setup[%d]: %w", i, err)
		}
		if step.Expect != nil {
			return fmt.Errorf("setup[%d]: expect is not allowed in setup", i)
		}
	}
	for i, step := range s.Flow {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("flow[%d]: %w", i, err)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(step Step) error {
	switch step.Op {
	case OpCreate, OpFind:
		if step.Class == "" {
			return fmt.Errorf("class is required for %s", step.Op)
		}
	case OpUpdate, OpGet:
		if step.Class == "" {
			return fmt.Errorf("class is required for %s", step.Op)
		}
		if step.ID == "" {
			return fmt.Errorf("id is required for %s", step.Op)
		}
	case OpCall:
		if step.Function == "" {
			return fmt.Errorf("function is required for call")
		}
	case "":
		return fmt.Errorf("op is required")
	default:
		return fmt.Errorf("unknown op %q", step.Op)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: actions list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_count", index)
		}
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: a non-negative count is required for trace_count", index)
		}
	case AssertFinalState:
		if a.Class == "" {
			return fmt.Errorf("assertions[%d]: class is required for final_state", index)
		}
		if len(a.Expect) == 0 && a.Count == nil {
			return fmt.Errorf("assertions[%d]: expect or count is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
