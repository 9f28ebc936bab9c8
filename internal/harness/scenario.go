package harness

import (
	"bytes"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Scenario is a scripted run across one or more devices.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Devices names every client taking part.
	Devices []string `yaml:"devices"`

	// Children and Sessions seed every device and the authority.
	Children []ChildSeed   `yaml:"children"`
	Sessions []SessionSeed `yaml:"sessions"`

	// Flow is executed in order.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions"`
}

// ChildSeed is a child not in any session.
type ChildSeed struct {
	ID  string `yaml:"id"`
	Age int    `yaml:"age"`
}

// SessionSeed is an open session for ages 3 to 8.
type SessionSeed struct {
	ID       string `yaml:"id"`
	Capacity int    `yaml:"capacity"`
	Max      int    `yaml:"max"`
	Closed   bool   `yaml:"closed,omitempty"`
}

// FlowStep is one operation on one device.
type FlowStep struct {
	// Device runs the operation. Empty for offline and online.
	Device string `yaml:"device,omitempty"`

	// Op is the operation name (see package docs).
	Op string `yaml:"op"`

	Args map[string]string `yaml:"args,omitempty"`

	// Expect specifies the expected outcome. If nil, any outcome passes.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies expected step behavior.
type ExpectClause struct {
	Outcome string `yaml:"outcome"`

	// Code is the validation or rejection code, checked when set.
	Code string `yaml:"code,omitempty"`

	// Result is a subset match on the step's result fields.
	Result map[string]any `yaml:"result,omitempty"`
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type is one of trace_contains, trace_order, trace_count, final_state.
	Type string `yaml:"type"`

	// Op, Device, Outcome and Args filter steps for trace_contains and
	// trace_count. Empty filters match anything.
	Op      string            `yaml:"op,omitempty"`
	Device  string            `yaml:"device,omitempty"`
	Outcome string            `yaml:"outcome,omitempty"`
	Args    map[string]string `yaml:"args,omitempty"`

	// Count is the expected number of matching steps (trace_count).
	Count int `yaml:"count,omitempty"`

	// Ops is the expected order (trace_order). Entries match either op or
	// device.op.
	Ops []string `yaml:"ops,omitempty"`

	// Table is children, sessions or records (final_state). Device names
	// whose copy to read; "authority" reads the authority's.
	Table string `yaml:"table,omitempty"`

	// Where selects rows by exact field match (final_state).
	Where map[string]any `yaml:"where,omitempty"`

	// Expect is a subset match on the selected row (final_state).
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

// Flow operation names.
const (
	OpCheckIn         = "checkin"
	OpCheckOut        = "checkout"
	OpSync            = "sync"
	OpRefreshSessions = "refresh_sessions"
	OpRefreshChild    = "refresh_child"
	OpReceive         = "receive"
	OpOffline         = "offline"
	OpOnline          = "online"
)

// AuthorityDevice is the final_state device name for the authority's copy.
const AuthorityDevice = "authority"

// stateTables are the tables final_state can read.
var stateTables = []string{"children", "sessions", "records"}

// requiredArgs lists the args each operation needs.
var requiredArgs = map[string][]string{
	OpCheckIn:         {"child", "session"},
	OpCheckOut:        {"child"},
	OpSync:            nil,
	OpRefreshSessions: nil,
	OpRefreshChild:    {"child"},
	OpReceive:         nil,
	OpOffline:         nil,
	OpOnline:          nil,
}

var outcomes = []string{OutcomeApplied, OutcomeQueued, OutcomeRejected, OutcomeInvalid, OutcomeOK}

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
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
	if len(s.Devices) == 0 {
		return fmt.Errorf("devices list is required and must be non-empty")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	seen := make(map[string]bool)
	for i, d := range s.Devices {
		if d == "" || d == AuthorityDevice {
			return fmt.Errorf("devices[%d]: invalid name %q", i, d)
		}
		if seen[d] {
			return fmt.Errorf("devices[%d]: duplicate name %q", i, d)
		}
		seen[d] = true
	}

	for i, c := range s.Children {
		if c.ID == "" {
			return fmt.Errorf("children[%d]: id is required", i)
		}
		if c.Age < 0 {
			return fmt.Errorf("children[%d]: age must be non-negative", i)
		}
	}
	for i, ss := range s.Sessions {
		if ss.ID == "" {
			return fmt.Errorf("sessions[%d]: id is required", i)
		}
		if ss.Max <= 0 || ss.Capacity < 0 || ss.Capacity > ss.Max {
			return fmt.Errorf("sessions[%d]: capacity %d outside [0, %d]", i, ss.Capacity, ss.Max)
		}
	}

	for i, step := range s.Flow {
		if err := validateStep(i, step, seen); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion, seen); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, step FlowStep, devices map[string]bool) error {
	args, ok := requiredArgs[step.Op]
	if !ok {
		return fmt.Errorf("flow[%d]: unknown op %q", index, step.Op)
	}

	switch step.Op {
	case OpOffline, OpOnline:
		if step.Device != "" {
			return fmt.Errorf("flow[%d]: %s applies to the authority, not a device", index, step.Op)
		}
	default:
		if !devices[step.Device] {
			return fmt.Errorf("flow[%d]: unknown device %q", index, step.Device)
		}
	}

	for _, name := range args {
		if step.Args[name] == "" {
			return fmt.Errorf("flow[%d]: %s requires arg %q", index, step.Op, name)
		}
	}
	if step.Op == OpReceive {
		n := 0
		for _, k := range []string{"child", "session", "record"} {
			if step.Args[k] != "" {
				n++
			}
		}
		if n != 1 {
			return fmt.Errorf("flow[%d]: receive takes exactly one of child, session or record", index)
		}
	}

	if step.Expect != nil && !slices.Contains(outcomes, step.Expect.Outcome) {
		return fmt.Errorf("flow[%d].expect: unknown outcome %q", index, step.Expect.Outcome)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, devices map[string]bool) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Ops) == 0 {
			return fmt.Errorf("assertions[%d]: ops list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.Device != AuthorityDevice && !devices[a.Device] {
			return fmt.Errorf("assertions[%d]: unknown device %q for final_state", index, a.Device)
		}
		if !slices.Contains(stateTables, a.Table) {
			return fmt.Errorf("assertions[%d]: table must be one of %v", index, stateTables)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
