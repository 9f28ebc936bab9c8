package harness

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/roach88/rollcall/internal/model"
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
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %v -> %s", event.Step, event.label(), event.Args, event.Outcome)
			if event.Code != "" {
				fmt.Fprintf(&buf, " (%s)", event.Code)
			}
			buf.WriteByte('\n')
		}
	}
	return buf.String()
}

// StateReader returns every row of table as seen by device.
type StateReader func(device, table string) ([]any, error)

// matchesStep reports whether event passes the assertion's step filters.
func matchesStep(event TraceEvent, a Assertion) bool {
	if event.Op != a.Op {
		return false
	}
	if a.Device != "" && event.Device != a.Device {
		return false
	}
	if a.Outcome != "" && event.Outcome != a.Outcome {
		return false
	}
	for k, v := range a.Args {
		if event.Args[k] != v {
			return false
		}
	}
	return true
}

// assertTraceContains checks that at least one step matches.
func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, event := range trace {
		if matchesStep(event, a) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: describeFilter(a),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that ops first appear in the given order.
// Intervening steps are allowed.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	positions := make(map[string]int)
	for _, event := range trace {
		for _, want := range a.Ops {
			if positions[want] == 0 && (event.Op == want || event.label() == want) {
				positions[want] = event.Step
			}
		}
	}

	for _, op := range a.Ops {
		if positions[op] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all ops present: %v", a.Ops),
				Actual:   fmt.Sprintf("missing op: %s", op),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(a.Ops); i++ {
		prev, curr := a.Ops[i-1], a.Ops[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("ops in order: %v", a.Ops),
				Actual: fmt.Sprintf("%s (step %d) should be before %s (step %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks that exactly Count steps match.
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, event := range trace {
		if matchesStep(event, a) {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d x %s", a.Count, describeFilter(a)),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertFinalState checks that some row matching Where carries the
// expected fields. Rows are compared in their JSON form, so field names
// are the wire names (current_capacity, status, ...). Records also carry
// their local "pending" queue.
func assertFinalState(read StateReader, a Assertion) error {
	rows, err := read(a.Device, a.Table)
	if err != nil {
		return fmt.Errorf("final_state: read %s on %s: %w", a.Table, a.Device, err)
	}

	where := normalize(a.Where)
	expect := normalize(a.Expect)

	var candidates []map[string]any
	for _, row := range rows {
		m, err := rowMap(row)
		if err != nil {
			return fmt.Errorf("final_state: %w", err)
		}
		if subsetMatch(m, where) {
			candidates = append(candidates, m)
		}
	}

	if len(candidates) == 0 {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("row in %s/%s where %s", a.Device, a.Table, formatFields(a.Where)),
			Actual:   "no matching rows",
		}
	}

	for _, m := range candidates {
		if subsetMatch(m, expect) {
			return nil
		}
	}

	actual := make(map[string]any, len(expect))
	for k := range expect {
		actual[k] = candidates[0][k]
	}
	return &AssertionError{
		Type:     AssertFinalState,
		Expected: fmt.Sprintf("%s/%s where %s: %s", a.Device, a.Table, formatFields(a.Where), formatFields(a.Expect)),
		Actual:   formatFields(actual),
	}
}

// checkExpect compares a step's event against its expect clause.
func checkExpect(event TraceEvent, want *ExpectClause) []string {
	var errs []string
	if event.Outcome != want.Outcome {
		errs = append(errs, fmt.Sprintf("expected outcome %s, got %s", want.Outcome, event.Outcome))
	}
	if want.Code != "" && event.Code != want.Code {
		errs = append(errs, fmt.Sprintf("expected code %s, got %q", want.Code, event.Code))
	}
	if len(want.Result) > 0 && !subsetMatch(normalize(event.Result), normalize(want.Result)) {
		errs = append(errs, fmt.Sprintf("expected result %s, got %s", formatFields(want.Result), formatFields(event.Result)))
	}
	return errs
}

// rowMap converts an entity to its JSON field map.
func rowMap(row any) (map[string]any, error) {
	data, err := json.Marshal(row)
	if err != nil {
		return nil, fmt.Errorf("encode row: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode row: %w", err)
	}
	if r, ok := row.(model.CheckInRecord); ok {
		m["pending"] = string(r.Pending)
	}
	return m, nil
}

// normalize round-trips a YAML-decoded map through JSON so numbers
// compare as float64 on both sides.
func normalize(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return m
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return m
	}
	return out
}

// subsetMatch reports whether actual has every key in expected with an
// equal value. A key absent from actual equals null.
func subsetMatch(actual, expected map[string]any) bool {
	for k, want := range expected {
		if !reflect.DeepEqual(actual[k], want) {
			return false
		}
	}
	return true
}

func describeFilter(a Assertion) string {
	var parts []string
	parts = append(parts, "op "+a.Op)
	if a.Device != "" {
		parts = append(parts, "on "+a.Device)
	}
	if a.Outcome != "" {
		parts = append(parts, "outcome "+a.Outcome)
	}
	if len(a.Args) > 0 {
		args := make(map[string]any, len(a.Args))
		for k, v := range a.Args {
			args[k] = v
		}
		parts = append(parts, "args "+formatFields(args))
	}
	return strings.Join(parts, " ")
}

// formatFields renders a map with sorted keys.
func formatFields(m map[string]any) string {
	if len(m) == 0 {
		return "(none)"
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, m[k]))
	}
	return strings.Join(parts, " AND ")
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, read StateReader) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertFinalState:
			if read == nil {
				err = fmt.Errorf("assertion[%d]: final_state requires a state reader", i)
			} else {
				err = assertFinalState(read, assertion)
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
