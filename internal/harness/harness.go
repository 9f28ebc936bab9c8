package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/roach88/rollcall/internal/engine"
	"github.com/roach88/rollcall/internal/live"
	"github.com/roach88/rollcall/internal/model"
	"github.com/roach88/rollcall/internal/remote"
	"github.com/roach88/rollcall/internal/store"
	"github.com/roach88/rollcall/internal/testutil"
)

// StepInterval is how far the clock moves before each flow step.
const StepInterval = time.Minute

// Harness is the scenario execution engine.
type Harness struct {
	auth    *testutil.Authority
	clock   *testutil.Clock
	devices map[string]*device
	logger  *slog.Logger
}

// device is one client with its own store and engine.
type device struct {
	name   string
	store  *store.Store
	engine *engine.Engine
}

// seqGenerator mints "<prefix>-1", "<prefix>-2", ...
type seqGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

func (g *seqGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}

// Run executes a scenario and returns the result.
//
// Each run gets fresh SQLite files in a temporary directory, removed on
// return. An error means the scenario could not be executed at all;
// failed expectations are reported in Result.Errors.
func Run(scenario *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "rollcall-harness-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	defer os.RemoveAll(dir)

	clock := testutil.NewClock(testutil.Epoch)
	h := &Harness{
		auth:    testutil.NewAuthority(clock),
		clock:   clock,
		devices: make(map[string]*device),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	defer h.close()

	for _, name := range scenario.Devices {
		st, err := store.Open(filepath.Join(dir, name+".db"))
		if err != nil {
			return nil, fmt.Errorf("failed to open store for %s: %w", name, err)
		}
		h.devices[name] = &device{
			name:  name,
			store: st,
			engine: engine.New(st, h.auth,
				engine.WithClock(clock.Now),
				engine.WithIDGenerator(&seqGenerator{prefix: name}),
			),
		}
	}

	ctx := context.Background()

	if err := h.seed(ctx, scenario); err != nil {
		return nil, fmt.Errorf("failed to seed scenario: %w", err)
	}

	result := NewResult()
	if err := h.executeFlow(ctx, scenario.Flow, result); err != nil {
		return nil, fmt.Errorf("failed to execute flow: %w", err)
	}

	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, h.stateReader(ctx)) {
		result.AddError(errMsg)
	}
	return result, nil
}

func (h *Harness) close() {
	for _, d := range h.devices {
		d.engine.FanOut().Close()
		d.store.Close()
	}
}

// seed writes the same children and sessions to every device and the
// authority.
func (h *Harness) seed(ctx context.Context, scenario *Scenario) error {
	for _, cs := range scenario.Children {
		c := testutil.Child(cs.ID, testutil.BornYearsAgo(cs.Age))
		h.auth.PutChild(c)
		for _, d := range h.devices {
			if err := d.store.UpsertChild(ctx, c); err != nil {
				return fmt.Errorf("child %s on %s: %w", cs.ID, d.name, err)
			}
		}
	}
	for _, ss := range scenario.Sessions {
		s := testutil.Session(ss.ID, ss.Capacity, ss.Max)
		s.AcceptingCheckIns = !ss.Closed
		h.auth.PutSession(s)
		for _, d := range h.devices {
			if err := d.store.UpsertSession(ctx, s); err != nil {
				return fmt.Errorf("session %s on %s: %w", ss.ID, d.name, err)
			}
		}
	}
	return nil
}

// executeFlow runs all flow steps and validates expect clauses.
func (h *Harness) executeFlow(ctx context.Context, flow []FlowStep, result *Result) error {
	for i, step := range flow {
		h.clock.Advance(StepInterval)

		event, err := h.execute(ctx, step)
		if err != nil {
			return fmt.Errorf("flow step %d (%s): %w", i+1, step.Op, err)
		}
		event.Step = i + 1
		result.AddTrace(event)

		if step.Expect != nil {
			for _, msg := range checkExpect(event, step.Expect) {
				result.AddError(fmt.Sprintf("flow step %d (%s): %s", event.Step, event.label(), msg))
			}
		}

		h.logger.Info("flow step completed",
			"step", event.Step,
			"device", event.Device,
			"op", event.Op,
			"outcome", event.Outcome,
			"code", event.Code,
		)
	}
	return nil
}

// execute runs one step and turns what happened into a trace event.
func (h *Harness) execute(ctx context.Context, step FlowStep) (TraceEvent, error) {
	event := TraceEvent{Device: step.Device, Op: step.Op}
	if len(step.Args) > 0 {
		event.Args = make(map[string]any, len(step.Args))
		for k, v := range step.Args {
			event.Args[k] = v
		}
	}

	by := step.Args["by"]
	if by == "" {
		by = step.Device
	}
	d := h.devices[step.Device]

	switch step.Op {
	case OpOffline:
		h.auth.SetOffline(true)
		event.Outcome = OutcomeOK

	case OpOnline:
		h.auth.SetOffline(false)
		event.Outcome = OutcomeOK

	case OpCheckIn:
		rec, err := d.engine.CheckIn(ctx, step.Args["child"], step.Args["session"], by, step.Args["notes"])
		return recordEvent(event, rec, err)

	case OpCheckOut:
		rec, err := d.engine.CheckOut(ctx, step.Args["child"], by, step.Args["notes"])
		return recordEvent(event, rec, err)

	case OpSync:
		summary, err := d.engine.SyncPending(ctx)
		if err != nil {
			return event, err
		}
		event.Outcome = OutcomeOK
		event.Result = map[string]any{
			"applied":   summary.Applied,
			"reverted":  summary.Reverted,
			"deferred":  summary.Deferred,
			"remaining": summary.Remaining,
		}

	case OpRefreshSessions:
		sessions, err := d.engine.RefreshSessions(ctx)
		if err := classify(&event, err); err != nil {
			return event, err
		}
		if event.Outcome == OutcomeApplied {
			event.Result = map[string]any{"sessions": len(sessions)}
		}

	case OpRefreshChild:
		child, err := d.engine.RefreshChild(ctx, step.Args["child"])
		if err := classify(&event, err); err != nil {
			return event, err
		}
		if event.Outcome == OutcomeApplied {
			event.Result = map[string]any{"status": string(child.Status)}
		}

	case OpReceive:
		ev, err := h.liveEvent(step.Args)
		if err != nil {
			return event, err
		}
		if err := d.engine.ApplyInboundEvent(ctx, ev); err != nil {
			return event, err
		}
		event.Outcome = OutcomeOK
		event.Result = map[string]any{"event": string(ev.Type)}

	default:
		return event, fmt.Errorf("unknown op %q", step.Op)
	}
	return event, nil
}

// recordEvent fills in the outcome of a check-in or check-out.
func recordEvent(event TraceEvent, rec model.CheckInRecord, err error) (TraceEvent, error) {
	if err := classify(&event, err); err != nil {
		return event, err
	}
	if err == nil {
		event.Result = map[string]any{"record_id": rec.ID}
		if rec.Pending != model.PendingNone {
			event.Outcome = OutcomeQueued
			event.Result["pending"] = string(rec.Pending)
		}
	}
	return event, nil
}

// classify sets the outcome for err. Validation failures and rejections
// are expected results; anything else is returned as a harness failure.
func classify(event *TraceEvent, err error) error {
	var ve *engine.ValidationError
	var re *remote.RejectionError
	switch {
	case err == nil:
		event.Outcome = OutcomeApplied
	case errors.As(err, &ve):
		event.Outcome = OutcomeInvalid
		event.Code = string(ve.Code)
	case errors.As(err, &re):
		event.Outcome = OutcomeRejected
		event.Code = re.Code
	case remote.IsTransport(err):
		event.Outcome = OutcomeQueued
	default:
		return err
	}
	return nil
}

// liveEvent builds the event the authority would broadcast for the
// entity named in args.
func (h *Harness) liveEvent(args map[string]string) (live.Event, error) {
	switch {
	case args["child"] != "":
		c := h.auth.Child(args["child"])
		if c.ID == "" {
			return live.Event{}, fmt.Errorf("authority has no child %s", args["child"])
		}
		return live.Event{Type: live.EventChildStatusChanged, Child: &c}, nil

	case args["session"] != "":
		s := h.auth.Session(args["session"])
		if s.ID == "" {
			return live.Event{}, fmt.Errorf("authority has no session %s", args["session"])
		}
		return live.Event{Type: live.EventSessionCapacityChanged, Session: &s}, nil

	default:
		r := h.auth.Record(args["record"])
		if r.ID == "" {
			return live.Event{}, fmt.Errorf("authority has no record %s", args["record"])
		}
		c := h.auth.Child(r.ChildID)
		s := h.auth.Session(r.SessionID)
		typ := live.EventCheckedIn
		if r.Status == model.RecordCheckedOut {
			typ = live.EventCheckedOut
		}
		return live.Event{Type: typ, Record: &r, Child: &c, Session: &s}, nil
	}
}

// stateReader returns the rows of a table as seen by a device or the
// authority.
func (h *Harness) stateReader(ctx context.Context) StateReader {
	return func(deviceName, table string) ([]any, error) {
		if deviceName == AuthorityDevice {
			switch table {
			case "children":
				return toAny(h.auth.Children()), nil
			case "sessions":
				return toAny(h.auth.Sessions()), nil
			default:
				return toAny(h.auth.Records()), nil
			}
		}

		d, ok := h.devices[deviceName]
		if !ok {
			return nil, fmt.Errorf("unknown device %q", deviceName)
		}
		switch table {
		case "children":
			rows, err := d.store.ListChildren(ctx, nil)
			return toAny(rows), err
		case "sessions":
			rows, err := d.store.ListSessions(ctx, nil)
			return toAny(rows), err
		default:
			rows, err := d.store.ListRecords(ctx, nil)
			return toAny(rows), err
		}
	}
}

func toAny[T any](rows []T) []any {
	out := make([]any, len(rows))
	for i, r := range rows {
		out[i] = r
	}
	return out
}
