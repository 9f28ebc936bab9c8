// Package harness runs multi-device check-in scenarios against real engines.
//
// Every device in a scenario gets its own SQLite store and engine. All of
// them talk to one shared in-memory authority, so races for the last spot,
// offline queues and inbound live updates can be played out step by step.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: last_spot_race
//	description: "Two devices race for the last spot"
//	devices: [front-desk, gym]
//	children:
//	  - id: child-a
//	    age: 5
//	sessions:
//	  - id: sess-1
//	    capacity: 19
//	    max: 20
//	flow:
//	  - device: front-desk
//	    op: checkin
//	    args: { child: child-a, session: sess-1 }
//	    expect:
//	      outcome: applied
//	assertions:
//	  - type: final_state
//	    device: gym
//	    table: sessions
//	    where: { id: sess-1 }
//	    expect: { current_capacity: 20 }
//
// # Operations
//
//   - checkin: args child, session, optional by and notes
//   - checkout: args child, optional by and notes
//   - sync: replay the device's pending records
//   - refresh_sessions: pull every session from the authority
//   - refresh_child: args child
//   - receive: deliver the authority's current child, session or record to
//     the device as a live event
//   - offline, online: toggle whether the authority is reachable
//
// Each step ends in one outcome: applied, queued, rejected, invalid or ok.
//
// # Assertion Types
//
//   - trace_contains: a step with the given op, device, outcome and args ran
//   - trace_order: ops first appear in the given order
//   - trace_count: a matching step ran exactly N times
//   - final_state: a row in a device's (or the authority's) table has the
//     expected fields
//
// # Deterministic Testing
//
// The clock starts at testutil.Epoch and moves one minute before every
// step. Each device mints record ids "<device>-1", "<device>-2" and so on;
// the authority mints "srv-1", "srv-2". Traces are therefore stable enough
// for golden file comparison.
package harness
