// Package harness replays guideline scenarios against a fresh in-memory
// store and checks the outcome.
//
// A scenario seeds stored guidelines, applies one or more guideline
// batches, optionally holds a conversation with the acknowledging engine,
// and then asserts on the resulting guidelines, relationships and session
// events.
//
// # Scenario Format
//
//	name: storm_entailment
//	description: "An in-batch guideline entails a stored one"
//	existing:
//	  - condition: it storms
//	    action: stay indoors
//	batches:
//	  - file: batches/rain.yaml        # relative to the scenario file
//	  - guidelines:                    # or inline, in batch file shape
//	      - name: wind
//	        condition: it is windy
//	        action: hold on to your hat
//	    expect_error: ""               # substring the batch must fail with
//	conversation:
//	  customer: c-1
//	  greeting: "Welcome!"
//	  messages: [hello]
//	assertions:
//	  - type: guideline_count
//	    count: 3
//	  - type: entailment
//	    source: {condition: it rains, action: bring an umbrella}
//	    target: {condition: it storms, action: stay indoors}
//	  - type: agent_messages
//	    messages: ["Welcome!", "You said: hello"]
//
// # Assertion Types
//
//   - guideline_count: exactly Count guidelines are stored
//   - guideline_exists: a guideline with Condition and Action is stored
//   - relationship_count: exactly Count relationships (of Kind, if set)
//   - entailment: an entailment edge runs from Source to Target
//   - agent_messages: the agent's messages, in order, equal Messages
//   - event_trail: Trail labels appear in order among the session events
//
// guideline_exists and entailment accept absent: true to assert the
// opposite.
//
// # Deterministic Testing
//
// Every run uses sequential ids ("id-1", "id-2", ... for stored records,
// "corr-1", ... for correlation scopes) and testutil.DeterministicClock, and
// waits for each processing run before the next step. The same scenario
// therefore always produces the same Snapshot, which RunWithGolden compares
// against testdata/golden.
package harness
