// Package engine defines the contract between parley and the agent engine
// that turns a session's events into agent responses.
//
// The engine is a black box to the rest of parley. The application hands it
// a Context (which session, which agent) and an EventEmitter, and the engine
// reports everything it does by emitting events into the session log:
//
//   - status events: acknowledged, processing, typing, ready, error
//   - message events: what the agent says
//   - tool events: tool calls and their results
//
// Emitted events are stamped with the correlation id of the context they
// are emitted from, so one dispatch can be traced end to end.
//
// ENGINES:
//
// Acknowledger is the engine built into the CLI. It acknowledges the
// latest customer message, echoes it back, and reports ready. Real
// reasoning engines implement the same interface.
//
// CANCELLATION:
//
// Process runs as a background task that is cancelled when a newer dispatch
// for the same session supersedes it. Engines must return promptly once ctx
// is cancelled. A superseded run does not emit a status of its own; the
// replacement run reads the session again and reports from there.
package engine
