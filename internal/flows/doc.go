// Package flows contains pure-function orchestrators for the Engine's
// callback pipeline and retention job.
//
// Each flow function (RunValidateCallback, RunReceive, RunCleanup) accepts a
// typed dependency struct and returns results without side-effects beyond
// those dependencies. This keeps the Engine type thin and lets the flows be
// tested with in-memory dependencies.
//
// # Architecture boundaries
//
// Flow functions coordinate the crypto adapter, the message store, the
// registered hooks and metrics. They do NOT own any of these resources;
// ownership stays with the Engine.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import the root package (to avoid import cycles).
//   - Perform I/O directly; all I/O is mediated through dependency funcs.
//   - Return detailed log entries as part of a public error reason.
package flows
