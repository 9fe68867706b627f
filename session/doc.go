// Package session provides Redis-backed storage for provider data that
// belongs to a login session rather than to an account.
//
// A session that is mid-setup keeps its TFA state here until the setup is
// verified and promoted to the account record. Entries expire with the
// session; reads slide the expiry forward.
//
// # Architecture boundaries
//
// This package owns the [Store] (Redis operations). It does NOT decide
// authentication outcomes or move data into account scope; that belongs to
// the tfa providers.
//
// # What this package must NOT do
//
//   - Import the root package (no upward imports).
//   - Keep entries beyond the configured session TTL.
//   - Log provider data, which holds secrets.
package session
