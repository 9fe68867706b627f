// Package permission maps named permissions to bits of a 64 bit mask,
// composes masks from user groups, and caches the resolved mask per user.
//
// # Architecture boundaries
//
// Registry and Groups are pure in-memory structures frozen at build time.
// Cache is the only mutable part; it is filled from a resolver supplied by
// the host and emptied only through Invalidate or InvalidateAll.
//
// # What this package must NOT do
//
//   - Access Redis, databases, or the network.
//   - Import threemaGW, tfa, or session.
//   - Expire entries on its own. Stale permissions are the host's
//     responsibility to invalidate.
package permission
