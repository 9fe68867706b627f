// Package stores provides the Redis-backed persistence of the callback
// pipeline and the TFA matcher: the message replay guard, pending
// confirmation requests, the public key cache and account-scoped provider
// data.
//
// # Design
//
// Records are CBOR encoded. The replay guard relies on SETNX: a failed
// insert is the canonical "already received" signal, so concurrent
// deliveries of one message id cannot both succeed. Message keys never
// expire; cleanup only scrubs content and deletes the blobs a scrubbed
// record pointed to. Read-modify-write of provider data
// uses WATCH/MULTI optimistic transactions with bounded retries.
//
// # Architecture boundaries
//
// This package owns persistence and concurrency control. It does NOT
// decrypt, match or decide authentication outcomes; those belong to the
// gateway and tfa packages and the flow functions in internal/flows.
//
// # What this package must NOT do
//
//   - Import the root package or internal/flows.
//   - Delete a message id key.
//   - Log or expose message content or secrets.
package stores
