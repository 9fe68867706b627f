// Package internal groups the parts of threemaGW that are private to the
// module.
//
// # Sub-packages
//
//   - flows: pure-function orchestrators for the callback pipeline and cleanup
//   - limiters: Redis fixed-window counters for TFA attempts and callback failures
//   - stores: Redis persistence for messages, pending requests, keys and provider data
//
// # What this package must NOT do
//
//   - Export types that appear in the public threemaGW API.
//   - Be imported by any package outside the threemaGW module.
package internal
