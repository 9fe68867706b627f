// Package limiters provides Redis fixed-window counters for the gateway.
//
// # Limiters
//
//   - [AttemptLimiter]: failed TFA verifications per provider and user, with
//     per-provider overrides.
//   - [CallbackLimiter]: failed callback authentications per remote address.
//
// Both are nil-safe: calling any method on a nil receiver allows the request.
//
// # Architecture boundaries
//
// Each limiter owns its own Redis key namespace and error types. Policy thresholds
// come from Config structs supplied at construction time.
//
// # What this package must NOT do
//
//   - Import the root package or any sibling internal package.
//   - Make policy decisions beyond counting; flow functions decide consequences.
package limiters
