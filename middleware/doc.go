// Package middleware exposes HTTP middleware that prepares request context
// for threemaGW.Engine.
//
// [ClientInfo] records the client address and User-Agent with
// threemaGW.WithClientIP and threemaGW.WithUserAgent. The callback handler
// uses the address for its authentication failure throttling. TFA
// challenges and audit events pick both values up from the context.
//
// # What this package must NOT do
//
//   - Trust X-Forwarded-For from peers outside the configured proxies.
//   - Access Redis (Engine handles I/O).
package middleware
