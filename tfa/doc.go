// Package tfa implements two-factor authentication over the Threema gateway.
//
// Three providers share one state machine shape (Idle, Triggered, then
// Verified, Expired or Failed) and differ in how the secret travels:
//
//   - Conventional: the server sends a 6-digit code, the user types it in.
//   - Fast: the server sends a message, the user acknowledges it in the app;
//     the delivery receipt is the confirmation. Declining it can block the
//     mode, ban the account or IP, and notify the user.
//   - Reversed: the server shows a code, the user sends it to the gateway.
//
// Asynchronous replies arrive through the callback pipeline. A [Matcher]
// correlates them with outstanding [PendingRequest] records and merges what
// it observed into the user's [ProviderData]. Verification later reads that
// state synchronously from the login flow.
//
// # What this package must NOT do
//
//   - Compare codes or secrets with non-constant-time functions.
//   - Leave one-shot fields in ProviderData after a cycle ends.
//   - Return errors for ordinary wrong-code outcomes; those are VerifyResult reasons.
package tfa
