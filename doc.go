// Package threemaGW receives end-to-end encrypted messages from the Threema
// gateway and uses them as a second factor for logins.
//
// The package is the public surface: [Builder] wires an [Engine] from a
// [Config], a Redis client and the host's collaborators
// ([AccountProvider], [PermissionProvider]). Engine methods are safe for
// concurrent use after Build.
//
// # Callback pipeline
//
// [Engine.CallbackHandler] validates a callback in three stages (request
// preconditions, access token and MAC, formalities such as the date
// window), decrypts it, runs the pre-save hooks and stores either the full
// message or a placeholder. A message id is stored at most once; a second
// delivery is answered as a replay. Failures the gateway should retry
// answer 500, everything else 200 with the public log as body.
//
// # Message based TFA
//
// Three modes are available through [Engine.TriggerTFA] and
// [Engine.VerifyTFA]: a code sent to the user (conventional), a message
// the user acknowledges in the app (fast), and a code the user sends to the
// gateway (reversed). The pre-save hooks registered at build time match
// inbound messages against pending confirmations.
//
// # What this package must NOT do
//
//   - Return detailed log entries or message content in an HTTP body.
//   - Delete a message id. Retention only scrubs content and dates.
//   - Cache permissions without a way to invalidate them.
package threemaGW
