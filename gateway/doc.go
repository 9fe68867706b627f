// Package gateway is the crypto and transport adapter for the Threema
// message gateway (msgapi.threema.ch) in end-to-end mode.
//
// It decrypts NaCl-boxed callback payloads into typed messages, verifies the
// callback MAC, encrypts and sends outbound messages, resolves public keys,
// and downloads encrypted blobs for file and image messages.
//
// # What this package must NOT do
//
//   - Persist anything. Callers own replay protection and storage.
//   - Log plaintext message content.
//   - Compare secrets with non-constant-time functions.
package gateway
