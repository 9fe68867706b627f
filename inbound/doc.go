// Package inbound holds the value types shared between the callback
// dispatcher and the handlers registered on it: the decrypted message, the
// structured processing log, and the pre-save/post-save hook signatures.
package inbound
