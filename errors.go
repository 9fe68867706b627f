package threemaGW

import (
	"errors"

	"github.com/MrEthical07/threemaGW/tfa"
)

var (
	// ErrEngineNotReady is returned by a nil or partially built Engine.
	ErrEngineNotReady = errors.New("engine not initialized")

	// ErrDownloadDir means the download directory is missing or not writable.
	ErrDownloadDir = errors.New("download directory unavailable")
	// ErrMalformedCallback means a validated callback could not be parsed.
	ErrMalformedCallback = errors.New("malformed callback payload")
	// ErrReplayDetected means the message id was already received.
	ErrReplayDetected = errors.New("message replay detected")
	// ErrDecryptFailed means the payload could not be opened.
	ErrDecryptFailed = errors.New("message decryption failed")
	// ErrHookFailed means a pre-save hook aborted the pipeline.
	ErrHookFailed = errors.New("message hook failed")
	// ErrStorageUnavailable wraps persistence failures.
	ErrStorageUnavailable = errors.New("message storage unavailable")

	// ErrMessageNotFound is returned when no record exists for a message id.
	ErrMessageNotFound = errors.New("message not found")

	// ErrUnknownProvider is returned for a provider id that is not enabled.
	ErrUnknownProvider = errors.New("unknown tfa provider")
	// ErrTFANotConfigured means the user has not set up the provider.
	ErrTFANotConfigured = tfa.ErrNotConfigured
	// ErrTFABlocked means fast mode is blocked after a declined confirmation.
	ErrTFABlocked = tfa.ErrTriggerBlocked
	// ErrInvalidThreemaID rejects setup with a malformed id.
	ErrInvalidThreemaID = tfa.ErrInvalidThreemaID
	// ErrNoProviderData means no state exists for the challenge.
	ErrNoProviderData = tfa.ErrNoProviderData
	// ErrSessionRequired means a setup challenge came without a session id.
	ErrSessionRequired = errors.New("session id required for setup")
)
