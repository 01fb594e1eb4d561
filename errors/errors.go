// Package errors defines the sentinel errors of the chat engine and their
// user-facing representations. Internal errors are wrapped with %w so callers
// can match them with errors.Is; only UserMessage output ever reaches a client.
package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyCredentials rejects registration or login attempts before any
	// store or hashing work is done.
	ErrEmptyCredentials = fmt.Errorf("username and password are required")

	// ErrUserAlreadyExists signals a registration collision on the account name.
	ErrUserAlreadyExists = fmt.Errorf("user already exists")

	// ErrUnknownAccount signals a login against a name absent from the
	// credential store. Kept distinct from ErrInvalidCredentials so the client
	// can suggest registering instead of retrying the password.
	ErrUnknownAccount = fmt.Errorf("unknown account")

	// ErrInvalidCredentials signals a wrong password for an existing account.
	ErrInvalidCredentials = fmt.Errorf("invalid credentials")

	// ErrAlreadyAuthenticated signals a second bind attempt on the same connection.
	ErrAlreadyAuthenticated = fmt.Errorf("connection already authenticated")

	// ErrSessionExists signals a duplicate connection id in the registry.
	ErrSessionExists = fmt.Errorf("session already registered")

	// ErrUnknownSession signals an operation on a connection id the registry
	// has never seen, or has already closed.
	ErrUnknownSession = fmt.Errorf("unknown session")

	// ErrStore wraps unexpected persistence failures. Logged server-side,
	// reported to the caller as a generic failure.
	ErrStore = fmt.Errorf("store failure")

	ErrTokenGeneration = fmt.Errorf("token generation failed")
	ErrEmptyWords      = fmt.Errorf("no censored words have been found")
	ErrWorkerPanic     = fmt.Errorf("worker panic")

	// ErrPayloadTooLarge rejects inbound payloads above the configured cap
	// before they reach persistence or broadcast.
	ErrPayloadTooLarge = fmt.Errorf("payload too large")

	// ErrInvalidImage rejects image payloads whose decoded bytes do not sniff
	// as an image MIME type.
	ErrInvalidImage = fmt.Errorf("invalid image payload")
)

// UserMessage maps an internal error to the text sent back in a response
// event. Unknown errors collapse into a generic failure so nothing internal
// leaks to the peer.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrEmptyCredentials):
		return "username and password must not be empty"
	case errors.Is(err, ErrUserAlreadyExists):
		return "that name is already taken, pick another one"
	case errors.Is(err, ErrUnknownAccount):
		return "account does not exist, please register first"
	case errors.Is(err, ErrInvalidCredentials):
		return "wrong password"
	case errors.Is(err, ErrAlreadyAuthenticated):
		return "already logged in on this connection"
	case errors.Is(err, ErrPayloadTooLarge):
		return "message is too large"
	case errors.Is(err, ErrInvalidImage):
		return "unsupported image payload"
	default:
		return "server error, please try again later"
	}
}
