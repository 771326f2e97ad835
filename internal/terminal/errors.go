package terminal

import "errors"

var (
	// ErrInvalidArgument rejects a request before any process is spawned.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrSessionNotFound reports an unknown session id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionClosed reports an operation on a closed session.
	ErrSessionClosed = errors.New("session is closed")
)
