package main

import "github.com/pkg/errors"

// Sentinel errors returned by the client/channel databases and the command
// dispatcher. Callers compare against these with errors.Cause; wrap them
// with errors.Wrap to add call-site context.
var (
	// ErrDuplicateClient is returned when registering a UUID that is already
	// present in a ClientDatabase.
	ErrDuplicateClient = errors.New("client already registered")

	// ErrNicknameInUse is returned when a nickname collides with an existing
	// entry in a ClientDatabase's nickname index.
	ErrNicknameInUse = errors.New("nickname in use")

	// ErrUnknownClient is returned when a lookup by UUID or nickname finds
	// nothing.
	ErrUnknownClient = errors.New("no such client")

	// ErrUnableToRegister is returned when a client cannot complete
	// registration (for example, NICK and USER have not both arrived, or the
	// requested server name is already taken).
	ErrUnableToRegister = errors.New("unable to register client")

	// ErrSocketWouldBlock is returned by Socket I/O methods when the
	// operation cannot complete without blocking the calling goroutine.
	ErrSocketWouldBlock = errors.New("socket operation would block")

	// ErrSocketClosed is returned by Socket I/O methods once the peer (or we
	// ourselves) has closed the connection.
	ErrSocketClosed = errors.New("socket closed")
)
