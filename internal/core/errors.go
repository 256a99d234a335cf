// Copyright (c) 2021 Western Digital Corporation or its affiliates.  All rights reserved.
// SPDX-License-Identifier: MIT

package core

// Error is our own defined error type so that error codes can be compared and
// reported uniformly across the device, the agent session and the wire layer.
type Error int

const (
	// NoError means no error.
	NoError = Error(iota)

	//------ Transport level errors ------//

	// ErrConnect is returned if we can't establish the agent socket
	// connection. The device simply fails to open; nothing is fatal at the
	// process level.
	ErrConnect

	// ErrClosed is returned for operations on a session after Close has been
	// called on it.
	ErrClosed

	//------ Protocol faults ------//

	// ErrShortRead is returned if the agent socket yields fewer bytes than a
	// frame requires. The session is unusable afterwards.
	ErrShortRead

	// ErrShortWrite is returned if a frame could not be written to the agent
	// socket in full. The session is unusable afterwards.
	ErrShortWrite

	// ErrProtocol is returned if a length-prefixed payload fails to decode,
	// or a response is missing a field the protocol requires. Indicates the
	// byte stream is out of sync; the session is unusable afterwards.
	ErrProtocol

	//------ Internal invariant violations ------//

	// ErrConsistency is returned when the agent and the device disagree about
	// state that must match: an echoed block id or data length differs from
	// the original request, a request slot doesn't hold the request that
	// claimed it, a serial completion arrives while the previous one is still
	// unconsumed, or an uberblock has the wrong size. Always a bug or a
	// desync, never recoverable.
	ErrConsistency

	//------ Normal, expected failures ------//

	// ErrNotSupported is returned for device operations this backend does not
	// implement (e.g. TRIM).
	ErrNotSupported

	// ErrInvalidArgument is returned if configuration or an argument is bad
	// (eg a missing endpoint, a zero-length I/O).
	ErrInvalidArgument

	//------ Meta-error ------//

	// ErrUnknown is an error that we're not really sure about.
	ErrUnknown
)

var description = map[Error]string{
	NoError: "no error",

	ErrConnect: "failed to connect to agent",
	ErrClosed:  "session is closed",

	ErrShortRead:  "short read on agent socket",
	ErrShortWrite: "short write on agent socket",
	ErrProtocol:   "malformed or incomplete agent message",

	ErrConsistency: "agent/device state mismatch",

	ErrNotSupported:    "operation not supported",
	ErrInvalidArgument: "invalid argument",

	ErrUnknown: "unknown error",
}

// String returns the description of an Error.
func (e Error) String() string {
	if s, ok := description[e]; ok {
		return s
	}
	return "NO DESCRIPTION FOR ERROR FIX THIS"
}

// Error returns a golang error object with an error message corresponding to
// this core.Error.
func (e Error) Error() error {
	if e == NoError {
		return nil
	}
	return goError(e)
}

// Is checks whether the generic Go error 'g' is actually the receiver error
// underneath.
func (e Error) Is(g error) bool {
	b, ok := g.(goError)
	return ok && (Error)(b) == e
}

// goError is a wrapper type to make our Error act like Go's 'error'.
type goError Error

// Error implements the 'error' interface.
func (g goError) Error() string {
	return (Error)(g).String()
}

// FromError gets the underlying core.Error from an error.
func FromError(err error) (Error, bool) {
	e, ok := err.(goError)
	return Error(e), ok
}

// IsProtocolFault reports whether an error means the agent byte stream can no
// longer be trusted. Such errors are fatal to the connection as a whole; there
// is no partial-failure isolation between requests sharing a session.
func IsProtocolFault(err Error) bool {
	switch err {
	case ErrShortRead, ErrShortWrite, ErrProtocol, ErrConsistency:
		return true
	}
	return false
}
