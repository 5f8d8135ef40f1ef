package interfaces

import (
	"errors"
	"fmt"
)

// Common sentinel errors returned by connectors.
var (
	// ErrNotConnected is returned when an operation requires a live
	// session and there is none.
	ErrNotConnected = errors.New("exchange connector not connected")

	// ErrClosed is returned when an operation is attempted after Stop.
	ErrClosed = errors.New("exchange connector closed")

	// ErrInvalidCredentials is returned when the exchange rejects the
	// supplied API credentials. Credential errors are fatal and never
	// retried automatically.
	ErrInvalidCredentials = errors.New("invalid API credentials")

	// ErrSubscriptionFailed is returned when a channel subscription is
	// rejected by the exchange.
	ErrSubscriptionFailed = errors.New("failed to establish subscription")

	// ErrReconnectExhausted is returned as the terminal session error
	// when the reconnect attempt limit is exceeded.
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
)

// TransportError is a connection-level failure: dial, handshake, or an
// unexpected drop. Transport errors trigger reconnection.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// AuthError is a rejected login or signature. Fatal: the session goes to
// Closed instead of retrying.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("authentication failed: %s", e.Reason)
}

func (e *AuthError) Unwrap() error { return e.Err }

// ProtocolError is an unparseable or out-of-sequence message. For book
// deltas it invalidates the instrument's book; for control messages it is
// logged and dropped.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("protocol error: %s", e.Reason)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// ValidationError is a malformed caller-supplied value, rejected before
// any network call is made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsFatal reports whether err should terminate the session rather than
// trigger a reconnect.
func IsFatal(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr) || errors.Is(err, ErrInvalidCredentials)
}
