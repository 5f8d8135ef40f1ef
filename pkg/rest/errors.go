package rest

import (
	"errors"
	"fmt"
)

// Kind classifies a request failure so callers can choose a retry policy
// without string matching.
type Kind int

const (
	// KindExchange is a generic exchange-reported rejection.
	KindExchange Kind = iota
	// KindRateLimit means the exchange throttled the request despite the
	// local budget. Transient; the caller may back off and retry.
	KindRateLimit
	// KindAuth means the exchange rejected the credentials or signature.
	// Fatal; retrying with the same credentials cannot succeed.
	KindAuth
)

func (k Kind) String() string {
	switch k {
	case KindRateLimit:
		return "rate_limit"
	case KindAuth:
		return "auth"
	default:
		return "exchange"
	}
}

// Error is a typed REST failure carrying the exchange's error code and
// message when one was returned.
type Error struct {
	Method  string
	Path    string
	Status  int
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v", e.Method, e.Path, e.Err)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s %s: status %d, code %s: %s", e.Method, e.Path, e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.Status)
}

func (e *Error) Unwrap() error { return e.Err }

// IsRateLimit reports whether err is a rate-limit rejection.
func IsRateLimit(err error) bool {
	var re *Error
	return errors.As(err, &re) && re.Kind == KindRateLimit
}

// IsAuth reports whether err is an authentication rejection.
func IsAuth(err error) bool {
	var re *Error
	return errors.As(err, &re) && re.Kind == KindAuth
}
