package analysis

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies why an analysis did not produce a Result.
type Kind string

const (
	KindInvalidInput       Kind = "invalid_input"
	KindTransportFailure   Kind = "transport_failure"
	KindCapabilityRejected Kind = "capability_rejected"
	KindMalformedResponse  Kind = "malformed_response"
)

func (k Kind) String() string { return string(k) }

// Error is the only error type returned by Client.Analyze.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

func InvalidInput(msg string) *Error {
	return &Error{Kind: KindInvalidInput, Msg: msg}
}

func Malformed(msg string, err error) *Error {
	return &Error{Kind: KindMalformedResponse, Msg: msg, Err: err}
}

func Transport(err error) *Error {
	return &Error{Kind: KindTransportFailure, Err: err}
}

func Rejected(err error) *Error {
	return &Error{Kind: KindCapabilityRejected, Err: err}
}

// KindOf reports the Kind carried by err. Errors that were never classified
// by a capability count as transport failures.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindTransportFailure
}

// classify turns whatever a capability returned into an *Error.
// A hit deadline is always a transport failure, whatever the capability said.
func classify(err error) *Error {
	var ae *Error
	if !errors.As(err, &ae) {
		return Transport(err)
	}
	if ae.Kind != KindTransportFailure && isContextErr(err) {
		return &Error{Kind: KindTransportFailure, Msg: ae.Msg, Err: ae.Err}
	}
	return ae
}

func isContextErr(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}
