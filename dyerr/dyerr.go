// Package dyerr implements the closed error taxonomy of spec §7 and the
// recovery-policy helpers built on top of it.
package dyerr

import "fmt"

// Code is one of the closed taxonomy values from spec §7.
type Code int

const (
	OK Code = iota
	DomainNotFound
	DomainExpressionError
	StreamError
	LibraryNotLoaded
	ResolutionFailure
	TargetTransient
	MalformedPacket
	KindMismatch
	Fatal
)

func (c Code) String() string {
	switch c {
	case OK:
		return "OK"
	case DomainNotFound:
		return "DomainNotFound"
	case DomainExpressionError:
		return "DomainExpressionError"
	case StreamError:
		return "StreamError"
	case LibraryNotLoaded:
		return "LibraryNotLoaded"
	case ResolutionFailure:
		return "ResolutionFailure"
	case TargetTransient:
		return "TargetTransient"
	case MalformedPacket:
		return "MalformedPacket"
	case KindMismatch:
		return "KindMismatch"
	case Fatal:
		return "Fatal"
	default:
		return "Unknown"
	}
}

// Error pairs a Code with a human-readable message, so call sites can
// both log it and inspect the code programmatically.
type Error struct {
	Code Code
	Msg  string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Msg) }

// New builds an *Error with a formatted message.
func New(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Is lets errors.Is(err, dyerr.New(dyerr.Fatal, "")) match any *Error
// carrying the same Code, ignoring Msg. errors.Is walks err's chain
// looking for an Is(error) bool method on err itself, so the method
// belongs on *Error (the source side), not on Code (the target side).
func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == te.Code
}

// CodeOf extracts the Code carried by err, or OK if err is nil and
// Fatal if err is non-nil but not a *Error (an unexpected/foreign
// error, treated as unrecoverable).
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return Fatal
}

// PerProbe reports whether a code's recovery policy is "log it, mark
// the probe dead, let siblings continue" (spec §7).
func PerProbe(c Code) bool {
	switch c {
	case ResolutionFailure, TargetTransient, DomainExpressionError:
		return true
	default:
		return false
	}
}

// PerPacket reports whether a code's recovery policy is "drop the
// packet, log, keep the stream open" (spec §7).
func PerPacket(c Code) bool {
	switch c {
	case MalformedPacket, KindMismatch:
		return true
	default:
		return false
	}
}
