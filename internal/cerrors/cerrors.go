// Package cerrors defines the error-kind taxonomy shared by every covstore
// component. Errors are returned, never thrown: every exported call across
// the engine surfaces one of these kinds, wrapped with xerrors at the call
// boundary that detected it.
package cerrors

import "golang.org/x/xerrors"

// Kind classifies a covstore error independent of its message text, so
// callers can branch on `cerrors.Is(err, cerrors.NotFound)` instead of
// matching strings.
type Kind int

const (
	// Unknown is the zero value; it should never appear in a wrapped error
	// returned across the engine's public surface.
	Unknown Kind = iota
	NotFound
	AlreadyExists
	NotOpen
	AlreadyOpen
	OutOfSpace
	BadIndex
	NotAllocated
	IoError
	FormatError
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not found"
	case AlreadyExists:
		return "already exists"
	case NotOpen:
		return "not open"
	case AlreadyOpen:
		return "already open"
	case OutOfSpace:
		return "out of space"
	case BadIndex:
		return "bad index"
	case NotAllocated:
		return "not allocated"
	case IoError:
		return "io error"
	case FormatError:
		return "format error"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a Kind and the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op + ": " + e.Kind.String()
	}
	return e.Op + ": " + e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an *Error for op failing with kind, optionally wrapping err.
func New(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf constructs an *Error of the given kind, with an empty Op, whose
// cause is the xerrors-formatted message (a %w verb in format wraps another
// error), matching the "%v: %w"-style wrapping used throughout the rest of
// the engine.
func Errorf(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Err: xerrors.Errorf(format, args...)}
}

// Is reports whether the first *Error in err's wrap chain (err itself
// included) carries the given Kind. Kinds of *Error values wrapped deeper
// than that first one are not consulted.
func Is(err error, kind Kind) bool {
	var ce *Error
	for err != nil {
		if e, ok := err.(*Error); ok {
			ce = e
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return ce != nil && ce.Kind == kind
}
