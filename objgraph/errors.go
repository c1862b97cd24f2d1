package objgraph

import (
	"errors"
	"fmt"
)

// Code is a machine-readable error category.
type Code string

const (
	// CodeStreamShape marks an entry of an unexpected kind.
	CodeStreamShape Code = "STREAM_SHAPE"
	// CodeValueParse marks entry content that failed numeric, guid or reference parsing.
	CodeValueParse Code = "VALUE_PARSE"
	// CodeCrossBoundary marks an end-of-array found while closing a node, or vice versa.
	CodeCrossBoundary Code = "CROSS_BOUNDARY"
	// CodeResolution marks a type for which no formatter could be resolved.
	CodeResolution Code = "RESOLUTION"
	// CodeInstantiation marks a formatter that could not be built for a matched template.
	CodeInstantiation Code = "INSTANTIATION"
	// CodeUsage marks a caller error, such as a non-primitive primitive array.
	CodeUsage Code = "USAGE"
	// CodeIO marks a failure of the underlying sink or source.
	CodeIO Code = "IO"
)

// Sentinel errors.
var (
	ErrAborted           = errors.New("session aborted")
	ErrPrimitiveType     = errors.New("primitive types have no formatter")
	ErrNoFormatter       = errors.New("no formatter for type")
	ErrNotPrimitiveArray = errors.New("element type is not a fixed-width primitive")
	ErrUnsupportedShape  = errors.New("unsupported type shape")
	ErrEmptyChar         = errors.New("empty string read as a character")
)

// Error is a structured error with a code and optional cause.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates an Error with the given code and formatted message.
func NewError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapError creates an Error wrapping cause.
func WrapError(code Code, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// IsCode reports whether err carries the given code anywhere in its chain.
func IsCode(err error, code Code) bool {
	var e *Error
	for err != nil {
		if !errors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.Cause
	}
	return false
}

// GetCode extracts the outermost error code, or "" if err is not an *Error.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// abortSignal is the panic value used to unwind a session. It is recovered
// only by the session entry points.
type abortSignal struct {
	err error
}

// abort unwinds the current session with err.
func abort(err error) {
	panic(abortSignal{err: err})
}

// recoverAbort converts an abort panic into an error. Other panics are re-raised.
func recoverAbort(errp *error) {
	rec := recover()
	if rec == nil {
		return
	}
	sig, ok := rec.(abortSignal)
	if !ok {
		panic(rec)
	}
	*errp = fmt.Errorf("%w: %w", ErrAborted, sig.err)
}
