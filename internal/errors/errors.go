package errors

import (
	"fmt"
	"strings"

	"kestrel/internal/object"
)

// ErrorKind tags the variants of a runtime error.
type ErrorKind string

const (
	ThrownException   ErrorKind = "ThrownException"
	DynamicTypeError  ErrorKind = "TypeError"
	NoSuchMethodError ErrorKind = "NoSuchMethodError"
	CompilationError  ErrorKind = "CompileError"
	InvariantError    ErrorKind = "InvariantError"
)

// RuntimeError is the tagged failure value runtime entries produce. It
// crosses the generated-code boundary as an error return, never as a panic.
type RuntimeError struct {
	Kind    ErrorKind
	Message string

	// ThrownException payload.
	Exception  object.Value
	Stacktrace object.Value

	// DynamicTypeError payload.
	TokenPos       int
	SrcTypeName    string
	DstTypeName    string
	DstName        string
	MalformedError string

	// NoSuchMethodError payload.
	Receiver   object.Value
	MethodName object.Symbol
	Arguments  *object.Array
	// SimilarParameterNames carries the parameter names of a same-named
	// method with different arity, as a diagnostic hint.
	SimilarParameterNames *object.Array
}

func (e *RuntimeError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %s", e.Kind, e.Message)
	if e.Kind == DynamicTypeError {
		fmt.Fprintf(&sb, " (token %d)", e.TokenPos)
	}
	return sb.String()
}

// Throw raises a language-level exception carrying the given instance.
func Throw(exception object.Value) error {
	return &RuntimeError{
		Kind:      ThrownException,
		Message:   fmt.Sprintf("unhandled exception: %s", object.ToString(exception)),
		Exception: exception,
	}
}

// ReThrow re-raises an exception preserving its original stack trace.
func ReThrow(exception, stacktrace object.Value) error {
	return &RuntimeError{
		Kind:       ThrownException,
		Message:    fmt.Sprintf("unhandled exception: %s", object.ToString(exception)),
		Exception:  exception,
		Stacktrace: stacktrace,
	}
}

// CreateAndThrowTypeError builds the dynamic type error thrown by failing
// instance-of, assignment, condition and bounds-check paths.
func CreateAndThrowTypeError(tokenPos int, srcTypeName, dstTypeName, dstName, malformedError string) error {
	msg := fmt.Sprintf("type '%s' is not a subtype of type '%s' of '%s'",
		srcTypeName, dstTypeName, dstName)
	if malformedError != "" {
		msg = malformedError
	}
	return &RuntimeError{
		Kind:           DynamicTypeError,
		Message:        msg,
		TokenPos:       tokenPos,
		SrcTypeName:    srcTypeName,
		DstTypeName:    dstTypeName,
		DstName:        dstName,
		MalformedError: malformedError,
	}
}

// ThrowNoSuchMethod builds the error raised after resolution, implicit
// closures and getter dispatch are all exhausted.
func ThrowNoSuchMethod(receiver object.Value, name object.Symbol, args *object.Array, similarParams *object.Array) error {
	return &RuntimeError{
		Kind:                  NoSuchMethodError,
		Message:               fmt.Sprintf("no such method: '%s' on %s", name, object.ToString(receiver)),
		Receiver:              receiver,
		MethodName:            name,
		Arguments:             args,
		SimilarParameterNames: similarParams,
	}
}

// NewCompilationError wraps a compiler failure; it propagates unchanged.
func NewCompilationError(message string) error {
	return &RuntimeError{Kind: CompilationError, Message: message}
}

// NewInvariantError reports a fatal runtime invariant violation.
func NewInvariantError(format string, args ...interface{}) error {
	return &RuntimeError{Kind: InvariantError, Message: fmt.Sprintf(format, args...)}
}

// PropagateError surfaces an error to the nearest managed handler. Entries
// call this instead of handling errors locally unless their contract
// explicitly permits recovery.
func PropagateError(err error) error {
	return err
}

// IsUnhandledException reports whether err is a thrown language-level
// exception (as opposed to a compilation or invariant failure).
func IsUnhandledException(err error) bool {
	re, ok := err.(*RuntimeError)
	return ok && re.Kind == ThrownException
}

// IsCompilationError reports whether err came out of the compiler.
func IsCompilationError(err error) bool {
	re, ok := err.(*RuntimeError)
	return ok && re.Kind == CompilationError
}

// Kind extracts the error kind, or "" for a foreign error.
func Kind(err error) ErrorKind {
	if re, ok := err.(*RuntimeError); ok {
		return re.Kind
	}
	return ""
}
