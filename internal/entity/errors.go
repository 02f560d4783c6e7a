package entity

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an entity-level failure.
type Kind int

const (
	// MalformedReference is a representation missing its type tag or a key field.
	MalformedReference Kind = iota + 1
	// ResolverError is a failed resolver call, for the whole group or one key.
	ResolverError
	// NotFound is a successful resolver call that returned nothing for a key.
	NotFound
	// SchemaConflict is a stored document carrying a different type tag.
	SchemaConflict
)

func (k Kind) String() string {
	switch k {
	case MalformedReference:
		return "MalformedReference"
	case ResolverError:
		return "ResolverError"
	case NotFound:
		return "NotFound"
	case SchemaConflict:
		return "SchemaConflict"
	default:
		return "Unknown"
	}
}

// Machine readable codes reported next to each error.
const (
	CodeMalformedReference = "MALFORMED_REFERENCE"
	CodeResolverError      = "RESOLVER_ERROR"
	CodeResolverTimeout    = "RESOLVER_TIMEOUT"
	CodeNotFound           = "NOT_FOUND"
	CodeSchemaConflict     = "SCHEMA_CONFLICT"
)

// ErrInvalidRepresentations rejects a request whose representation list is
// not a list. It is the only request-level failure of the pipeline.
var ErrInvalidRepresentations = errors.New("representations must be a list")

// ErrUnbound fails a group whose typename has no binding in the registry
// resolving it.
var ErrUnbound = errors.New("no resolver bound")

// Error is an entity-level failure. It degrades one output position to null.
type Error struct {
	Kind    Kind
	Message string
	Code    string
	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

// Timeout reports whether the error is a resolver timeout.
func (e *Error) Timeout() bool { return e.Code == CodeResolverTimeout }

func malformed(format string, args ...any) *Error {
	return &Error{Kind: MalformedReference, Code: CodeMalformedReference, Message: fmt.Sprintf(format, args...)}
}

func notFound(k CanonicalKey) *Error {
	return &Error{Kind: NotFound, Code: CodeNotFound, Message: fmt.Sprintf("entity %s not found", k)}
}

func schemaConflict(err error) *Error {
	return &Error{Kind: SchemaConflict, Code: CodeSchemaConflict, Message: err.Error(), Err: err}
}

// resolverFailure wraps err as a ResolverError, marking deadline overruns as
// the timeout sub-kind.
func resolverFailure(typename string, err error) *Error {
	code := CodeResolverError
	if errors.Is(err, context.DeadlineExceeded) {
		code = CodeResolverTimeout
	}
	return &Error{
		Kind:    ResolverError,
		Code:    code,
		Message: fmt.Sprintf("resolving %s: %v", typename, err),
		Err:     err,
	}
}
