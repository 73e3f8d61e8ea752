package apperr

import (
	"errors"
	"fmt"

	"google.golang.org/api/googleapi"
)

// Kind categorizes failures surfaced to the command dispatcher.
type Kind string

const (
	KindMissingDependency Kind = "missing_dependency"
	KindNotFound          Kind = "not_found"
	KindUnsupportedType   Kind = "unsupported_type"
	KindNotAuthenticated  Kind = "not_authenticated"
	KindConversion        Kind = "conversion_failure"
	KindRemoteService     Kind = "remote_service"
)

// Sentinels for errors.Is checks.
var (
	ErrMissingDependency = &Error{Kind: KindMissingDependency}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrUnsupportedType   = &Error{Kind: KindUnsupportedType}
	ErrNotAuthenticated  = &Error{Kind: KindNotAuthenticated}
	ErrConversion        = &Error{Kind: KindConversion}
	ErrRemoteService     = &Error{Kind: KindRemoteService}
)

// Error is the structured error used across the toolkit.
type Error struct {
	Kind Kind
	Op   string // operation, e.g. "convert", "upload"
	Path string // file involved, if any
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = describe(e.Kind)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Path != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Path)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func describe(k Kind) string {
	switch k {
	case KindMissingDependency:
		return "missing dependency"
	case KindNotFound:
		return "not found"
	case KindUnsupportedType:
		return "unsupported file type"
	case KindNotAuthenticated:
		return "not authenticated"
	case KindConversion:
		return "conversion failed"
	case KindRemoteService:
		return "remote service error"
	default:
		return string(k)
	}
}

func MissingDependency(op, msg string) *Error {
	return &Error{Kind: KindMissingDependency, Op: op, Msg: msg}
}

func NotFound(op, path string) *Error {
	return &Error{Kind: KindNotFound, Op: op, Msg: "file not found", Path: path}
}

func UnsupportedType(op, fileType string) *Error {
	return &Error{Kind: KindUnsupportedType, Op: op, Msg: fmt.Sprintf("unsupported file type %q", fileType)}
}

func NotAuthenticated(op string) *Error {
	return &Error{Kind: KindNotAuthenticated, Op: op, Msg: "not authenticated, authenticate first"}
}

func Conversion(op, path string, err error) *Error {
	return &Error{Kind: KindConversion, Op: op, Path: path, Err: err}
}

func Remote(op string, err error) *Error {
	return &Error{Kind: KindRemoteService, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// StatusCode extracts the HTTP status of a wrapped Google API error, 0 if absent.
func StatusCode(err error) int {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code
	}
	return 0
}

// ExitCode maps an error to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	return 1
}
