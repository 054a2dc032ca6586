package db

import (
	"github.com/pkg/errors"
)

// Failure kinds. Every error returned by DB wraps exactly one of these.
var (
	ErrFileNotFound  = errors.New("no such file or directory")
	ErrInvalidKey    = errors.New("invalid key")
	ErrAlreadyExists = errors.New("file or directory already exists")
	ErrParse         = errors.New("malformed JSON")
	ErrDirectoryRead = errors.New("unable to read directory")
	ErrStorage       = errors.New("storage failure")
)

// Error describes a failed store operation.
type Error struct {
	Op      string // operation name, e.g. "get" or "union"
	Subject string // document name or key the failure is about
	Kind    error  // one of the Err* kinds above
	Err     error  // underlying cause, may be nil
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Subject != "" {
		msg += ": " + e.Subject
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
