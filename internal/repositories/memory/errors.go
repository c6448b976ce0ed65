package memory

import "fmt"

// Error implements repositories.RepositoryError for the in-memory stores.
type Error struct {
	op       string
	msg      string
	notFound bool
	conflict bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.op, e.msg)
}

// IsNotFound reports whether the record is missing.
func (e *Error) IsNotFound() bool { return e != nil && e.notFound }

// IsConflict reports whether the write collided with an existing record.
func (e *Error) IsConflict() bool { return e != nil && e.conflict }

// IsUnavailable is always false for in-memory stores.
func (e *Error) IsUnavailable() bool { return false }

func notFound(op, id string) *Error {
	return &Error{op: op, msg: fmt.Sprintf("%s not found", id), notFound: true}
}

func conflict(op, id string) *Error {
	return &Error{op: op, msg: fmt.Sprintf("%s already exists", id), conflict: true}
}
