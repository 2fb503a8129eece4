package callrepo

import "errors"

var (
	ErrNotFound      = errors.New("call not found")
	ErrAlreadyExists = errors.New("call already exists")

	// ErrStaleWrite means the compare-and-swap expectation failed: another
	// writer touched the row between read and update.
	ErrStaleWrite = errors.New("call updated concurrently")
)
