package calendar

import (
	"errors"
	"fmt"
)

// SyncError wraps any transport, auth, API, or timeout failure from the
// external calendar system. The Op names the gateway operation that failed.
type SyncError struct {
	Op    string
	Cause error
}

func (e *SyncError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("calendar sync: %s: %v", e.Op, e.Cause)
	}
	return fmt.Sprintf("calendar sync: %s failed", e.Op)
}

func (e *SyncError) Unwrap() error { return e.Cause }

// NewSyncError builds a SyncError for op wrapping cause.
func NewSyncError(op string, cause error) *SyncError {
	return &SyncError{Op: op, Cause: cause}
}

// IsSyncError reports whether err is (or wraps) a SyncError.
func IsSyncError(err error) bool {
	var se *SyncError
	return errors.As(err, &se)
}
