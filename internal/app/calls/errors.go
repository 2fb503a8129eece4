package calls

// Error is an application-layer error that can be mapped to an HTTP response.
//
// Codes used by this package:
//   - CALL_NOT_FOUND      (404) callId does not resolve to a record
//   - FORBIDDEN           (403) caller is not a participant / lacks admin
//   - INVALID_TRANSITION  (409) transition not permitted from current state,
//     or a reschedule targeting the past
//   - VALIDATION_ERROR    (422) malformed input
//   - CONCURRENT_UPDATE   (409) compare-and-swap retries exhausted
type Error struct {
	Status  int
	Code    string
	Message string
	Details map[string]any
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	return e.Code
}
