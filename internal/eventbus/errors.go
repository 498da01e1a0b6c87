package eventbus

import "errors"

// SerializationFailed and AuthorityViolation propagate to the caller; the
// rest are recovered locally and only surfaced through Stats and logs.
var (
	ErrSerializationFailed = errors.New("eventbus: serialization failed")
	ErrAuthorityViolation  = errors.New("eventbus: authority violation")
	ErrHandlerFailure      = errors.New("eventbus: handler failure")
	ErrHandlerPanic        = errors.New("eventbus: handler panic")
	ErrHandlerTimedOut     = errors.New("eventbus: handler timed out")
	ErrUnknownHandler      = errors.New("eventbus: unknown handler id")
	ErrPayloadTypeMismatch = errors.New("eventbus: payload type does not match handler's declared type")
)
