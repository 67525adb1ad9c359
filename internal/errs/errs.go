package errs

import "errors"

// Sentinel errors for mapping to HTTP codes in handlers.
var (
	// ErrValidation rejects malformed session parameters before any store write.
	ErrValidation = errors.New("validation error")

	// ErrNotFound targets a session/participant no longer present. Non-fatal:
	// observers treat it as the session-ended exit path.
	ErrNotFound = errors.New("not found")

	// ErrStoreUnavailable marks a transient real-time store failure.
	ErrStoreUnavailable = errors.New("store unavailable")

	// challenge-specific errors
	ErrEmptyCode     = errors.New("empty code")
	ErrWrongCode     = errors.New("wrong code")
	ErrChallengeOver = errors.New("challenge already resolved")

	ErrSessionEnded = errors.New("session ended")
)
