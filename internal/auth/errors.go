package auth

import "errors"

var (
	// ErrInvalidProof covers every provider proof failure. Callers map it to an
	// unauthorized outcome; the wrapped detail is for logs only.
	ErrInvalidProof = errors.New("invalid proof")
	// ErrStorage wraps persistence failures during reconciliation.
	ErrStorage = errors.New("storage failure")
	// ErrSigning means the session token could not be signed (missing secret).
	ErrSigning = errors.New("signing failure")

	ErrLinkConflict       = errors.New("email already linked to another oidc subject")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAlreadyRegistered  = errors.New("email already registered")
)

// ErrInvalidRequest marks malformed input to the local account flows.
var ErrInvalidRequest = errors.New("invalid request")
