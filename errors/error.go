package errors

import "errors"

// New returns an error that formats as the given text.
var New = errors.New

// known errors
var (
	ErrInvalidRedirectURI   = errors.New("invalid redirect uri")
	ErrInvalidAuthorizeCode = errors.New("invalid authorize code")
	ErrInvalidAccessToken   = errors.New("invalid access token")
	ErrInvalidRefreshToken  = errors.New("invalid refresh token")
	ErrExpiredAccessToken   = errors.New("expired access token")
	ErrExpiredRefreshToken  = errors.New("expired refresh token")
	ErrMissingCodeVerifier  = errors.New("missing code verifier")
	ErrInvalidCodeChallenge = errors.New("invalid code challenge")
)

// store errors
var (
	// ErrNotFound is returned by stores when no record matches the tenant-scoped key.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when an insert loses a uniqueness race.
	ErrConflict = errors.New("record already exists")
	// ErrStaleState is returned when a conditional update finds the record in another state.
	ErrStaleState = errors.New("record is no longer in the expected state")
)
