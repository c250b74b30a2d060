package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Response error response
type Response struct {
	Error       error
	ErrorCode   int
	Description string
	URI         string
	StatusCode  int
	Header      http.Header
}

// NewResponse create the response pointer
func NewResponse(err error, statusCode int) *Response {
	return &Response{
		Error:      err,
		StatusCode: statusCode,
	}
}

// SetHeader sets the header entries associated with key to
// the single element value.
func (r *Response) SetHeader(key, value string) {
	if r.Header == nil {
		r.Header = make(http.Header)
	}
	r.Header.Set(key, value)
}

// https://tools.ietf.org/html/rfc6749#section-5.2
var (
	ErrInvalidRequest          = errors.New("invalid_request")
	ErrUnauthorizedClient      = errors.New("unauthorized_client")
	ErrAccessDenied            = errors.New("access_denied")
	ErrUnsupportedResponseType = errors.New("unsupported_response_type")
	ErrInvalidScope            = errors.New("invalid_scope")
	ErrServerError             = errors.New("server_error")
	ErrTemporarilyUnavailable  = errors.New("temporarily_unavailable")
	ErrInvalidClient           = errors.New("invalid_client")
	ErrInvalidGrant            = errors.New("invalid_grant")
	ErrUnsupportedGrantType    = errors.New("unsupported_grant_type")
	ErrUnknownUserID           = errors.New("unknown_user_id")
	ErrInvalidBindingMessage   = errors.New("invalid_binding_message")
)

// Descriptions error description
var Descriptions = map[error]string{
	ErrInvalidRequest:          "The request is missing a required parameter, includes an invalid parameter value, includes a parameter more than once, or is otherwise malformed",
	ErrUnauthorizedClient:      "The client is not authorized to request an authorization code using this method",
	ErrAccessDenied:            "The resource owner or authorization server denied the request",
	ErrUnsupportedResponseType: "The authorization server does not support obtaining an authorization code using this method",
	ErrInvalidScope:            "The requested scope is invalid, unknown, or malformed",
	ErrServerError:             "The authorization server encountered an unexpected condition that prevented it from fulfilling the request",
	ErrTemporarilyUnavailable:  "The authorization server is currently unable to handle the request due to a temporary overloading or maintenance of the server",
	ErrInvalidClient:           "Client authentication failed",
	ErrInvalidGrant:            "The provided authorization grant (e.g., authorization code, resource owner credentials) or refresh token is invalid, expired, revoked, does not match the redirection URI used in the authorization request, or was issued to another client",
	ErrUnsupportedGrantType:    "The authorization grant type is not supported by the authorization server",
	ErrUnknownUserID:           "The authorization server is not able to identify which end-user the client wishes to be authenticated",
	ErrInvalidBindingMessage:   "The binding message is invalid or unacceptable for use in the context of the given request",
}

// StatusCodes response error HTTP status code
var StatusCodes = map[error]int{
	ErrInvalidRequest:          400,
	ErrUnauthorizedClient:      401,
	ErrAccessDenied:            403,
	ErrUnsupportedResponseType: 401,
	ErrInvalidScope:            400,
	ErrServerError:             500,
	ErrTemporarilyUnavailable:  503,
	ErrInvalidClient:           401,
	ErrInvalidGrant:            400,
	ErrUnsupportedGrantType:    400,
	ErrUnknownUserID:           400,
	ErrInvalidBindingMessage:   400,
}

// ClientUnauthorizedError is a failed client authentication. Reason is safe to
// return to the caller; Cause is kept for logs only.
type ClientUnauthorizedError struct {
	ClientID string
	Reason   string
	Cause    error
}

// ClientUnauthorized builds a ClientUnauthorizedError.
func ClientUnauthorized(clientID, reason string, cause error) *ClientUnauthorizedError {
	return &ClientUnauthorizedError{ClientID: clientID, Reason: reason, Cause: cause}
}

func (e *ClientUnauthorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("invalid_client: %s: %v", e.Reason, e.Cause)
	}
	return "invalid_client: " + e.Reason
}

func (e *ClientUnauthorizedError) Unwrap() error { return e.Cause }

// Is matches ErrInvalidClient.
func (e *ClientUnauthorizedError) Is(target error) bool { return target == ErrInvalidClient }

// TokenBadRequestError is a grant level failure carrying an OAuth2 error code
// and a description that may be shown to the client.
type TokenBadRequestError struct {
	Err         error
	Description string
}

// TokenBadRequest builds a TokenBadRequestError for one of the OAuth2 error sentinels.
func TokenBadRequest(err error, description string) *TokenBadRequestError {
	return &TokenBadRequestError{Err: err, Description: description}
}

// InvalidGrant is shorthand for TokenBadRequest(ErrInvalidGrant, ...).
func InvalidGrant(format string, args ...any) *TokenBadRequestError {
	return TokenBadRequest(ErrInvalidGrant, fmt.Sprintf(format, args...))
}

// InvalidRequest is shorthand for TokenBadRequest(ErrInvalidRequest, ...).
func InvalidRequest(format string, args ...any) *TokenBadRequestError {
	return TokenBadRequest(ErrInvalidRequest, fmt.Sprintf(format, args...))
}

// InvalidScope is shorthand for TokenBadRequest(ErrInvalidScope, ...).
func InvalidScope(format string, args ...any) *TokenBadRequestError {
	return TokenBadRequest(ErrInvalidScope, fmt.Sprintf(format, args...))
}

func (e *TokenBadRequestError) Error() string {
	return e.Err.Error() + ": " + e.Description
}

func (e *TokenBadRequestError) Unwrap() error { return e.Err }

// ResponseFor resolves err to the OAuth2 error response. Unknown errors
// resolve to server_error. Store misses resolve to invalid_grant so the
// existence of a record is never disclosed.
func ResponseFor(err error) *Response {
	var (
		cu *ClientUnauthorizedError
		br *TokenBadRequestError
	)
	switch {
	case errors.As(err, &cu):
		re := NewResponse(ErrInvalidClient, StatusCodes[ErrInvalidClient])
		re.Description = cu.Reason
		return re
	case errors.As(err, &br):
		re := NewResponse(br.Err, StatusCodes[br.Err])
		re.Description = br.Description
		if re.StatusCode == 0 {
			re.StatusCode = http.StatusBadRequest
		}
		return re
	case errors.Is(err, ErrNotFound):
		re := NewResponse(ErrInvalidGrant, StatusCodes[ErrInvalidGrant])
		re.Description = Descriptions[ErrInvalidGrant]
		return re
	}
	if v, ok := Descriptions[err]; ok {
		re := NewResponse(err, StatusCodes[err])
		re.Description = v
		return re
	}
	re := NewResponse(ErrServerError, StatusCodes[ErrServerError])
	re.Description = Descriptions[ErrServerError]
	return re
}
