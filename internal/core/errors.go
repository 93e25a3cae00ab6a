package core

import "errors"

// Error codes reported to peers. They never carry internal detail.
const (
	ErrCodeUnauthorized   = "unauthorized"
	ErrCodeForbidden      = "forbidden"
	ErrCodeBadRequest     = "bad_request"
	ErrCodeJoinFailed     = "join_failed"
	ErrCodeInvalidMessage = "invalid_message"
	ErrCodeRateLimited    = "rate_limited"
)

var (
	// ErrUnauthorized rejects a connection whose credential is missing or invalid.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden rejects a join for a conversation the user is not part of.
	ErrForbidden = errors.New("not a participant of conversation")
	// ErrNotActive is returned for room requests on a connection that is not active.
	ErrNotActive = errors.New("connection not active")
	// ErrBadRequest is returned for malformed requests such as an empty room ID.
	ErrBadRequest = errors.New("bad request")
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

// ToCoreError maps an internal error to the generic form sent to peers.
func ToCoreError(err error) *CoreError {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrUnauthorized):
		return &CoreError{Code: ErrCodeUnauthorized, Message: "unauthorized"}
	case errors.Is(err, ErrForbidden):
		return &CoreError{Code: ErrCodeForbidden, Message: "not allowed to join this conversation"}
	case errors.Is(err, ErrBadRequest):
		return &CoreError{Code: ErrCodeBadRequest, Message: "bad request"}
	default:
		return &CoreError{Code: ErrCodeJoinFailed, Message: "error joining conversation"}
	}
}
