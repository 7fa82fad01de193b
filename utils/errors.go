package utils

import (
	"errors"
	"fmt"
)

// Machine-readable error codes surfaced to clients in the response
// envelope and in websocket error frames.
const (
	CodeRoomNotFound          = "ROOM_NOT_FOUND"
	CodeRoomNotJoinable       = "ROOM_NOT_JOINABLE"
	CodeRoomFull              = "ROOM_FULL"
	CodeWrongPassword         = "WRONG_PASSWORD"
	CodeRoomLimitExceeded     = "ROOM_LIMIT_EXCEEDED"
	CodeAlreadyInRoom         = "ALREADY_IN_ROOM"
	CodeNotInRoom             = "NOT_IN_ROOM"
	CodeNotHost               = "NOT_HOST"
	CodeCannotKickSelf        = "CANNOT_KICK_SELF"
	CodePlayerNotInRoom       = "PLAYER_NOT_IN_ROOM"
	CodeMatchNotFound         = "MATCH_NOT_FOUND"
	CodeInvalidPhase          = "INVALID_PHASE"
	CodeInvalidPiecePlacement = "INVALID_PIECE_PLACEMENT"
	CodeNotYourTurn           = "NOT_YOUR_TURN"
	CodeAlreadyAttacked       = "ALREADY_ATTACKED"
	CodeInvalidCredentials    = "INVALID_CREDENTIALS"
	CodeUsernameTaken         = "USERNAME_TAKEN"
	CodeUnauthorized          = "UNAUTHORIZED"
	CodeTokenExpired          = "TOKEN_EXPIRED"
	CodeValidation            = "VALIDATION_ERROR"
	CodeInternal              = "INTERNAL_ERROR" // retryable infrastructure failure
)

// CodedError pairs a machine-readable code with a human message so
// clients can render a precise error without string matching.
type CodedError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *CodedError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewCodedError(code, message string) *CodedError {
	return &CodedError{Code: code, Message: message}
}

// AsCodedError extracts a CodedError from err, or wraps unknown errors
// as INTERNAL_ERROR so infrastructure failures never leak internals.
func AsCodedError(err error) *CodedError {
	var ce *CodedError
	if errors.As(err, &ce) {
		return ce
	}
	return &CodedError{Code: CodeInternal, Message: "internal error, please retry"}
}
