package utils

import (
	"github.com/gofiber/fiber/v2"
)

// APIResponse is the uniform envelope for the HTTP surface.
type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Error   *CodedError `json:"error,omitempty"`
}

func OK(c *fiber.Ctx, message string, data interface{}) error {
	return c.JSON(APIResponse{Success: true, Message: message, Data: data})
}

func Created(c *fiber.Ctx, message string, data interface{}) error {
	return c.Status(fiber.StatusCreated).JSON(APIResponse{Success: true, Message: message, Data: data})
}

// Fail maps the error code onto an HTTP status and writes the envelope.
func Fail(c *fiber.Ctx, err error) error {
	ce := AsCodedError(err)
	return c.Status(statusFor(ce.Code)).JSON(APIResponse{
		Success: false,
		Message: ce.Message,
		Error:   ce,
	})
}

func statusFor(code string) int {
	switch code {
	case CodeRoomNotFound, CodeMatchNotFound, CodePlayerNotInRoom:
		return fiber.StatusNotFound
	case CodeUnauthorized, CodeTokenExpired, CodeInvalidCredentials:
		return fiber.StatusUnauthorized
	case CodeNotHost, CodeNotYourTurn, CodeNotInRoom:
		return fiber.StatusForbidden
	case CodeRoomFull, CodeRoomNotJoinable, CodeRoomLimitExceeded,
		CodeAlreadyInRoom, CodeAlreadyAttacked, CodeUsernameTaken,
		CodeWrongPassword, CodeCannotKickSelf:
		return fiber.StatusConflict
	case CodeValidation, CodeInvalidPiecePlacement, CodeInvalidPhase:
		return fiber.StatusBadRequest
	default:
		return fiber.StatusInternalServerError
	}
}
