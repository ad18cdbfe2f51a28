package utils

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type MessageResponse struct {
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type HttpError struct {
	Code    int          `json:"code,omitempty"`
	Message string       `json:"message,omitempty"`
	Detail  *ErrorDetail `json:"detail,omitempty"`
}

func (e *HttpError) Error() string {
	return e.Message
}

func BadRequest(messages ...string) *HttpError {
	message := "Bad Request"
	if len(messages) > 0 {
		message = messages[0]
	}
	return &HttpError{
		Code:    400,
		Message: message,
	}
}

func NotFound(messages ...string) *HttpError {
	message := "Not Found"
	if len(messages) > 0 {
		message = messages[0]
	}
	return &HttpError{
		Code:    404,
		Message: message,
	}
}

func Conflict(messages ...string) *HttpError {
	message := "Conflict"
	if len(messages) > 0 {
		message = messages[0]
	}
	return &HttpError{
		Code:    409,
		Message: message,
	}
}

func InternalServerError(messages ...string) *HttpError {
	message := "Internal Server Error"
	if len(messages) > 0 {
		message = messages[0]
	}
	return &HttpError{
		Code:    500,
		Message: message,
	}
}

func MyErrorHandler(ctx *fiber.Ctx, err error) error {
	if err == nil {
		return nil
	}

	httpError := HttpError{
		Code:    500,
		Message: err.Error(),
	}

	var (
		e           *HttpError
		fiberError  *fiber.Error
		errorDetail *ErrorDetail
	)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		httpError.Code = 404
	case errors.As(err, &e):
		httpError = *e
	case errors.As(err, &fiberError):
		httpError.Code = fiberError.Code
	case errors.As(err, &errorDetail):
		httpError.Code = 400
		httpError.Detail = errorDetail
	}

	return ctx.Status(httpError.Code).JSON(&httpError)
}
