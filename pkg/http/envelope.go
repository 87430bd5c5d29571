package http

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// APIResponse is the body of every JSON response.
type APIResponse struct {
	Status  int         `json:"status" example:"200"`
	Message string      `json:"message" example:"OK"`
	Data    interface{} `json:"data,omitempty"`
}

// ErrorCode is the machine-readable kind of an AppError.
type ErrorCode string

const (
	CodeBadRequest    ErrorCode = "ERR_BAD_REQUEST"
	CodeUnprocessable ErrorCode = "ERR_UNPROCESSABLE"
	CodeInternal      ErrorCode = "ERR_INTERNAL"
	CodeNotImpl       ErrorCode = "ERR_NOT_IMPLEMENTED"
	CodeUnknown       ErrorCode = "ERR_UNKNOWN"
)

// FieldError describes one rejected request field.
type FieldError struct {
	Code    ErrorCode              `json:"code,omitempty" example:"ERR_REQUIRED"`
	Field   string                 `json:"field,omitempty" example:"patterns"`
	Message string                 `json:"message,omitempty" example:"patterns is required"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// AppError is an error that knows its HTTP status.
type AppError struct {
	Code    ErrorCode              `json:"code"`
	Message string                 `json:"message"`
	Params  map[string]interface{} `json:"params,omitempty"`
	Status  int                    `json:"-"`
	Err     error                  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *AppError) Unwrap() error { return e.Err }

// WithParam attaches a detail the client can act on.
func (e *AppError) WithParam(key string, value interface{}) *AppError {
	if e.Params == nil {
		e.Params = map[string]interface{}{}
	}
	e.Params[key] = value
	return e
}

// WithError records the cause. It is never serialized.
func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

func BadRequestError(message string) *AppError {
	return &AppError{Code: CodeBadRequest, Message: message, Status: http.StatusBadRequest}
}

func BadRequestErrorf(format string, a ...interface{}) *AppError {
	return BadRequestError(fmt.Sprintf(format, a...))
}

// UnprocessableError is for well-formed input nothing can be computed from.
func UnprocessableError(message string) *AppError {
	return &AppError{Code: CodeUnprocessable, Message: message, Status: http.StatusUnprocessableEntity}
}

func InternalError(message string) *AppError {
	return &AppError{Code: CodeInternal, Message: message, Status: http.StatusInternalServerError}
}

func NotImplementedError(message string) *AppError {
	return &AppError{Code: CodeNotImpl, Message: message, Status: http.StatusNotImplemented}
}

// DataResponse writes data under statusCode, mirrored into the envelope.
func DataResponse(c echo.Context, statusCode int, data interface{}) error {
	return c.JSON(statusCode, APIResponse{
		Status:  statusCode,
		Message: http.StatusText(statusCode),
		Data:    data,
	})
}

func SuccessResponse(c echo.Context, data interface{}) error {
	return DataResponse(c, http.StatusOK, data)
}

// BadRequestResponse writes field errors from ReadAndValidateRequest.
func BadRequestResponse(c echo.Context, errs []FieldError) error {
	return DataResponse(c, http.StatusBadRequest, errs)
}

// AppErrorResponse writes err as a one-element error list. Anything that is
// not an AppError is hidden behind a generic 500.
func AppErrorResponse(c echo.Context, err error) error {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		appErr = InternalError("Something went wrong")
	}
	return DataResponse(c, appErr.Status, []*AppError{appErr})
}
