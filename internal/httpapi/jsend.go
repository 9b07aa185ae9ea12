package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// JSend statuses: success carries data, fail is a caller problem, error is ours.
const (
	statusSuccess = "success"
	statusFail    = "fail"
	statusError   = "error"
)

type envelope struct {
	Status  string `json:"status"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code,omitempty"`
}

func success(c echo.Context, data any) error {
	return successWithStatus(c, http.StatusOK, data)
}

func successWithStatus(c echo.Context, code int, data any) error {
	return c.JSON(code, envelope{Status: statusSuccess, Data: data})
}

func fail(c echo.Context, code int, message string, data any) error {
	return c.JSON(code, envelope{Status: statusFail, Message: message, Data: data})
}

func failValidation(c echo.Context, fieldErrors map[string]string) error {
	return fail(c, http.StatusBadRequest, "Validation failed", map[string]any{
		"validation_errors": fieldErrors,
	})
}

func failNotFound(c echo.Context, message string) error {
	return fail(c, http.StatusNotFound, message, nil)
}

func serverError(c echo.Context, code int, message string) error {
	return c.JSON(code, envelope{Status: statusError, Message: message, Code: code})
}

func failUnavailable(c echo.Context, message string) error {
	return serverError(c, http.StatusServiceUnavailable, message)
}

func internalError(c echo.Context, message string) error {
	return serverError(c, http.StatusInternalServerError, message)
}
