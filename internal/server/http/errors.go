package http

import (
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/ekisa-team/ttsd/internal/service"
)

// ErrorBody is the error payload of every endpoint: {"detail": "..."}.
type ErrorBody struct {
	status int
	Detail string `json:"detail"`
}

func (e *ErrorBody) Error() string {
	return e.Detail
}

// GetStatus implements huma.StatusError.
func (e *ErrorBody) GetStatus() int {
	return e.status
}

func init() {
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		if len(errs) > 0 && msg == "" {
			msg = errors.Join(errs...).Error()
		}
		return &ErrorBody{status: status, Detail: msg}
	}
}

// serviceError maps service error kinds to HTTP statuses.
func serviceError(err error) error {
	switch {
	case errors.Is(err, service.ErrNotReady):
		return &ErrorBody{status: http.StatusServiceUnavailable, Detail: "Model not loaded"}
	case errors.Is(err, service.ErrInvalidInput):
		return &ErrorBody{status: http.StatusUnprocessableEntity, Detail: err.Error()}
	default:
		return &ErrorBody{status: http.StatusInternalServerError, Detail: err.Error()}
	}
}
