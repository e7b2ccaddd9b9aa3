package services

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrMethodNotAllowed = errors.New("method not allowed")
	ErrFormParse        = errors.New("form parse error")
	ErrPayloadTooLarge  = errors.New("payload too large")
	ErrStorage          = errors.New("storage error")
	ErrLaunch           = errors.New("launch error")
	ErrConflict         = errors.New("job conflict")
	ErrNotFound         = errors.New("not found")
	ErrInternal         = errors.New("internal error")
)

// InternalServerErrorMessage is the only text a client ever sees for a 500.
const InternalServerErrorMessage = "Internal Server Error"

// Wrap builds an error message that includes component context while tagging it
// with the provided marker for later status classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrInternal
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// HTTPStatus maps a tagged error to the response status code. Storage failures
// win over the form parse marker that wraps them.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrMethodNotAllowed):
		return http.StatusMethodNotAllowed
	case errors.Is(err, ErrStorage), errors.Is(err, ErrLaunch), errors.Is(err, ErrInternal):
		return http.StatusInternalServerError
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrFormParse), errors.Is(err, ErrPayloadTooLarge):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the text rendered in the response envelope.
func PublicMessage(err error) string {
	if err == nil {
		return ""
	}
	status := HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		return InternalServerErrorMessage
	}
	if status == http.StatusMethodNotAllowed {
		return ErrMethodNotAllowed.Error()
	}
	return err.Error()
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
