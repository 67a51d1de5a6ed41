// Package httpx provides helper functions for creating HTTP responses.
package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/aws/aws-lambda-go/events"

	"github.com/paperglass/receipt-search-backend/internal/apperr"
)

// JSON creates a JSON HTTP response with the given status code and value.
func JSON(status int, v any) (events.APIGatewayV2HTTPResponse, error) {
	b, _ := json.Marshal(v)
	return events.APIGatewayV2HTTPResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
		Body: string(b),
	}, nil
}

// Error creates a JSON HTTP error response with the given status code and message.
func Error(status int, msg string) (events.APIGatewayV2HTTPResponse, error) {
	return JSON(status, map[string]string{"error": msg})
}

// From maps a domain error onto an HTTP response. Authorization
// failures render as not-found so record existence does not leak.
func From(err error) (events.APIGatewayV2HTTPResponse, error) {
	switch {
	case errors.Is(err, apperr.ErrNotFound), errors.Is(err, apperr.ErrUnauthorized):
		return Error(http.StatusNotFound, "not found")
	case errors.Is(err, apperr.ErrQuotaExceeded):
		return Error(http.StatusPaymentRequired, apperr.ErrQuotaExceeded.Error())
	case errors.Is(err, apperr.ErrDuplicate):
		return Error(http.StatusConflict, apperr.ErrDuplicate.Error())
	case errors.Is(err, apperr.ErrVersionConflict):
		return Error(http.StatusConflict, apperr.ErrVersionConflict.Error())
	case apperr.IsTransient(err):
		return Error(http.StatusServiceUnavailable, "temporarily unavailable")
	default:
		return Error(http.StatusInternalServerError, "internal error")
	}
}
