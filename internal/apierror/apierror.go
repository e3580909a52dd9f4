// Package apierror writes the JSON error body shared by every endpoint:
//
//	{"error": {"code": "...", "message": "...", "request_id": "..."}}
//
// Codes are stable and machine readable. Messages never carry internal detail.
package apierror

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"quorum/internal/logging"
	"quorum/internal/services"
)

type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}

var table = []struct {
	sentinel error
	status   int
	code     string
	message  string
}{
	{services.ErrInvalidArgument, http.StatusBadRequest, "invalid_argument", "invalid argument"},
	{services.ErrUnauthenticated, http.StatusUnauthorized, "unauthenticated", "authentication required"},
	{services.ErrForbidden, http.StatusForbidden, "forbidden", "permission denied"},
	{services.ErrNotFound, http.StatusNotFound, "not_found", "not found"},
	{services.ErrRateLimited, http.StatusTooManyRequests, "rate_limited", "too many requests"},
}

// ToHTTP maps a service error to a status and body. Invalid argument and rate
// limit errors keep their caller-safe detail; anything unknown is internal.
func ToHTTP(err error) (int, ErrorResponse) {
	for _, row := range table {
		if err != nil && errors.Is(err, row.sentinel) {
			msg := row.message
			if row.sentinel == services.ErrInvalidArgument || row.sentinel == services.ErrRateLimited {
				msg = detail(err, row.sentinel, row.message)
			}
			return row.status, ErrorResponse{Error: APIError{Code: row.code, Message: msg}}
		}
	}
	return http.StatusInternalServerError, ErrorResponse{Error: APIError{Code: "internal", Message: "internal error"}}
}

// detail returns the text after "<sentinel>: " in err, or fallback.
func detail(err, sentinel error, fallback string) string {
	marker := sentinel.Error() + ": "
	s := err.Error()
	if i := strings.Index(s, marker); i >= 0 {
		return s[i+len(marker):]
	}
	return fallback
}

// Write aborts the request with the body for err.
func Write(c *gin.Context, err error) {
	status, resp := ToHTTP(err)
	resp.Error.RequestID = logging.RequestIDFromContext(c.Request.Context())
	c.AbortWithStatusJSON(status, resp)
}

// Abort writes an error body that does not come from a service call.
func Abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Error: APIError{
		Code:      code,
		Message:   message,
		RequestID: logging.RequestIDFromContext(c.Request.Context()),
	}})
}

// BadRequest is Abort with the invalid_argument code.
func BadRequest(c *gin.Context, message string) {
	Abort(c, http.StatusBadRequest, "invalid_argument", message)
}
