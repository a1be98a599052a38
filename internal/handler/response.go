package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"fieldscan/internal/answer"
	"fieldscan/internal/domain"
)

// APIResponse is the standard envelope for all API responses.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
}

// APIError holds error details in the response.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RespondOK sends a 200 success response.
func RespondOK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: data})
}

// RespondCreated sends a 201 success response.
func RespondCreated(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, APIResponse{Success: true, Data: data})
}

// RespondError sends an error response with the given status code.
func RespondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, APIResponse{
		Success: false,
		Error:   &APIError{Code: code, Message: msg},
	})
}

// MapDomainError translates domain errors to HTTP status codes and error codes.
func MapDomainError(err error) (status int, code, msg string) {
	var rle *answer.RateLimitError
	switch {
	case errors.As(err, &rle):
		return http.StatusTooManyRequests, "RATE_LIMITED", "answer service is rate limited; retry later"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "resource not found"
	case errors.Is(err, domain.ErrNoFieldRequests):
		return http.StatusBadRequest, "NO_FIELD_REQUESTS", "at least one field request is required"
	case errors.Is(err, domain.ErrDuplicateLabel):
		return http.StatusBadRequest, "DUPLICATE_LABEL", "field labels must be unique"
	case errors.Is(err, domain.ErrInvalidBBox):
		return http.StatusBadRequest, "INVALID_BBOX", "bounding box must be ordered and inside 0-1000"
	case errors.Is(err, domain.ErrBatchOutOfRange):
		return http.StatusBadRequest, "BATCH_OUT_OF_RANGE", "start batch is outside the planned batches"
	case errors.Is(err, domain.ErrMalformedTemplate):
		return http.StatusBadRequest, "MALFORMED_TEMPLATE", "template record is malformed"
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, "INVALID_REQUEST", "invalid request"
	case errors.Is(err, domain.ErrDuplicateTemplate):
		return http.StatusConflict, "DUPLICATE_TEMPLATE", "template already exists"
	case errors.Is(err, domain.ErrAnswerCountMismatch):
		return http.StatusBadGateway, "ANSWER_COUNT_MISMATCH", "answer service returned the wrong number of answers"
	case errors.Is(err, domain.ErrExternalService):
		return http.StatusBadGateway, "EXTERNAL_SERVICE_FAILURE", "an upstream service failed"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR", "an internal error occurred"
	}
}

// HandleError maps a domain error and sends the appropriate error response.
func HandleError(c *gin.Context, err error) {
	status, code, msg := MapDomainError(err)
	if status >= 500 {
		requestID, _ := c.Get("request_id")
		slog.ErrorContext(c.Request.Context(), "request failed", "request_id", requestID, "error", err)
	}
	RespondError(c, status, code, msg)
}
