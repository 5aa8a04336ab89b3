package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/alem-hub/civiclearn/internal/domain/shared"
	"github.com/alem-hub/civiclearn/pkg/circuitbreaker"
	"github.com/alem-hub/civiclearn/pkg/logger"
	"github.com/alem-hub/civiclearn/pkg/retry"
)

// APIError is the body of every error response.
type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// Error codes.
const (
	CodeValidation         = "validation_error"
	CodeUnauthorized       = "unauthorized"
	CodeForbidden          = "forbidden"
	CodeNotFound           = "not_found"
	CodeInvalidTransition  = "invalid_transition"
	CodeAttemptLocked      = "attempt_locked"
	CodeCapacityExceeded   = "capacity_exceeded"
	CodeChallengeNotActive = "challenge_not_active"
	CodeLateSubmission     = "late_submission"
	CodeConfiguration      = "configuration_error"
	CodeServiceUnavailable = "service_unavailable"
	CodeInternal           = "internal_error"
)

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.AbortWithStatusJSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

// StatusFor maps an error to its HTTP status and code.
func StatusFor(err error) (int, string) {
	switch {
	case shared.IsValidation(err):
		return http.StatusBadRequest, CodeValidation
	case errors.Is(err, shared.ErrUnauthorized):
		return http.StatusUnauthorized, CodeUnauthorized
	case shared.IsNotFound(err):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, shared.ErrInvalidTransition):
		return http.StatusConflict, CodeInvalidTransition
	case errors.Is(err, shared.ErrAttemptLocked):
		return http.StatusConflict, CodeAttemptLocked
	case errors.Is(err, shared.ErrCapacityExceeded):
		return http.StatusConflict, CodeCapacityExceeded
	case errors.Is(err, shared.ErrChallengeNotActive):
		return http.StatusConflict, CodeChallengeNotActive
	case errors.Is(err, shared.ErrLateSubmission):
		return http.StatusConflict, CodeLateSubmission
	case shared.IsConfiguration(err):
		return http.StatusUnprocessableEntity, CodeConfiguration
	case shared.IsRetryable(err), retry.IsExhausted(err), circuitbreaker.IsRejected(err),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, CodeServiceUnavailable
	}
	return http.StatusInternalServerError, CodeInternal
}

// HandleError writes the mapped error response. Internal errors are logged
// and replaced by a generic message. A duplicate that reaches this point is
// answered as a successful no-op.
func HandleError(c *gin.Context, log *logger.Logger, err error) {
	if shared.IsDuplicate(err) {
		RespondOK(c, gin.H{"duplicate": true})
		return
	}
	status, code := StatusFor(err)
	switch {
	case status >= http.StatusInternalServerError:
		log.Error("request failed",
			logger.String("path", c.FullPath()),
			logger.Int("status", status),
			logger.Err(err),
		)
		if status == http.StatusInternalServerError {
			err = errors.New("internal error")
		} else {
			err = errors.New("service temporarily unavailable, retry later")
		}
	case status == http.StatusUnprocessableEntity:
		log.Warn("content rejected", logger.Err(err))
	}
	RespondError(c, status, code, err)
}
