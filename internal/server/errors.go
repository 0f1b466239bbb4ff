package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/stitchery/internal/apperror"
	"github.com/smallbiznis/stitchery/internal/auth"
	"github.com/smallbiznis/stitchery/internal/authorization"
	"github.com/smallbiznis/stitchery/internal/providers/imagegen"
	"github.com/smallbiznis/stitchery/internal/ratelimit"
	"github.com/smallbiznis/stitchery/internal/storage"
	"gorm.io/gorm"
)

type errorPayload struct {
	Type    string         `json:"type"`
	Code    string         `json:"code,omitempty"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return apperror.Validation("request", "invalid_request").WithMessage("invalid request")
}

func newValidationError(field, code, message string) error {
	return apperror.Validation(field, code).WithMessage(message)
}

// mapError turns a domain error into a status and a payload that names the
// entities and amounts involved.
func mapError(err error) (int, errorPayload) {
	if err == nil {
		return internalError()
	}

	if appErr, ok := apperror.As(err); ok {
		status, kind := statusForKind(appErr.Kind)
		message := appErr.Message
		if message == "" {
			message = kindMessage(kind)
		}
		return status, errorPayload{
			Type:    kind,
			Code:    appErr.Code,
			Message: message,
			Details: appErr.Details,
		}
	}

	switch {
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest, errorPayload{Type: "validation_error", Code: "invalid_request", Message: "invalid request"}
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, auth.ErrMissingToken),
		errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized, errorPayload{Type: "unauthorized", Message: "unauthorized"}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, authorization.ErrForbidden):
		return http.StatusForbidden, errorPayload{Type: "forbidden", Message: "forbidden"}
	case errors.Is(err, ErrNotFound),
		errors.Is(err, storage.ErrObjectNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound, errorPayload{Type: "not_found", Message: "not found"}
	case errors.Is(err, ratelimit.ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{Type: "rate_limited", Message: err.Error()}
	case errors.Is(err, imagegen.ErrGenerationFailed):
		return http.StatusBadGateway, errorPayload{Type: "generation_failed", Message: "image generation failed, tokens refunded"}
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{Type: "service_unavailable", Message: "service unavailable"}
	default:
		return internalError()
	}
}

func statusForKind(kind error) (int, string) {
	switch {
	case errors.Is(kind, apperror.ErrInsufficientFunds):
		return http.StatusPaymentRequired, apperror.ErrInsufficientFunds.Error()
	case errors.Is(kind, apperror.ErrInvalidState):
		return http.StatusConflict, apperror.ErrInvalidState.Error()
	case errors.Is(kind, apperror.ErrNotFound):
		return http.StatusNotFound, apperror.ErrNotFound.Error()
	case errors.Is(kind, apperror.ErrValidation):
		return http.StatusBadRequest, apperror.ErrValidation.Error()
	case errors.Is(kind, apperror.ErrDuplicatePayment):
		return http.StatusOK, apperror.ErrDuplicatePayment.Error()
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func kindMessage(kind string) string {
	switch kind {
	case "insufficient_funds":
		return "insufficient tokens"
	case "invalid_state":
		return "operation not allowed in the current state"
	case "not_found":
		return "not found"
	case "validation_error":
		return "validation error"
	default:
		return "internal server error"
	}
}

func internalError() (int, errorPayload) {
	return http.StatusInternalServerError, errorPayload{
		Type:    "internal_error",
		Message: "internal server error",
	}
}

func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	_, payload := mapError(err)
	return payload.Type, payload.Code
}
