package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/contractbilling/internal/applier"
	"github.com/smallbiznis/contractbilling/internal/authorization"
	contractdomain "github.com/smallbiznis/contractbilling/internal/contract/domain"
	planchangedomain "github.com/smallbiznis/contractbilling/internal/planchange/domain"
	processordomain "github.com/smallbiznis/contractbilling/internal/processor/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type         string            `json:"type"`
	Message      string            `json:"message"`
	Errors       []ValidationError `json:"errors,omitempty"`
	EarliestDate string            `json:"earliest_date,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrConflict       = errors.New("conflict")
	ErrInternal       = errors.New("internal_error")
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
)

// contract sentinels reported as field validation failures
var contractValidationErrors = []error{
	contractdomain.ErrInvalidContract,
	contractdomain.ErrInvalidOrganization,
	contractdomain.ErrInvalidBillingDay,
	contractdomain.ErrInvalidSeatLimit,
	contractdomain.ErrMissingSubscription,
}

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
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	var fieldErr *planchangedomain.ValidationError
	if errors.As(err, &fieldErr) {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   fieldErr.Field,
					Code:    "invalid_" + fieldErr.Field,
					Message: fieldErr.Reason,
				},
			},
		}
	}

	if code, ok := contractValidationCode(err); ok {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	var notice *planchangedomain.NoticePeriodViolation
	if errors.As(err, &notice) {
		return http.StatusUnprocessableEntity, errorPayload{
			Type:         "notice_period_violation",
			Message:      "downgrade does not meet the notice period",
			EarliestDate: notice.EarliestDate.Format(time.DateOnly),
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, authorization.ErrInvalidActor):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, authorization.ErrForbidden),
		errors.Is(err, planchangedomain.ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.Is(err, planchangedomain.ErrContractNotActive):
		return http.StatusConflict, errorPayload{
			Type:    "contract_not_active",
			Message: "contract is not active",
		}
	case errors.Is(err, planchangedomain.ErrConflictingChangeExists):
		return http.StatusConflict, errorPayload{
			Type:    "conflicting_change_exists",
			Message: "a plan change is already pending for this contract",
		}
	case errors.Is(err, applier.ErrRunInProgress):
		return http.StatusConflict, errorPayload{
			Type:    "run_in_progress",
			Message: "an applier run is already in progress",
		}
	case errors.Is(err, ErrConflict),
		errors.Is(err, contractdomain.ErrContractExists),
		errors.Is(err, contractdomain.ErrVersionConflict):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "conflict",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, planchangedomain.ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many plan change requests",
		}
	case errors.Is(err, processordomain.ErrProcessor):
		return http.StatusBadGateway, errorPayload{
			Type:    "processor_error",
			Message: "payment processor request failed",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog returns the response type and a stable code for request logs.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	code := payload.Type
	var storage *planchangedomain.StorageError
	if errors.As(err, &storage) {
		code = "storage:" + storage.Op
	}
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	return payload.Type, code
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func contractValidationCode(err error) (string, bool) {
	if errors.Is(err, ErrInvalidRequest) {
		return "invalid_request", true
	}
	for _, target := range contractValidationErrors {
		if errors.Is(err, target) {
			return target.Error(), true
		}
	}
	return "", false
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, contractdomain.ErrContractNotFound),
		errors.Is(err, planchangedomain.ErrContractNotFound),
		errors.Is(err, planchangedomain.ErrNoPendingChange),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if code == contractdomain.ErrMissingSubscription.Error() {
		return "processor_subscription_id"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case contractdomain.ErrMissingSubscription.Error():
		return "processor-managed contracts need a subscription id"
	default:
		return "invalid value"
	}
}
