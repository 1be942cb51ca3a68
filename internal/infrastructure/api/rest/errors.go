package rest

import (
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"github.com/smilemakc/workflow-core/internal/domain"
	"github.com/smilemakc/workflow-core/pkg/models"
)

type APIError struct {
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Success    bool                   `json:"success"`
	Details    map[string]interface{} `json:"details,omitempty"`
	HTTPStatus int                    `json:"-"`
}

func (e *APIError) Error() string {
	return e.Message
}

func NewAPIError(code, message string, httpStatus int) *APIError {
	return &APIError{
		Code:       code,
		Message:    message,
		Success:    false,
		HTTPStatus: httpStatus,
	}
}

func NewAPIErrorWithDetails(code, message string, httpStatus int, details map[string]interface{}) *APIError {
	return &APIError{
		Code:       code,
		Message:    message,
		Success:    false,
		Details:    details,
		HTTPStatus: httpStatus,
	}
}

var (
	ErrBadRequest       = NewAPIError("BAD_REQUEST", "Invalid request", http.StatusBadRequest)
	ErrUnauthorized     = NewAPIError("UNAUTHORIZED", "Authentication required", http.StatusUnauthorized)
	ErrForbidden        = NewAPIError("FORBIDDEN", "Access denied", http.StatusForbidden)
	ErrNotFound         = NewAPIError("NOT_FOUND", "Resource not found", http.StatusNotFound)
	ErrConflict         = NewAPIError("CONFLICT", "Resource conflict", http.StatusConflict)
	ErrValidationFailed = NewAPIError("VALIDATION_FAILED", "Validation failed", http.StatusBadRequest)
	ErrInternalServer   = NewAPIError("INTERNAL_ERROR", "Internal server error", http.StatusInternalServerError)
	ErrInvalidJSON      = NewAPIError("INVALID_JSON", "Invalid JSON in request body", http.StatusBadRequest)
	ErrMissingParameter = NewAPIError("MISSING_PARAMETER", "Required parameter is missing", http.StatusBadRequest)
)

// TranslateError maps an error into the spec §6/§7 HTTP shape: the
// domain's CoreError.Kind is the primary dispatch, with sentinel/string
// fallbacks for errors that reach this edge unwrapped.
func TranslateError(err error) *APIError {
	if err == nil {
		return nil
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var coreErr *domain.CoreError
	if errors.As(err, &coreErr) {
		return coreErrToAPIError(coreErr)
	}

	switch {
	case errors.Is(err, models.ErrWorkflowNotFound),
		errors.Is(err, models.ErrInstanceNotFound),
		errors.Is(err, models.ErrNodeNotFound),
		errors.Is(err, models.ErrEdgeNotFound),
		errors.Is(err, models.ErrProcessorNotFound),
		errors.Is(err, models.ErrTaskNotFound),
		errors.Is(err, models.ErrSubdivisionNotFound),
		errors.Is(err, domain.ErrWorkflowNotFound),
		errors.Is(err, domain.ErrNodeNotFound),
		errors.Is(err, domain.ErrEdgeNotFound),
		errors.Is(err, domain.ErrProcessorNotFound),
		errors.Is(err, domain.ErrWorkflowInstanceNotFound),
		errors.Is(err, domain.ErrNodeInstanceNotFound),
		errors.Is(err, domain.ErrTaskNotFound),
		errors.Is(err, domain.ErrSubdivisionNotFound),
		errors.Is(err, sql.ErrNoRows):
		return NewAPIError("NOT_FOUND", "Resource not found", http.StatusNotFound)

	case errors.Is(err, models.ErrUnauthorized):
		return NewAPIError("UNAUTHORIZED", "Authentication required", http.StatusUnauthorized)
	case errors.Is(err, models.ErrForbidden), errors.Is(err, models.ErrPermissionDenied):
		return NewAPIError("FORBIDDEN", "Access denied", http.StatusForbidden)

	case errors.Is(err, models.ErrWorkflowExists):
		return NewAPIError("WORKFLOW_EXISTS", "Workflow already exists", http.StatusConflict)

	case errors.Is(err, models.ErrValidationFailed), errors.Is(err, models.ErrInvalidInput):
		return NewAPIError("VALIDATION_FAILED", "Validation failed", http.StatusBadRequest)
	}

	var validationErr *models.ValidationError
	if errors.As(err, &validationErr) {
		return NewAPIErrorWithDetails(
			"VALIDATION_ERROR",
			validationErr.Message,
			http.StatusBadRequest,
			map[string]interface{}{"field": validationErr.Field},
		)
	}

	var validationErrs models.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		details := make(map[string]interface{}, len(validationErrs))
		for _, ve := range validationErrs {
			details[ve.Field] = ve.Message
		}
		return NewAPIErrorWithDetails("VALIDATION_FAILED", validationErrs[0].Message, http.StatusBadRequest, details)
	}

	errMsg := strings.ToLower(err.Error())
	if strings.Contains(errMsg, "no rows") || strings.Contains(errMsg, "not found") {
		return NewAPIError("NOT_FOUND", "Resource not found", http.StatusNotFound)
	}

	return NewAPIError("INTERNAL_ERROR", "An unexpected error occurred", http.StatusInternalServerError)
}

// coreErrToAPIError maps a CoreError's Kind to the HTTP status spec §7
// assigns it. This is the only place in the repository that branches on
// ErrorKind for HTTP semantics (spec §7's "nothing upstream of the HTTP
// edge branches on HTTP semantics").
func coreErrToAPIError(e *domain.CoreError) *APIError {
	switch e.Kind {
	case domain.KindValidation:
		return NewAPIError("VALIDATION_FAILED", e.Message, http.StatusBadRequest)
	case domain.KindAuthorization:
		return NewAPIError("FORBIDDEN", e.Message, http.StatusForbidden)
	case domain.KindNotFound:
		return NewAPIError("NOT_FOUND", e.Message, http.StatusNotFound)
	case domain.KindConflict:
		return NewAPIError("CONFLICT", e.Message, http.StatusConflict)
	case domain.KindTransientExternal:
		return NewAPIError("TRANSIENT_ERROR", e.Message, http.StatusServiceUnavailable)
	case domain.KindDataParse:
		return NewAPIError("DATA_PARSE_ERROR", e.Message, http.StatusBadRequest)
	case domain.KindInternalConsistency:
		fallthrough
	default:
		return NewAPIError("INTERNAL_ERROR", e.Message, http.StatusInternalServerError)
	}
}
