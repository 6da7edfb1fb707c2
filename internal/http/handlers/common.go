package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/iago/support-inbox-back/internal/http/middleware"
	"github.com/iago/support-inbox-back/internal/pipeline"
	"github.com/iago/support-inbox-back/internal/policy"
	"github.com/iago/support-inbox-back/internal/repository"
	"github.com/iago/support-inbox-back/internal/service"
	"go.uber.org/zap"
)

var errInvalidPayload = errors.New("invalid payload")

type API struct {
	emails   *service.EmailsService
	validate *validator.Validate
	logger   *zap.Logger
}

func NewAPI(emails *service.EmailsService, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &API{
		emails:   emails,
		validate: validate,
		logger:   logger.Named("handlers"),
	}
}

type errorPayload struct {
	Error struct {
		Code       string             `json:"code"`
		Message    string             `json:"message"`
		Violations []policy.Violation `json:"violations,omitempty"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func writeJSON(w http.ResponseWriter, statusCode int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string) {
	payload := errorPayload{RequestID: middleware.GetRequestID(r.Context())}
	payload.Error.Code = code
	payload.Error.Message = message
	writeJSON(w, statusCode, payload)
}

// writeServiceError maps service and pipeline errors onto HTTP statuses.
func (api *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error, action string) {
	var violation *policy.PolicyViolationError
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not_found", "email not found")
	case errors.Is(err, pipeline.ErrAlreadySent):
		writeError(w, r, http.StatusConflict, "already_sent", "email response was already sent")
	case errors.Is(err, policy.ErrDraftMissing):
		writeError(w, r, http.StatusConflict, "draft_missing", policy.ErrDraftMissing.Error())
	case errors.Is(err, service.ErrEmptyDraft):
		writeError(w, r, http.StatusBadRequest, "invalid_request", service.ErrEmptyDraft.Error())
	case errors.As(err, &violation):
		payload := errorPayload{RequestID: middleware.GetRequestID(r.Context())}
		payload.Error.Code = "policy_violation"
		payload.Error.Message = violation.Error()
		payload.Error.Violations = violation.Violations
		writeJSON(w, http.StatusUnprocessableEntity, payload)
	default:
		api.logger.Error(action+" failed",
			zap.String("request_id", middleware.GetRequestID(r.Context())),
			zap.Error(err),
		)
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to "+action)
	}
}

func decodeJSON(r *http.Request, value any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(value); err != nil {
		return errInvalidPayload
	}
	return nil
}

// validationMessage renders the first failed rule as "field: rule".
func validationMessage(err error) string {
	var errs validator.ValidationErrors
	if errors.As(err, &errs) && len(errs) > 0 {
		return errs[0].Field() + ": failed " + errs[0].Tag() + " rule"
	}
	return "invalid payload"
}

func emailID(r *http.Request) string {
	return strings.TrimSpace(r.PathValue("id"))
}
