package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/iago/support-inbox-back/internal/domain"
	"github.com/iago/support-inbox-back/internal/policy"
	"github.com/iago/support-inbox-back/internal/service"
)

type createEmailRequest struct {
	Sender   string     `json:"sender" validate:"required,email,max=320"`
	Subject  string     `json:"subject" validate:"required,max=998"`
	Body     string     `json:"body" validate:"required,max=50000"`
	SentDate *time.Time `json:"sentDate,omitempty"`
}

type updateEmailRequest struct {
	AIResponse *string `json:"aiResponse" validate:"required"`
}

type reviewResponse struct {
	EmailID  string                `json:"emailId"`
	Status   domain.ResponseStatus `json:"responseStatus"`
	Sendable bool                  `json:"sendable"`
	Review   policy.ReviewMetadata `json:"review"`
}

func (api *API) ListEmails(w http.ResponseWriter, r *http.Request) {
	filter, err := parseEmailFilter(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	emails, err := api.emails.List(r.Context(), filter)
	if err != nil {
		api.writeServiceError(w, r, err, "list emails")
		return
	}
	writeJSON(w, http.StatusOK, emails)
}

func (api *API) CreateEmail(w http.ResponseWriter, r *http.Request) {
	var request createEmailRequest
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}
	if err := api.validate.Struct(request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", validationMessage(err))
		return
	}

	input := service.IngestInput{
		Sender:  request.Sender,
		Subject: request.Subject,
		Body:    request.Body,
	}
	if request.SentDate != nil {
		input.SentDate = *request.SentDate
	}

	email, err := api.emails.Ingest(r.Context(), input)
	if err != nil {
		api.writeServiceError(w, r, err, "create email")
		return
	}
	writeJSON(w, http.StatusCreated, email)
}

func (api *API) GetEmail(w http.ResponseWriter, r *http.Request) {
	email, err := api.emails.Get(r.Context(), emailID(r))
	if err != nil {
		api.writeServiceError(w, r, err, "fetch email")
		return
	}
	writeJSON(w, http.StatusOK, email)
}

func (api *API) UpdateEmail(w http.ResponseWriter, r *http.Request) {
	var request updateEmailRequest
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}
	if err := api.validate.Struct(request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", validationMessage(err))
		return
	}

	email, err := api.emails.UpdateDraft(r.Context(), emailID(r), *request.AIResponse)
	if err != nil {
		api.writeServiceError(w, r, err, "update email")
		return
	}
	writeJSON(w, http.StatusOK, email)
}

func (api *API) DeleteEmail(w http.ResponseWriter, r *http.Request) {
	if err := api.emails.Delete(r.Context(), emailID(r)); err != nil {
		api.writeServiceError(w, r, err, "delete email")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ProcessEmail serves both /process and /regenerate: enrichment always
// replaces the previous analysis and draft.
func (api *API) ProcessEmail(w http.ResponseWriter, r *http.Request) {
	email, err := api.emails.Enrich(r.Context(), emailID(r))
	if err != nil {
		api.writeServiceError(w, r, err, "process email")
		return
	}
	writeJSON(w, http.StatusOK, email)
}

func (api *API) SendEmail(w http.ResponseWriter, r *http.Request) {
	email, err := api.emails.MarkSent(r.Context(), emailID(r))
	if err != nil {
		api.writeServiceError(w, r, err, "mark email as sent")
		return
	}
	writeJSON(w, http.StatusOK, email)
}

func (api *API) ReviewEmail(w http.ResponseWriter, r *http.Request) {
	email, err := api.emails.Get(r.Context(), emailID(r))
	if err != nil {
		api.writeServiceError(w, r, err, "fetch email")
		return
	}
	writeJSON(w, http.StatusOK, reviewResponse{
		EmailID:  email.ID,
		Status:   email.ResponseStatus,
		Sendable: email.ResponseStatus != domain.StatusSent && policy.EnsureSendable(email) == nil,
		Review:   policy.DefaultReviewMetadata(),
	})
}

func (api *API) ProcessAll(w http.ResponseWriter, r *http.Request) {
	if _, err := api.emails.RequestBacklog(r.Context()); err != nil {
		writeError(w, r, http.StatusServiceUnavailable, "queue_unavailable", "failed to start processing")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"message": "processing started"})
}

func (api *API) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := api.emails.Stats(r.Context())
	if err != nil {
		api.writeServiceError(w, r, err, "fetch statistics")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// parseEmailFilter reads priority, sentiment and search. "all" or an empty
// value means no filter.
func parseEmailFilter(r *http.Request) (domain.EmailFilter, error) {
	query := r.URL.Query()
	filter := domain.EmailFilter{Search: strings.TrimSpace(query.Get("search"))}

	if value := strings.ToLower(strings.TrimSpace(query.Get("priority"))); value != "" && value != "all" {
		priority := domain.Priority(value)
		if !priority.Valid() {
			return domain.EmailFilter{}, errors.New("priority must be urgent, normal or all")
		}
		filter.Priority = priority
	}
	if value := strings.TrimSpace(query.Get("sentiment")); value != "" && !strings.EqualFold(value, "all") {
		sentiment, ok := domain.ParseSentiment(value)
		if !ok {
			return domain.EmailFilter{}, errors.New("sentiment must be positive, negative, neutral or all")
		}
		filter.Sentiment = sentiment
	}
	return filter, nil
}
