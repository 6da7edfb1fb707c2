package policy

import (
	"errors"
	"strings"
	"unicode/utf8"
)

var ErrContentPolicyViolation = errors.New("content policy violation")

const (
	maxSenderLength  = 320
	maxSubjectLength = 998
	maxBodyLength    = 50000
)

type Violation struct {
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

type Evaluation struct {
	Allowed    bool        `json:"allowed"`
	Violations []Violation `json:"violations,omitempty"`
}

type PolicyViolationError struct {
	Violations []Violation
}

func (e *PolicyViolationError) Error() string {
	if len(e.Violations) == 0 {
		return ErrContentPolicyViolation.Error()
	}
	return "content policy violation: " + e.Violations[0].Message
}

func (e *PolicyViolationError) Unwrap() error {
	return ErrContentPolicyViolation
}

// InboundMessage is the raw text of an email before it is stored.
type InboundMessage struct {
	Sender  string
	Subject string
	Body    string
}

func EnforceIngestionPolicy(message InboundMessage) error {
	evaluation := EvaluateIngestion(message)
	if evaluation.Allowed {
		return nil
	}
	return &PolicyViolationError{Violations: evaluation.Violations}
}

// EvaluateIngestion checks size limits on inbound fields. Oversized text is
// rejected rather than truncated so a stored email always matches what was sent.
func EvaluateIngestion(message InboundMessage) Evaluation {
	violations := make([]Violation, 0, 3)
	for _, field := range []struct {
		name  string
		value string
		limit int
	}{
		{name: "sender", value: message.Sender, limit: maxSenderLength},
		{name: "subject", value: message.Subject, limit: maxSubjectLength},
		{name: "body", value: message.Body, limit: maxBodyLength},
	} {
		if strings.TrimSpace(field.value) == "" {
			violations = append(violations, Violation{
				Code:    "field_empty",
				Field:   field.name,
				Message: field.name + " must not be empty",
			})
			continue
		}
		if utf8.RuneCountInString(field.value) > field.limit {
			violations = append(violations, Violation{
				Code:    "field_too_large",
				Field:   field.name,
				Message: field.name + " exceeds policy size limits",
			})
		}
	}

	if len(violations) == 0 {
		return Evaluation{Allowed: true}
	}
	return Evaluation{Allowed: false, Violations: dedupeViolations(violations)}
}

// EvaluateDraft rejects drafted replies that ask the customer for secrets.
func EvaluateDraft(draft string) Evaluation {
	content := strings.ToLower(draft)
	for _, token := range blockedDraftPhrases {
		if strings.Contains(content, token) {
			return Evaluation{
				Allowed: false,
				Violations: []Violation{{
					Code:    "credential_request",
					Field:   "aiResponse",
					Message: "draft asks the customer for credentials or payment data",
				}},
			}
		}
	}
	return Evaluation{Allowed: true}
}

var blockedDraftPhrases = []string{
	"your password",
	"your pin",
	"full card number",
	"credit card number",
	"security code",
	"cvv",
	"one-time code",
	"verification code you received",
}

func dedupeViolations(values []Violation) []Violation {
	seen := make(map[string]struct{}, len(values))
	result := make([]Violation, 0, len(values))
	for _, value := range values {
		key := value.Code + "|" + value.Field
		if _, exists := seen[key]; exists {
			continue
		}
		seen[key] = struct{}{}
		result = append(result, value)
	}
	return result
}
