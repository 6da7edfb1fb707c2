package policy

import (
	"errors"
	"strings"

	"github.com/iago/support-inbox-back/internal/domain"
)

var ErrDraftMissing = errors.New("email has no drafted response to send")

type ReviewMetadata struct {
	Required          bool     `json:"required"`
	AllowedActions    []string `json:"allowedActions"`
	ProhibitedActions []string `json:"prohibitedActions"`
	Reason            string   `json:"reason"`
}

// DefaultReviewMetadata describes what a reviewer may do with a draft.
// Drafts are never delivered without a person confirming them.
func DefaultReviewMetadata() ReviewMetadata {
	return ReviewMetadata{
		Required:          true,
		AllowedActions:    []string{"edit", "regenerate", "send"},
		ProhibitedActions: []string{"auto_send"},
		Reason:            "a support agent must review the drafted reply before it is sent",
	}
}

// EnsureSendable checks that a reviewer has something to send.
func EnsureSendable(email *domain.Email) error {
	if email == nil || email.AIResponse == nil || strings.TrimSpace(*email.AIResponse) == "" {
		return ErrDraftMissing
	}
	return nil
}
