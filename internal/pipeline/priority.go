package pipeline

import (
	"strings"

	"github.com/iago/support-inbox-back/internal/domain"
)

var urgentKeywords = []string{
	"urgent",
	"critical",
	"immediately",
	"emergency",
	"down",
	"cannot access",
	"blocked",
	"immediate",
	"asap",
}

// Classify marks a message urgent when any urgency keyword appears anywhere in
// it, ignoring case. Matching is by substring, so "download" counts as "down".
func Classify(text string) domain.Priority {
	lowered := strings.ToLower(text)
	for _, keyword := range urgentKeywords {
		if strings.Contains(lowered, keyword) {
			return domain.PriorityUrgent
		}
	}
	return domain.PriorityNormal
}

// ClassifyMessage classifies the subject and body together.
func ClassifyMessage(subject, body string) domain.Priority {
	return Classify(subject + " " + body)
}
