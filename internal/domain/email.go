package domain

import (
	"strings"
	"time"
)

type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityNormal Priority = "normal"
)

func (p Priority) Valid() bool {
	return p == PriorityUrgent || p == PriorityNormal
}

type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
)

func (s Sentiment) Valid() bool {
	switch s {
	case SentimentPositive, SentimentNegative, SentimentNeutral:
		return true
	default:
		return false
	}
}

// ParseSentiment maps a free-form label onto a known sentiment.
func ParseSentiment(value string) (Sentiment, bool) {
	candidate := Sentiment(strings.ToLower(strings.TrimSpace(value)))
	if !candidate.Valid() {
		return "", false
	}
	return candidate, true
}

type ResponseStatus string

const (
	StatusPending   ResponseStatus = "pending"
	StatusGenerated ResponseStatus = "generated"
	StatusSent      ResponseStatus = "sent"
	StatusFailed    ResponseStatus = "failed"
)

func (s ResponseStatus) Valid() bool {
	switch s {
	case StatusPending, StatusGenerated, StatusSent, StatusFailed:
		return true
	default:
		return false
	}
}

// Retryable reports whether a record in this status may be enriched by a sweep.
func (s ResponseStatus) Retryable() bool {
	return s == StatusPending || s == StatusFailed
}

// ExtractedInfo holds the structured fields pulled from an email body.
// Every field is optional.
type ExtractedInfo struct {
	IssueType      string   `json:"issueType,omitempty"`
	Urgency        string   `json:"urgency,omitempty"`
	Duration       string   `json:"duration,omitempty"`
	Impact         string   `json:"impact,omitempty"`
	ContactDetails []string `json:"contactDetails,omitempty"`
	Keywords       []string `json:"keywords,omitempty"`
}

func (e ExtractedInfo) Clone() ExtractedInfo {
	clone := e
	clone.ContactDetails = append([]string(nil), e.ContactDetails...)
	clone.Keywords = append([]string(nil), e.Keywords...)
	return clone
}

type SentimentAnalysis struct {
	Sentiment  Sentiment `json:"sentiment"`
	Score      int       `json:"score"`
	Confidence float64   `json:"confidence"`
}

// Email is one ingested support message plus everything derived from it.
type Email struct {
	ID             string         `json:"id"`
	Sender         string         `json:"sender"`
	Subject        string         `json:"subject"`
	Body           string         `json:"body"`
	SentDate       time.Time      `json:"sentDate"`
	Priority       Priority       `json:"priority"`
	Sentiment      *Sentiment     `json:"sentiment"`
	SentimentScore *int           `json:"sentimentScore"`
	ExtractedInfo  *ExtractedInfo `json:"extractedInfo"`
	AIResponse     *string        `json:"aiResponse"`
	ResponseStatus ResponseStatus `json:"responseStatus"`
	ProcessedAt    *time.Time     `json:"processed"`
	CreatedAt      time.Time      `json:"createdAt"`
}

func (e *Email) Clone() *Email {
	if e == nil {
		return nil
	}
	clone := *e
	if e.Sentiment != nil {
		value := *e.Sentiment
		clone.Sentiment = &value
	}
	if e.SentimentScore != nil {
		value := *e.SentimentScore
		clone.SentimentScore = &value
	}
	if e.ExtractedInfo != nil {
		value := e.ExtractedInfo.Clone()
		clone.ExtractedInfo = &value
	}
	if e.AIResponse != nil {
		value := *e.AIResponse
		clone.AIResponse = &value
	}
	if e.ProcessedAt != nil {
		value := *e.ProcessedAt
		clone.ProcessedAt = &value
	}
	return &clone
}

// EmailUpdate is a partial update. Nil fields are left untouched.
// Priority and the original message fields are never part of an update.
type EmailUpdate struct {
	Sentiment      *Sentiment
	SentimentScore *int
	ExtractedInfo  *ExtractedInfo
	AIResponse     *string
	ResponseStatus *ResponseStatus
	ProcessedAt    *time.Time

	// UnlessStatus rejects the whole update when the stored status equals it.
	UnlessStatus *ResponseStatus
}

func (u EmailUpdate) Empty() bool {
	return u.Sentiment == nil &&
		u.SentimentScore == nil &&
		u.ExtractedInfo == nil &&
		u.AIResponse == nil &&
		u.ResponseStatus == nil &&
		u.ProcessedAt == nil
}

// Apply merges the update into the email in place.
func (u EmailUpdate) Apply(email *Email) {
	if u.Sentiment != nil {
		value := *u.Sentiment
		email.Sentiment = &value
	}
	if u.SentimentScore != nil {
		value := *u.SentimentScore
		email.SentimentScore = &value
	}
	if u.ExtractedInfo != nil {
		value := u.ExtractedInfo.Clone()
		email.ExtractedInfo = &value
	}
	if u.AIResponse != nil {
		value := *u.AIResponse
		email.AIResponse = &value
	}
	if u.ResponseStatus != nil {
		email.ResponseStatus = *u.ResponseStatus
	}
	if u.ProcessedAt != nil {
		value := *u.ProcessedAt
		email.ProcessedAt = &value
	}
}

// Permits reports whether the guard allows writing over a record whose
// status is current.
func (u EmailUpdate) Permits(current ResponseStatus) bool {
	return u.UnlessStatus == nil || *u.UnlessStatus != current
}

// StatusUpdate builds an update that only changes the response status.
func StatusUpdate(status ResponseStatus) EmailUpdate {
	return EmailUpdate{ResponseStatus: &status}
}

type EmailFilter struct {
	Priority  Priority
	Sentiment Sentiment
	Search    string
}

// Matches applies the filter in memory. Search is a case-insensitive
// substring match over sender, subject and body.
func (f EmailFilter) Matches(email *Email) bool {
	if f.Priority != "" && email.Priority != f.Priority {
		return false
	}
	if f.Sentiment != "" {
		if email.Sentiment == nil || *email.Sentiment != f.Sentiment {
			return false
		}
	}
	search := strings.ToLower(strings.TrimSpace(f.Search))
	if search == "" {
		return true
	}
	return strings.Contains(strings.ToLower(email.Sender), search) ||
		strings.Contains(strings.ToLower(email.Subject), search) ||
		strings.Contains(strings.ToLower(email.Body), search)
}
