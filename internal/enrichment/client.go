package enrichment

import (
	"context"

	"github.com/iago/support-inbox-back/internal/domain"
)

// Message is the part of an email the enrichment capabilities read.
type Message struct {
	Sender  string
	Subject string
	Body    string
}

func MessageFrom(email *domain.Email) Message {
	return Message{
		Sender:  email.Sender,
		Subject: email.Subject,
		Body:    email.Body,
	}
}

type DraftInput struct {
	Message   Message
	Sentiment domain.SentimentAnalysis
	Extracted domain.ExtractedInfo
}

// Client is the set of capabilities an email is enriched with. Each call
// either returns a usable value or an error; callers decide how to degrade.
type Client interface {
	ClassifySentiment(ctx context.Context, text string) (domain.SentimentAnalysis, error)
	ExtractFields(ctx context.Context, message Message) (domain.ExtractedInfo, error)
	DraftResponse(ctx context.Context, input DraftInput) (string, error)
}

// ToneFor picks the reply tone directive from the detected sentiment.
func ToneFor(sentiment domain.Sentiment) string {
	switch sentiment {
	case domain.SentimentNegative:
		return "high empathy and urgency acknowledgment"
	case domain.SentimentPositive:
		return "friendly and appreciative tone"
	default:
		return "professional and helpful tone"
	}
}
