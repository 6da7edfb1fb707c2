package pipeline

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/iago/support-inbox-back/internal/domain"
	"github.com/iago/support-inbox-back/internal/enrichment"
)

func FallbackSentiment() domain.SentimentAnalysis {
	return domain.SentimentAnalysis{
		Sentiment:  domain.SentimentNeutral,
		Score:      3,
		Confidence: 0.5,
	}
}

// FallbackExtraction keeps the subject words longer than three characters,
// lower-cased, as keywords.
func FallbackExtraction(subject string) domain.ExtractedInfo {
	keywords := make([]string, 0)
	for _, word := range strings.Fields(strings.ToLower(subject)) {
		if utf8.RuneCountInString(word) > 3 {
			keywords = append(keywords, word)
		}
	}
	return domain.ExtractedInfo{Keywords: keywords}
}

func FallbackResponse(message enrichment.Message) string {
	name := message.Sender
	if at := strings.Index(name, "@"); at >= 0 {
		name = name[:at]
	}
	return fmt.Sprintf(`Dear %s,

Thank you for contacting our support team regarding "%s".

We have received your request and our team is reviewing it. We will get back to you within 24 hours with a detailed response.

If this is urgent, please don't hesitate to contact us directly.

Best regards,
Support Team`, name, message.Subject)
}
