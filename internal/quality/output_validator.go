package quality

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/iago/support-inbox-back/internal/domain"
	"github.com/iago/support-inbox-back/internal/policy"
)

var ErrQualityRejected = errors.New("output failed quality checks")

const (
	maxReplyLength     = 2400
	minReplyLength     = 20
	maxKeywords        = 10
	maxContactDetails  = 5
	maxExtractedLength = 200
)

// RawSentiment is the sentiment payload as the model returned it.
type RawSentiment struct {
	Sentiment  string   `json:"sentiment"`
	Score      *float64 `json:"score"`
	Confidence *float64 `json:"confidence"`
}

type OutputValidator struct{}

func NewOutputValidator() *OutputValidator {
	return &OutputValidator{}
}

// ValidateSentiment rejects unknown labels and clamps the score to a rounded
// 1..5 and the confidence to 0..1.
func (v *OutputValidator) ValidateSentiment(raw RawSentiment) (domain.SentimentAnalysis, error) {
	sentiment, ok := domain.ParseSentiment(raw.Sentiment)
	if !ok {
		return domain.SentimentAnalysis{}, fmt.Errorf("%w: unknown sentiment %q", ErrQualityRejected, raw.Sentiment)
	}

	score := 3
	if raw.Score != nil && !math.IsNaN(*raw.Score) {
		score = int(math.Round(clamp(*raw.Score, 1, 5)))
	}
	confidence := 0.5
	if raw.Confidence != nil && !math.IsNaN(*raw.Confidence) {
		confidence = round2(clamp(*raw.Confidence, 0, 1))
	}

	return domain.SentimentAnalysis{
		Sentiment:  sentiment,
		Score:      score,
		Confidence: confidence,
	}, nil
}

// ValidateExtraction trims every field, drops duplicates and caps list sizes.
// An extraction with nothing in it is rejected.
func (v *OutputValidator) ValidateExtraction(raw domain.ExtractedInfo) (domain.ExtractedInfo, error) {
	info := domain.ExtractedInfo{
		IssueType:      truncateAtWord(normalizeText(raw.IssueType), maxExtractedLength),
		Urgency:        truncateAtWord(normalizeText(raw.Urgency), maxExtractedLength),
		Duration:       truncateAtWord(normalizeText(raw.Duration), maxExtractedLength),
		Impact:         truncateAtWord(normalizeText(raw.Impact), maxExtractedLength),
		ContactDetails: dedupe(raw.ContactDetails, maxContactDetails, false),
		Keywords:       dedupe(raw.Keywords, maxKeywords, true),
	}

	if info.IssueType == "" &&
		info.Urgency == "" &&
		info.Duration == "" &&
		info.Impact == "" &&
		len(info.ContactDetails) == 0 &&
		len(info.Keywords) == 0 {
		return domain.ExtractedInfo{}, fmt.Errorf("%w: extraction is empty", ErrQualityRejected)
	}
	return info, nil
}

// ValidateReply normalizes whitespace inside paragraphs, caps the length and
// rejects drafts that are too short or break content rules.
func (v *OutputValidator) ValidateReply(raw string) (string, error) {
	paragraphs := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")
	kept := make([]string, 0, len(paragraphs))
	blank := false
	for _, paragraph := range paragraphs {
		normalized := normalizeText(paragraph)
		if normalized == "" {
			blank = len(kept) > 0
			continue
		}
		if blank {
			kept = append(kept, "")
			blank = false
		}
		kept = append(kept, normalized)
	}
	reply := strings.Join(kept, "\n")

	if len(reply) < minReplyLength {
		return "", fmt.Errorf("%w: reply too short", ErrQualityRejected)
	}
	if len(reply) > maxReplyLength {
		reply = truncateAtWord(reply, maxReplyLength)
	}
	if !hasTerminalPunctuation(reply) {
		reply += "."
	}
	if evaluation := policy.EvaluateDraft(reply); !evaluation.Allowed {
		return "", fmt.Errorf("%w: %s", ErrQualityRejected, evaluation.Violations[0].Message)
	}
	return reply, nil
}

func dedupe(values []string, limit int, lower bool) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		normalized := truncateAtWord(normalizeText(value), maxExtractedLength)
		if lower {
			normalized = strings.ToLower(normalized)
		}
		if normalized == "" {
			continue
		}
		key := strings.ToLower(normalized)
		if _, exists := seen[key]; exists {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, normalized)
		if len(out) == limit {
			break
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func normalizeText(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	parts := strings.Fields(trimmed)
	return strings.Join(parts, " ")
}

func truncateAtWord(value string, maxLen int) string {
	if len(value) <= maxLen || maxLen <= 0 {
		return value
	}
	cut := value[:maxLen]
	lastSpace := strings.LastIndex(cut, " ")
	if lastSpace > maxLen/2 {
		cut = cut[:lastSpace]
	}
	return strings.TrimSpace(cut)
}

func hasTerminalPunctuation(value string) bool {
	if value == "" {
		return false
	}
	last := value[len(value)-1]
	return last == '.' || last == '!' || last == '?'
}

func clamp(value, low, high float64) float64 {
	if value < low {
		return low
	}
	if value > high {
		return high
	}
	return value
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}
