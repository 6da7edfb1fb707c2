package quality

import (
	"strings"
	"testing"

	"github.com/iago/support-inbox-back/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(value float64) *float64 { return &value }

func TestValidateSentimentClampsValues(t *testing.T) {
	validator := NewOutputValidator()

	tests := []struct {
		name           string
		raw            RawSentiment
		wantScore      int
		wantConfidence float64
	}{
		{name: "in range", raw: RawSentiment{Sentiment: "negative", Score: ptr(2), Confidence: ptr(0.82)}, wantScore: 2, wantConfidence: 0.82},
		{name: "rounds score", raw: RawSentiment{Sentiment: "Positive", Score: ptr(4.6), Confidence: ptr(0.9)}, wantScore: 5, wantConfidence: 0.9},
		{name: "clamps high", raw: RawSentiment{Sentiment: "neutral", Score: ptr(9), Confidence: ptr(1.7)}, wantScore: 5, wantConfidence: 1},
		{name: "clamps low", raw: RawSentiment{Sentiment: "neutral", Score: ptr(-3), Confidence: ptr(-0.2)}, wantScore: 1, wantConfidence: 0},
		{name: "missing numbers", raw: RawSentiment{Sentiment: " NEUTRAL "}, wantScore: 3, wantConfidence: 0.5},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			analysis, err := validator.ValidateSentiment(tc.raw)
			require.NoError(t, err)
			assert.True(t, analysis.Sentiment.Valid())
			assert.Equal(t, tc.wantScore, analysis.Score)
			assert.InDelta(t, tc.wantConfidence, analysis.Confidence, 0.0001)
		})
	}
}

func TestValidateSentimentRejectsUnknownLabel(t *testing.T) {
	_, err := NewOutputValidator().ValidateSentiment(RawSentiment{Sentiment: "furious"})
	require.ErrorIs(t, err, ErrQualityRejected)
}

func TestValidateExtractionNormalizesLists(t *testing.T) {
	info, err := NewOutputValidator().ValidateExtraction(domain.ExtractedInfo{
		IssueType: "  login   failure ",
		Keywords:  []string{"Login", "login", " ", "Outage"},
	})
	require.NoError(t, err)
	assert.Equal(t, "login failure", info.IssueType)
	assert.Equal(t, []string{"login", "outage"}, info.Keywords)
	assert.Nil(t, info.ContactDetails)
}

func TestValidateExtractionRejectsEmpty(t *testing.T) {
	_, err := NewOutputValidator().ValidateExtraction(domain.ExtractedInfo{Keywords: []string{" "}})
	require.ErrorIs(t, err, ErrQualityRejected)
}

func TestValidateReply(t *testing.T) {
	validator := NewOutputValidator()

	reply, err := validator.ValidateReply("Dear Ana,\r\n\r\n\r\nThanks for   reaching out\n\nBest regards,\nSupport Team")
	require.NoError(t, err)
	assert.Equal(t, "Dear Ana,\n\nThanks for reaching out\n\nBest regards,\nSupport Team.", reply)

	_, err = validator.ValidateReply("ok")
	require.ErrorIs(t, err, ErrQualityRejected)

	_, err = validator.ValidateReply("Please send us your password so we can verify the account.")
	require.ErrorIs(t, err, ErrQualityRejected)

	long, err := validator.ValidateReply(strings.Repeat("word ", 1000))
	require.NoError(t, err)
	assert.LessOrEqual(t, len(long), maxReplyLength+1)
}
