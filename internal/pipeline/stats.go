package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/iago/support-inbox-back/internal/domain"
)

const recentWindow = 24 * time.Hour

type EmailLister interface {
	ListAll(ctx context.Context) ([]*domain.Email, error)
}

// StatsAggregator computes dashboard counters straight from the store on
// every call.
type StatsAggregator struct {
	store EmailLister
	now   func() time.Time
}

func NewStatsAggregator(store EmailLister, now func() time.Time) *StatsAggregator {
	if now == nil {
		now = time.Now
	}
	return &StatsAggregator{store: store, now: now}
}

func (a *StatsAggregator) Compute(ctx context.Context) (domain.Stats, error) {
	emails, err := a.store.ListAll(ctx)
	if err != nil {
		return domain.Stats{}, fmt.Errorf("list emails for stats: %w", err)
	}
	return Summarize(emails, a.now()), nil
}

// Summarize is the pure part of Compute.
func Summarize(emails []*domain.Email, now time.Time) domain.Stats {
	cutoff := now.Add(-recentWindow)
	stats := domain.Stats{}

	var (
		turnaround time.Duration
		resolved   int
	)
	for _, email := range emails {
		if !email.SentDate.Before(cutoff) {
			stats.TotalEmails++
		}

		switch email.Priority {
		case domain.PriorityUrgent:
			stats.UrgentEmails++
			stats.PriorityBreakdown.Urgent++
		case domain.PriorityNormal:
			stats.PriorityBreakdown.Normal++
		}

		switch email.ResponseStatus {
		case domain.StatusSent:
			stats.ResolvedEmails++
			if email.ProcessedAt != nil {
				turnaround += email.ProcessedAt.Sub(email.SentDate)
				resolved++
			}
		case domain.StatusPending, domain.StatusGenerated:
			stats.PendingEmails++
		}

		if email.Sentiment != nil {
			switch *email.Sentiment {
			case domain.SentimentPositive:
				stats.SentimentBreakdown.Positive++
			case domain.SentimentNegative:
				stats.SentimentBreakdown.Negative++
			case domain.SentimentNeutral:
				stats.SentimentBreakdown.Neutral++
			}
		}
	}

	average := 0.0
	if resolved > 0 {
		average = turnaround.Hours() / float64(resolved)
	}
	stats.AvgResponseTime = FormatHours(average)
	return stats
}

// FormatHours renders a positive duration in hours with one decimal, and
// anything else as "0h".
func FormatHours(hours float64) string {
	if hours > 0 {
		return fmt.Sprintf("%.1fh", hours)
	}
	return "0h"
}
