package repository

import (
	"context"
	"testing"
	"time"

	"github.com/iago/support-inbox-back/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedEmail(id string, priority domain.Priority, sentDate time.Time) *domain.Email {
	return &domain.Email{
		ID:             id,
		Sender:         id + "@example.com",
		Subject:        "subject " + id,
		Body:           "body " + id,
		SentDate:       sentDate,
		Priority:       priority,
		ResponseStatus: domain.StatusPending,
		CreatedAt:      sentDate,
	}
}

func TestMemoryEmailRepositoryListAllOrdersUrgentThenNewest(t *testing.T) {
	repo := NewMemoryEmailRepository()
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Create(ctx, seedEmail("a", domain.PriorityNormal, base.Add(3*time.Hour))))
	require.NoError(t, repo.Create(ctx, seedEmail("b", domain.PriorityUrgent, base)))
	require.NoError(t, repo.Create(ctx, seedEmail("c", domain.PriorityUrgent, base.Add(time.Hour))))
	require.NoError(t, repo.Create(ctx, seedEmail("d", domain.PriorityNormal, base.Add(time.Hour))))

	items, err := repo.ListAll(ctx)
	require.NoError(t, err)

	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	assert.Equal(t, []string{"c", "b", "a", "d"}, ids)
}

func TestMemoryEmailRepositoryUpdateAppliesPartialFields(t *testing.T) {
	repo := NewMemoryEmailRepository()
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, seedEmail("a", domain.PriorityNormal, time.Now())))

	sentiment := domain.SentimentNegative
	score := 2
	reply := "draft"
	status := domain.StatusGenerated
	updated, err := repo.Update(ctx, "a", domain.EmailUpdate{
		Sentiment:      &sentiment,
		SentimentScore: &score,
		AIResponse:     &reply,
		ResponseStatus: &status,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusGenerated, updated.ResponseStatus)
	require.NotNil(t, updated.Sentiment)
	assert.Equal(t, domain.SentimentNegative, *updated.Sentiment)
	assert.Nil(t, updated.ExtractedInfo)

	stored, err := repo.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "draft", *stored.AIResponse)
	assert.Equal(t, "subject a", stored.Subject)
}

func TestMemoryEmailRepositoryUpdateHonorsStatusGuard(t *testing.T) {
	repo := NewMemoryEmailRepository()
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	sentEmail := seedEmail("sent", domain.PriorityNormal, base)
	sentEmail.ResponseStatus = domain.StatusSent
	require.NoError(t, repo.Create(ctx, sentEmail))
	require.NoError(t, repo.Create(ctx, seedEmail("open", domain.PriorityNormal, base)))

	sent := domain.StatusSent
	draft := "Hello"
	guarded := domain.EmailUpdate{AIResponse: &draft, UnlessStatus: &sent}

	_, err := repo.Update(ctx, "sent", guarded)
	require.ErrorIs(t, err, ErrStatusConflict)
	stored, err := repo.Get(ctx, "sent")
	require.NoError(t, err)
	assert.Nil(t, stored.AIResponse)

	updated, err := repo.Update(ctx, "open", guarded)
	require.NoError(t, err)
	assert.Equal(t, "Hello", *updated.AIResponse)

	_, err = repo.Update(ctx, "missing", guarded)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryEmailRepositoryReturnsClones(t *testing.T) {
	repo := NewMemoryEmailRepository()
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, seedEmail("a", domain.PriorityNormal, time.Now())))

	first, err := repo.Get(ctx, "a")
	require.NoError(t, err)
	first.Subject = "mutated"

	second, err := repo.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "subject a", second.Subject)
}

func TestMemoryEmailRepositoryNotFound(t *testing.T) {
	repo := NewMemoryEmailRepository()
	ctx := context.Background()

	_, err := repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = repo.Update(ctx, "missing", domain.StatusUpdate(domain.StatusSent))
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, repo.Delete(ctx, "missing"), ErrNotFound)
}

func TestMemoryEmailRepositoryListFilters(t *testing.T) {
	repo := NewMemoryEmailRepository()
	ctx := context.Background()
	now := time.Now()

	urgent := seedEmail("a", domain.PriorityUrgent, now)
	urgent.Body = "Our Payment gateway is DOWN"
	negative := domain.SentimentNegative
	urgent.Sentiment = &negative
	require.NoError(t, repo.Create(ctx, urgent))
	require.NoError(t, repo.Create(ctx, seedEmail("b", domain.PriorityNormal, now)))

	tests := []struct {
		name   string
		filter domain.EmailFilter
		want   int
	}{
		{name: "no filter", filter: domain.EmailFilter{}, want: 2},
		{name: "priority", filter: domain.EmailFilter{Priority: domain.PriorityUrgent}, want: 1},
		{name: "sentiment", filter: domain.EmailFilter{Sentiment: domain.SentimentNegative}, want: 1},
		{name: "sentiment without analysis", filter: domain.EmailFilter{Sentiment: domain.SentimentPositive}, want: 0},
		{name: "search body case insensitive", filter: domain.EmailFilter{Search: "payment"}, want: 1},
		{name: "search sender", filter: domain.EmailFilter{Search: "B@EXAMPLE"}, want: 1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			items, err := repo.List(ctx, tc.filter)
			require.NoError(t, err)
			assert.Len(t, items, tc.want)
		})
	}
}

func TestBuildEmailFilters(t *testing.T) {
	where, args := buildEmailFilters(domain.EmailFilter{
		Priority: domain.PriorityUrgent,
		Search:   "login",
	})
	assert.Contains(t, where, "priority = $1")
	assert.Contains(t, where, "sender ILIKE '%' || $2 || '%'")
	assert.Equal(t, []any{"urgent", "login"}, args)

	where, args = buildEmailFilters(domain.EmailFilter{})
	assert.Empty(t, where)
	assert.Empty(t, args)
}
