package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/iago/support-inbox-back/internal/domain"
	"github.com/iago/support-inbox-back/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingEnricher struct {
	mu             sync.Mutex
	order          []string
	active         int
	maxActive      int
	failIDs        map[string]bool
	missingIDs     map[string]bool
	delay          time.Duration
	sawLiveContext bool
}

func (e *recordingEnricher) Enrich(ctx context.Context, id string) (*domain.Email, error) {
	e.mu.Lock()
	e.order = append(e.order, id)
	e.active++
	if e.active > e.maxActive {
		e.maxActive = e.active
	}
	if ctx.Err() == nil {
		e.sawLiveContext = true
	}
	e.mu.Unlock()

	time.Sleep(e.delay)

	e.mu.Lock()
	e.active--
	e.mu.Unlock()

	if e.missingIDs[id] {
		return nil, repository.ErrNotFound
	}
	status := domain.StatusGenerated
	if e.failIDs[id] {
		status = domain.StatusFailed
	}
	return &domain.Email{ID: id, ResponseStatus: status}, nil
}

func backlogEmail(id string, priority domain.Priority, status domain.ResponseStatus, age time.Duration) *domain.Email {
	return &domain.Email{
		ID:             id,
		Sender:         id + "@corp.com",
		Subject:        "subject",
		Body:           "body",
		Priority:       priority,
		ResponseStatus: status,
		SentDate:       fixedNow.Add(-age),
	}
}

func TestPlanBatchesOrdersUrgentThenOldest(t *testing.T) {
	emails := []*domain.Email{
		backlogEmail("n-new", domain.PriorityNormal, domain.StatusPending, time.Hour),
		backlogEmail("u-new", domain.PriorityUrgent, domain.StatusPending, time.Hour),
		backlogEmail("n-old", domain.PriorityNormal, domain.StatusPending, 5*time.Hour),
		backlogEmail("u-old", domain.PriorityUrgent, domain.StatusPending, 3*time.Hour),
		backlogEmail("sent", domain.PriorityUrgent, domain.StatusSent, 9*time.Hour),
		backlogEmail("generated", domain.PriorityUrgent, domain.StatusGenerated, 9*time.Hour),
		backlogEmail("failed", domain.PriorityUrgent, domain.StatusFailed, 9*time.Hour),
	}

	batches := PlanBatches(emails, 3, false)
	require.Len(t, batches, 2)
	assert.Equal(t, []string{"u-old", "u-new", "n-old"}, ids(batches[0]))
	assert.Equal(t, []string{"n-new"}, ids(batches[1]))

	withFailed := PlanBatches(emails, 3, true)
	assert.Equal(t, "failed", withFailed[0][0].ID)
}

func TestPlanBatchesEmpty(t *testing.T) {
	assert.Empty(t, PlanBatches(nil, 3, false))
	assert.Empty(t, PlanBatches([]*domain.Email{
		backlogEmail("sent", domain.PriorityNormal, domain.StatusSent, time.Hour),
	}, 3, false))
}

func ids(emails []*domain.Email) []string {
	out := make([]string, 0, len(emails))
	for _, email := range emails {
		out = append(out, email.ID)
	}
	return out
}

func seedBacklog(t *testing.T, count int) *repository.MemoryEmailRepository {
	t.Helper()
	repo := repository.NewMemoryEmailRepository()
	for i := 0; i < count; i++ {
		email := backlogEmail(fmt.Sprintf("e%d", i), domain.PriorityNormal, domain.StatusPending, time.Duration(count-i)*time.Minute)
		require.NoError(t, repo.Create(context.Background(), email))
	}
	return repo
}

func TestProcessBacklogBatchesWithBarrierAndPause(t *testing.T) {
	repo := seedBacklog(t, 7)
	enricher := &recordingEnricher{delay: 10 * time.Millisecond, failIDs: map[string]bool{"e4": true}}

	var sleeps []time.Duration
	scheduler := NewScheduler(repo, enricher, nil, nil, SchedulerConfig{
		BatchSize:     3,
		BatchInterval: time.Second,
		Sleep:         func(d time.Duration) { sleeps = append(sleeps, d) },
	})

	report, err := scheduler.ProcessBacklog(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 7, report.Selected)
	assert.Equal(t, 3, report.Batches)
	assert.Equal(t, 6, report.Generated)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, []time.Duration{time.Second, time.Second}, sleeps)
	assert.LessOrEqual(t, enricher.maxActive, 3)

	assert.ElementsMatch(t, []string{"e0", "e1", "e2"}, enricher.order[:3])
	assert.ElementsMatch(t, []string{"e3", "e4", "e5"}, enricher.order[3:6])
	assert.Equal(t, "e6", enricher.order[6])
}

func TestProcessBacklogRunsUrgentFirstAcrossMixedBacklog(t *testing.T) {
	repo := repository.NewMemoryEmailRepository()
	seeded := []*domain.Email{
		backlogEmail("n0", domain.PriorityNormal, domain.StatusPending, 9*time.Hour),
		backlogEmail("n1", domain.PriorityNormal, domain.StatusPending, 8*time.Hour),
		backlogEmail("u0", domain.PriorityUrgent, domain.StatusPending, time.Hour),
		backlogEmail("n2", domain.PriorityNormal, domain.StatusPending, 7*time.Hour),
		backlogEmail("n3", domain.PriorityNormal, domain.StatusPending, 6*time.Hour),
		backlogEmail("u1", domain.PriorityUrgent, domain.StatusPending, 2*time.Hour),
		backlogEmail("n4", domain.PriorityNormal, domain.StatusPending, 5*time.Hour),
	}
	for _, email := range seeded {
		require.NoError(t, repo.Create(context.Background(), email))
	}

	enricher := &recordingEnricher{delay: 5 * time.Millisecond}
	var boundaries []int
	scheduler := NewScheduler(repo, enricher, nil, nil, SchedulerConfig{
		BatchSize:     3,
		BatchInterval: time.Second,
		Sleep: func(time.Duration) {
			enricher.mu.Lock()
			boundaries = append(boundaries, len(enricher.order))
			enricher.mu.Unlock()
		},
	})

	report, err := scheduler.ProcessBacklog(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 7, report.Selected)
	assert.Equal(t, 3, report.Batches)
	assert.Equal(t, 7, report.Generated)
	require.Len(t, enricher.order, 7)
	assert.Equal(t, []int{3, 6}, boundaries)

	first := enricher.order[:3]
	assert.Contains(t, first, "u0")
	assert.Contains(t, first, "u1")
	assert.Contains(t, first, "n0")
	assert.ElementsMatch(t, []string{"n1", "n2", "n3"}, enricher.order[3:6])
	assert.Equal(t, "n4", enricher.order[6])
}

func TestProcessBacklogContinuesPastErrors(t *testing.T) {
	repo := seedBacklog(t, 4)
	enricher := &recordingEnricher{missingIDs: map[string]bool{"e0": true}}
	scheduler := NewScheduler(repo, enricher, nil, nil, SchedulerConfig{Sleep: func(time.Duration) {}})

	report, err := scheduler.ProcessBacklog(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 3, report.Generated)
	assert.Len(t, enricher.order, 4)
}

func TestProcessBacklogIgnoresCallerCancellation(t *testing.T) {
	repo := seedBacklog(t, 2)
	enricher := &recordingEnricher{}
	scheduler := NewScheduler(repo, enricher, nil, nil, SchedulerConfig{Sleep: func(time.Duration) {}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := scheduler.ProcessBacklog(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Generated)
	assert.True(t, enricher.sawLiveContext)
}

func TestProcessBacklogEmptyDoesNotSleep(t *testing.T) {
	slept := false
	scheduler := NewScheduler(repository.NewMemoryEmailRepository(), &recordingEnricher{}, nil, nil, SchedulerConfig{
		Sleep: func(time.Duration) { slept = true },
	})

	report, err := scheduler.ProcessBacklog(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Selected)
	assert.False(t, slept)
}

func TestProcessBacklogRejectsOverlappingSweeps(t *testing.T) {
	repo := seedBacklog(t, 1)
	release := make(chan struct{})
	scheduler := NewScheduler(repo, &recordingEnricher{}, nil, nil, SchedulerConfig{
		Sleep: func(time.Duration) {},
	})
	scheduler.enricher = enricherFunc(func(ctx context.Context, id string) (*domain.Email, error) {
		<-release
		return &domain.Email{ID: id, ResponseStatus: domain.StatusGenerated}, nil
	})

	done := make(chan error, 1)
	go func() {
		_, err := scheduler.ProcessBacklog(context.Background())
		done <- err
	}()

	require.Eventually(t, func() bool { return scheduler.running.Load() }, time.Second, time.Millisecond)
	_, err := scheduler.ProcessBacklog(context.Background())
	require.True(t, errors.Is(err, ErrSweepInProgress))

	close(release)
	require.NoError(t, <-done)
}

type enricherFunc func(ctx context.Context, id string) (*domain.Email, error)

func (f enricherFunc) Enrich(ctx context.Context, id string) (*domain.Email, error) {
	return f(ctx, id)
}
