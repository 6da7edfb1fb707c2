package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/iago/support-inbox-back/internal/domain"
	"github.com/iago/support-inbox-back/internal/pipeline"
	"github.com/iago/support-inbox-back/internal/policy"
	"github.com/iago/support-inbox-back/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockPipeline struct {
	mock.Mock
}

func (m *mockPipeline) Enrich(ctx context.Context, id string) (*domain.Email, error) {
	args := m.Called(ctx, id)
	email, _ := args.Get(0).(*domain.Email)
	return email, args.Error(1)
}

func (m *mockPipeline) MarkSent(ctx context.Context, id string) (*domain.Email, error) {
	args := m.Called(ctx, id)
	email, _ := args.Get(0).(*domain.Email)
	return email, args.Error(1)
}

type recordingProducer struct {
	tasks []domain.Task
	err   error
}

func (p *recordingProducer) Enqueue(_ context.Context, task domain.Task) error {
	if p.err != nil {
		return p.err
	}
	p.tasks = append(p.tasks, task)
	return nil
}

var fixedNow = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

func newTestService(repo repository.EmailRepository, producer *recordingProducer, p Pipeline) *EmailsService {
	return NewEmailsService(EmailsServiceDependencies{
		Repo:     repo,
		Producer: producer,
		Pipeline: p,
		Now:      func() time.Time { return fixedNow },
	})
}

func TestIngestClassifiesStoresAndQueues(t *testing.T) {
	repo := repository.NewMemoryEmailRepository()
	producer := &recordingProducer{}
	svc := newTestService(repo, producer, nil)

	email, err := svc.Ingest(context.Background(), IngestInput{
		Sender:  " ana@corp.com ",
		Subject: "Server DOWN",
		Body:    "Nothing loads since this morning.",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, email.ID)
	assert.Equal(t, "ana@corp.com", email.Sender)
	assert.Equal(t, domain.PriorityUrgent, email.Priority)
	assert.Equal(t, domain.StatusPending, email.ResponseStatus)
	assert.Equal(t, fixedNow, email.SentDate)
	assert.Nil(t, email.Sentiment)

	stored, err := repo.Get(context.Background(), email.ID)
	require.NoError(t, err)
	assert.Equal(t, email, stored)

	require.Len(t, producer.tasks, 1)
	assert.Equal(t, domain.TaskEnrichEmail, producer.tasks[0].Kind)
	assert.Equal(t, email.ID, producer.tasks[0].EmailID)
}

func TestIngestKeepsEmailWhenQueueFails(t *testing.T) {
	repo := repository.NewMemoryEmailRepository()
	svc := newTestService(repo, &recordingProducer{err: errors.New("redis down")}, nil)

	sent := fixedNow.Add(-3 * time.Hour)
	email, err := svc.Ingest(context.Background(), IngestInput{
		Sender:   "bob@corp.com",
		Subject:  "Invoice question",
		Body:     "Could you resend the invoice?",
		SentDate: sent,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PriorityNormal, email.Priority)
	assert.Equal(t, sent, email.SentDate)

	all, err := repo.ListAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestIngestRejectsPolicyViolations(t *testing.T) {
	repo := repository.NewMemoryEmailRepository()
	svc := newTestService(repo, &recordingProducer{}, nil)

	_, err := svc.Ingest(context.Background(), IngestInput{Sender: "ana@corp.com", Subject: "", Body: "hi"})
	require.ErrorIs(t, err, policy.ErrContentPolicyViolation)

	all, err := repo.ListAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestUpdateDraft(t *testing.T) {
	repo := repository.NewMemoryEmailRepository()
	require.NoError(t, repo.Create(context.Background(), &domain.Email{ID: "e1", ResponseStatus: domain.StatusGenerated}))
	require.NoError(t, repo.Create(context.Background(), &domain.Email{ID: "e2", ResponseStatus: domain.StatusSent}))
	svc := newTestService(repo, &recordingProducer{}, nil)

	updated, err := svc.UpdateDraft(context.Background(), "e1", "  Edited reply.  ")
	require.NoError(t, err)
	assert.Equal(t, "Edited reply.", *updated.AIResponse)
	assert.Equal(t, domain.StatusGenerated, updated.ResponseStatus)

	_, err = svc.UpdateDraft(context.Background(), "e1", "   ")
	require.ErrorIs(t, err, ErrEmptyDraft)

	_, err = svc.UpdateDraft(context.Background(), "e2", "Too late.")
	require.ErrorIs(t, err, pipeline.ErrAlreadySent)

	_, err = svc.UpdateDraft(context.Background(), "missing", "Hello.")
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestMarkSentRequiresDraft(t *testing.T) {
	repo := repository.NewMemoryEmailRepository()
	draft := "Thanks, fixed."
	require.NoError(t, repo.Create(context.Background(), &domain.Email{ID: "draft", AIResponse: &draft}))
	require.NoError(t, repo.Create(context.Background(), &domain.Email{ID: "empty"}))

	p := &mockPipeline{}
	p.On("MarkSent", mock.Anything, "draft").
		Return(&domain.Email{ID: "draft", ResponseStatus: domain.StatusSent}, nil).Once()
	svc := newTestService(repo, &recordingProducer{}, p)

	sent, err := svc.MarkSent(context.Background(), "draft")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, sent.ResponseStatus)

	_, err = svc.MarkSent(context.Background(), "empty")
	require.ErrorIs(t, err, policy.ErrDraftMissing)

	p.AssertExpectations(t)
}

func TestEnrichDelegatesToPipeline(t *testing.T) {
	p := &mockPipeline{}
	p.On("Enrich", mock.Anything, "e1").Return(nil, pipeline.ErrAlreadySent).Once()
	svc := newTestService(repository.NewMemoryEmailRepository(), &recordingProducer{}, p)

	_, err := svc.Enrich(context.Background(), "e1")
	require.ErrorIs(t, err, pipeline.ErrAlreadySent)
	p.AssertExpectations(t)
}

func TestRequestBacklogQueuesSweep(t *testing.T) {
	producer := &recordingProducer{}
	svc := newTestService(repository.NewMemoryEmailRepository(), producer, nil)

	task, err := svc.RequestBacklog(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.TaskProcessBacklog, task.Kind)
	assert.Equal(t, []domain.Task{task}, producer.tasks)

	failing := newTestService(repository.NewMemoryEmailRepository(), &recordingProducer{err: errors.New("closed")}, nil)
	_, err = failing.RequestBacklog(context.Background())
	require.Error(t, err)
}
