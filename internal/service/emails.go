package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/iago/support-inbox-back/internal/domain"
	"github.com/iago/support-inbox-back/internal/metrics"
	"github.com/iago/support-inbox-back/internal/pipeline"
	"github.com/iago/support-inbox-back/internal/policy"
	"github.com/iago/support-inbox-back/internal/queue"
	"github.com/iago/support-inbox-back/internal/repository"
	"go.uber.org/zap"
)

var ErrEmptyDraft = errors.New("draft response must not be empty")

// Pipeline is the part of the enrichment pipeline the service drives directly.
type Pipeline interface {
	Enrich(ctx context.Context, id string) (*domain.Email, error)
	MarkSent(ctx context.Context, id string) (*domain.Email, error)
}

type StatsComputer interface {
	Compute(ctx context.Context) (domain.Stats, error)
}

type IngestInput struct {
	Sender   string
	Subject  string
	Body     string
	SentDate time.Time
	// Deferred leaves enrichment to the next backlog sweep.
	Deferred bool
}

type EmailsServiceDependencies struct {
	Repo     repository.EmailRepository
	Producer queue.Producer
	Pipeline Pipeline
	Stats    StatsComputer
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
	Now      func() time.Time
}

type EmailsService struct {
	repo     repository.EmailRepository
	producer queue.Producer
	pipeline Pipeline
	stats    StatsComputer
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

func NewEmailsService(deps EmailsServiceDependencies) *EmailsService {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &EmailsService{
		repo:     deps.Repo,
		producer: deps.Producer,
		pipeline: deps.Pipeline,
		stats:    deps.Stats,
		metrics:  deps.Metrics,
		logger:   deps.Logger.Named("emails_service"),
		now:      deps.Now,
	}
}

// Ingest stores a new pending email with its priority classified and queues
// its enrichment. A queueing failure is logged only: the email stays pending
// and the next backlog sweep picks it up.
func (s *EmailsService) Ingest(ctx context.Context, input IngestInput) (*domain.Email, error) {
	message := policy.InboundMessage{
		Sender:  strings.TrimSpace(input.Sender),
		Subject: strings.TrimSpace(input.Subject),
		Body:    strings.TrimSpace(input.Body),
	}
	if err := policy.EnforceIngestionPolicy(message); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	sentDate := input.SentDate
	if sentDate.IsZero() {
		sentDate = now
	}

	email := &domain.Email{
		ID:             uuid.NewString(),
		Sender:         message.Sender,
		Subject:        message.Subject,
		Body:           message.Body,
		SentDate:       sentDate.UTC(),
		Priority:       pipeline.ClassifyMessage(message.Subject, message.Body),
		ResponseStatus: domain.StatusPending,
		CreatedAt:      now,
	}
	if err := s.repo.Create(ctx, email); err != nil {
		return nil, fmt.Errorf("create email: %w", err)
	}
	s.metrics.CountIngested(string(email.Priority))
	s.logger.Debug("email ingested",
		zap.String("email_id", email.ID),
		zap.String("priority", string(email.Priority)),
		zap.String("sender", policy.MaskSender(email.Sender)),
		zap.String("subject", policy.Snippet(email.Subject, 80)),
	)

	if s.producer != nil && !input.Deferred {
		task := domain.Task{
			TaskID:      uuid.NewString(),
			Kind:        domain.TaskEnrichEmail,
			EmailID:     email.ID,
			RequestedAt: now,
		}
		if err := s.producer.Enqueue(ctx, task); err != nil {
			s.logger.Warn("enqueue enrichment failed",
				zap.String("email_id", email.ID),
				zap.Error(err),
			)
		}
	}

	return email, nil
}

func (s *EmailsService) List(ctx context.Context, filter domain.EmailFilter) ([]*domain.Email, error) {
	return s.repo.List(ctx, filter)
}

func (s *EmailsService) Get(ctx context.Context, id string) (*domain.Email, error) {
	return s.repo.Get(ctx, id)
}

// UpdateDraft replaces the drafted reply with a reviewer's edit.
func (s *EmailsService) UpdateDraft(ctx context.Context, id, draft string) (*domain.Email, error) {
	draft = strings.TrimSpace(draft)
	if draft == "" {
		return nil, ErrEmptyDraft
	}

	sent := domain.StatusSent
	updated, err := s.repo.Update(ctx, id, domain.EmailUpdate{AIResponse: &draft, UnlessStatus: &sent})
	if errors.Is(err, repository.ErrStatusConflict) {
		return nil, pipeline.ErrAlreadySent
	}
	return updated, err
}

func (s *EmailsService) Delete(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}

func (s *EmailsService) Enrich(ctx context.Context, id string) (*domain.Email, error) {
	return s.pipeline.Enrich(ctx, id)
}

// MarkSent records that a reviewer sent the drafted reply. An email without a
// draft cannot be sent.
func (s *EmailsService) MarkSent(ctx context.Context, id string) (*domain.Email, error) {
	email, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := policy.EnsureSendable(email); err != nil {
		return nil, err
	}
	return s.pipeline.MarkSent(ctx, id)
}

// RequestBacklog queues a backlog sweep and returns without waiting for it.
func (s *EmailsService) RequestBacklog(ctx context.Context) (domain.Task, error) {
	task := domain.Task{
		TaskID:      uuid.NewString(),
		Kind:        domain.TaskProcessBacklog,
		RequestedAt: s.now().UTC(),
	}
	if s.producer == nil {
		return domain.Task{}, queue.ErrQueueClosed
	}
	if err := s.producer.Enqueue(ctx, task); err != nil {
		return domain.Task{}, fmt.Errorf("enqueue backlog sweep: %w", err)
	}
	s.logger.Info("backlog sweep requested", zap.String("task_id", task.TaskID))
	return task, nil
}

func (s *EmailsService) Stats(ctx context.Context) (domain.Stats, error) {
	return s.stats.Compute(ctx)
}
