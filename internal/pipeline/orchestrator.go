package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iago/support-inbox-back/internal/domain"
	"github.com/iago/support-inbox-back/internal/enrichment"
	"github.com/iago/support-inbox-back/internal/metrics"
	"github.com/iago/support-inbox-back/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var ErrAlreadySent = errors.New("email response already sent")

// EmailStore is the slice of the repository the pipeline needs.
type EmailStore interface {
	Get(ctx context.Context, id string) (*domain.Email, error)
	ListAll(ctx context.Context) ([]*domain.Email, error)
	Update(ctx context.Context, id string, update domain.EmailUpdate) (*domain.Email, error)
}

type OrchestratorDependencies struct {
	Store   EmailStore
	Client  enrichment.Client
	Metrics *metrics.Metrics
	Logger  *zap.Logger
	// Timeout bounds the capability calls for one email. Zero means no bound.
	Timeout time.Duration
	Now     func() time.Time
}

// Orchestrator runs sentiment, extraction and drafting for one email and
// writes the merged result back in a single update.
type Orchestrator struct {
	store   EmailStore
	client  enrichment.Client
	metrics *metrics.Metrics
	logger  *zap.Logger
	timeout time.Duration
	now     func() time.Time

	inflight singleflight.Group
}

func NewOrchestrator(deps OrchestratorDependencies) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Orchestrator{
		store:   deps.Store,
		client:  deps.Client,
		metrics: deps.Metrics,
		logger:  deps.Logger.Named("orchestrator"),
		timeout: deps.Timeout,
		now:     deps.Now,
	}
}

// Enrich analyzes the email and stores sentiment, extracted fields and a
// drafted reply with status generated. Capability failures degrade to
// fallback values. A failed write flips the status to failed and the record
// is returned without an error. Neither write lands on a record that was
// marked sent in the meantime; that case returns ErrAlreadySent.
//
// Concurrent calls for the same id share one attempt. The attempt is detached
// from the caller's cancellation once started.
func (o *Orchestrator) Enrich(ctx context.Context, id string) (*domain.Email, error) {
	detached := context.WithoutCancel(ctx)
	value, err, _ := o.inflight.Do(id, func() (any, error) {
		return o.enrich(detached, id)
	})
	if err != nil {
		return nil, err
	}
	return value.(*domain.Email).Clone(), nil
}

func (o *Orchestrator) enrich(ctx context.Context, id string) (*domain.Email, error) {
	email, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load email %s: %w", id, err)
	}
	if email.ResponseStatus == domain.StatusSent {
		return nil, ErrAlreadySent
	}

	started := o.now()
	logger := o.logger.With(zap.String("email_id", id))

	capabilityCtx := ctx
	if o.timeout > 0 {
		var cancel context.CancelFunc
		capabilityCtx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	message := enrichment.MessageFrom(email)
	sentiment, err := o.client.ClassifySentiment(capabilityCtx, email.Subject+"\n"+email.Body)
	if err != nil {
		o.degrade(logger, "sentiment", err)
		sentiment = FallbackSentiment()
	}

	extracted, err := o.client.ExtractFields(capabilityCtx, message)
	if err != nil {
		o.degrade(logger, "extraction", err)
		extracted = FallbackExtraction(email.Subject)
	}

	draft, err := o.client.DraftResponse(capabilityCtx, enrichment.DraftInput{
		Message:   message,
		Sentiment: sentiment,
		Extracted: extracted,
	})
	if err != nil {
		o.degrade(logger, "draft", err)
		draft = FallbackResponse(message)
	}

	// A reply sent while the capabilities ran stays sent.
	sent := domain.StatusSent
	processedAt := o.now().UTC()
	status := domain.StatusGenerated
	updated, err := o.store.Update(ctx, id, domain.EmailUpdate{
		Sentiment:      &sentiment.Sentiment,
		SentimentScore: &sentiment.Score,
		ExtractedInfo:  &extracted,
		AIResponse:     &draft,
		ResponseStatus: &status,
		ProcessedAt:    &processedAt,
		UnlessStatus:   &sent,
	})
	if err == nil {
		o.metrics.ObserveEnrichment(string(domain.StatusGenerated), o.now().Sub(started))
		logger.Info("email enriched",
			zap.String("sentiment", string(sentiment.Sentiment)),
			zap.Int("score", sentiment.Score),
		)
		return updated, nil
	}
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("store enrichment for %s: %w", id, err)
	}
	if errors.Is(err, repository.ErrStatusConflict) {
		logger.Info("email sent during enrichment, result discarded")
		return nil, ErrAlreadySent
	}

	logger.Error("persist enrichment failed, marking email failed", zap.Error(err))
	o.metrics.ObserveEnrichment(string(domain.StatusFailed), o.now().Sub(started))
	flip := domain.StatusUpdate(domain.StatusFailed)
	flip.UnlessStatus = &sent
	failed, flipErr := o.store.Update(ctx, id, flip)
	if errors.Is(flipErr, repository.ErrStatusConflict) {
		return nil, ErrAlreadySent
	}
	if flipErr != nil {
		logger.Error("mark email failed", zap.Error(flipErr))
		email.ResponseStatus = domain.StatusFailed
		return email, nil
	}
	return failed, nil
}

// MarkSent records that a reviewer sent the reply. It does not check the
// current status.
func (o *Orchestrator) MarkSent(ctx context.Context, id string) (*domain.Email, error) {
	updated, err := o.store.Update(ctx, id, domain.StatusUpdate(domain.StatusSent))
	if err != nil {
		return nil, fmt.Errorf("mark email %s sent: %w", id, err)
	}
	o.logger.Info("email marked sent", zap.String("email_id", id))
	return updated, nil
}

func (o *Orchestrator) degrade(logger *zap.Logger, capability string, err error) {
	o.metrics.CountFallback(capability)
	logger.Warn("capability failed, using fallback",
		zap.String("capability", capability),
		zap.Error(err),
	)
}
