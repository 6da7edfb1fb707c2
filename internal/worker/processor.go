package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iago/support-inbox-back/internal/domain"
	"github.com/iago/support-inbox-back/internal/metrics"
	"github.com/iago/support-inbox-back/internal/pipeline"
	"github.com/iago/support-inbox-back/internal/queue"
	"github.com/iago/support-inbox-back/internal/repository"
	"go.uber.org/zap"
)

// BacklogSweeper runs one backlog sweep.
type BacklogSweeper interface {
	ProcessBacklog(ctx context.Context) (pipeline.BacklogReport, error)
}

// Processor consumes queued tasks and hands them to the pipeline.
type Processor struct {
	consumer queue.Consumer
	enricher pipeline.Enricher
	sweeper  BacklogSweeper
	metrics  *metrics.Metrics
	logger   *zap.Logger

	retryDelay time.Duration
}

func NewProcessor(
	consumer queue.Consumer,
	enricher pipeline.Enricher,
	sweeper BacklogSweeper,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		consumer:   consumer,
		enricher:   enricher,
		sweeper:    sweeper,
		metrics:    m,
		logger:     logger.Named("worker"),
		retryDelay: 2 * time.Second,
	}
}

// Start blocks until ctx is done, restarting the consume loop after backend
// errors.
func (p *Processor) Start(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		err := p.consumer.Consume(ctx, p.processTask)
		if err == nil || ctx.Err() != nil {
			return
		}
		p.logger.Error("worker consume loop error", zap.Error(err))

		timer := time.NewTimer(p.retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (p *Processor) processTask(ctx context.Context, task domain.Task) error {
	err := p.dispatch(ctx, task)
	switch {
	case err == nil:
		p.metrics.CountTask(string(task.Kind), "done")
		return nil
	// A rejected sweep means another sweep on this scheduler is already
	// covering the backlog. Sequential consumption keeps this from happening
	// here today; the case stays for sweepers shared with other callers.
	case errors.Is(err, repository.ErrNotFound),
		errors.Is(err, pipeline.ErrAlreadySent),
		errors.Is(err, pipeline.ErrSweepInProgress):
		p.metrics.CountTask(string(task.Kind), "dropped")
		p.logger.Info("task dropped",
			zap.String("task_id", task.TaskID),
			zap.String("kind", string(task.Kind)),
			zap.String("email_id", task.EmailID),
			zap.Error(err),
		)
		return nil
	case queue.IsPermanent(err):
		p.metrics.CountTask(string(task.Kind), "rejected")
		return err
	default:
		p.metrics.CountTask(string(task.Kind), "retry")
		return err
	}
}

func (p *Processor) dispatch(ctx context.Context, task domain.Task) error {
	switch task.Kind {
	case domain.TaskEnrichEmail:
		if task.EmailID == "" {
			return queue.Permanent(errors.New("enrich task without email id"))
		}
		email, err := p.enricher.Enrich(ctx, task.EmailID)
		if err != nil {
			return fmt.Errorf("enrich email %s: %w", task.EmailID, err)
		}
		p.logger.Info("task processed",
			zap.String("task_id", task.TaskID),
			zap.String("email_id", email.ID),
			zap.String("status", string(email.ResponseStatus)),
		)
		return nil
	case domain.TaskProcessBacklog:
		report, err := p.sweeper.ProcessBacklog(ctx)
		if err != nil {
			return fmt.Errorf("process backlog: %w", err)
		}
		p.logger.Info("backlog task processed",
			zap.String("task_id", task.TaskID),
			zap.Int("selected", report.Selected),
			zap.Int("generated", report.Generated),
			zap.Int("failed", report.Failed),
		)
		return nil
	default:
		return queue.Permanent(fmt.Errorf("unsupported task kind: %s", task.Kind))
	}
}
