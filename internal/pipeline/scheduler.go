package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iago/support-inbox-back/internal/domain"
	"github.com/iago/support-inbox-back/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrSweepInProgress is returned when ProcessBacklog is called while another
// sweep on the same Scheduler is running. The queue worker consumes one task
// at a time, so it only surfaces for direct callers of one Scheduler. It does
// not coordinate sweeps across processes.
var ErrSweepInProgress = errors.New("backlog sweep already running")

const (
	DefaultBatchSize     = 3
	DefaultBatchInterval = time.Second
)

type Enricher interface {
	Enrich(ctx context.Context, id string) (*domain.Email, error)
}

type SchedulerConfig struct {
	BatchSize     int
	BatchInterval time.Duration
	// IncludeFailed also sweeps emails whose previous attempt failed.
	IncludeFailed bool
	Sleep         func(time.Duration)
	Now           func() time.Time
}

type BacklogReport struct {
	Selected  int           `json:"selected"`
	Batches   int           `json:"batches"`
	Generated int           `json:"generated"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Duration  time.Duration `json:"duration"`
}

// Scheduler sweeps the backlog in small concurrent batches so the provider
// sees at most BatchSize requests at once.
type Scheduler struct {
	store    EmailStore
	enricher Enricher
	metrics  *metrics.Metrics
	logger   *zap.Logger
	config   SchedulerConfig
	running  atomic.Bool
}

func NewScheduler(
	store EmailStore,
	enricher Enricher,
	m *metrics.Metrics,
	logger *zap.Logger,
	config SchedulerConfig,
) *Scheduler {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.BatchInterval < 0 {
		config.BatchInterval = 0
	}
	if config.Sleep == nil {
		config.Sleep = time.Sleep
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		store:    store,
		enricher: enricher,
		metrics:  m,
		logger:   logger.Named("scheduler"),
		config:   config,
	}
}

// ProcessBacklog enriches every pending email from a snapshot taken at the
// start of the sweep, urgent first and oldest first. A batch must finish
// before the next one starts, with a pause between batches. Individual
// failures are counted and never stop the sweep. Once started, the sweep
// ignores cancellation of ctx.
func (s *Scheduler) ProcessBacklog(ctx context.Context) (BacklogReport, error) {
	if !s.running.CompareAndSwap(false, true) {
		return BacklogReport{}, ErrSweepInProgress
	}
	defer s.running.Store(false)

	ctx = context.WithoutCancel(ctx)
	started := s.config.Now()

	emails, err := s.store.ListAll(ctx)
	if err != nil {
		return BacklogReport{}, fmt.Errorf("snapshot backlog: %w", err)
	}

	batches := PlanBatches(emails, s.config.BatchSize, s.config.IncludeFailed)
	report := BacklogReport{Batches: len(batches)}
	for _, batch := range batches {
		report.Selected += len(batch)
	}
	s.metrics.ObserveBacklog(report.Selected)
	s.logger.Info("backlog sweep started",
		zap.Int("selected", report.Selected),
		zap.Int("batches", report.Batches),
	)

	var mu sync.Mutex
	for index, batch := range batches {
		batchStarted := s.config.Now()

		var group errgroup.Group
		for _, email := range batch {
			id := email.ID
			group.Go(func() error {
				outcome := s.enrichOne(ctx, id, index)
				mu.Lock()
				defer mu.Unlock()
				switch outcome {
				case domain.StatusGenerated:
					report.Generated++
				case domain.StatusFailed:
					report.Failed++
				default:
					report.Skipped++
				}
				return nil
			})
		}
		_ = group.Wait()
		s.metrics.ObserveBatch(s.config.Now().Sub(batchStarted))

		if index < len(batches)-1 && s.config.BatchInterval > 0 {
			s.config.Sleep(s.config.BatchInterval)
		}
	}

	report.Duration = s.config.Now().Sub(started)
	s.logger.Info("backlog sweep finished",
		zap.Int("generated", report.Generated),
		zap.Int("failed", report.Failed),
		zap.Int("skipped", report.Skipped),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}

func (s *Scheduler) enrichOne(ctx context.Context, id string, batch int) domain.ResponseStatus {
	updated, err := s.enricher.Enrich(ctx, id)
	if err != nil {
		s.logger.Warn("backlog enrichment skipped",
			zap.String("email_id", id),
			zap.Int("batch", batch),
			zap.Error(err),
		)
		return ""
	}
	return updated.ResponseStatus
}

// PlanBatches selects the emails a sweep should process and splits them into
// ordered batches of at most batchSize.
func PlanBatches(emails []*domain.Email, batchSize int, includeFailed bool) [][]*domain.Email {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	selected := make([]*domain.Email, 0, len(emails))
	for _, email := range emails {
		if email.ResponseStatus == domain.StatusPending ||
			(includeFailed && email.ResponseStatus == domain.StatusFailed) {
			selected = append(selected, email)
		}
	}

	sort.SliceStable(selected, func(i, j int) bool {
		left, right := selected[i], selected[j]
		if left.Priority != right.Priority {
			return left.Priority == domain.PriorityUrgent
		}
		if !left.SentDate.Equal(right.SentDate) {
			return left.SentDate.Before(right.SentDate)
		}
		return left.ID < right.ID
	})

	batches := make([][]*domain.Email, 0, (len(selected)+batchSize-1)/batchSize)
	for start := 0; start < len(selected); start += batchSize {
		end := start + batchSize
		if end > len(selected) {
			end = len(selected)
		}
		batches = append(batches, selected[start:end])
	}
	return batches
}
