package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/iago/support-inbox-back/internal/domain"
	"github.com/iago/support-inbox-back/internal/metrics"
	"github.com/iago/support-inbox-back/internal/pipeline"
	"github.com/iago/support-inbox-back/internal/queue"
	"github.com/iago/support-inbox-back/internal/repository"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// replayConsumer feeds its tasks to the handler once and records the errors.
type replayConsumer struct {
	tasks  []domain.Task
	errs   []error
	failed int
}

func (c *replayConsumer) Consume(ctx context.Context, handler func(context.Context, domain.Task) error) error {
	if c.failed > 0 {
		c.failed--
		return errors.New("redis connection refused")
	}
	for _, task := range c.tasks {
		c.errs = append(c.errs, handler(ctx, task))
	}
	return nil
}

type fakeEnricher struct {
	err error
	ids []string
}

func (f *fakeEnricher) Enrich(_ context.Context, id string) (*domain.Email, error) {
	f.ids = append(f.ids, id)
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Email{ID: id, ResponseStatus: domain.StatusGenerated}, nil
}

type fakeSweeper struct {
	err   error
	calls int
}

func (f *fakeSweeper) ProcessBacklog(context.Context) (pipeline.BacklogReport, error) {
	f.calls++
	return pipeline.BacklogReport{Selected: 2, Generated: 2}, f.err
}

func TestProcessorDispatchesByKind(t *testing.T) {
	consumer := &replayConsumer{tasks: []domain.Task{
		{TaskID: "t1", Kind: domain.TaskEnrichEmail, EmailID: "e1"},
		{TaskID: "t2", Kind: domain.TaskProcessBacklog},
	}}
	enricher := &fakeEnricher{}
	sweeper := &fakeSweeper{}
	m := metrics.New()

	NewProcessor(consumer, enricher, sweeper, m, nil).Start(context.Background())

	assert.Equal(t, []string{"e1"}, enricher.ids)
	assert.Equal(t, 1, sweeper.calls)
	assert.Equal(t, []error{nil, nil}, consumer.errs)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TasksProcessed.WithLabelValues("enrich_email", "done")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TasksProcessed.WithLabelValues("process_backlog", "done")))
}

func TestProcessorDropsTasksThatCannotSucceed(t *testing.T) {
	for _, err := range []error{repository.ErrNotFound, pipeline.ErrAlreadySent} {
		consumer := &replayConsumer{tasks: []domain.Task{{TaskID: "t1", Kind: domain.TaskEnrichEmail, EmailID: "e1"}}}
		NewProcessor(consumer, &fakeEnricher{err: err}, &fakeSweeper{}, nil, nil).Start(context.Background())
		require.Len(t, consumer.errs, 1)
		assert.NoError(t, consumer.errs[0])
	}

	consumer := &replayConsumer{tasks: []domain.Task{{TaskID: "t2", Kind: domain.TaskProcessBacklog}}}
	NewProcessor(consumer, &fakeEnricher{}, &fakeSweeper{err: pipeline.ErrSweepInProgress}, nil, nil).
		Start(context.Background())
	assert.NoError(t, consumer.errs[0])
}

func TestProcessorReturnsRetryableAndPermanentErrors(t *testing.T) {
	consumer := &replayConsumer{tasks: []domain.Task{
		{TaskID: "t1", Kind: domain.TaskEnrichEmail, EmailID: "e1"},
		{TaskID: "t2", Kind: domain.TaskEnrichEmail},
		{TaskID: "t3", Kind: domain.TaskKind("summary")},
	}}
	NewProcessor(consumer, &fakeEnricher{err: errors.New("list failed")}, &fakeSweeper{}, nil, nil).
		Start(context.Background())

	require.Len(t, consumer.errs, 3)
	assert.Error(t, consumer.errs[0])
	assert.False(t, queue.IsPermanent(consumer.errs[0]))
	assert.True(t, queue.IsPermanent(consumer.errs[1]))
	assert.True(t, queue.IsPermanent(consumer.errs[2]))
}

func TestProcessorRestartsAfterConsumeError(t *testing.T) {
	consumer := &replayConsumer{
		failed: 1,
		tasks:  []domain.Task{{TaskID: "t1", Kind: domain.TaskEnrichEmail, EmailID: "e1"}},
	}
	enricher := &fakeEnricher{}
	processor := NewProcessor(consumer, enricher, &fakeSweeper{}, nil, nil)
	processor.retryDelay = time.Millisecond

	processor.Start(context.Background())
	assert.Equal(t, []string{"e1"}, enricher.ids)
}
