package queue

import (
	"context"
	"sync"
	"time"

	"github.com/iago/support-inbox-back/internal/domain"
	"go.uber.org/zap"
)

// LocalQueue is an in-process queue used when Redis is not configured.
type LocalQueue struct {
	ch          chan domain.Task
	maxAttempts int
	retryDelay  time.Duration
	logger      *zap.Logger

	dlqMu sync.Mutex
	dlq   []domain.Task
}

func NewLocalQueue(bufferSize, maxAttempts int, logger *zap.Logger) *LocalQueue {
	if bufferSize <= 0 {
		bufferSize = 512
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalQueue{
		ch:          make(chan domain.Task, bufferSize),
		maxAttempts: maxAttempts,
		retryDelay:  500 * time.Millisecond,
		logger:      logger.Named("local_queue"),
		dlq:         make([]domain.Task, 0),
	}
}

func (q *LocalQueue) Enqueue(ctx context.Context, task domain.Task) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.ch <- task:
		return nil
	}
}

func (q *LocalQueue) EnqueueBatch(ctx context.Context, tasks []domain.Task) error {
	for _, task := range tasks {
		if err := q.Enqueue(ctx, task); err != nil {
			return err
		}
	}
	return nil
}

func (q *LocalQueue) Consume(ctx context.Context, handler func(context.Context, domain.Task) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case task := <-q.ch:
			err := handler(ctx, task)
			if err == nil {
				continue
			}

			task.Attempt++
			if IsPermanent(err) || task.Attempt >= q.maxAttempts {
				q.dlqMu.Lock()
				q.dlq = append(q.dlq, task)
				q.dlqMu.Unlock()
				q.logger.Warn("task moved to DLQ",
					zap.String("task_id", task.TaskID),
					zap.String("kind", string(task.Kind)),
					zap.Int("attempt", task.Attempt),
					zap.Error(err),
				)
				continue
			}

			delay := time.Duration(task.Attempt) * q.retryDelay
			go func(retry domain.Task) {
				timer := time.NewTimer(delay)
				defer timer.Stop()
				select {
				case <-ctx.Done():
					return
				case <-timer.C:
					select {
					case q.ch <- retry:
					case <-ctx.Done():
					}
				}
			}(task)
		}
	}
}

func (q *LocalQueue) DLQSize() int {
	q.dlqMu.Lock()
	defer q.dlqMu.Unlock()
	return len(q.dlq)
}
