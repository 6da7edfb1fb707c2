package queue

import (
	"context"
	"errors"

	"github.com/iago/support-inbox-back/internal/domain"
)

var ErrQueueClosed = errors.New("queue is closed")

// Producer sends tasks to a queue backend.
type Producer interface {
	Enqueue(ctx context.Context, task domain.Task) error
}

// BatchProducer sends many tasks in one round trip.
type BatchProducer interface {
	Producer
	EnqueueBatch(ctx context.Context, tasks []domain.Task) error
}

// Consumer receives tasks and executes handlers. A handler error schedules a
// retry until the backend's attempt limit, then the task goes to the DLQ.
type Consumer interface {
	Consume(ctx context.Context, handler func(context.Context, domain.Task) error) error
}

// Permanent marks a handler error as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var target *permanentError
	return errors.As(err, &target)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }
