package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/iago/support-inbox-back/internal/domain"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type StreamsConfig struct {
	Addr        string
	Password    string
	DB          int
	Stream      string
	DLQStream   string
	Group       string
	Consumer    string
	MaxAttempts int
}

// StreamsQueue implements Producer and Consumer backed by Redis Streams.
type StreamsQueue struct {
	client      redis.UniversalClient
	stream      string
	dlqStream   string
	group       string
	consumer    string
	maxAttempts int
	logger      *zap.Logger
}

func NewStreamsQueue(ctx context.Context, cfg StreamsConfig, logger *zap.Logger) (*StreamsQueue, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	queue := newStreamsQueue(client, cfg, logger)
	if err := queue.ensureGroup(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return queue, nil
}

func newStreamsQueue(client redis.UniversalClient, cfg StreamsConfig, logger *zap.Logger) *StreamsQueue {
	if cfg.Stream == "" {
		cfg.Stream = "support_tasks"
	}
	if cfg.DLQStream == "" {
		cfg.DLQStream = "support_tasks_dlq"
	}
	if cfg.Group == "" {
		cfg.Group = "support_workers"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "api-1"
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamsQueue{
		client:      client,
		stream:      cfg.Stream,
		dlqStream:   cfg.DLQStream,
		group:       cfg.Group,
		consumer:    cfg.Consumer,
		maxAttempts: cfg.MaxAttempts,
		logger:      logger.Named("streams_queue"),
	}
}

func (q *StreamsQueue) Close() error {
	return q.client.Close()
}

func (q *StreamsQueue) Enqueue(ctx context.Context, task domain.Task) error {
	_, err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: taskValues(task),
	}).Result()
	if err != nil {
		return fmt.Errorf("enqueue to stream: %w", err)
	}
	return nil
}

func (q *StreamsQueue) EnqueueBatch(ctx context.Context, tasks []domain.Task) error {
	if len(tasks) == 0 {
		return nil
	}

	pipeline := q.client.Pipeline()
	for _, task := range tasks {
		pipeline.XAdd(ctx, &redis.XAddArgs{
			Stream: q.stream,
			Values: taskValues(task),
		})
	}
	if _, err := pipeline.Exec(ctx); err != nil {
		return fmt.Errorf("enqueue batch to stream: %w", err)
	}
	return nil
}

func (q *StreamsQueue) Consume(ctx context.Context, handler func(context.Context, domain.Task) error) error {
	if err := q.ensureGroup(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: q.consumer,
			Streams:  []string{q.stream, ">"},
			Count:    10,
			Block:    5 * time.Second,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return fmt.Errorf("xreadgroup: %w", err)
		}

		for _, stream := range streams {
			for _, item := range stream.Messages {
				q.handleItem(ctx, item, handler)
			}
		}
	}
}

func (q *StreamsQueue) handleItem(
	ctx context.Context,
	item redis.XMessage,
	handler func(context.Context, domain.Task) error,
) {
	task, parseErr := parseStreamMessage(item)
	if parseErr != nil {
		q.moveToDLQ(ctx, domain.Task{}, item, parseErr.Error())
		q.ackAndDelete(ctx, item.ID)
		return
	}

	handleErr := handler(ctx, task)
	if handleErr == nil {
		q.ackAndDelete(ctx, item.ID)
		return
	}

	task.Attempt++
	if IsPermanent(handleErr) || task.Attempt >= q.maxAttempts {
		q.moveToDLQ(ctx, task, item, handleErr.Error())
		q.ackAndDelete(ctx, item.ID)
		return
	}

	if requeueErr := q.Enqueue(ctx, task); requeueErr != nil {
		q.moveToDLQ(ctx, task, item, fmt.Sprintf("requeue failed: %v", requeueErr))
	}
	q.ackAndDelete(ctx, item.ID)
}

func (q *StreamsQueue) ensureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "$").Err()
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	return fmt.Errorf("ensure stream group: %w", err)
}

func (q *StreamsQueue) ackAndDelete(ctx context.Context, streamID string) {
	if err := q.client.XAck(ctx, q.stream, q.group, streamID).Err(); err != nil {
		q.logger.Warn("xack failed", zap.String("stream_id", streamID), zap.Error(err))
		return
	}
	if err := q.client.XDel(ctx, q.stream, streamID).Err(); err != nil {
		q.logger.Warn("xdel failed", zap.String("stream_id", streamID), zap.Error(err))
	}
}

func (q *StreamsQueue) moveToDLQ(ctx context.Context, task domain.Task, item redis.XMessage, reason string) {
	values := taskValues(task)
	values["stream_id"] = item.ID
	values["error"] = reason
	values["moved_at"] = time.Now().UTC().Format(time.RFC3339Nano)

	if _, err := q.client.XAdd(ctx, &redis.XAddArgs{Stream: q.dlqStream, Values: values}).Result(); err != nil {
		q.logger.Error("send to dlq failed", zap.String("stream_id", item.ID), zap.Error(err))
		return
	}
	q.logger.Warn("task moved to DLQ",
		zap.String("task_id", task.TaskID),
		zap.String("kind", string(task.Kind)),
		zap.String("reason", reason),
	)
}

func taskValues(task domain.Task) map[string]any {
	requestedAt := ""
	if !task.RequestedAt.IsZero() {
		requestedAt = task.RequestedAt.UTC().Format(time.RFC3339Nano)
	}
	return map[string]any{
		"task_id":      task.TaskID,
		"kind":         string(task.Kind),
		"email_id":     task.EmailID,
		"attempt":      task.Attempt,
		"requested_at": requestedAt,
	}
}

func parseStreamMessage(item redis.XMessage) (domain.Task, error) {
	getString := func(key string) (string, error) {
		value, ok := item.Values[key]
		if !ok {
			return "", fmt.Errorf("missing field %s", key)
		}
		switch casted := value.(type) {
		case string:
			return casted, nil
		case []byte:
			return string(casted), nil
		default:
			return fmt.Sprintf("%v", casted), nil
		}
	}

	taskID, err := getString("task_id")
	if err != nil {
		return domain.Task{}, err
	}
	kindValue, err := getString("kind")
	if err != nil {
		return domain.Task{}, err
	}
	kind := domain.TaskKind(kindValue)
	if kind != domain.TaskEnrichEmail && kind != domain.TaskProcessBacklog {
		return domain.Task{}, fmt.Errorf("unknown task kind %q", kindValue)
	}
	emailID, err := getString("email_id")
	if err != nil {
		return domain.Task{}, err
	}

	attemptString, err := getString("attempt")
	if err != nil {
		return domain.Task{}, err
	}
	attempt, err := strconv.Atoi(attemptString)
	if err != nil {
		return domain.Task{}, fmt.Errorf("invalid attempt: %w", err)
	}

	requestedAtString, err := getString("requested_at")
	if err != nil {
		return domain.Task{}, err
	}
	var requestedAt time.Time
	if requestedAtString != "" {
		requestedAt, err = time.Parse(time.RFC3339Nano, requestedAtString)
		if err != nil {
			return domain.Task{}, fmt.Errorf("invalid requested_at: %w", err)
		}
	}

	return domain.Task{
		TaskID:      taskID,
		Kind:        kind,
		EmailID:     emailID,
		Attempt:     attempt,
		RequestedAt: requestedAt,
	}, nil
}
