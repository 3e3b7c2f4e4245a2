package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/nextconvert/compositor/internal/modules/composition"
	"go.uber.org/zap"
)

// Task types
const (
	TypeRender = "composition:render"
	TypeBatch  = "composition:batch"
	TypeSweep  = "workspace:sweep"
)

// Queue names, highest priority first.
const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

// RenderPayload carries one composition.
type RenderPayload struct {
	JobID       string                  `json:"jobId"`
	BatchID     string                  `json:"batchId,omitempty"`
	Composition composition.Composition `json:"composition"`
}

// BatchPayload carries a batch of compositions rendered by one worker.
type BatchPayload struct {
	BatchID     string          `json:"batchId"`
	Jobs        []RenderPayload `json:"jobs"`
	Concurrency int             `json:"concurrency,omitempty"`
}

// SweepPayload configures a workspace sweep.
type SweepPayload struct {
	MaxAgeSeconds int64 `json:"maxAgeSeconds"`
}

// RedisConnOpt accepts a bare host:port or a redis:// URL.
func RedisConnOpt(addr string) (asynq.RedisConnOpt, error) {
	if strings.Contains(addr, "://") {
		return asynq.ParseRedisURI(addr)
	}
	return asynq.RedisClientOpt{Addr: addr}, nil
}

// QueueClient handles job queue operations
type QueueClient struct {
	client *asynq.Client
	logger *zap.Logger
}

// NewQueueClient creates a new queue client
func NewQueueClient(redisOpt asynq.RedisConnOpt, logger *zap.Logger) *QueueClient {
	return &QueueClient{
		client: asynq.NewClient(redisOpt),
		logger: logger,
	}
}

// Close closes the queue client
func (q *QueueClient) Close() error {
	return q.client.Close()
}

func queueFor(priority string) string {
	switch priority {
	case "high":
		return QueueCritical
	case "low":
		return QueueLow
	default:
		return QueueDefault
	}
}

// EnqueueRender queues a single render. Failed renders are terminal, so the
// task is never retried by the queue.
func (q *QueueClient) EnqueueRender(ctx context.Context, payload RenderPayload, priority string) (*asynq.TaskInfo, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	info, err := q.client.EnqueueContext(ctx, asynq.NewTask(TypeRender, data),
		asynq.TaskID(payload.JobID),
		asynq.MaxRetry(0),
		asynq.Timeout(2*time.Hour),
		asynq.Retention(24*time.Hour),
		asynq.Queue(queueFor(priority)),
	)
	if err != nil {
		q.logger.Error("Failed to enqueue render task", zap.String("job_id", payload.JobID), zap.Error(err))
		return nil, err
	}

	q.logger.Info("Render task enqueued",
		zap.String("task_id", info.ID),
		zap.String("job_id", payload.JobID),
		zap.String("queue", info.Queue),
	)
	return info, nil
}

// EnqueueBatch queues a batch as a single task.
func (q *QueueClient) EnqueueBatch(ctx context.Context, payload BatchPayload, priority string) (*asynq.TaskInfo, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	info, err := q.client.EnqueueContext(ctx, asynq.NewTask(TypeBatch, data),
		asynq.TaskID(payload.BatchID),
		asynq.MaxRetry(0),
		asynq.Timeout(12*time.Hour),
		asynq.Retention(24*time.Hour),
		asynq.Queue(queueFor(priority)),
	)
	if err != nil {
		q.logger.Error("Failed to enqueue batch task", zap.String("batch_id", payload.BatchID), zap.Error(err))
		return nil, err
	}

	q.logger.Info("Batch task enqueued",
		zap.String("task_id", info.ID),
		zap.String("batch_id", payload.BatchID),
		zap.Int("jobs", len(payload.Jobs)),
	)
	return info, nil
}

// NewSweepScheduler registers a periodic workspace sweep. The caller runs
// and shuts down the scheduler.
func NewSweepScheduler(redisOpt asynq.RedisConnOpt, every, maxAge time.Duration) (*asynq.Scheduler, error) {
	data, err := json.Marshal(SweepPayload{MaxAgeSeconds: int64(maxAge / time.Second)})
	if err != nil {
		return nil, err
	}

	scheduler := asynq.NewScheduler(redisOpt, nil)
	spec := fmt.Sprintf("@every %s", every)
	if _, err := scheduler.Register(spec, asynq.NewTask(TypeSweep, data), asynq.Queue(QueueLow), asynq.MaxRetry(1)); err != nil {
		return nil, fmt.Errorf("failed to register sweep: %w", err)
	}
	return scheduler, nil
}
