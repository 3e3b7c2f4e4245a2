package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/nextconvert/compositor/internal/modules/composition"
	"go.uber.org/zap"
)

// Sweeper removes abandoned job workspaces.
type Sweeper interface {
	SweepStale(maxAge time.Duration) (int, error)
}

// HandlerConfig contains dependencies for the job handler
type HandlerConfig struct {
	Orchestrator     *Orchestrator
	Sweeper          Sweeper
	BatchConcurrency int
	BatchMaxJobs     int
	SweepMaxAge      time.Duration
	Logger           *zap.Logger
}

// Handler handles job task execution
type Handler struct {
	orchestrator     *Orchestrator
	sweeper          Sweeper
	batchConcurrency int
	batchMaxJobs     int
	sweepMaxAge      time.Duration
	logger           *zap.Logger
}

// NewHandler creates a new job handler
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{
		orchestrator:     cfg.Orchestrator,
		sweeper:          cfg.Sweeper,
		batchConcurrency: cfg.BatchConcurrency,
		batchMaxJobs:     cfg.BatchMaxJobs,
		sweepMaxAge:      cfg.SweepMaxAge,
		logger:           cfg.Logger,
	}
}

// Register mounts the handlers on mux.
func (h *Handler) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeRender, h.HandleRender)
	mux.HandleFunc(TypeBatch, h.HandleBatch)
	mux.HandleFunc(TypeSweep, h.HandleSweep)
}

// prepare turns a payload into a job. An invalid composition yields a job
// that is already rejected.
func (h *Handler) prepare(ctx context.Context, p RenderPayload) (*RenderJob, bool) {
	comp, err := composition.New(p.Composition)
	if err != nil {
		job := NewRenderJob(p.JobID, &p.Composition)
		job.BatchID = p.BatchID
		h.orchestrator.Reject(ctx, job, err)
		return job, false
	}
	job := NewRenderJob(p.JobID, comp)
	job.BatchID = p.BatchID
	return job, true
}

// HandleRender handles a single composition render. A failed render is
// terminal and never retried.
func (h *Handler) HandleRender(ctx context.Context, task *asynq.Task) error {
	var payload RenderPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}

	h.logger.Info("Processing render job",
		zap.String("job_id", payload.JobID),
		zap.String("platform", payload.Composition.Platform),
		zap.Int("scenes", len(payload.Composition.Scenes)),
	)

	job, ok := h.prepare(ctx, payload)
	if ok {
		h.orchestrator.Run(ctx, job)
	}

	if e := job.Err(); e != nil {
		return fmt.Errorf("render job %s failed: %s: %w", job.ID, e.Kind, asynq.SkipRetry)
	}
	return nil
}

// HandleBatch renders every composition of a batch with bounded
// concurrency. Individual failures are recorded on their jobs; the batch
// task itself only fails when the batch is malformed.
func (h *Handler) HandleBatch(ctx context.Context, task *asynq.Task) error {
	var payload BatchPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}
	if err := CheckBatchSize(len(payload.Jobs), h.batchMaxJobs); err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	concurrency := payload.Concurrency
	if concurrency <= 0 {
		concurrency = h.batchConcurrency
	}

	logger := h.logger.With(zap.String("batch_id", payload.BatchID))
	logger.Info("Processing render batch",
		zap.Int("jobs", len(payload.Jobs)),
		zap.Int("concurrency", concurrency),
	)

	all := make([]*RenderJob, 0, len(payload.Jobs))
	runnable := make([]*RenderJob, 0, len(payload.Jobs))
	for _, p := range payload.Jobs {
		if p.BatchID == "" {
			p.BatchID = payload.BatchID
		}
		job, ok := h.prepare(ctx, p)
		all = append(all, job)
		if ok {
			h.orchestrator.Submit(ctx, job)
			runnable = append(runnable, job)
		}
	}

	h.orchestrator.RunBatch(ctx, runnable, concurrency)

	summary := Summarize(all)
	logger.Info("Render batch done",
		zap.Int("total", summary.Total),
		zap.Int("completed", summary.Completed),
		zap.Int("failed", summary.Failed),
	)
	return nil
}

// HandleSweep removes stale workspaces.
func (h *Handler) HandleSweep(ctx context.Context, task *asynq.Task) error {
	if h.sweeper == nil {
		return nil
	}

	maxAge := h.sweepMaxAge
	var payload SweepPayload
	if len(task.Payload()) > 0 {
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
		}
		if payload.MaxAgeSeconds > 0 {
			maxAge = time.Duration(payload.MaxAgeSeconds) * time.Second
		}
	}

	n, err := h.sweeper.SweepStale(maxAge)
	if err != nil {
		h.logger.Warn("Workspace sweep failed", zap.Error(err))
		return err
	}
	if n > 0 {
		h.logger.Info("Swept stale workspaces", zap.Int("removed", n), zap.Duration("max_age", maxAge))
	}
	return nil
}
