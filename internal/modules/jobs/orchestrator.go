package jobs

import (
	"context"
	"runtime/debug"

	"github.com/nextconvert/compositor/internal/modules/composition"
	"github.com/nextconvert/compositor/internal/modules/render"
	"github.com/nextconvert/compositor/internal/shared/apperr"
	"github.com/nextconvert/compositor/internal/shared/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// MaxBatchSize is the default upper bound on jobs per batch.
const MaxBatchSize = 50

// Runner executes one render. *render.Renderer satisfies it.
type Runner interface {
	Render(ctx context.Context, jobID string, comp *composition.Composition, onProgress render.ProgressFunc) (*render.Result, error)
}

// Orchestrator drives jobs through their lifecycle and isolates failures.
type Orchestrator struct {
	runner  Runner
	sinks   []StatusSink
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewOrchestrator creates an orchestrator notifying sinks of every change.
func NewOrchestrator(runner Runner, logger *zap.Logger, m *metrics.Metrics, sinks ...StatusSink) *Orchestrator {
	return &Orchestrator{runner: runner, sinks: sinks, logger: logger, metrics: m}
}

// AddSink registers another status sink. Not safe during a run.
func (o *Orchestrator) AddSink(s StatusSink) {
	o.sinks = append(o.sinks, s)
}

func (o *Orchestrator) notify(ctx context.Context, event Event, job *RenderJob) {
	snap := job.Snapshot()
	// Terminal records must land even when the job's own context is gone.
	if event == EventStatus && snap.Status.Terminal() {
		ctx = context.WithoutCancel(ctx)
	}
	for _, sink := range o.sinks {
		if err := sink.Notify(ctx, event, snap); err != nil {
			o.logger.Warn("Status sink failed",
				zap.String("job_id", snap.ID),
				zap.String("status", string(snap.Status)),
				zap.Error(err),
			)
		}
	}
}

// Submit announces a queued job to the sinks.
func (o *Orchestrator) Submit(ctx context.Context, job *RenderJob) {
	o.notify(ctx, EventStatus, job)
}

// Reject fails a job that will never run, such as one whose composition
// did not validate.
func (o *Orchestrator) Reject(ctx context.Context, job *RenderJob, err error) {
	if ferr := job.Fail(err); ferr != nil {
		o.logger.Warn("Cannot reject job", zap.String("job_id", job.ID), zap.Error(ferr))
		return
	}
	o.notify(ctx, EventStatus, job)
}

// Run executes one job to a terminal status. Errors and panics in the
// pipeline become a failed status; Run itself never fails.
func (o *Orchestrator) Run(ctx context.Context, job *RenderJob) *RenderJob {
	logger := o.logger.With(zap.String("job_id", job.ID))

	if err := ctx.Err(); err != nil {
		o.Reject(ctx, job, apperr.Wrap(err, apperr.KindCanceled, "jobs.run", "job canceled before start"))
		return job
	}
	if job.Composition == nil {
		o.Reject(ctx, job, apperr.InvalidComposition("job has no composition"))
		return job
	}
	if err := job.Start(); err != nil {
		logger.Warn("Job not runnable", zap.Error(err))
		if !job.Status().Terminal() {
			o.Reject(ctx, job, apperr.Wrap(err, apperr.KindInternal, "jobs.run", "job was not queued"))
		}
		return job
	}
	o.notify(ctx, EventStatus, job)

	res, err := o.render(ctx, job)
	if err == nil && res == nil {
		err = apperr.New(apperr.KindInternal, "jobs.run", "runner returned no result")
	}
	if err != nil {
		job.Fail(err)
		jobErr := job.Err()
		logger.Error("Render job failed",
			zap.String("kind", string(jobErr.Kind)),
			zap.Error(err),
		)
	} else {
		job.Complete(res)
		logger.Info("Render job completed", zap.String("output", res.OutputPath))
	}
	o.notify(ctx, EventStatus, job)
	return job
}

func (o *Orchestrator) render(ctx context.Context, job *RenderJob) (res *render.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Render job panicked",
				zap.String("job_id", job.ID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			res = nil
			err = apperr.Newf(apperr.KindInternal, "jobs.run", "panic: %v", r)
		}
	}()

	return o.runner.Render(ctx, job.ID, job.Composition, func(stage string, percent int) {
		if job.SetProgress(stage, percent) {
			o.notify(ctx, EventProgress, job)
		}
	})
}

// RunBatch runs every job with at most limit in flight (limit <= 0 means
// no limit). One job's failure never affects the others. The returned
// slice is jobs, each in a terminal status.
func (o *Orchestrator) RunBatch(ctx context.Context, jobs []*RenderJob, limit int) []*RenderJob {
	if limit <= 0 {
		limit = -1
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for _, job := range jobs {
		job := job
		g.Go(func() error {
			o.Run(ctx, job)
			return nil
		})
	}
	g.Wait()

	summary := Summarize(jobs)
	if o.metrics != nil {
		o.metrics.RecordBatch(summary.Failed)
	}
	o.logger.Info("Batch finished",
		zap.Int("total", summary.Total),
		zap.Int("completed", summary.Completed),
		zap.Int("failed", summary.Failed),
	)
	return jobs
}

// Failure is one failed job in a batch summary.
type Failure struct {
	JobID   string      `json:"jobId"`
	Kind    apperr.Kind `json:"kind"`
	Message string      `json:"message"`
}

// BatchSummary counts batch outcomes.
type BatchSummary struct {
	Total     int       `json:"total"`
	Completed int       `json:"completed"`
	Failed    int       `json:"failed"`
	Failures  []Failure `json:"failures,omitempty"`
}

// Summarize derives outcome counts from jobs.
func Summarize(jobs []*RenderJob) BatchSummary {
	s := BatchSummary{Total: len(jobs)}
	for _, job := range jobs {
		switch job.Status() {
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
			if e := job.Err(); e != nil {
				s.Failures = append(s.Failures, Failure{JobID: job.ID, Kind: e.Kind, Message: e.Message})
			}
		}
	}
	return s
}

// CheckBatchSize rejects batches that are empty or larger than limit.
func CheckBatchSize(n, limit int) error {
	if limit <= 0 {
		limit = MaxBatchSize
	}
	if n == 0 {
		return apperr.InvalidComposition("batch has no jobs")
	}
	if n > limit {
		return apperr.InvalidComposition("batch of %d jobs exceeds limit of %d", n, limit)
	}
	return nil
}

