package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/nextconvert/compositor/internal/modules/composition"
	"github.com/nextconvert/compositor/internal/modules/jobs"
	"github.com/nextconvert/compositor/internal/modules/platform"
	"github.com/nextconvert/compositor/internal/shared/apperr"
	"go.uber.org/zap"
)

// maxBodyBytes bounds a submitted document.
const maxBodyBytes = 4 << 20

// Enqueuer hands render work to the worker queue. *jobs.QueueClient
// satisfies it.
type Enqueuer interface {
	EnqueueRender(ctx context.Context, payload jobs.RenderPayload, priority string) (*asynq.TaskInfo, error)
	EnqueueBatch(ctx context.Context, payload jobs.BatchPayload, priority string) (*asynq.TaskInfo, error)
}

// RenderHandlerConfig contains dependencies for the render handler
type RenderHandlerConfig struct {
	Registry *platform.Registry
	Queue    Enqueuer
	// Statuses records the queued state so the job is visible before a
	// worker picks it up.
	Statuses     jobs.StatusSink
	Reader       jobs.StatusReader
	BatchMaxJobs int
	Logger       *zap.Logger
}

// RenderHandler accepts compositions and reports job status.
type RenderHandler struct {
	registry     *platform.Registry
	queue        Enqueuer
	statuses     jobs.StatusSink
	reader       jobs.StatusReader
	batchMaxJobs int
	logger       *zap.Logger
}

// NewRenderHandler creates a render handler
func NewRenderHandler(cfg RenderHandlerConfig) *RenderHandler {
	return &RenderHandler{
		registry:     cfg.Registry,
		queue:        cfg.Queue,
		statuses:     cfg.Statuses,
		reader:       cfg.Reader,
		batchMaxJobs: cfg.BatchMaxJobs,
		logger:       cfg.Logger,
	}
}

// SubmitResponse acknowledges an accepted render.
type SubmitResponse struct {
	JobID    string      `json:"jobId"`
	Status   jobs.Status `json:"status"`
	Platform string      `json:"platform"`
	Duration float64     `json:"duration"`
	Queue    string      `json:"queue,omitempty"`
}

// BatchRequest is the body of a batch submission.
type BatchRequest struct {
	Compositions []json.RawMessage `json:"compositions"`
	Concurrency  int               `json:"concurrency,omitempty"`
}

// BatchResponse acknowledges an accepted batch.
type BatchResponse struct {
	BatchID string           `json:"batchId"`
	Jobs    []SubmitResponse `json:"jobs"`
	Queue   string           `json:"queue,omitempty"`
}

// parse decodes and validates one composition document, including its
// platform, so nothing invalid reaches the queue.
func (h *RenderHandler) parse(data []byte) (*composition.Composition, error) {
	comp, err := composition.Parse(data, composition.FormatJSON)
	if err != nil {
		return nil, err
	}
	if _, err := h.registry.ProfileFor(comp.Platform); err != nil {
		return nil, err
	}
	return comp, nil
}

func (h *RenderHandler) queued(ctx context.Context, job *jobs.RenderJob) {
	if h.statuses == nil {
		return
	}
	if err := h.statuses.Notify(ctx, jobs.EventStatus, job.Snapshot()); err != nil {
		h.logger.Warn("Failed to record queued job", zap.String("job_id", job.ID), zap.Error(err))
	}
}

// unqueued fails jobs whose task never reached the queue so their queued
// records do not linger.
func (h *RenderHandler) unqueued(ctx context.Context, cause error, queued ...*jobs.RenderJob) {
	err := apperr.Wrap(cause, apperr.KindInternal, "renders.enqueue", "failed to queue render")
	for _, job := range queued {
		if job.Fail(err) != nil || h.statuses == nil {
			continue
		}
		if err := h.statuses.Notify(ctx, jobs.EventStatus, job.Snapshot()); err != nil {
			h.logger.Warn("Failed to record unqueued job", zap.String("job_id", job.ID), zap.Error(err))
		}
	}
}

// Submit queues a single composition.
func (h *RenderHandler) Submit(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{Error: "request body too large"})
		return
	}

	comp, err := h.parse(body)
	if err != nil {
		writeError(w, err)
		return
	}

	job := jobs.NewRenderJob("", comp)
	h.queued(r.Context(), job)

	info, err := h.queue.EnqueueRender(r.Context(), jobs.RenderPayload{
		JobID:       job.ID,
		Composition: *comp,
	}, r.URL.Query().Get("priority"))
	if err != nil {
		h.logger.Error("Failed to enqueue render", zap.String("job_id", job.ID), zap.Error(err))
		h.unqueued(r.Context(), err, job)
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "failed to queue render", Kind: apperr.KindInternal})
		return
	}

	h.logger.Info("Render queued",
		zap.String("job_id", job.ID),
		zap.String("platform", comp.Platform),
		zap.Int("scenes", len(comp.Scenes)),
	)

	writeJSON(w, http.StatusAccepted, SubmitResponse{
		JobID:    job.ID,
		Status:   jobs.StatusQueued,
		Platform: comp.Platform,
		Duration: comp.TotalDuration(),
		Queue:    info.Queue,
	})
}

// SubmitBatch queues a batch. Every composition must validate; otherwise
// the whole request is rejected and the first bad index reported.
func (h *RenderHandler) SubmitBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Kind: apperr.KindInvalidComposition})
		return
	}
	if err := jobs.CheckBatchSize(len(req.Compositions), h.batchMaxJobs); err != nil {
		writeError(w, err)
		return
	}

	payload := jobs.BatchPayload{
		BatchID:     uuid.NewString(),
		Concurrency: req.Concurrency,
		Jobs:        make([]jobs.RenderPayload, 0, len(req.Compositions)),
	}
	resp := BatchResponse{BatchID: payload.BatchID}
	var queued []*jobs.RenderJob

	for i, raw := range req.Compositions {
		comp, err := h.parse(raw)
		if err != nil {
			index := i
			writeJSON(w, apperr.HTTPStatus(err), ErrorResponse{Error: err.Error(), Kind: apperr.KindOf(err), Index: &index})
			return
		}
		job := jobs.NewRenderJob("", comp)
		job.BatchID = payload.BatchID
		queued = append(queued, job)

		payload.Jobs = append(payload.Jobs, jobs.RenderPayload{JobID: job.ID, BatchID: payload.BatchID, Composition: *comp})
		resp.Jobs = append(resp.Jobs, SubmitResponse{
			JobID:    job.ID,
			Status:   jobs.StatusQueued,
			Platform: comp.Platform,
			Duration: comp.TotalDuration(),
		})
	}

	for _, job := range queued {
		h.queued(r.Context(), job)
	}

	info, err := h.queue.EnqueueBatch(r.Context(), payload, r.URL.Query().Get("priority"))
	if err != nil {
		h.logger.Error("Failed to enqueue batch", zap.String("batch_id", payload.BatchID), zap.Error(err))
		h.unqueued(r.Context(), err, queued...)
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "failed to queue batch", Kind: apperr.KindInternal})
		return
	}
	resp.Queue = info.Queue

	h.logger.Info("Batch queued", zap.String("batch_id", payload.BatchID), zap.Int("jobs", len(payload.Jobs)))
	writeJSON(w, http.StatusAccepted, resp)
}

// Get returns the latest status of a job.
func (h *RenderHandler) Get(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")

	snap, err := h.reader.Get(r.Context(), jobID)
	if errors.Is(err, jobs.ErrJobNotFound) {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "job not found"})
		return
	}
	if err != nil {
		h.logger.Error("Failed to read job status", zap.String("job_id", jobID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "failed to read job status"})
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

// Validate checks a composition without queueing it.
func (h *RenderHandler) Validate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{Error: "request body too large"})
		return
	}

	comp, err := h.parse(body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"valid":    true,
		"platform": comp.Platform,
		"scenes":   len(comp.Scenes),
		"duration": comp.TotalDuration(),
	})
}
