// Package jobs runs render jobs singly or in batches and reports their
// status to the queue, the database and live subscribers.
package jobs

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nextconvert/compositor/internal/modules/composition"
	"github.com/nextconvert/compositor/internal/modules/render"
	"github.com/nextconvert/compositor/internal/shared/apperr"
)

// Status is a render job lifecycle state.
type Status string

// Job statuses
const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ErrInvalidTransition is returned for a status change the lifecycle forbids.
var ErrInvalidTransition = errors.New("invalid job status transition")

// Progress represents job progress
type Progress struct {
	Percent int    `json:"percent"`
	Stage   string `json:"stage,omitempty"`
}

// JobError is the failure detail of a failed job.
type JobError struct {
	Kind       apperr.Kind `json:"kind"`
	Message    string      `json:"message"`
	Diagnostic string      `json:"diagnostic,omitempty"`
}

// NewJobError converts any error into a job failure record. The diagnostic
// is kept unmodified.
func NewJobError(err error) *JobError {
	return &JobError{
		Kind:       apperr.KindOf(err),
		Message:    err.Error(),
		Diagnostic: apperr.DiagnosticOf(err),
	}
}

// Snapshot is a consistent copy of a job's externally visible state.
type Snapshot struct {
	ID          string     `json:"id"`
	BatchID     string     `json:"batchId,omitempty"`
	Platform    string     `json:"platform,omitempty"`
	Status      Status     `json:"status"`
	Progress    Progress   `json:"progress"`
	OutputPath  string     `json:"outputPath,omitempty"`
	OutputURL   string     `json:"outputUrl,omitempty"`
	Duration    float64    `json:"duration,omitempty"`
	Error       *JobError  `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// RenderJob is one composition moving through the render lifecycle:
// queued -> processing -> completed | failed. A queued job may also fail
// directly when it is rejected before running.
type RenderJob struct {
	ID          string
	BatchID     string
	Composition *composition.Composition

	mu          sync.RWMutex
	status      Status
	progress    Progress
	result      *render.Result
	err         *JobError
	createdAt   time.Time
	startedAt   time.Time
	completedAt time.Time
}

// NewRenderJob creates a queued job. An empty id gets a generated one.
func NewRenderJob(id string, comp *composition.Composition) *RenderJob {
	if id == "" {
		id = uuid.NewString()
	}
	return &RenderJob{
		ID:          id,
		Composition: comp,
		status:      StatusQueued,
		createdAt:   time.Now(),
	}
}

// Start moves a queued job to processing.
func (j *RenderJob) Start() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.status != StatusQueued {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.status, StatusProcessing)
	}
	j.status = StatusProcessing
	j.startedAt = time.Now()
	return nil
}

// SetProgress records progress of a processing job. Progress never moves
// backwards.
func (j *RenderJob) SetProgress(stage string, percent int) bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.status != StatusProcessing || percent < j.progress.Percent {
		return false
	}
	changed := percent != j.progress.Percent || stage != j.progress.Stage
	j.progress = Progress{Percent: percent, Stage: stage}
	return changed
}

// Complete moves a processing job to completed.
func (j *RenderJob) Complete(res *render.Result) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.status != StatusProcessing {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.status, StatusCompleted)
	}
	j.status = StatusCompleted
	j.result = res
	j.progress = Progress{Percent: 100}
	j.completedAt = time.Now()
	return nil
}

// Fail moves a non-terminal job to failed.
func (j *RenderJob) Fail(err error) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.status.Terminal() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.status, StatusFailed)
	}
	if err == nil {
		err = apperr.New(apperr.KindInternal, "jobs.fail", "job failed without an error")
	}
	j.status = StatusFailed
	j.err = NewJobError(err)
	j.completedAt = time.Now()
	return nil
}

// Status returns the current status.
func (j *RenderJob) Status() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status
}

// Err returns the failure detail, present only when the job failed.
func (j *RenderJob) Err() *JobError {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.err
}

// Result returns the render result of a completed job.
func (j *RenderJob) Result() *render.Result {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.result
}

// Snapshot returns a consistent copy of the job state.
func (j *RenderJob) Snapshot() Snapshot {
	j.mu.RLock()
	defer j.mu.RUnlock()

	s := Snapshot{
		ID:        j.ID,
		BatchID:   j.BatchID,
		Status:    j.status,
		Progress:  j.progress,
		CreatedAt: j.createdAt,
	}
	if j.Composition != nil {
		s.Platform = j.Composition.Platform
	}
	if !j.startedAt.IsZero() {
		t := j.startedAt
		s.StartedAt = &t
	}
	if !j.completedAt.IsZero() {
		t := j.completedAt
		s.CompletedAt = &t
	}
	if j.result != nil {
		s.OutputPath = j.result.OutputPath
		s.OutputURL = j.result.OutputURL
		s.Duration = j.result.Duration
	}
	if j.err != nil {
		e := *j.err
		s.Error = &e
	}
	return s
}
