package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nextconvert/compositor/internal/shared/database"
	"github.com/nextconvert/compositor/internal/shared/metrics"
	"github.com/redis/go-redis/v9"
)

// Event says what changed in a status notification.
type Event string

const (
	EventStatus   Event = "status"
	EventProgress Event = "progress"
)

// StatusChannel is the Redis pub/sub channel carrying job updates.
const StatusChannel = "render:status"

// ErrJobNotFound is returned by stores for unknown job ids.
var ErrJobNotFound = errors.New("job not found")

// StatusSink receives job updates. Sink errors are logged and never change
// a job's outcome.
type StatusSink interface {
	Notify(ctx context.Context, event Event, snap Snapshot) error
}

// StatusReader looks up the latest snapshot of a job.
type StatusReader interface {
	Get(ctx context.Context, jobID string) (*Snapshot, error)
}

// Update is the message published for every notification.
type Update struct {
	Event    Event    `json:"event"`
	Snapshot Snapshot `json:"job"`
}

// RedisStatusStore keeps the latest snapshot per job and publishes every
// update on StatusChannel.
type RedisStatusStore struct {
	redis *database.Redis
	ttl   time.Duration
}

// NewRedisStatusStore creates a store whose entries expire after ttl.
func NewRedisStatusStore(r *database.Redis, ttl time.Duration) *RedisStatusStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStatusStore{redis: r, ttl: ttl}
}

func statusKey(jobID string) string {
	return "render:job:" + jobID
}

func (s *RedisStatusStore) Notify(ctx context.Context, event Event, snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, statusKey(snap.ID), data, s.ttl); err != nil {
		return fmt.Errorf("failed to store job status: %w", err)
	}

	msg, err := json.Marshal(Update{Event: event, Snapshot: snap})
	if err != nil {
		return err
	}
	if err := s.redis.Publish(ctx, StatusChannel, msg); err != nil {
		return fmt.Errorf("failed to publish job status: %w", err)
	}
	return nil
}

func (s *RedisStatusStore) Get(ctx context.Context, jobID string) (*Snapshot, error) {
	data, err := s.redis.Get(ctx, statusKey(jobID))
	if errors.Is(err, redis.Nil) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}

	var snap Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, fmt.Errorf("corrupt job status: %w", err)
	}
	return &snap, nil
}

// PostgresRecorder persists status changes to the render_jobs table.
// Progress-only updates are skipped.
type PostgresRecorder struct {
	db *database.Postgres
}

// NewPostgresRecorder creates a recorder.
func NewPostgresRecorder(db *database.Postgres) *PostgresRecorder {
	return &PostgresRecorder{db: db}
}

func (r *PostgresRecorder) Notify(ctx context.Context, event Event, snap Snapshot) error {
	if event != EventStatus {
		return nil
	}

	var errKind, errMessage, diagnostic *string
	if snap.Error != nil {
		kind := string(snap.Error.Kind)
		errKind, errMessage = &kind, &snap.Error.Message
		if snap.Error.Diagnostic != "" {
			diagnostic = &snap.Error.Diagnostic
		}
	}

	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO render_jobs (id, batch_id, platform, status, output_path, output_url, duration_seconds,
			error_kind, error_message, diagnostic, created_at, started_at, completed_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			output_path = EXCLUDED.output_path,
			output_url = EXCLUDED.output_url,
			duration_seconds = EXCLUDED.duration_seconds,
			error_kind = EXCLUDED.error_kind,
			error_message = EXCLUDED.error_message,
			diagnostic = EXCLUDED.diagnostic,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at,
			updated_at = NOW()
	`, snap.ID, snap.BatchID, snap.Platform, string(snap.Status), snap.OutputPath, snap.OutputURL, snap.Duration,
		errKind, errMessage, diagnostic, snap.CreatedAt, snap.StartedAt, snap.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to record job: %w", err)
	}
	return nil
}

// MetricsSink records job lifecycle metrics.
type MetricsSink struct {
	metrics *metrics.Metrics
}

// NewMetricsSink creates a metrics sink.
func NewMetricsSink(m *metrics.Metrics) *MetricsSink {
	return &MetricsSink{metrics: m}
}

func (s *MetricsSink) Notify(ctx context.Context, event Event, snap Snapshot) error {
	if event != EventStatus {
		return nil
	}
	switch snap.Status {
	case StatusProcessing:
		s.metrics.RecordJobStarted()
	case StatusCompleted, StatusFailed:
		var kind string
		if snap.Error != nil {
			kind = string(snap.Error.Kind)
		}
		var elapsed time.Duration
		if snap.StartedAt != nil && snap.CompletedAt != nil {
			elapsed = snap.CompletedAt.Sub(*snap.StartedAt)
		} else {
			// Rejected before it ever ran; balance the active gauge.
			s.metrics.RecordJobStarted()
		}
		s.metrics.RecordJobFinished(snap.Platform, string(snap.Status), kind, elapsed)
	}
	return nil
}

// MemoryStore keeps snapshots in process. It serves the CLI and tests.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]Snapshot
	log  []Update
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]Snapshot)}
}

func (s *MemoryStore) Notify(ctx context.Context, event Event, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[snap.ID] = snap
	s.log = append(s.log, Update{Event: event, Snapshot: snap})
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, jobID string) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	return &snap, nil
}

// Snapshots returns the latest snapshot of every job, ordered by id.
func (s *MemoryStore) Snapshots() []Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Snapshot, 0, len(s.jobs))
	for _, snap := range s.jobs {
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Updates returns every notification received for jobID, in order.
func (s *MemoryStore) Updates(jobID string) []Update {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Update
	for _, u := range s.log {
		if u.Snapshot.ID == jobID {
			out = append(out, u)
		}
	}
	return out
}
