package render

import (
	"context"
	"os"
	"sync"

	fg "github.com/nextconvert/compositor/internal/modules/filtergraph"
	"github.com/nextconvert/compositor/internal/modules/platform"
	"github.com/nextconvert/compositor/internal/shared/apperr"
)

// EncodeRequest is one encode invocation.
type EncodeRequest struct {
	Graph      *fg.Graph
	Profile    platform.Profile
	OutputPath string
	// OnProgress receives 0-100 as the encode advances. Optional.
	OnProgress func(percent int)
}

// Encoder runs the external encoding step. Implementations must return an
// ENCODE_PROCESS error for a failed run and OUTPUT_MISSING when a run
// reports success without leaving a non-empty file at OutputPath.
type Encoder interface {
	Encode(ctx context.Context, req EncodeRequest) error
}

// validateOutput enforces the output contract shared by all encoders.
func validateOutput(path string) error {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() || info.Size() == 0 {
		return apperr.OutputMissing(path)
	}
	return nil
}

// MockEncoder is a deterministic Encoder for tests and dry runs.
type MockEncoder struct {
	// Output is written to OutputPath when non-empty. An empty Output
	// simulates a successful exit that produced nothing.
	Output []byte
	// Fail, when set, decides per request whether the run fails with the
	// returned stderr text.
	Fail func(req EncodeRequest) (stderr string, failed bool)

	mu       sync.Mutex
	requests []EncodeRequest
}

// NewMockEncoder returns a mock that writes a small placeholder file.
func NewMockEncoder() *MockEncoder {
	return &MockEncoder{Output: []byte("mock-media")}
}

// Encode records the request and simulates the external tool.
func (m *MockEncoder) Encode(ctx context.Context, req EncodeRequest) error {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return apperr.Wrap(err, apperr.KindCanceled, "render.encode", "encode interrupted")
	}
	if m.Fail != nil {
		if stderr, failed := m.Fail(req); failed {
			return apperr.EncodeProcess(nil, stderr)
		}
	}
	if len(m.Output) > 0 {
		if err := os.WriteFile(req.OutputPath, m.Output, 0644); err != nil {
			return apperr.EncodeProcess(err, "")
		}
	}
	if req.OnProgress != nil {
		req.OnProgress(100)
	}
	return validateOutput(req.OutputPath)
}

// Requests returns the recorded requests.
func (m *MockEncoder) Requests() []EncodeRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]EncodeRequest(nil), m.requests...)
}
