// Package apperr defines the machine-readable failure kinds reported for render jobs.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"
)

// Kind categorizes a failure.
type Kind string

const (
	KindUnknownPlatform    Kind = "UNKNOWN_PLATFORM"
	KindAssetDownload      Kind = "ASSET_DOWNLOAD"
	KindInvalidComposition Kind = "INVALID_COMPOSITION"
	KindEncodeProcess      Kind = "ENCODE_PROCESS"
	KindOutputMissing      Kind = "OUTPUT_MISSING"
	KindCleanupWarning     Kind = "CLEANUP_WARNING"
	KindUploadFailed       Kind = "UPLOAD_FAILED"
	KindCanceled           Kind = "CANCELED"
	KindInternal           Kind = "INTERNAL"
)

// MaxDiagnosticBytes bounds the diagnostic text kept on an error.
const MaxDiagnosticBytes = 16 * 1024

// Sentinels for errors.Is comparisons. Matching is by Kind only.
var (
	ErrUnknownPlatform    = &Error{Kind: KindUnknownPlatform}
	ErrAssetDownload      = &Error{Kind: KindAssetDownload}
	ErrInvalidComposition = &Error{Kind: KindInvalidComposition}
	ErrEncodeProcess      = &Error{Kind: KindEncodeProcess}
	ErrOutputMissing      = &Error{Kind: KindOutputMissing}
	ErrCleanupWarning     = &Error{Kind: KindCleanupWarning}
	ErrUploadFailed       = &Error{Kind: KindUploadFailed}
	ErrCanceled           = &Error{Kind: KindCanceled}
)

// Error is a categorized failure with an optional raw diagnostic from an external tool.
type Error struct {
	Kind Kind
	// Op is the operation that failed (e.g. "assets.fetch").
	Op      string
	Message string
	// Diagnostic carries external tool output unmodified (bounded to MaxDiagnosticBytes).
	Diagnostic string
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString("[")
	b.WriteString(string(e.Kind))
	b.WriteString("] ")
	b.WriteString(e.Message)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// New creates an error of the given kind.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps err with a kind. If err already carries a kind it is preserved
// unless it is INTERNAL.
func Wrap(err error, kind Kind, op, message string) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) && e.Kind != KindInternal {
		kind = e.Kind
	}
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

// UnknownPlatform reports an unrecognized platform id.
func UnknownPlatform(id string) *Error {
	return Newf(KindUnknownPlatform, "platform.lookup", "unknown platform %q", id)
}

// InvalidComposition reports a composition that cannot be rendered.
func InvalidComposition(format string, args ...any) *Error {
	return Newf(KindInvalidComposition, "composition.validate", format, args...)
}

// AssetDownload reports a failure fetching source into the working area.
func AssetDownload(source string, err error) *Error {
	return &Error{
		Kind:    KindAssetDownload,
		Op:      "assets.fetch",
		Message: fmt.Sprintf("failed to fetch %s", source),
		Err:     err,
	}
}

// EncodeProcess reports a non-zero exit of the encoder, carrying its stderr.
func EncodeProcess(err error, stderr string) *Error {
	return &Error{
		Kind:       KindEncodeProcess,
		Op:         "render.encode",
		Message:    "encoder exited with an error",
		Diagnostic: Tail(stderr, MaxDiagnosticBytes),
		Err:        err,
	}
}

// OutputMissing reports a zero-exit encode that left no usable output.
func OutputMissing(path string) *Error {
	return Newf(KindOutputMissing, "render.validate", "output file was not created or is empty: %s", path)
}

// CleanupWarning reports a working directory that could not be removed.
func CleanupWarning(path string, err error) *Error {
	return &Error{
		Kind:    KindCleanupWarning,
		Op:      "workspace.release",
		Message: fmt.Sprintf("failed to remove %s", path),
		Err:     err,
	}
}

// KindOf maps any error to a kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCanceled
	}
	return KindInternal
}

// DiagnosticOf returns the first diagnostic text found in the error chain.
func DiagnosticOf(err error) string {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Diagnostic != "" {
			return e.Diagnostic
		}
		err = errors.Unwrap(err)
	}
	return ""
}

// IsValidation reports whether err was detected before any external work ran.
func IsValidation(err error) bool {
	switch KindOf(err) {
	case KindUnknownPlatform, KindInvalidComposition:
		return true
	}
	return false
}

// HTTPStatus returns the HTTP status code for an error kind.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindUnknownPlatform, KindInvalidComposition:
		return http.StatusBadRequest
	case KindCanceled:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Tail keeps at most the last n bytes of s, starting on a rune boundary.
func Tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	i := len(s) - n
	for i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return s[i:]
}
