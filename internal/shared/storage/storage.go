package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/nextconvert/compositor/internal/shared/config"
)

// RendersPrefix is the key prefix for published renders.
const RendersPrefix = "renders"

const renderCacheControl = "public, max-age=31536000"

var contentTypes = map[string]string{
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".webm": "video/webm",
	".mkv":  "video/x-matroska",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".m4a":  "audio/mp4",
}

// ContentType returns the media type for an object key.
func ContentType(key string) string {
	ext := strings.ToLower(path.Ext(key))
	if ct, ok := contentTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("object not found")

// Object describes a stored object.
type Object struct {
	Key      string `json:"key"`
	Location string `json:"location"`
	URL      string `json:"url"`
	Size     int64  `json:"size"`
}

// Backend defines the storage backend interface. Keys are slash separated.
type Backend interface {
	Put(ctx context.Context, key string, reader io.Reader) (string, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	GetSize(ctx context.Context, key string) (int64, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// Service provides object storage for assets and finished renders
type Service struct {
	backend       Backend
	publicBaseURL string
	now           func() time.Time
}

// NewService creates a new storage service
func NewService(cfg config.StorageConfig) (*Service, error) {
	var backend Backend
	var err error

	switch cfg.Backend {
	case "s3":
		backend, err = NewS3Backend(cfg)
	case "local", "":
		backend, err = NewLocalBackend(cfg.BasePath)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}

	if err != nil {
		return nil, err
	}

	return NewServiceWithBackend(backend, cfg.PublicBaseURL), nil
}

// NewServiceWithBackend wraps an existing backend.
func NewServiceWithBackend(backend Backend, publicBaseURL string) *Service {
	return &Service{
		backend:       backend,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		now:           time.Now,
	}
}

// Open streams the object at key.
func (s *Service) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	return s.backend.Open(ctx, key)
}

// Exists checks if an object exists
func (s *Service) Exists(ctx context.Context, key string) (bool, error) {
	return s.backend.Exists(ctx, key)
}

// Delete removes an object
func (s *Service) Delete(ctx context.Context, key string) error {
	return s.backend.Delete(ctx, key)
}

// List returns keys under prefix
func (s *Service) List(ctx context.Context, prefix string) ([]string, error) {
	return s.backend.List(ctx, prefix)
}

// RenderKey returns the object key for a finished render file.
func RenderKey(t time.Time, filename string) string {
	t = t.UTC()
	return path.Join(RendersPrefix, t.Format("2006"), t.Format("01"), t.Format("02"), filename)
}

// Publish uploads a finished render under renders/YYYY/MM/DD/<file>.
func (s *Service) Publish(ctx context.Context, localPath string) (*Object, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open render: %w", err)
	}
	defer file.Close()

	key := RenderKey(s.now(), filepath.Base(localPath))
	location, err := s.backend.Put(ctx, key, file)
	if err != nil {
		return nil, fmt.Errorf("failed to store render: %w", err)
	}

	size, err := s.backend.GetSize(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to get render size: %w", err)
	}

	obj := &Object{Key: key, Location: location, URL: location, Size: size}
	if s.publicBaseURL != "" {
		obj.URL = s.publicBaseURL + "/" + key
	}
	return obj, nil
}

// LocalBackend implements local filesystem storage
type LocalBackend struct {
	basePath string
}

// NewLocalBackend creates a new local storage backend
func NewLocalBackend(basePath string) (*LocalBackend, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", basePath, err)
	}
	return &LocalBackend{basePath: basePath}, nil
}

// resolve maps a key into basePath, rejecting keys that escape it.
func (b *LocalBackend) resolve(key string) (string, error) {
	clean := path.Clean("/" + key)
	if clean == "/" {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return filepath.Join(b.basePath, filepath.FromSlash(clean[1:])), nil
}

func (b *LocalBackend) Put(ctx context.Context, key string, reader io.Reader) (string, error) {
	p, err := b.resolve(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return "", err
	}

	file, err := os.Create(p)
	if err != nil {
		return "", err
	}
	defer file.Close()

	if _, err := io.Copy(file, reader); err != nil {
		os.Remove(p)
		return "", err
	}

	return p, nil
}

func (b *LocalBackend) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	p, err := b.resolve(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	return f, err
}

func (b *LocalBackend) Delete(ctx context.Context, key string) error {
	p, err := b.resolve(key)
	if err != nil {
		return err
	}
	return os.Remove(p)
}

func (b *LocalBackend) Exists(ctx context.Context, key string) (bool, error) {
	p, err := b.resolve(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}

func (b *LocalBackend) GetSize(ctx context.Context, key string) (int64, error) {
	p, err := b.resolve(key)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(p)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (b *LocalBackend) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(b.basePath, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(b.basePath, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	return keys, err
}
