package assets

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nextconvert/compositor/internal/shared/storage"
)

// Fetcher copies one source into a local file.
type Fetcher interface {
	Fetch(ctx context.Context, source, dest string) (int64, error)
}

// HTTPFetcher downloads http(s) sources.
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher creates a fetcher. A nil client gets a 5 minute timeout.
func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	return &HTTPFetcher{client: client}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, source, dest string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return 0, err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("unexpected status %s", resp.Status)
	}

	return writeFile(dest, resp.Body)
}

// StorageFetcher reads storage://<key> sources from the object store.
type StorageFetcher struct {
	store *storage.Service
}

// NewStorageFetcher wraps a storage service.
func NewStorageFetcher(store *storage.Service) *StorageFetcher {
	return &StorageFetcher{store: store}
}

func (f *StorageFetcher) Fetch(ctx context.Context, source, dest string) (int64, error) {
	key := strings.TrimPrefix(source, SchemeStorage+"://")
	rc, err := f.store.Open(ctx, key)
	if err != nil {
		return 0, err
	}
	defer rc.Close()
	return writeFile(dest, rc)
}

// LocalFetcher copies plain paths and file:// URLs.
type LocalFetcher struct{}

func (LocalFetcher) Fetch(ctx context.Context, source, dest string) (int64, error) {
	p := source
	if strings.HasPrefix(source, "file://") {
		u, err := url.Parse(source)
		if err != nil {
			return 0, err
		}
		p = u.Path
	}

	src, err := os.Open(filepath.Clean(p))
	if err != nil {
		return 0, err
	}
	defer src.Close()

	if info, err := src.Stat(); err == nil && info.IsDir() {
		return 0, fmt.Errorf("%s is a directory", p)
	}
	return writeFile(dest, src)
}

// writeFile streams r into dest, removing the partial file on failure.
func writeFile(dest string, r io.Reader) (int64, error) {
	out, err := os.Create(dest)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(out, r)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dest)
		return 0, err
	}
	if n == 0 {
		os.Remove(dest)
		return 0, fmt.Errorf("source is empty")
	}
	return n, nil
}
