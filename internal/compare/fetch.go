package compare

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Fetcher resolves commit image references to raw bytes. A reference may
// be a local path (absolute, working-directory-relative, or relative to
// the configured image directory), an http(s) URL, or a storage-relative
// path resolved against the storage base URL. Remote downloads are cached
// on disk keyed by the URL digest, so repeated compares of the same
// commits do not re-download.
type Fetcher struct {
	httpClient     *http.Client
	cacheDir       string
	imageDir       string
	storageBaseURL string
}

// FetcherConfig wires a Fetcher.
type FetcherConfig struct {
	// Timeout bounds each remote download.
	Timeout time.Duration

	// CacheDir holds downloaded remote images.
	CacheDir string

	// ImageDir is the local directory commit-relative paths resolve
	// against.
	ImageDir string

	// StorageBaseURL, when set, resolves references that are neither URLs
	// nor existing local files.
	StorageBaseURL string
}

// NewFetcher creates an image fetcher.
func NewFetcher(config FetcherConfig) *Fetcher {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &Fetcher{
		httpClient:     &http.Client{Timeout: timeout},
		cacheDir:       config.CacheDir,
		imageDir:       config.ImageDir,
		storageBaseURL: strings.TrimRight(config.StorageBaseURL, "/"),
	}
}

// Fetch resolves the reference to raw image bytes.
func (f *Fetcher) Fetch(ctx context.Context, reference string) ([]byte, error) {
	if isRemote(reference) {
		return f.fetchRemote(ctx, reference)
	}

	for _, candidate := range f.localCandidates(reference) {
		data, err := os.ReadFile(candidate)
		if err == nil {
			return data, nil
		}
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read image artifact %s: %w", candidate, err)
		}
	}

	if f.storageBaseURL != "" {
		return f.fetchRemote(ctx, f.storageBaseURL+"/"+strings.TrimLeft(reference, "/"))
	}

	return nil, fmt.Errorf("image artifact is missing at %s", reference)
}

// localCandidates lists the filesystem paths a non-URL reference may
// resolve to, in resolution order.
func (f *Fetcher) localCandidates(reference string) []string {
	candidates := []string{reference}
	if !filepath.IsAbs(reference) && f.imageDir != "" {
		candidates = append(candidates, filepath.Join(f.imageDir, reference))
	}
	return candidates
}

// fetchRemote downloads the image, serving and populating the disk cache.
func (f *Fetcher) fetchRemote(ctx context.Context, imageURL string) ([]byte, error) {
	cachePath := f.cachePath(imageURL)
	if cachePath != "" {
		if data, err := os.ReadFile(cachePath); err == nil {
			return data, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build image request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch remote image artifact: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch remote image artifact: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read remote image artifact: %w", err)
	}

	if cachePath != "" {
		if err := writeAtomic(cachePath, data); err != nil {
			return nil, err
		}
	}

	return data, nil
}

// cachePath derives the content-addressed cache location for a URL.
// An empty cache directory disables caching.
func (f *Fetcher) cachePath(imageURL string) string {
	if f.cacheDir == "" {
		return ""
	}

	digest := sha1.Sum([]byte(imageURL))
	return filepath.Join(f.cacheDir, hex.EncodeToString(digest[:])+".png")
}

// writeAtomic writes via a temp file and rename so a crashed download
// never leaves a truncated cache entry.
func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create image cache dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create cache temp file: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write cache temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close cache temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("publish cache entry: %w", err)
	}
	return nil
}

// isRemote reports whether the reference is an absolute http(s) URL.
func isRemote(reference string) bool {
	parsed, err := url.Parse(reference)
	if err != nil {
		return false
	}
	return parsed.Scheme == "http" || parsed.Scheme == "https"
}
