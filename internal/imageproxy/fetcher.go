// Package imageproxy fetches partner hero images so they can be served from
// the preview host.
package imageproxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
)

var (
	// ErrNotFound means the image could not be fetched.
	ErrNotFound = errors.New("image not found")

	// ErrUnavailable means the image store refused access.
	ErrUnavailable = errors.New("image unavailable")
)

const (
	DefaultTimeout  = 5 * time.Second
	DefaultMaxBytes = 10 << 20
)

// Image is a fetched image body.
type Image struct {
	Data        []byte
	ContentType string
}

// Config configures an HTTPFetcher.
type Config struct {
	Timeout  time.Duration
	MaxBytes int64
}

// HTTPFetcher downloads images over HTTP.
type HTTPFetcher struct {
	client   *http.Client
	maxBytes int64
	logger   *zap.Logger
}

// NewHTTPFetcher creates a fetcher. Zero config values take the package defaults.
func NewHTTPFetcher(cfg Config, logger *zap.Logger) *HTTPFetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}

	return &HTTPFetcher{
		client:   &http.Client{Timeout: cfg.Timeout},
		maxBytes: cfg.MaxBytes,
		logger:   logger,
	}
}

// Fetch downloads imageURL.
func (f *HTTPFetcher) Fetch(ctx context.Context, imageURL string) (*Image, error) {
	u, err := url.Parse(imageURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: invalid url %q", ErrNotFound, imageURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		f.logger.Warn("image download failed", zap.String("url", imageURL), zap.Error(err))

		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		f.logger.Error("image store refused access", zap.String("url", imageURL), zap.Int("status", resp.StatusCode))

		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		f.logger.Warn("image download failed", zap.String("url", imageURL), zap.Int("status", resp.StatusCode))

		return nil, fmt.Errorf("%w: status %d", ErrNotFound, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}

	if int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("%w: image exceeds %d bytes", ErrNotFound, f.maxBytes)
	}

	return &Image{
		Data:        data,
		ContentType: ContentType(u.Path, data),
	}, nil
}

// ContentType guesses the media type from the file extension in name, then from the content.
func ContentType(name string, data []byte) string {
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		return ct
	}

	if len(data) == 0 {
		return "application/octet-stream"
	}

	return mimetype.Detect(data).String()
}
