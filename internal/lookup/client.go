// Package lookup queries the HTTP redirect service for the row behind a token.
package lookup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/serroba/purview/internal/preview"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// Attempt results reported to the AttemptObserver.
const (
	ResultOK               = "ok"
	ResultClientError      = "client_error"
	ResultServerError      = "server_error"
	ResultTransportError   = "transport_error"
	ResultUnexpectedStatus = "unexpected_status"
)

// AttemptObserver is notified after every HTTP attempt.
type AttemptObserver interface {
	LookupAttempt(result string)
}

type noopObserver struct{}

func (noopObserver) LookupAttempt(string) {}

// StatusError reports a non-2xx response from the lookup service.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("lookup service returned status %d", e.Code)
}

// Config configures the HTTP lookup client.
type Config struct {
	// BaseURL is the service root, including any path prefix such as /api.
	BaseURL string
	// Path is the entity path under BaseURL, e.g. "redirects".
	Path string
	// Timeout bounds each individual attempt.
	Timeout time.Duration
	// MaxRetries is the number of attempts after the first one.
	MaxRetries int
	// BaseBackoff is the first sleep; later sleeps double.
	BaseBackoff time.Duration
	// IncludeTop appends $top=1 to the query.
	IncludeTop bool
	UserAgent  string
	Fields     FieldCandidates
}

// DefaultConfig returns the production defaults without a BaseURL.
func DefaultConfig() Config {
	return Config{
		Path:        "redirects",
		Timeout:     4 * time.Second,
		MaxRetries:  2,
		BaseBackoff: 300 * time.Millisecond,
		IncludeTop:  true,
		UserAgent:   "purview",
		Fields:      DefaultFields,
	}
}

// Client implements preview.Lookup against the HTTP redirect service.
type Client struct {
	cfg        Config
	httpClient *http.Client
	observer   AttemptObserver
	logger     *zap.Logger
}

// NewClient validates cfg and creates a lookup client.
// A nil httpClient uses a fresh http.Client; a nil observer disables attempt reporting.
func NewClient(cfg Config, httpClient *http.Client, observer AttemptObserver, logger *zap.Logger) (*Client, error) {
	if !strings.HasPrefix(cfg.BaseURL, "http://") && !strings.HasPrefix(cfg.BaseURL, "https://") {
		return nil, fmt.Errorf("invalid lookup base url %q", cfg.BaseURL)
	}

	if cfg.Timeout <= 0 {
		return nil, errors.New("lookup timeout must be positive")
	}

	if cfg.MaxRetries < 0 {
		return nil, errors.New("lookup retries cannot be negative")
	}

	if cfg.Fields.Destination == nil {
		cfg.Fields = DefaultFields
	}

	if httpClient == nil {
		httpClient = &http.Client{}
	}

	if observer == nil {
		observer = noopObserver{}
	}

	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		observer:   observer,
		logger:     logger,
	}, nil
}

// RequestURL builds the lookup URL for token.
//
// The filter is appended verbatim with only spaces encoded; the token and its
// surrounding quotes are not escaped. BaseURL and Path are concatenated rather
// than resolved so a path prefix on BaseURL is kept.
func (c *Client) RequestURL(token string) string {
	filter := strings.ReplaceAll("token eq '"+token+"'", " ", "%20")

	u := strings.TrimRight(c.cfg.BaseURL, "/") + "/" + strings.Trim(c.cfg.Path, "/") + "?$filter=" + filter
	if c.cfg.IncludeTop {
		u += "&$top=1"
	}

	return u
}

// Lookup fetches and validates the row for token.
//
// Transport errors and 5xx responses are retried with exponential backoff;
// 4xx responses fail immediately. A missing or invalid row is preview.ErrNotFound.
func (c *Client) Lookup(ctx context.Context, token string) (*preview.RedirectRow, error) {
	reqURL := c.RequestURL(token)

	var (
		body    []byte
		attempt int
	)

	operation := func() error {
		attempt++

		b, err := c.fetch(ctx, reqURL)
		if err != nil {
			c.logger.Warn("redirect lookup attempt failed",
				zap.String("token", token),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)

			return err
		}

		body = b

		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), uint64(c.cfg.MaxRetries)), ctx)

	if err := backoff.Retry(operation, policy); err != nil {
		return nil, fmt.Errorf("lookup token %q after %d attempt(s): %w", token, attempt, err)
	}

	row, err := ParseRow(body, c.cfg.Fields)
	if err != nil {
		return nil, err
	}

	return row, nil
}

func (c *Client) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.BaseBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = maxInterval(c.cfg.BaseBackoff, c.cfg.MaxRetries)
	b.MaxElapsedTime = 0
	b.Reset()

	return b
}

// maxInterval is base*2^retries, saturated at the largest Duration.
func maxInterval(base time.Duration, retries int) time.Duration {
	if base <= 0 {
		return base
	}

	if retries >= 62 || base > time.Duration(math.MaxInt64)>>retries {
		return time.Duration(math.MaxInt64)
	}

	return base << retries
}

// fetch performs one bounded attempt. Errors that retrying cannot fix are
// wrapped with backoff.Permanent.
func (c *Client) fetch(ctx context.Context, reqURL string) ([]byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}

	req.Header.Set("Accept", "application/json")

	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observer.LookupAttempt(ResultTransportError)

		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			c.observer.LookupAttempt(ResultTransportError)

			return nil, err
		}

		c.observer.LookupAttempt(ResultOK)

		return body, nil
	case resp.StatusCode >= 500:
		c.observer.LookupAttempt(ResultServerError)
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))

		return nil, &StatusError{Code: resp.StatusCode}
	case resp.StatusCode >= 400:
		c.observer.LookupAttempt(ResultClientError)

		return nil, backoff.Permanent(&StatusError{Code: resp.StatusCode})
	default:
		c.observer.LookupAttempt(ResultUnexpectedStatus)

		return nil, backoff.Permanent(&StatusError{Code: resp.StatusCode})
	}
}
