package lookup_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/serroba/purview/internal/lookup"
	"github.com/serroba/purview/internal/preview"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const okBody = `{"value":[{"token":"PCAE7a","destination_url":"https://partner.example/offer","lender":"PayMe"}]}`

type scriptedServer struct {
	*httptest.Server
	calls    atomic.Int32
	lastPath atomic.Value
	lastRaw  atomic.Value
	accept   atomic.Value
}

// newScriptedServer answers the n-th call with statuses[n] (the last status repeats).
func newScriptedServer(t *testing.T, body string, statuses ...int) *scriptedServer {
	t.Helper()

	s := &scriptedServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(s.calls.Add(1)) - 1
		s.lastPath.Store(r.URL.Path)
		s.lastRaw.Store(r.URL.RawQuery)
		s.accept.Store(r.Header.Get("Accept"))

		status := statuses[len(statuses)-1]
		if n < len(statuses) {
			status = statuses[n]
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)

		if status == http.StatusOK {
			_, _ = w.Write([]byte(body))
		}
	}))
	t.Cleanup(s.Close)

	return s
}

func newClient(t *testing.T, baseURL string, mutate func(*lookup.Config)) *lookup.Client {
	t.Helper()

	cfg := lookup.DefaultConfig()
	cfg.BaseURL = baseURL
	cfg.Timeout = time.Second
	cfg.BaseBackoff = 20 * time.Millisecond

	if mutate != nil {
		mutate(&cfg)
	}

	c, err := lookup.NewClient(cfg, nil, nil, zap.NewNop())
	require.NoError(t, err)

	return c
}

type attemptRecorder struct {
	results []string
}

func (r *attemptRecorder) LookupAttempt(result string) {
	r.results = append(r.results, result)
}

func TestNewClient(t *testing.T) {
	t.Run("rejects non-http base url", func(t *testing.T) {
		cfg := lookup.DefaultConfig()
		cfg.BaseURL = "ftp://dab.example"

		_, err := lookup.NewClient(cfg, nil, nil, zap.NewNop())

		assert.Error(t, err)
	})

	t.Run("rejects empty base url", func(t *testing.T) {
		_, err := lookup.NewClient(lookup.DefaultConfig(), nil, nil, zap.NewNop())

		assert.Error(t, err)
	})

	t.Run("rejects negative retries", func(t *testing.T) {
		cfg := lookup.DefaultConfig()
		cfg.BaseURL = "https://dab.example"
		cfg.MaxRetries = -1

		_, err := lookup.NewClient(cfg, nil, nil, zap.NewNop())

		assert.Error(t, err)
	})
}

func TestClient_RequestURL(t *testing.T) {
	t.Run("keeps base path prefix", func(t *testing.T) {
		c := newClient(t, "https://dab.example/api", nil)

		assert.Equal(t,
			"https://dab.example/api/redirects?$filter=token%20eq%20'PCAE7a'&$top=1",
			c.RequestURL("PCAE7a"),
		)
	})

	t.Run("trims duplicate slashes", func(t *testing.T) {
		c := newClient(t, "https://dab.example/api/", func(cfg *lookup.Config) {
			cfg.Path = "/v2/redirects/"
		})

		assert.Equal(t,
			"https://dab.example/api/v2/redirects?$filter=token%20eq%20'abc'&$top=1",
			c.RequestURL("abc"),
		)
	})

	t.Run("omits top when disabled", func(t *testing.T) {
		c := newClient(t, "https://dab.example", func(cfg *lookup.Config) {
			cfg.IncludeTop = false
		})

		assert.Equal(t, "https://dab.example/redirects?$filter=token%20eq%20'abc'", c.RequestURL("abc"))
	})

	t.Run("encodes only spaces", func(t *testing.T) {
		c := newClient(t, "https://dab.example", func(cfg *lookup.Config) {
			cfg.IncludeTop = false
		})

		assert.Equal(t,
			"https://dab.example/redirects?$filter=token%20eq%20'a%20b+c'",
			c.RequestURL("a b+c"),
		)
	})
}

func TestClient_Lookup(t *testing.T) {
	t.Run("sends filter under the configured prefix", func(t *testing.T) {
		srv := newScriptedServer(t, okBody, http.StatusOK)
		c := newClient(t, srv.URL+"/api", nil)

		row, err := c.Lookup(context.Background(), "PCAE7a")

		require.NoError(t, err)
		assert.Equal(t, "https://partner.example/offer", row.DestinationURL)
		assert.Equal(t, "PayMe", row.PartnerID)
		assert.Equal(t, "/api/redirects", srv.lastPath.Load())
		assert.Equal(t, "$filter=token%20eq%20'PCAE7a'&$top=1", srv.lastRaw.Load())
		assert.Equal(t, "application/json", srv.accept.Load())
	})

	t.Run("retries server errors with exponential backoff", func(t *testing.T) {
		srv := newScriptedServer(t, okBody, http.StatusServiceUnavailable, http.StatusServiceUnavailable, http.StatusOK)
		recorder := &attemptRecorder{}

		cfg := lookup.DefaultConfig()
		cfg.BaseURL = srv.URL
		cfg.BaseBackoff = 30 * time.Millisecond
		c, err := lookup.NewClient(cfg, nil, recorder, zap.NewNop())
		require.NoError(t, err)

		start := time.Now()
		row, err := c.Lookup(context.Background(), "PCAE7a")
		elapsed := time.Since(start)

		require.NoError(t, err)
		assert.Equal(t, "PayMe", row.PartnerID)
		assert.Equal(t, int32(3), srv.calls.Load())
		assert.GreaterOrEqual(t, elapsed, 30*time.Millisecond+60*time.Millisecond)
		assert.Equal(t, []string{lookup.ResultServerError, lookup.ResultServerError, lookup.ResultOK}, recorder.results)
	})

	t.Run("keeps doubling with a large retry budget", func(t *testing.T) {
		srv := newScriptedServer(t, okBody,
			http.StatusServiceUnavailable, http.StatusServiceUnavailable, http.StatusServiceUnavailable, http.StatusOK)
		c := newClient(t, srv.URL, func(cfg *lookup.Config) {
			cfg.MaxRetries = 40
			cfg.BaseBackoff = 30 * time.Millisecond
		})

		start := time.Now()
		_, err := c.Lookup(context.Background(), "PCAE7a")
		elapsed := time.Since(start)

		require.NoError(t, err)
		assert.Equal(t, int32(4), srv.calls.Load())
		assert.GreaterOrEqual(t, elapsed, (30+60+120)*time.Millisecond)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		srv := newScriptedServer(t, "", http.StatusInternalServerError)
		c := newClient(t, srv.URL, nil)

		row, err := c.Lookup(context.Background(), "PCAE7a")

		assert.Nil(t, row)
		require.Error(t, err)

		var statusErr *lookup.StatusError
		require.ErrorAs(t, err, &statusErr)
		assert.Equal(t, http.StatusInternalServerError, statusErr.Code)
		assert.Equal(t, int32(3), srv.calls.Load())
	})

	t.Run("does not retry client errors", func(t *testing.T) {
		srv := newScriptedServer(t, "", http.StatusBadRequest)
		c := newClient(t, srv.URL, nil)

		row, err := c.Lookup(context.Background(), "bad'token")

		assert.Nil(t, row)
		require.Error(t, err)
		assert.Equal(t, int32(1), srv.calls.Load())
	})

	t.Run("retries attempts that exceed the per-call timeout", func(t *testing.T) {
		var calls atomic.Int32

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				select {
				case <-r.Context().Done():
				case <-time.After(time.Second):
				}

				return
			}

			_, _ = w.Write([]byte(okBody))
		}))
		defer srv.Close()

		c := newClient(t, srv.URL, func(cfg *lookup.Config) {
			cfg.Timeout = 50 * time.Millisecond
		})

		row, err := c.Lookup(context.Background(), "PCAE7a")

		require.NoError(t, err)
		assert.Equal(t, "PayMe", row.PartnerID)
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("stops backing off when the caller deadline passes", func(t *testing.T) {
		srv := newScriptedServer(t, "", http.StatusServiceUnavailable)
		c := newClient(t, srv.URL, func(cfg *lookup.Config) {
			cfg.BaseBackoff = 5 * time.Second
		})

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		start := time.Now()
		_, err := c.Lookup(ctx, "PCAE7a")

		require.Error(t, err)
		assert.Less(t, time.Since(start), 2*time.Second)
		assert.Equal(t, int32(1), srv.calls.Load())
	})

	t.Run("returns not found for empty result", func(t *testing.T) {
		srv := newScriptedServer(t, `{"value":[]}`, http.StatusOK)
		c := newClient(t, srv.URL, nil)

		_, err := c.Lookup(context.Background(), "PCAE7a")

		require.ErrorIs(t, err, preview.ErrNotFound)
		assert.Equal(t, int32(1), srv.calls.Load())
	})

	t.Run("does not retry malformed bodies", func(t *testing.T) {
		srv := newScriptedServer(t, `<html>oops</html>`, http.StatusOK)
		c := newClient(t, srv.URL, nil)

		_, err := c.Lookup(context.Background(), "PCAE7a")

		require.ErrorIs(t, err, lookup.ErrMalformedResponse)
		assert.Equal(t, int32(1), srv.calls.Load())
	})

	t.Run("fails on unreachable service", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		addr := srv.URL
		srv.Close()

		c := newClient(t, addr, func(cfg *lookup.Config) {
			cfg.BaseBackoff = time.Millisecond
		})

		_, err := c.Lookup(context.Background(), "PCAE7a")

		require.Error(t, err)
		assert.False(t, errors.Is(err, preview.ErrNotFound))
	})
}
