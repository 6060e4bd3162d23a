package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/serroba/purview/internal/analytics"
	"github.com/serroba/purview/internal/clock"
	"github.com/serroba/purview/internal/handlers"
	"github.com/serroba/purview/internal/imageproxy"
	"github.com/serroba/purview/internal/preview"
	"github.com/serroba/purview/internal/render"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubResolver struct {
	mu      sync.Mutex
	records map[string]*preview.Record
	calls   []string
	sawDue  bool
}

func (s *stubResolver) Resolve(ctx context.Context, token string) (*preview.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, token)
	_, s.sawDue = ctx.Deadline()

	if token == " " {
		return nil, preview.ErrInvalidToken
	}

	rec, ok := s.records[token]
	if !ok {
		return nil, preview.ErrNotFound
	}

	return rec, nil
}

type stubFetcher struct {
	img *imageproxy.Image
	err error
	url string
}

func (f *stubFetcher) Fetch(_ context.Context, imageURL string) (*imageproxy.Image, error) {
	f.url = imageURL

	return f.img, f.err
}

type eventSink struct {
	mu     sync.Mutex
	events []*analytics.PreviewServedEvent
	err    error
}

func (s *eventSink) publish(_ context.Context, e *analytics.PreviewServedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, e)

	return s.err
}

type dropCounter struct{ n int }

func (d *dropCounter) EventDropped() { d.n++ }

var servedAt = time.Date(2024, 11, 1, 9, 0, 0, 0, time.UTC)

func payme() *preview.Record {
	return &preview.Record{
		Token:        "PCAE7a",
		Title:        "Check your PayMe offer",
		Description:  "Instant loan",
		ImageURL:     "https://cdn.example/payme.png",
		ThemeColor:   "#FF6600",
		TargetURL:    "https://partner.example/offer",
		CanonicalURL: "https://partner.example/offer",
		Metadata:     preview.Metadata{PartnerID: "PayMe", SubscriberID: "42"},
	}
}

type fixture struct {
	router   *chi.Mux
	resolver *stubResolver
	fetcher  *stubFetcher
	sink     *eventSink
	drops    *dropCounter
}

func newFixture(t *testing.T, withFetcher bool) *fixture {
	t.Helper()

	f := &fixture{
		resolver: &stubResolver{records: map[string]*preview.Record{"PCAE7a": payme()}},
		fetcher:  &stubFetcher{img: &imageproxy.Image{Data: []byte("png-bytes"), ContentType: "image/png"}},
		sink:     &eventSink{},
		drops:    &dropCounter{},
	}

	renderer, err := render.New("", nil)
	require.NoError(t, err)

	var images handlers.ImageFetcher
	if withFetcher {
		images = f.fetcher
	}

	h := handlers.NewPreviewHandler(f.resolver, renderer, images, f.sink.publish, handlers.Config{
		ResolveTimeout: time.Second,
		Clock:          clock.NewMock(servedAt),
		Drops:          f.drops,
	}, zap.NewNop())

	f.router = chi.NewMux()
	api := humachi.New(f.router, huma.DefaultConfig("Test", "1.0.0"))
	handlers.RegisterRoutes(api, h)

	return f
}

func (f *fixture) get(path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))

	return w
}

func TestPreviewHandler_Page(t *testing.T) {
	t.Run("renders html with cache header", func(t *testing.T) {
		f := newFixture(t, true)

		w := f.get("/api/purview-preview/PCAE7a")

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "text/html; charset=utf-8", w.Header().Get("Content-Type"))
		assert.Equal(t, "public, max-age=60", w.Header().Get("Cache-Control"))
		assert.Contains(t, w.Body.String(), `<meta property="og:title" content="Check your PayMe offer" />`)
		assert.True(t, f.resolver.sawDue, "resolution runs under a deadline")
	})

	t.Run("publishes served event", func(t *testing.T) {
		f := newFixture(t, true)

		_ = f.get("/api/purview-preview/PCAE7a")

		require.Len(t, f.sink.events, 1)
		e := f.sink.events[0]
		assert.Equal(t, "PCAE7a", e.Token)
		assert.Equal(t, "PayMe", e.PartnerID)
		assert.Equal(t, analytics.SurfacePage, e.Surface)
		assert.Equal(t, servedAt, e.ServedAt)
	})

	t.Run("answers probes without resolving", func(t *testing.T) {
		f := newFixture(t, true)

		for _, token := range []string{"health", "favicon.ico", "warmup", "ready"} {
			w := f.get("/api/purview-preview/" + token)

			assert.Equal(t, http.StatusNoContent, w.Code, token)
		}

		assert.Empty(t, f.resolver.calls)
	})

	t.Run("unknown token is 404 text", func(t *testing.T) {
		f := newFixture(t, true)

		w := f.get("/api/purview-preview/missing")

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Contains(t, w.Body.String(), "Preview not found")
		assert.Empty(t, f.sink.events)
	})

	t.Run("blank token is treated as a probe", func(t *testing.T) {
		f := newFixture(t, true)

		w := f.get("/api/purview-preview/%20")

		assert.Equal(t, http.StatusNoContent, w.Code)
	})

	t.Run("publish failures do not fail the request", func(t *testing.T) {
		f := newFixture(t, true)
		f.sink.err = errors.New("redis down")

		w := f.get("/api/purview-preview/PCAE7a")

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 1, f.drops.n)
	})
}

func TestPreviewHandler_PageByQuery(t *testing.T) {
	t.Run("reads token parameter", func(t *testing.T) {
		f := newFixture(t, true)

		assert.Equal(t, http.StatusOK, f.get("/api/purview-preview?token=PCAE7a").Code)
	})

	t.Run("reads short t parameter", func(t *testing.T) {
		f := newFixture(t, true)

		assert.Equal(t, http.StatusOK, f.get("/api/purview-preview?t=PCAE7a").Code)
	})

	t.Run("missing token is a probe", func(t *testing.T) {
		f := newFixture(t, true)

		assert.Equal(t, http.StatusNoContent, f.get("/api/purview-preview").Code)
		assert.Empty(t, f.resolver.calls)
	})
}

func TestPreviewHandler_Image(t *testing.T) {
	t.Run("serves image with long cache", func(t *testing.T) {
		f := newFixture(t, true)

		w := f.get("/api/purview-image/PCAE7a")

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
		assert.Equal(t, "public, max-age=604800, immutable", w.Header().Get("Cache-Control"))
		assert.Equal(t, "png-bytes", w.Body.String())
		assert.Equal(t, "https://cdn.example/payme.png", f.fetcher.url)
	})

	t.Run("unknown token is 404", func(t *testing.T) {
		f := newFixture(t, true)

		assert.Equal(t, http.StatusNotFound, f.get("/api/purview-image/missing").Code)
	})

	t.Run("record without image is 404", func(t *testing.T) {
		f := newFixture(t, true)
		rec := payme()
		rec.ImageURL = ""
		f.resolver.records["PCAE7a"] = rec

		assert.Equal(t, http.StatusNotFound, f.get("/api/purview-image/PCAE7a").Code)
	})

	t.Run("fetch failure is 404", func(t *testing.T) {
		f := newFixture(t, true)
		f.fetcher.err = imageproxy.ErrNotFound

		assert.Equal(t, http.StatusNotFound, f.get("/api/purview-image/PCAE7a").Code)
	})

	t.Run("refused access is 503", func(t *testing.T) {
		f := newFixture(t, true)
		f.fetcher.err = imageproxy.ErrUnavailable

		assert.Equal(t, http.StatusServiceUnavailable, f.get("/api/purview-image/PCAE7a").Code)
	})

	t.Run("image link on the page reaches the same token", func(t *testing.T) {
		f := newFixture(t, true)
		rec := payme()
		rec.Token = "PC AE7a"
		f.resolver.records["PC AE7a"] = rec

		page := f.get("/api/purview-preview/PC%20AE7a")
		require.Equal(t, http.StatusOK, page.Code)

		match := regexp.MustCompile(`<img src="([^"]+)"`).FindStringSubmatch(page.Body.String())
		require.Len(t, match, 2)
		assert.Equal(t, "/api/purview-image/PC%20AE7a", match[1])

		w := f.get(match[1])

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "PC AE7a", f.resolver.calls[len(f.resolver.calls)-1])
	})

	t.Run("missing fetcher is 503", func(t *testing.T) {
		f := newFixture(t, false)

		assert.Equal(t, http.StatusServiceUnavailable, f.get("/api/purview-image/PCAE7a").Code)
	})
}

func TestPreviewHandler_Record(t *testing.T) {
	t.Run("returns json record", func(t *testing.T) {
		f := newFixture(t, true)

		w := f.get("/api/previews/PCAE7a")

		require.Equal(t, http.StatusOK, w.Code)

		var got preview.Record
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		assert.Equal(t, *payme(), got)
	})

	t.Run("unknown token is 404", func(t *testing.T) {
		f := newFixture(t, true)

		assert.Equal(t, http.StatusNotFound, f.get("/api/previews/missing").Code)
	})

	t.Run("blank token is 400", func(t *testing.T) {
		f := newFixture(t, true)

		assert.Equal(t, http.StatusBadRequest, f.get("/api/previews/%20").Code)
	})
}

func TestPreviewHandler_Redirect(t *testing.T) {
	t.Run("redirects to target", func(t *testing.T) {
		f := newFixture(t, true)

		w := f.get("/r/PCAE7a")

		assert.Equal(t, http.StatusFound, w.Code)
		assert.Equal(t, "https://partner.example/offer", w.Header().Get("Location"))
		require.Len(t, f.sink.events, 1)
		assert.Equal(t, analytics.SurfaceRedirect, f.sink.events[0].Surface)
	})

	t.Run("unknown token is 404", func(t *testing.T) {
		f := newFixture(t, true)

		assert.Equal(t, http.StatusNotFound, f.get("/r/missing").Code)
	})
}
