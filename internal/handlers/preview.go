package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/serroba/purview/internal/analytics"
	"github.com/serroba/purview/internal/clock"
	"github.com/serroba/purview/internal/imageproxy"
	"github.com/serroba/purview/internal/messaging"
	"github.com/serroba/purview/internal/preview"
	"go.uber.org/zap"
)

const (
	pageCacheControl  = "public, max-age=60"
	imageCacheControl = "public, max-age=604800, immutable"
	notFoundText      = "Preview not found. Token may be expired."
)

// probeTokens are requested by platform health checks and browsers; they are
// answered with 204 without touching the lookup service.
var probeTokens = map[string]bool{
	"health":      true,
	"favicon.ico": true,
	"warmup":      true,
	"ready":       true,
}

// Resolver resolves tokens into preview records.
type Resolver interface {
	Resolve(ctx context.Context, token string) (*preview.Record, error)
}

// PageRenderer renders the HTML page for a record.
type PageRenderer interface {
	Page(rec *preview.Record) ([]byte, error)
}

// ImageFetcher downloads a hero image.
type ImageFetcher interface {
	Fetch(ctx context.Context, imageURL string) (*imageproxy.Image, error)
}

// DropCounter counts analytics events that could not be published.
type DropCounter interface {
	EventDropped()
}

// Config holds the optional collaborators of PreviewHandler.
type Config struct {
	// ResolveTimeout bounds a whole resolution, retries included. Zero means no bound.
	ResolveTimeout time.Duration
	Clock          clock.Clock
	Drops          DropCounter
}

// PreviewHandler serves preview pages, images and records.
type PreviewHandler struct {
	resolver       Resolver
	renderer       PageRenderer
	images         ImageFetcher
	publish        messaging.Publish[analytics.PreviewServedEvent]
	resolveTimeout time.Duration
	clock          clock.Clock
	drops          DropCounter
	logger         *zap.Logger
}

// NewPreviewHandler creates a handler. A nil images fetcher makes the image
// endpoint answer 503.
func NewPreviewHandler(
	resolver Resolver,
	renderer PageRenderer,
	images ImageFetcher,
	publish messaging.Publish[analytics.PreviewServedEvent],
	cfg Config,
	logger *zap.Logger,
) *PreviewHandler {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}

	if publish == nil {
		publish = messaging.Discard[analytics.PreviewServedEvent]()
	}

	return &PreviewHandler{
		resolver:       resolver,
		renderer:       renderer,
		images:         images,
		publish:        publish,
		resolveTimeout: cfg.ResolveTimeout,
		clock:          cfg.Clock,
		drops:          cfg.Drops,
		logger:         logger,
	}
}

func (h *PreviewHandler) resolve(ctx context.Context, token string) (*preview.Record, error) {
	if h.resolveTimeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, h.resolveTimeout)
		defer cancel()
	}

	return h.resolver.Resolve(ctx, token)
}

// Page renders the Open Graph page for a token taken from the path.
func (h *PreviewHandler) Page(ctx context.Context, req *TokenRequest) (*PageResponse, error) {
	return h.page(ctx, req.Token)
}

// PageByQuery renders the page for a token taken from ?token= or ?t=.
func (h *PreviewHandler) PageByQuery(ctx context.Context, req *QueryTokenRequest) (*PageResponse, error) {
	token := req.Token
	if token == "" {
		token = req.T
	}

	return h.page(ctx, token)
}

func (h *PreviewHandler) page(ctx context.Context, token string) (*PageResponse, error) {
	if token == "" || probeTokens[token] {
		return &PageResponse{Status: http.StatusNoContent}, nil
	}

	rec, err := h.resolve(ctx, token)

	switch {
	case errors.Is(err, preview.ErrInvalidToken):
		return &PageResponse{Status: http.StatusNoContent}, nil
	case err != nil:
		return &PageResponse{
			Status:      http.StatusNotFound,
			ContentType: "text/plain; charset=utf-8",
			Body:        []byte(notFoundText),
		}, nil
	}

	body, err := h.renderer.Page(rec)
	if err != nil {
		h.logger.Error("failed to render preview page", zap.String("token", rec.Token), zap.Error(err))

		return nil, huma.Error500InternalServerError("preview service temporarily unavailable")
	}

	h.served(ctx, rec, analytics.SurfacePage)

	return &PageResponse{
		Status:       http.StatusOK,
		ContentType:  "text/html; charset=utf-8",
		CacheControl: pageCacheControl,
		Body:         body,
	}, nil
}

// Image proxies the partner hero image for a token.
func (h *PreviewHandler) Image(ctx context.Context, req *TokenRequest) (*ImageResponse, error) {
	rec, err := h.resolve(ctx, req.Token)
	if err != nil {
		return nil, huma.Error404NotFound("preview not found")
	}

	if rec.ImageURL == "" {
		h.logger.Warn("preview has no image url", zap.String("token", rec.Token))

		return nil, huma.Error404NotFound("no image")
	}

	if h.images == nil {
		return nil, huma.Error503ServiceUnavailable("image unavailable")
	}

	img, err := h.images.Fetch(ctx, rec.ImageURL)
	if err != nil {
		if errors.Is(err, imageproxy.ErrUnavailable) {
			return nil, huma.Error503ServiceUnavailable("image unavailable")
		}

		return nil, huma.Error404NotFound("image not found")
	}

	h.served(ctx, rec, analytics.SurfaceImage)

	return &ImageResponse{
		ContentType:  img.ContentType,
		CacheControl: imageCacheControl,
		Body:         img.Data,
	}, nil
}

// Record returns the resolved preview as JSON.
func (h *PreviewHandler) Record(ctx context.Context, req *TokenRequest) (*RecordResponse, error) {
	rec, err := h.resolve(ctx, req.Token)
	if err != nil {
		if errors.Is(err, preview.ErrInvalidToken) {
			return nil, huma.Error400BadRequest("invalid token")
		}

		return nil, huma.Error404NotFound("preview not found")
	}

	h.served(ctx, rec, analytics.SurfaceAPI)

	return &RecordResponse{Body: rec}, nil
}

// Redirect sends the client to the preview target.
func (h *PreviewHandler) Redirect(ctx context.Context, req *TokenRequest) (*RedirectResponse, error) {
	rec, err := h.resolve(ctx, req.Token)
	if err != nil {
		return nil, huma.Error404NotFound("preview not found")
	}

	h.served(ctx, rec, analytics.SurfaceRedirect)

	return &RedirectResponse{
		Status:       http.StatusFound,
		Location:     rec.TargetURL,
		CacheControl: "no-store",
	}, nil
}

func (h *PreviewHandler) served(ctx context.Context, rec *preview.Record, surface analytics.Surface) {
	meta := RequestMetaFromContext(ctx)
	event := &analytics.PreviewServedEvent{
		Token:        rec.Token,
		PartnerID:    rec.Metadata.PartnerID,
		SubscriberID: rec.Metadata.SubscriberID,
		CampaignID:   rec.Metadata.CampaignID,
		Fallback:     rec.Metadata.Fallback,
		Surface:      surface,
		ServedAt:     h.clock.Now(),
		RequestID:    meta.RequestID,
		ClientIP:     meta.ClientIP,
		UserAgent:    meta.UserAgent,
		Referrer:     meta.Referrer,
	}

	if err := h.publish(messaging.WithCorrelationID(ctx, meta.RequestID), event); err != nil {
		h.logger.Error("failed to publish preview served event",
			zap.String("token", rec.Token),
			zap.Error(err),
		)

		if h.drops != nil {
			h.drops.EventDropped()
		}
	}
}
