package handlers

import (
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/serroba/purview/internal/ratelimit"
)

func scoped(scope ratelimit.Scope) map[string]any {
	return map[string]any{ratelimit.MetadataKey: ratelimit.EndpointConfig{Scope: scope}}
}

// RegisterRoutes registers the preview routes with per-endpoint rate limit configuration.
func RegisterRoutes(api huma.API, h *PreviewHandler) {
	huma.Register(api, huma.Operation{
		OperationID: "preview-page",
		Method:      http.MethodGet,
		Path:        "/api/purview-preview/{token}",
		Summary:     "Preview page",
		Description: "Renders the Open Graph page that link unfurlers read for a token.",
		Tags:        []string{"Previews"},
		Metadata:    scoped(ratelimit.ScopePage),
	}, h.Page)

	huma.Register(api, huma.Operation{
		OperationID: "preview-page-query",
		Method:      http.MethodGet,
		Path:        "/api/purview-preview",
		Summary:     "Preview page by query",
		Description: "Same as the path variant, with the token in ?token= or ?t=.",
		Tags:        []string{"Previews"},
		Metadata:    scoped(ratelimit.ScopePage),
	}, h.PageByQuery)

	huma.Register(api, huma.Operation{
		OperationID: "preview-image",
		Method:      http.MethodGet,
		Path:        "/api/purview-image/{token}",
		Summary:     "Preview image",
		Description: "Serves the partner hero image referenced by the preview page.",
		Tags:        []string{"Previews"},
		Metadata:    scoped(ratelimit.ScopeImage),
	}, h.Image)

	huma.Register(api, huma.Operation{
		OperationID: "preview-record",
		Method:      http.MethodGet,
		Path:        "/api/previews/{token}",
		Summary:     "Preview record",
		Description: "Returns the resolved preview as JSON.",
		Tags:        []string{"Previews"},
		Metadata:    scoped(ratelimit.ScopeAPI),
	}, h.Record)

	// Redirects carry their own per-route budget.
	huma.Register(api, huma.Operation{
		OperationID: "preview-redirect",
		Method:      http.MethodGet,
		Path:        "/r/{token}",
		Summary:     "Follow preview",
		Description: "Redirects to the destination behind a token.",
		Tags:        []string{"Previews"},
		Metadata: map[string]any{
			ratelimit.MetadataKey: ratelimit.EndpointConfig{
				Limits: []ratelimit.LimitConfig{
					{Window: time.Minute, Max: 30},
					{Window: time.Hour, Max: 300},
				},
			},
		},
	}, h.Redirect)
}
