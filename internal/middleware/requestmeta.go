package middleware

import (
	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"
	"github.com/serroba/purview/internal/handlers"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// RequestMeta is a middleware that adds a request id, client IP, user-agent
// and referrer to the request context. An incoming X-Request-ID is reused.
func RequestMeta(_ huma.API) func(ctx huma.Context, next func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		requestID := ctx.Header(RequestIDHeader)
		if requestID == "" || len(requestID) > 128 {
			requestID = uuid.NewString()
		}

		meta := handlers.RequestMeta{
			RequestID: requestID,
			ClientIP:  clientIP(ctx),
			UserAgent: ctx.Header("User-Agent"),
			Referrer:  ctx.Header("Referer"),
		}

		ctx.SetHeader(RequestIDHeader, requestID)

		newCtx := handlers.ContextWithRequestMeta(ctx.Context(), meta)
		next(huma.WithContext(ctx, newCtx))
	}
}
