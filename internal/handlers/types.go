package handlers

import "github.com/serroba/purview/internal/preview"

// TokenRequest carries the token in the path.
type TokenRequest struct {
	Token string `doc:"Preview token" example:"PCAE7a" maxLength:"256" path:"token"`
}

// QueryTokenRequest carries the token as a query parameter.
type QueryTokenRequest struct {
	Token string `doc:"Preview token"              example:"PCAE7a" query:"token"`
	T     string `doc:"Short alias for the token" example:"PCAE7a" query:"t"`
}

// PageResponse is a raw HTML or plain text response.
type PageResponse struct {
	Status       int
	ContentType  string `header:"Content-Type"`
	CacheControl string `header:"Cache-Control"`
	Body         []byte
}

// ImageResponse is a proxied image.
type ImageResponse struct {
	ContentType  string `header:"Content-Type"`
	CacheControl string `header:"Cache-Control"`
	Body         []byte
}

// RecordResponse is the JSON view of a resolved preview.
type RecordResponse struct {
	Body *preview.Record
}

// RedirectResponse sends the client to the preview target.
type RedirectResponse struct {
	Status       int
	Location     string `header:"Location"`
	CacheControl string `header:"Cache-Control"`
}
