package preview

import "errors"

var (
	// ErrInvalidToken is returned for empty or whitespace-only tokens.
	ErrInvalidToken = errors.New("invalid token")

	// ErrNotFound means no valid redirect row exists for the token.
	ErrNotFound = errors.New("preview not found")

	// ErrConfigNotFound means the partner has no configuration document.
	ErrConfigNotFound = errors.New("partner config not found")
)
