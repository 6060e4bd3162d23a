package ratelimit

import "github.com/danielgtaylor/huma/v2"

// Scope categorizes a request for rate limiting purposes.
type Scope string

const (
	// ScopeGlobal applies to every request.
	ScopeGlobal Scope = "global"
	// ScopePage applies to rendered preview pages and redirects.
	ScopePage Scope = "page"
	// ScopeImage applies to the image proxy.
	ScopeImage Scope = "image"
	// ScopeAPI applies to JSON endpoints.
	ScopeAPI Scope = "api"
)

// MetadataKey is the key used to store rate limit config in operation metadata.
const MetadataKey = "rateLimit"

// EndpointConfig defines per-endpoint rate limit configuration, attached to
// Huma operations via the Metadata field.
type EndpointConfig struct {
	// Scope selects the policy limits applied in addition to ScopeGlobal.
	// Ignored when Limits is non-empty.
	Scope Scope

	// Limits replaces the policy for this endpoint.
	Limits []LimitConfig

	// Disabled skips rate limiting entirely for this endpoint.
	Disabled bool
}

// ScopeResolver determines which scopes apply to a given request.
type ScopeResolver interface {
	Resolve(ctx huma.Context) []Scope
}

// OperationScopeResolver resolves scopes from operation metadata.
// Operations without a configured scope fall under Fallback.
type OperationScopeResolver struct {
	Fallback Scope
}

// NewOperationScopeResolver creates a resolver that defaults to ScopeAPI.
func NewOperationScopeResolver() *OperationScopeResolver {
	return &OperationScopeResolver{Fallback: ScopeAPI}
}

func (r *OperationScopeResolver) Resolve(ctx huma.Context) []Scope {
	if cfg := GetEndpointConfig(ctx); cfg != nil && cfg.Scope != "" {
		return []Scope{ScopeGlobal, cfg.Scope}
	}

	if r.Fallback == "" {
		return []Scope{ScopeGlobal}
	}

	return []Scope{ScopeGlobal, r.Fallback}
}

// GetEndpointConfig extracts the EndpointConfig from operation metadata, if present.
func GetEndpointConfig(ctx huma.Context) *EndpointConfig {
	op := ctx.Operation()
	if op == nil || op.Metadata == nil {
		return nil
	}

	cfg, ok := op.Metadata[MetadataKey].(EndpointConfig)
	if !ok {
		return nil
	}

	return &cfg
}
