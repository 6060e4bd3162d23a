package ratelimit

import (
	"sort"
	"time"
)

// LimitConfig caps a client at Max requests per sliding Window.
type LimitConfig struct {
	Window time.Duration
	Max    int64
}

// Policy maps each scope to the limits enforced for it.
type Policy struct {
	Limits map[Scope][]LimitConfig
}

// PolicyBuilder assembles a Policy.
type PolicyBuilder struct {
	limits map[Scope][]LimitConfig
}

// NewPolicyBuilder creates an empty builder.
func NewPolicyBuilder() *PolicyBuilder {
	return &PolicyBuilder{limits: make(map[Scope][]LimitConfig)}
}

// AddLimit adds a limit for scope. A scope may carry several windows.
func (b *PolicyBuilder) AddLimit(scope Scope, limit int64, window time.Duration) *PolicyBuilder {
	b.limits[scope] = append(b.limits[scope], LimitConfig{Window: window, Max: limit})

	return b
}

// Build returns the policy with each scope's limits ordered from the shortest window.
func (b *PolicyBuilder) Build() *Policy {
	limits := make(map[Scope][]LimitConfig, len(b.limits))

	for scope, configs := range b.limits {
		sorted := append([]LimitConfig(nil), configs...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Window < sorted[j].Window })
		limits[scope] = sorted
	}

	return &Policy{Limits: limits}
}

// DefaultPolicy is applied to the public preview surface. Link unfurlers fetch
// a page and its image in bursts, so page and image budgets are separate.
func DefaultPolicy() *Policy {
	return NewPolicyBuilder().
		AddLimit(ScopeGlobal, 600, time.Minute).
		AddLimit(ScopePage, 120, time.Minute).
		AddLimit(ScopePage, 2000, time.Hour).
		AddLimit(ScopeImage, 120, time.Minute).
		AddLimit(ScopeAPI, 60, time.Minute).
		Build()
}
