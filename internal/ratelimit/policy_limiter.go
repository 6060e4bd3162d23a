package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// LimitExceeded contains information about which limit was exceeded.
type LimitExceeded struct {
	Scope  Scope
	Config LimitConfig
	Count  int64
}

// RetryAfter is how long the client should wait before trying again.
func (e *LimitExceeded) RetryAfter() time.Duration {
	return e.Config.Window
}

// Observer is notified when a request is rejected.
type Observer interface {
	RateLimited(scope Scope)
}

type noopObserver struct{}

func (noopObserver) RateLimited(Scope) {}

// PolicyLimiter enforces rate limits based on a policy and resolved scopes.
type PolicyLimiter struct {
	store    Store
	policy   *Policy
	observer Observer
}

// NewPolicyLimiter creates a new policy-based rate limiter.
func NewPolicyLimiter(store Store, policy *Policy) *PolicyLimiter {
	return &PolicyLimiter{
		store:    store,
		policy:   policy,
		observer: noopObserver{},
	}
}

// WithObserver sets the observer notified of rejections.
func (l *PolicyLimiter) WithObserver(observer Observer) *PolicyLimiter {
	if observer != nil {
		l.observer = observer
	}

	return l
}

// Allow checks every limit of every scope for clientKey and stops at the first one exceeded.
// The LimitExceeded return value is nil when the request is allowed.
func (l *PolicyLimiter) Allow(ctx context.Context, clientKey string, scopes []Scope) (bool, *LimitExceeded, error) {
	for _, scope := range scopes {
		limits, ok := l.policy.Limits[scope]
		if !ok {
			continue
		}

		exceeded, err := l.check(ctx, fmt.Sprintf("%s:%s", clientKey, scope), scope, limits)
		if err != nil || exceeded != nil {
			return false, exceeded, err
		}
	}

	return true, nil, nil
}

// AllowCustom checks limits that replace the policy for one route.
func (l *PolicyLimiter) AllowCustom(
	ctx context.Context, clientKey, route string, limits []LimitConfig,
) (bool, *LimitExceeded, error) {
	exceeded, err := l.check(ctx, fmt.Sprintf("%s:custom:%s", clientKey, route), "custom", limits)
	if err != nil || exceeded != nil {
		return false, exceeded, err
	}

	return true, nil, nil
}

func (l *PolicyLimiter) check(ctx context.Context, prefix string, scope Scope, limits []LimitConfig) (*LimitExceeded, error) {
	for _, limit := range limits {
		key := fmt.Sprintf("%s:%d", prefix, limit.Window.Milliseconds())

		count, err := l.store.Record(ctx, key, limit.Window)
		if err != nil {
			return nil, err
		}

		if count > limit.Max {
			l.observer.RateLimited(scope)

			return &LimitExceeded{
				Scope:  scope,
				Config: limit,
				Count:  count,
			}, nil
		}
	}

	return nil, nil
}
