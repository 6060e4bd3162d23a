package preview

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	fallbackTitle       = "Your loan preview is ready"
	fallbackDescription = "Tap to view your personalised loan offer."
	partnerTitleFormat  = "Your %s loan preview is ready"
)

// Lookup fetches the redirect row for a token from the system of record.
// Implementations return ErrNotFound when no usable row exists.
type Lookup interface {
	Lookup(ctx context.Context, token string) (*RedirectRow, error)
}

// ConfigProvider returns the static configuration of a normalized partner key.
// Load failures are reported as a miss, never as an error.
type ConfigProvider interface {
	Get(ctx context.Context, partnerKey string) (*PartnerConfig, bool)
}

// Outcome is the terminal state of a resolution.
type Outcome string

const (
	OutcomeInvalidToken Outcome = "invalid_token"
	OutcomeNotFound     Outcome = "not_found"
	OutcomeResolved     Outcome = "resolved"
	OutcomeFallback     Outcome = "fallback"
)

// Observer is notified once per resolution.
type Observer interface {
	ObserveResolution(outcome Outcome, elapsed time.Duration)
}

type noopObserver struct{}

func (noopObserver) ObserveResolution(Outcome, time.Duration) {}

// Defaults are the system-wide values used when partner configuration is incomplete or missing.
type Defaults struct {
	ImageURL      string
	ThemeColor    string
	PublicBaseURL string
}

// Resolver turns a token into a preview record.
type Resolver struct {
	lookup   Lookup
	configs  ConfigProvider
	defaults Defaults
	observer Observer
	logger   *zap.Logger
}

// NewResolver creates a resolver. A nil observer disables outcome reporting.
func NewResolver(
	lookup Lookup,
	configs ConfigProvider,
	defaults Defaults,
	observer Observer,
	logger *zap.Logger,
) *Resolver {
	if observer == nil {
		observer = noopObserver{}
	}

	return &Resolver{
		lookup:   lookup,
		configs:  configs,
		defaults: defaults,
		observer: observer,
		logger:   logger,
	}
}

// Resolve returns the preview record for token.
//
// The only errors returned are ErrInvalidToken and ErrNotFound. Lookup and
// configuration failures are absorbed: a missing row is ErrNotFound, a missing
// partner configuration yields a record flagged as fallback.
func (r *Resolver) Resolve(ctx context.Context, token string) (rec *Record, err error) {
	start := time.Now()

	token = strings.TrimSpace(token)
	if token == "" {
		r.observer.ObserveResolution(OutcomeInvalidToken, time.Since(start))

		return nil, ErrInvalidToken
	}

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("preview resolution panicked",
				zap.String("token", token),
				zap.Any("panic", p),
			)
			r.observer.ObserveResolution(OutcomeNotFound, time.Since(start))

			rec, err = nil, ErrNotFound
		}
	}()

	row, lookupErr := r.lookup.Lookup(ctx, token)
	if lookupErr != nil {
		if errors.Is(lookupErr, ErrNotFound) {
			r.logger.Info("no redirect row for token", zap.String("token", token))
		} else {
			r.logger.Warn("redirect lookup failed", zap.String("token", token), zap.Error(lookupErr))
		}

		r.observer.ObserveResolution(OutcomeNotFound, time.Since(start))

		return nil, ErrNotFound
	}

	if !row.Valid() {
		r.logger.Warn("redirect row rejected", zap.String("token", token))
		r.observer.ObserveResolution(OutcomeNotFound, time.Since(start))

		return nil, ErrNotFound
	}

	cfg, ok := r.configs.Get(ctx, NormalizePartnerKey(row.PartnerID))

	r.logger.Info("preview resolved",
		zap.String("token", token),
		zap.String("partner", row.PartnerID),
		zap.Bool("partner_config", ok),
	)

	if !ok {
		r.observer.ObserveResolution(OutcomeFallback, time.Since(start))

		return r.fallbackRecord(token, row), nil
	}

	r.observer.ObserveResolution(OutcomeResolved, time.Since(start))

	return r.mergeRecord(token, row, cfg), nil
}

// PlaceholderURL is the deterministic token-derived page URL, used where no
// destination is available.
func (r *Resolver) PlaceholderURL(token string) string {
	return strings.TrimRight(r.defaults.PublicBaseURL, "/") + "/p/" + url.PathEscape(token)
}

func (r *Resolver) mergeRecord(token string, row *RedirectRow, cfg *PartnerConfig) *Record {
	return &Record{
		Token:        token,
		Title:        firstNonEmpty(cfg.Title, fmt.Sprintf(partnerTitleFormat, row.PartnerID)),
		Description:  cfg.Description,
		ImageURL:     firstNonEmpty(cfg.ImageURL, r.defaults.ImageURL),
		ThemeColor:   firstNonEmpty(cfg.ThemeColor, r.defaults.ThemeColor),
		TargetURL:    row.DestinationURL,
		CanonicalURL: row.DestinationURL,
		Metadata:     metadataFor(row, false),
	}
}

func (r *Resolver) fallbackRecord(token string, row *RedirectRow) *Record {
	return &Record{
		Token:        token,
		Title:        fallbackTitle,
		Description:  fallbackDescription,
		ImageURL:     r.defaults.ImageURL,
		ThemeColor:   r.defaults.ThemeColor,
		TargetURL:    row.DestinationURL,
		CanonicalURL: row.DestinationURL,
		Metadata:     metadataFor(row, true),
	}
}

func metadataFor(row *RedirectRow, fallback bool) Metadata {
	return Metadata{
		PartnerID:    row.PartnerID,
		SubscriberID: row.SubscriberID,
		CampaignID:   row.CampaignID,
		Fallback:     fallback,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}

	return ""
}
