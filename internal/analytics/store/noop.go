package store

import (
	"context"

	"github.com/serroba/purview/internal/analytics"
	"go.uber.org/zap"
)

// Noop is an analytics.Store that only logs events.
type Noop struct {
	logger *zap.Logger
}

// NewNoop creates a new no-op analytics store.
func NewNoop(logger *zap.Logger) *Noop {
	return &Noop{logger: logger}
}

func (n *Noop) SavePreviewServed(_ context.Context, event *analytics.PreviewServedEvent) error {
	n.logger.Info("preview served event received",
		zap.String("token", event.Token),
		zap.String("partner", event.PartnerID),
		zap.String("surface", string(event.Surface)),
		zap.Bool("fallback", event.Fallback),
		zap.Time("served_at", event.ServedAt),
	)

	return nil
}
