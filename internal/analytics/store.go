package analytics

import (
	"context"

	"github.com/serroba/purview/internal/messaging"
)

// Store defines the interface for persisting analytics events.
type Store interface {
	SavePreviewServed(ctx context.Context, event *PreviewServedEvent) error
}

// NewPreviewServedHandler adapts a Store to a messaging handler.
func NewPreviewServedHandler(store Store) messaging.Handler[PreviewServedEvent] {
	return store.SavePreviewServed
}
