package analytics

import "time"

// TopicPreviewServed carries PreviewServedEvent messages.
const TopicPreviewServed = "preview.served"

// Surface names the endpoint that served a preview.
type Surface string

const (
	SurfacePage     Surface = "page"
	SurfaceImage    Surface = "image"
	SurfaceAPI      Surface = "api"
	SurfaceRedirect Surface = "redirect"
)

// PreviewServedEvent is emitted whenever a resolved preview is served.
type PreviewServedEvent struct {
	Token        string    `json:"token"`
	PartnerID    string    `json:"partnerId"`
	SubscriberID string    `json:"subscriberId,omitempty"`
	CampaignID   string    `json:"campaignId,omitempty"`
	Fallback     bool      `json:"fallback"`
	Surface      Surface   `json:"surface"`
	ServedAt     time.Time `json:"servedAt"`
	RequestID    string    `json:"requestId,omitempty"`
	ClientIP     string    `json:"clientIp"`
	UserAgent    string    `json:"userAgent"`
	Referrer     string    `json:"referrer,omitempty"`
}
