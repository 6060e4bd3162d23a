package preview

import (
	"net/url"
	"strings"
)

// RedirectRow is the system of record's entry for a token.
type RedirectRow struct {
	DestinationURL string
	PartnerID      string
	SubscriberID   string
	CampaignID     string
}

// Valid reports whether the row has an absolute http(s) destination and a partner.
// Rows that fail this check are treated as absent by every lookup backend.
func (r *RedirectRow) Valid() bool {
	if r == nil || strings.TrimSpace(r.PartnerID) == "" {
		return false
	}

	return IsAbsoluteHTTPURL(r.DestinationURL)
}

// IsAbsoluteHTTPURL reports whether raw parses as an http or https URL with a host.
// Query strings and fragments are allowed and left untouched.
func IsAbsoluteHTTPURL(raw string) bool {
	if raw == "" || strings.ContainsAny(raw, " \t\r\n<>\"") {
		return false
	}

	u, err := url.Parse(raw)
	if err != nil {
		return false
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}

	return u.Host != ""
}

// PartnerConfig holds the static preview defaults of a partner (lender).
// Every field is optional.
type PartnerConfig struct {
	Title       string `json:"title"       yaml:"title"`
	Description string `json:"description" yaml:"description"`
	ImageURL    string `json:"image_url"   yaml:"image_url"`
	ThemeColor  string `json:"theme_color" yaml:"theme_color"`
}

// Metadata carries the dynamic identifiers of a record.
type Metadata struct {
	PartnerID    string `json:"partner_id,omitempty"`
	SubscriberID string `json:"subscriber_id,omitempty"`
	CampaignID   string `json:"campaign_id,omitempty"`
	// Fallback is set when the record was built from generic copy because
	// the partner had no loadable configuration.
	Fallback bool `json:"fallback"`
}

// Record is the merged, renderable preview for a token.
// It is built fresh for every resolution and never modified afterwards.
type Record struct {
	Token        string   `json:"token"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	ImageURL     string   `json:"image_url"`
	ThemeColor   string   `json:"theme_color"`
	TargetURL    string   `json:"target_url"`
	CanonicalURL string   `json:"canonical_url"`
	Metadata     Metadata `json:"metadata"`
}

// NormalizePartnerKey converts a raw partner name into its cache and storage key:
// trimmed, lowercased, with every whitespace run replaced by a single underscore.
func NormalizePartnerKey(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), "_"))
}

// DocumentKey returns the storage key of a partner's default document.
func DocumentKey(partnerKey string) string {
	return partnerKey + "_default"
}
