package lookup

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/serroba/purview/internal/preview"
)

// ErrMalformedResponse is returned when the lookup service body is not JSON.
var ErrMalformedResponse = errors.New("malformed lookup response")

// FieldCandidates lists, per logical field, the column names the lookup service may use.
// Names are tried in order and the first non-empty value wins.
type FieldCandidates struct {
	Destination []string
	Partner     []string
	Subscriber  []string
	Campaign    []string
}

// DefaultFields matches the shapes seen from the redirect services in use.
var DefaultFields = FieldCandidates{
	Destination: []string{"destination_url", "dest_url", "destination", "url"},
	Partner:     []string{"lender", "partner", "partner_id"},
	Subscriber:  []string{"subscriber_id", "subscriber", "mobile", "msisdn"},
	Campaign:    []string{"campaign_id", "campaign"},
}

// ParseRow extracts the first candidate row from a lookup response body.
//
// The body may be a result envelope ({"value": [...]}), a bare array or a bare
// object. Bodies without a usable row yield preview.ErrNotFound.
func ParseRow(body []byte, fields FieldCandidates) (*preview.RedirectRow, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var payload any
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	candidate := firstRow(payload)
	if candidate == nil {
		return nil, preview.ErrNotFound
	}

	row := &preview.RedirectRow{
		DestinationURL: pick(candidate, fields.Destination),
		PartnerID:      pick(candidate, fields.Partner),
		SubscriberID:   pick(candidate, fields.Subscriber),
		CampaignID:     pick(candidate, fields.Campaign),
	}

	if !row.Valid() {
		return nil, fmt.Errorf("%w: row has invalid destination %q or partner %q",
			preview.ErrNotFound, row.DestinationURL, row.PartnerID)
	}

	return row, nil
}

func firstRow(payload any) map[string]any {
	if obj, ok := payload.(map[string]any); ok {
		if rows, ok := obj["value"]; ok {
			return firstOf(rows)
		}
	}

	return firstOf(payload)
}

func firstOf(v any) map[string]any {
	switch t := v.(type) {
	case map[string]any:
		if len(t) == 0 {
			return nil
		}

		return t
	case []any:
		if len(t) == 0 {
			return nil
		}

		row, _ := t[0].(map[string]any)

		return row
	default:
		return nil
	}
}

func pick(row map[string]any, names []string) string {
	for _, name := range names {
		switch v := row[name].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case json.Number:
			return v.String()
		}
	}

	return ""
}
