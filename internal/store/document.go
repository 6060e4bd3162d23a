package store

import (
	"encoding/json"
	"fmt"

	"github.com/serroba/purview/internal/preview"
	"gopkg.in/yaml.v3"
)

// Format is the encoding of a partner configuration document.
type Format int

const (
	FormatJSON Format = iota
	FormatYAML
)

func decodeConfig(data []byte, format Format) (*preview.PartnerConfig, error) {
	var cfg preview.PartnerConfig

	var err error

	switch format {
	case FormatYAML:
		err = yaml.Unmarshal(data, &cfg)
	default:
		err = json.Unmarshal(data, &cfg)
	}

	if err != nil {
		return nil, fmt.Errorf("decode partner config: %w", err)
	}

	return &cfg, nil
}
