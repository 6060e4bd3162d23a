package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/serroba/purview/internal/lookup"
	"github.com/serroba/purview/internal/preview"
)

// FileConfigStore loads partner documents named {key}_default.json (or .yaml/.yml)
// from a directory.
type FileConfigStore struct {
	dir string
}

// NewFileConfigStore creates a store reading from dir.
func NewFileConfigStore(dir string) *FileConfigStore {
	return &FileConfigStore{dir: dir}
}

var documentExtensions = []struct {
	ext    string
	format Format
}{
	{".json", FormatJSON},
	{".yaml", FormatYAML},
	{".yml", FormatYAML},
}

func (s *FileConfigStore) Load(ctx context.Context, partnerKey string) (*preview.PartnerConfig, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Keys come from upstream rows; keep them inside the directory.
	if partnerKey != filepath.Base(partnerKey) {
		return nil, preview.ErrConfigNotFound
	}

	name := preview.DocumentKey(partnerKey)

	for _, candidate := range documentExtensions {
		data, err := os.ReadFile(filepath.Join(s.dir, name+candidate.ext))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}

		if err != nil {
			return nil, fmt.Errorf("read partner config %s: %w", name, err)
		}

		return decodeConfig(data, candidate.format)
	}

	return nil, preview.ErrConfigNotFound
}

// FileRedirectStore serves redirect rows from a JSON file.
//
// The file is either an object keyed by token or an array of rows that carry a
// "token" field. Row fields follow lookup.FieldCandidates. The file is read on
// every lookup so edits take effect without a restart.
type FileRedirectStore struct {
	path   string
	fields lookup.FieldCandidates
}

// NewFileRedirectStore creates a store reading rows from path.
func NewFileRedirectStore(path string, fields lookup.FieldCandidates) *FileRedirectStore {
	if fields.Destination == nil {
		fields = lookup.DefaultFields
	}

	return &FileRedirectStore{path: path, fields: fields}
}

func (s *FileRedirectStore) Lookup(ctx context.Context, token string) (*preview.RedirectRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read redirect file: %w", err)
	}

	raw, err := findRow(data, token)
	if err != nil {
		return nil, err
	}

	return lookup.ParseRow(raw, s.fields)
}

func findRow(data []byte, token string) (json.RawMessage, error) {
	var byToken map[string]json.RawMessage
	if err := json.Unmarshal(data, &byToken); err == nil {
		raw, ok := byToken[token]
		if !ok {
			return nil, preview.ErrNotFound
		}

		return raw, nil
	}

	var rows []json.RawMessage
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("%w: %v", lookup.ErrMalformedResponse, err)
	}

	for _, raw := range rows {
		var probe struct {
			Token string `json:"token"`
		}

		if err := json.Unmarshal(raw, &probe); err == nil && probe.Token == token {
			return raw, nil
		}
	}

	return nil, preview.ErrNotFound
}
