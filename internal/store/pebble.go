package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/serroba/purview/internal/preview"
)

const pebbleConfigPrefix = "lenders/"

// PebbleConfigStore keeps partner documents in an embedded Pebble database
// under keys of the form lenders/{key}_default.
type PebbleConfigStore struct {
	db *pebble.DB
}

// OpenPebbleConfigStore opens (or creates) the database at dir.
// A nil fs uses the local disk.
func OpenPebbleConfigStore(dir string, fs vfs.FS) (*PebbleConfigStore, error) {
	opts := &pebble.Options{}
	if fs != nil {
		opts.FS = fs
	}

	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", dir, err)
	}

	return &PebbleConfigStore{db: db}, nil
}

// Close closes the underlying database.
func (s *PebbleConfigStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}

	return s.db.Close()
}

func pebbleConfigKey(partnerKey string) []byte {
	return []byte(pebbleConfigPrefix + preview.DocumentKey(partnerKey))
}

// Put stores cfg as JSON under the normalized form of partner.
func (s *PebbleConfigStore) Put(_ context.Context, partner string, cfg preview.PartnerConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return err
	}

	return s.db.Set(pebbleConfigKey(preview.NormalizePartnerKey(partner)), data, pebble.Sync)
}

// Delete removes the document for partner.
func (s *PebbleConfigStore) Delete(_ context.Context, partner string) error {
	return s.db.Delete(pebbleConfigKey(preview.NormalizePartnerKey(partner)), pebble.Sync)
}

func (s *PebbleConfigStore) Load(_ context.Context, partnerKey string) (*preview.PartnerConfig, error) {
	v, closer, err := s.db.Get(pebbleConfigKey(partnerKey))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, preview.ErrConfigNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("get partner config %s: %w", partnerKey, err)
	}

	data := make([]byte, len(v))
	copy(data, v)

	if err := closer.Close(); err != nil {
		return nil, err
	}

	return decodeConfig(data, FormatJSON)
}
