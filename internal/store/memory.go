package store

import (
	"context"
	"sync"

	"github.com/serroba/purview/internal/preview"
)

// MemoryRedirectStore is an in-memory implementation of preview.Lookup.
type MemoryRedirectStore struct {
	mu   sync.RWMutex
	rows map[string]preview.RedirectRow // token -> row
}

// NewMemoryRedirectStore creates an empty in-memory redirect store.
func NewMemoryRedirectStore() *MemoryRedirectStore {
	return &MemoryRedirectStore{
		rows: make(map[string]preview.RedirectRow),
	}
}

// Put stores or replaces the row for token.
func (m *MemoryRedirectStore) Put(token string, row preview.RedirectRow) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rows[token] = row
}

// Delete removes the row for token.
func (m *MemoryRedirectStore) Delete(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.rows, token)
}

func (m *MemoryRedirectStore) Lookup(_ context.Context, token string) (*preview.RedirectRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	row, ok := m.rows[token]
	if !ok || !row.Valid() {
		return nil, preview.ErrNotFound
	}

	return &row, nil
}

// MemoryConfigStore is an in-memory implementation of partnercache.Loader.
type MemoryConfigStore struct {
	mu      sync.RWMutex
	configs map[string]preview.PartnerConfig // normalized partner key -> config
}

// NewMemoryConfigStore creates an empty in-memory partner config store.
func NewMemoryConfigStore() *MemoryConfigStore {
	return &MemoryConfigStore{
		configs: make(map[string]preview.PartnerConfig),
	}
}

// Put stores the config under the normalized form of partner.
func (m *MemoryConfigStore) Put(partner string, cfg preview.PartnerConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.configs[preview.NormalizePartnerKey(partner)] = cfg
}

func (m *MemoryConfigStore) Load(_ context.Context, partnerKey string) (*preview.PartnerConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cfg, ok := m.configs[partnerKey]
	if !ok {
		return nil, preview.ErrConfigNotFound
	}

	return &cfg, nil
}
