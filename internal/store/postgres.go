package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/serroba/purview/internal/preview"
)

// DefaultRedirectTable is the table read by PostgresRedirectStore.
const DefaultRedirectTable = "redirects"

// PostgresRedirectStore is a PostgreSQL implementation of preview.Lookup.
type PostgresRedirectStore struct {
	pool  *pgxpool.Pool
	table string
}

// NewPostgresRedirectStore creates a store reading from table.
func NewPostgresRedirectStore(pool *pgxpool.Pool, table string) *PostgresRedirectStore {
	if table == "" {
		table = DefaultRedirectTable
	}

	return &PostgresRedirectStore{
		pool:  pool,
		table: pgx.Identifier{table}.Sanitize(),
	}
}

func (p *PostgresRedirectStore) Lookup(ctx context.Context, token string) (*preview.RedirectRow, error) {
	var (
		destination, partner *string
		subscriber, campaign *string
	)

	query := fmt.Sprintf(`
		SELECT destination_url, lender, subscriber_id, campaign_id
		FROM %s
		WHERE token = $1
		LIMIT 1
	`, p.table)

	err := p.pool.QueryRow(ctx, query, token).Scan(
		&destination,
		&partner,
		&subscriber,
		&campaign,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, preview.ErrNotFound
		}

		return nil, err
	}

	row := &preview.RedirectRow{
		DestinationURL: deref(destination),
		PartnerID:      deref(partner),
		SubscriberID:   deref(subscriber),
		CampaignID:     deref(campaign),
	}

	if !row.Valid() {
		return nil, preview.ErrNotFound
	}

	return row, nil
}

// Migrate creates the redirect table when it does not exist yet.
// The service only reads the table; Migrate and Save seed it in integration tests.
func (p *PostgresRedirectStore) Migrate(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			token TEXT PRIMARY KEY,
			destination_url TEXT NOT NULL,
			lender TEXT NOT NULL,
			subscriber_id TEXT,
			campaign_id TEXT
		)
	`, p.table)

	_, err := p.pool.Exec(ctx, query)

	return err
}

// Save inserts or replaces the row for token.
func (p *PostgresRedirectStore) Save(ctx context.Context, token string, row preview.RedirectRow) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (token, destination_url, lender, subscriber_id, campaign_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (token) DO UPDATE SET
			destination_url = EXCLUDED.destination_url,
			lender = EXCLUDED.lender,
			subscriber_id = EXCLUDED.subscriber_id,
			campaign_id = EXCLUDED.campaign_id
	`, p.table)

	_, err := p.pool.Exec(ctx, query,
		token,
		row.DestinationURL,
		row.PartnerID,
		nullableString(row.SubscriberID),
		nullableString(row.CampaignID),
	)

	return err
}

func deref(s *string) string {
	if s == nil {
		return ""
	}

	return *s
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}

	return &s
}
