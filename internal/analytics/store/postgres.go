package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/serroba/purview/internal/analytics"
)

// Postgres persists analytics events to PostgreSQL.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a PostgreSQL-backed analytics store.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Migrate creates the events table when it does not exist yet.
func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS preview_events (
			id BIGSERIAL PRIMARY KEY,
			token TEXT NOT NULL,
			partner_id TEXT NOT NULL,
			subscriber_id TEXT,
			campaign_id TEXT,
			fallback BOOLEAN NOT NULL DEFAULT FALSE,
			surface TEXT NOT NULL,
			served_at TIMESTAMPTZ NOT NULL,
			request_id TEXT,
			client_ip TEXT,
			user_agent TEXT,
			referrer TEXT
		)
	`)

	return err
}

func (p *Postgres) SavePreviewServed(ctx context.Context, event *analytics.PreviewServedEvent) error {
	query := `
		INSERT INTO preview_events (
			token, partner_id, subscriber_id, campaign_id, fallback, surface,
			served_at, request_id, client_ip, user_agent, referrer
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := p.pool.Exec(ctx, query,
		event.Token,
		event.PartnerID,
		nullable(event.SubscriberID),
		nullable(event.CampaignID),
		event.Fallback,
		string(event.Surface),
		event.ServedAt,
		nullable(event.RequestID),
		event.ClientIP,
		event.UserAgent,
		nullable(event.Referrer),
	)

	return err
}

// CountByToken returns how many times token was served.
func (p *Postgres) CountByToken(ctx context.Context, token string) (int64, error) {
	var n int64

	err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM preview_events WHERE token = $1`, token).Scan(&n)

	return n, err
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}

	return &s
}
