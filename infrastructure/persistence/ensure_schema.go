package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"social-publisher/infrastructure/logger"
)

var schemaDDL = []string{
	`CREATE TABLE IF NOT EXISTS platforms (
		id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE
	)`,
	`CREATE TABLE IF NOT EXISTS social_accounts (
		id BIGSERIAL PRIMARY KEY,
		user_id TEXT NOT NULL,
		platform_id TEXT NOT NULL REFERENCES platforms(id),
		account_id TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		username TEXT NOT NULL DEFAULT '',
		profile_image_url TEXT NOT NULL DEFAULT '',
		follower_count BIGINT NOT NULL DEFAULT 0,
		following_count BIGINT NOT NULL DEFAULT 0,
		oauth_version TEXT NOT NULL DEFAULT '2.0',
		scope TEXT[] NOT NULL DEFAULT '{}',
		access_token_enc TEXT NOT NULL,
		refresh_token_enc TEXT,
		token_iv TEXT NOT NULL,
		token_expires_at TIMESTAMPTZ,
		connection_status TEXT NOT NULL DEFAULT 'connected',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		is_verified BOOLEAN NOT NULL DEFAULT FALSE,
		last_sync_at TIMESTAMPTZ,
		platform_data JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		UNIQUE (user_id, platform_id, account_id)
	)`,
	`CREATE TABLE IF NOT EXISTS posts (
		id BIGSERIAL PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL,
		media_urls TEXT[] NOT NULL DEFAULT '{}',
		status TEXT NOT NULL DEFAULT 'draft',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS post_accounts (
		id BIGSERIAL PRIMARY KEY,
		post_id BIGINT NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
		social_account_id BIGINT NOT NULL REFERENCES social_accounts(id) ON DELETE CASCADE,
		status TEXT NOT NULL DEFAULT 'scheduled',
		scheduled_for TIMESTAMPTZ,
		published_at TIMESTAMPTZ,
		platform_post_id TEXT,
		platform_url TEXT,
		platform_response JSONB,
		error_message TEXT,
		retry_count INT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		UNIQUE (post_id, social_account_id)
	)`,
}

var schemaIndexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_social_accounts_user ON social_accounts(user_id, platform_id)`,
	`CREATE INDEX IF NOT EXISTS idx_social_accounts_expiry ON social_accounts(token_expires_at) WHERE is_active`,
	`CREATE INDEX IF NOT EXISTS idx_posts_user ON posts(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_post_accounts_due ON post_accounts(scheduled_for) WHERE status = 'scheduled'`,
}

// Columns added after the first release; rolled forward with conditional ALTERs.
var schemaColumns = []struct {
	table  string
	column string
	ddl    string
}{
	{"social_accounts", "last_token_refresh", "ALTER TABLE social_accounts ADD COLUMN last_token_refresh TIMESTAMPTZ"},
	{"social_accounts", "token_refresh_attempts", "ALTER TABLE social_accounts ADD COLUMN token_refresh_attempts INT NOT NULL DEFAULT 0"},
	{"social_accounts", "token_refresh_error", "ALTER TABLE social_accounts ADD COLUMN token_refresh_error TEXT"},
	{"post_accounts", "engagement_metrics", "ALTER TABLE post_accounts ADD COLUMN engagement_metrics JSONB"},
	{"post_accounts", "last_metrics_update", "ALTER TABLE post_accounts ADD COLUMN last_metrics_update TIMESTAMPTZ"},
}

// EnsureSchema creates the tables, seeds the platform catalogue and adds
// missing columns. Safe to call at every startup.
func EnsureSchema(db *sql.DB, platforms map[string]string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	for _, ddl := range schemaDDL {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	for _, c := range schemaColumns {
		exists, err := columnExists(ctx, db, c.table, c.column)
		if err != nil {
			return err
		}
		if !exists {
			if _, err := db.ExecContext(ctx, c.ddl); err != nil {
				return fmt.Errorf("adding column %s.%s failed: %w", c.table, c.column, err)
			}
		}
	}
	for _, idx := range schemaIndexes {
		if _, err := db.ExecContext(ctx, idx); err != nil {
			logger.GetLogger().WithField("error", err).Warn("failed creating index")
		}
	}
	for id, name := range platforms {
		if _, err := db.ExecContext(ctx,
			`INSERT INTO platforms (id, display_name, is_active) VALUES ($1, $2, TRUE)
			 ON CONFLICT (id) DO UPDATE SET display_name = EXCLUDED.display_name`, id, name); err != nil {
			return fmt.Errorf("seed platform %s: %w", id, err)
		}
	}
	return nil
}

func columnExists(ctx context.Context, db *sql.DB, table, column string) (bool, error) {
	row := db.QueryRowContext(ctx, `SELECT 1 FROM information_schema.columns WHERE table_name=$1 AND column_name=$2`, table, column)
	var one int
	if err := row.Scan(&one); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
