package pluginstore

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresStore backs Store with a single shared table, rows namespaced by
// plugin name, so multiple horizond replicas see the same plugin state: one
// row per (plugin, key), JSONB value column, UPSERT on write.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens dsn (a standard libpq connection string) and
// ensures the backing table exists.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("pluginstore: opening postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS plugin_storage (
			plugin_name TEXT NOT NULL,
			key         TEXT NOT NULL,
			value       JSONB NOT NULL,
			updated_at  TIMESTAMP NOT NULL DEFAULT NOW(),
			PRIMARY KEY (plugin_name, key)
		)
	`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pluginstore: creating table: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// Close releases the underlying connection pool.
func (p *PostgresStore) Close() error { return p.db.Close() }

func (p *PostgresStore) Get(ctx context.Context, plugin, key string) ([]byte, bool, error) {
	var value []byte
	err := p.db.QueryRowContext(ctx, `
		SELECT value FROM plugin_storage WHERE plugin_name = $1 AND key = $2
	`, plugin, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("pluginstore: get %s/%s: %w", plugin, key, err)
	}
	return value, true, nil
}

func (p *PostgresStore) Set(ctx context.Context, plugin, key string, value []byte) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO plugin_storage (plugin_name, key, value, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (plugin_name, key) DO UPDATE SET value = $3, updated_at = NOW()
	`, plugin, key, value)
	if err != nil {
		return fmt.Errorf("pluginstore: set %s/%s: %w", plugin, key, err)
	}
	return nil
}

func (p *PostgresStore) Delete(ctx context.Context, plugin, key string) error {
	_, err := p.db.ExecContext(ctx, `
		DELETE FROM plugin_storage WHERE plugin_name = $1 AND key = $2
	`, plugin, key)
	if err != nil {
		return fmt.Errorf("pluginstore: delete %s/%s: %w", plugin, key, err)
	}
	return nil
}

func (p *PostgresStore) Keys(ctx context.Context, plugin, prefix string) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT key FROM plugin_storage WHERE plugin_name = $1 AND key LIKE $2 ORDER BY key
	`, plugin, prefix+"%")
	if err != nil {
		return nil, fmt.Errorf("pluginstore: keys %s: %w", plugin, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (p *PostgresStore) Clear(ctx context.Context, plugin string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM plugin_storage WHERE plugin_name = $1`, plugin)
	if err != nil {
		return fmt.Errorf("pluginstore: clear %s: %w", plugin, err)
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)
