package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteDirectory stores directory entries in a dedicated SQLite file.
type SQLiteDirectory struct {
	db *sql.DB
}

// NewSQLiteDirectory opens (or creates) the directory database in dir.
func NewSQLiteDirectory(dir string) (*SQLiteDirectory, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create directory dir: %w", err)
	}

	dbPath := filepath.Join(dir, "directory.db")
	dsn := dbPath + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open directory db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	d := &SQLiteDirectory{db: db}
	if err := d.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return d, nil
}

func (d *SQLiteDirectory) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS directory_entries (
		subdomain  TEXT PRIMARY KEY,
		tenant_id  TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_directory_entries_tenant_id ON directory_entries(tenant_id);
	`
	if _, err := d.db.Exec(schema); err != nil {
		return fmt.Errorf("init directory schema: %w", err)
	}
	return nil
}

// Register implements Directory.
func (d *SQLiteDirectory) Register(ctx context.Context, subdomain, tenantID string) error {
	subdomain = strings.ToLower(strings.TrimSpace(subdomain))
	if subdomain == "" || tenantID == "" {
		return fmt.Errorf("directory register: subdomain and tenant id are required")
	}

	res, err := d.db.ExecContext(ctx, `
		INSERT INTO directory_entries (subdomain, tenant_id, created_at) VALUES (?, ?, ?)
		ON CONFLICT (subdomain) DO NOTHING`,
		subdomain, tenantID, time.Now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("directory register %q: %w", subdomain, err)
	}
	if affected, _ := res.RowsAffected(); affected > 0 {
		return nil
	}

	existing, err := d.Resolve(ctx, subdomain)
	if err != nil {
		return err
	}
	if existing != tenantID {
		return ErrSubdomainTaken
	}
	return nil
}

// Resolve implements Directory.
func (d *SQLiteDirectory) Resolve(ctx context.Context, subdomain string) (string, error) {
	var tenantID string
	err := d.db.QueryRowContext(ctx, `SELECT tenant_id FROM directory_entries WHERE subdomain = ?`,
		strings.ToLower(strings.TrimSpace(subdomain))).Scan(&tenantID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("directory resolve: %w", err)
	}
	return tenantID, nil
}

// Remove implements Directory.
func (d *SQLiteDirectory) Remove(ctx context.Context, subdomain, tenantID string) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM directory_entries WHERE subdomain = ? AND tenant_id = ?`,
		strings.ToLower(strings.TrimSpace(subdomain)), tenantID)
	if err != nil {
		return fmt.Errorf("directory remove: %w", err)
	}
	return nil
}

// List implements Directory.
func (d *SQLiteDirectory) List(ctx context.Context) ([]Entry, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT subdomain, tenant_id, created_at FROM directory_entries ORDER BY subdomain`)
	if err != nil {
		return nil, fmt.Errorf("directory list: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var createdAt int64
		if err := rows.Scan(&e.Subdomain, &e.TenantID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan directory entry: %w", err)
		}
		e.CreatedAt = time.Unix(createdAt, 0).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Ping implements Directory.
func (d *SQLiteDirectory) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Close implements Directory.
func (d *SQLiteDirectory) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}
