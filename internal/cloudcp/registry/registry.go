package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	_ "modernc.org/sqlite"
)

var (
	// ErrConflict is returned when a write violates a unique constraint.
	ErrConflict = errors.New("registry: unique constraint violated")
	// ErrNotFound is returned when an update targets a missing row.
	ErrNotFound = errors.New("registry: record not found")
	// ErrStaleState is returned when a compare-and-set update finds the
	// row no longer in the expected state.
	ErrStaleState = errors.New("registry: record changed concurrently")
)

// Dialect selects SQL flavour differences between backends.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Config selects the registry backend.
type Config struct {
	Driver Dialect // "sqlite" (default) or "postgres"
	Dir    string  // SQLite data directory
	DSN    string  // Postgres connection string
}

// Registry is the membership registry: tenants, people, memberships,
// signup sessions and subscriptions in one transactional store.
type Registry struct {
	db      *sql.DB
	dialect Dialect
}

type txKey struct{}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open opens the registry described by cfg.
func Open(cfg Config) (*Registry, error) {
	switch cfg.Driver {
	case "", DialectSQLite:
		return NewRegistry(cfg.Dir)
	case DialectPostgres:
		return NewPostgresRegistry(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown registry driver %q", cfg.Driver)
	}
}

// NewRegistry opens (or creates) the SQLite registry database in dir.
func NewRegistry(dir string) (*Registry, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create registry dir: %w", err)
	}

	dbPath := filepath.Join(dir, "registry.db")
	dsn := dbPath + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
			"foreign_keys(ON)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open registry db: %w", err)
	}
	// A single connection serializes writers, so a transaction holds the
	// registry exclusively until it commits.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	r := &Registry{db: db, dialect: DialectSQLite}
	if err := r.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

// NewPostgresRegistry opens the registry on a Postgres database.
func NewPostgresRegistry(dsn string) (*Registry, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres registry requires a DSN")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open registry db: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	r := &Registry{db: db, dialect: DialectPostgres}
	if err := r.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Registry) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS plans (
		id              TEXT PRIMARY KEY,
		name            TEXT NOT NULL DEFAULT '',
		stripe_price_id TEXT NOT NULL DEFAULT '',
		active          INTEGER NOT NULL DEFAULT 1,
		created_at      BIGINT NOT NULL,
		updated_at      BIGINT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tenants (
		id                  TEXT PRIMARY KEY,
		display_name        TEXT NOT NULL DEFAULT '',
		subdomain           TEXT NOT NULL UNIQUE,
		status              TEXT NOT NULL DEFAULT 'pending_activation',
		merchant_account_id TEXT NOT NULL DEFAULT '',
		charges_enabled     INTEGER NOT NULL DEFAULT 0,
		payouts_enabled     INTEGER NOT NULL DEFAULT 0,
		details_submitted   INTEGER NOT NULL DEFAULT 0,
		created_at          BIGINT NOT NULL,
		updated_at          BIGINT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tenants_status ON tenants(status);
	CREATE INDEX IF NOT EXISTS idx_tenants_merchant_account_id ON tenants(merchant_account_id);

	CREATE TABLE IF NOT EXISTS platform_users (
		id                TEXT PRIMARY KEY,
		identity_id       TEXT NOT NULL UNIQUE,
		first_name        TEXT NOT NULL DEFAULT '',
		last_name         TEXT NOT NULL DEFAULT '',
		active            INTEGER NOT NULL DEFAULT 1,
		default_tenant_id TEXT REFERENCES tenants(id) ON DELETE SET NULL,
		created_at        BIGINT NOT NULL,
		updated_at        BIGINT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tenant_users (
		id                 TEXT PRIMARY KEY,
		tenant_id          TEXT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
		platform_user_id   TEXT NOT NULL REFERENCES platform_users(id) ON DELETE CASCADE,
		role               TEXT NOT NULL DEFAULT 'member',
		status             TEXT NOT NULL DEFAULT 'active',
		is_owner           INTEGER NOT NULL DEFAULT 0,
		membership_plan_id TEXT NOT NULL DEFAULT '',
		created_at         BIGINT NOT NULL,
		updated_at         BIGINT NOT NULL,
		UNIQUE (tenant_id, platform_user_id)
	);
	CREATE INDEX IF NOT EXISTS idx_tenant_users_platform_user_id ON tenant_users(platform_user_id);

	CREATE TABLE IF NOT EXISTS signup_sessions (
		id                  TEXT PRIMARY KEY,
		plan_id             TEXT NOT NULL,
		email               TEXT NOT NULL,
		identity_id         TEXT NOT NULL DEFAULT '',
		platform_user_id    TEXT REFERENCES platform_users(id) ON DELETE SET NULL,
		tenant_id           TEXT REFERENCES tenants(id) ON DELETE SET NULL,
		state               TEXT NOT NULL,
		checkout_session_id TEXT NOT NULL DEFAULT '',
		checkout_url        TEXT NOT NULL DEFAULT '',
		expires_at          BIGINT NOT NULL,
		last_activity_at    BIGINT NOT NULL,
		completed_at        BIGINT,
		error_message       TEXT NOT NULL DEFAULT '',
		created_at          BIGINT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_signup_sessions_email ON signup_sessions(email);
	CREATE INDEX IF NOT EXISTS idx_signup_sessions_checkout ON signup_sessions(checkout_session_id);

	CREATE TABLE IF NOT EXISTS tenant_subscriptions (
		id                       TEXT PRIMARY KEY,
		tenant_id                TEXT NOT NULL UNIQUE REFERENCES tenants(id) ON DELETE CASCADE,
		provider_subscription_id TEXT NOT NULL,
		provider_customer_id     TEXT NOT NULL DEFAULT '',
		plan_id                  TEXT NOT NULL DEFAULT '',
		status                   TEXT NOT NULL,
		current_period_start     BIGINT NOT NULL DEFAULT 0,
		current_period_end       BIGINT NOT NULL DEFAULT 0,
		auto_renew               INTEGER NOT NULL DEFAULT 1,
		provider_event_at        BIGINT NOT NULL DEFAULT 0,
		created_at               BIGINT NOT NULL,
		updated_at               BIGINT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tenant_subscriptions_provider ON tenant_subscriptions(provider_subscription_id);
	`
	if _, err := r.db.Exec(schema); err != nil {
		return fmt.Errorf("init registry schema: %w", err)
	}
	return nil
}

// Dialect reports the SQL backend in use.
func (r *Registry) Dialect() Dialect { return r.dialect }

// Ping checks database connectivity (used for readiness probes).
func (r *Registry) Ping(ctx context.Context) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("registry not initialized")
	}
	return r.db.PingContext(ctx)
}

// Close closes the underlying database connection.
func (r *Registry) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// RunInTx runs fn inside one database transaction. Registry calls made with
// the context passed to fn join the transaction; any error or panic rolls the
// whole unit back. Nested calls join the outer transaction.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: r.isolation()})
	if err != nil {
		return fmt.Errorf("begin registry tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		} else if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit registry tx: %w", err)
	}
	return nil
}

func (r *Registry) isolation() sql.IsolationLevel {
	if r.dialect == DialectPostgres {
		return sql.LevelReadCommitted
	}
	return sql.LevelDefault
}

func (r *Registry) q(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return r.db
}

// rebind rewrites "?" placeholders to "$n" for Postgres.
func (r *Registry) rebind(query string) string {
	if r.dialect != DialectPostgres {
		return query
	}
	var sb strings.Builder
	sb.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteByte(query[i])
	}
	return sb.String()
}

// forUpdate appends a row lock clause where the backend supports one.
// SQLite has no row locks; its single connection already serializes the
// transaction.
func (r *Registry) forUpdate(query string) string {
	if r.dialect == DialectPostgres {
		return query + " FOR UPDATE"
	}
	return query
}

func (r *Registry) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return r.q(ctx).ExecContext(ctx, r.rebind(query), args...)
}

func (r *Registry) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return r.q(ctx).QueryContext(ctx, r.rebind(query), args...)
}

func (r *Registry) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return r.q(ctx).QueryRowContext(ctx, r.rebind(query), args...)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

type scanner interface {
	Scan(dest ...any) error
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableTimeUnix(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func unixUTC(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(v, 0).UTC()
}

func timeUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
