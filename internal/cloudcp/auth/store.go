package auth

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

var (
	ErrTokenInvalid = errors.New("resume link token is invalid")
	ErrTokenExpired = errors.New("resume link token is expired")
	ErrTokenUsed    = errors.New("resume link token already used")
)

const storeCleanupInterval = 5 * time.Minute
const privateDirPerm = 0o700

func ensureOwnerOnlyDir(dir string) error {
	if err := os.MkdirAll(dir, privateDirPerm); err != nil {
		return err
	}
	return os.Chmod(dir, privateDirPerm)
}

// TokenRecord is what a resume link token stands for.
type TokenRecord struct {
	Email     string
	SessionID string
	ExpiresAt time.Time
	Used      bool
}

// Store persists resume link tokens in SQLite, keyed by HMAC-SHA256 of the
// raw token so a leaked database cannot be replayed.
type Store struct {
	db          *sql.DB
	stopCleanup chan struct{}
	mu          sync.Mutex
}

// NewStore opens (or creates) the token database in dir.
func NewStore(dir string) (*Store, error) {
	dir = filepath.Clean(dir)
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("dir is required")
	}
	if err := ensureOwnerOnlyDir(dir); err != nil {
		return nil, fmt.Errorf("create resume link store dir: %w", err)
	}

	dsn := filepath.Join(dir, "resume_links.db") + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open resume link db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{
		db:          db,
		stopCleanup: make(chan struct{}),
	}
	if err := s.initSchema(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, errors.Join(err, fmt.Errorf("close resume link db after schema init failure: %w", closeErr))
		}
		return nil, err
	}

	go s.cleanupLoop()
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS resume_link_tokens (
		token_hash TEXT PRIMARY KEY,
		email TEXT NOT NULL,
		session_id TEXT NOT NULL,
		expires_at INTEGER NOT NULL,
		used INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		used_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_rl_expires_at ON resume_link_tokens(expires_at);
	CREATE INDEX IF NOT EXISTS idx_rl_session ON resume_link_tokens(session_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("init resume link schema: %w", err)
	}
	return nil
}

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(storeCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.DeleteExpired(context.Background(), time.Now().UTC()); err != nil {
				log.Warn().Err(err).Msg("Failed to delete expired resume link tokens")
			}
		case <-s.stopCleanup:
			return
		}
	}
}

// Put inserts or replaces a token record.
func (s *Store) Put(ctx context.Context, tokenHash []byte, rec *TokenRecord) error {
	if s == nil {
		return fmt.Errorf("store not configured")
	}
	if len(tokenHash) == 0 {
		return fmt.Errorf("tokenHash is required")
	}
	if rec == nil || rec.Email == "" || rec.SessionID == "" || rec.ExpiresAt.IsZero() {
		return fmt.Errorf("token record is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return fmt.Errorf("store not configured")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO resume_link_tokens (token_hash, email, session_id, expires_at, used, created_at, used_at)
		 VALUES (?, ?, ?, ?, 0, ?, NULL)`,
		hex.EncodeToString(tokenHash), rec.Email, rec.SessionID, rec.ExpiresAt.UTC().Unix(), time.Now().UTC().Unix(),
	)
	if err != nil {
		return fmt.Errorf("put resume link token: %w", err)
	}
	return nil
}

// Consume atomically validates a token and marks it used.
func (s *Store) Consume(ctx context.Context, tokenHash []byte, now time.Time) (*TokenRecord, error) {
	if s == nil || len(tokenHash) == 0 {
		return nil, ErrTokenInvalid
	}
	key := hex.EncodeToString(tokenHash)
	now = now.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, ErrTokenInvalid
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin consume tx: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
			log.Warn().Err(rollbackErr).Msg("Failed to rollback resume link consume transaction")
		}
	}()

	var rec TokenRecord
	var expiresAtUnix int64
	var usedInt int
	row := tx.QueryRowContext(ctx, `SELECT email, session_id, expires_at, used FROM resume_link_tokens WHERE token_hash = ?`, key)
	if err := row.Scan(&rec.Email, &rec.SessionID, &expiresAtUnix, &usedInt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTokenInvalid
		}
		return nil, fmt.Errorf("load resume link token: %w", err)
	}
	rec.ExpiresAt = time.Unix(expiresAtUnix, 0).UTC()
	if now.After(rec.ExpiresAt) {
		return nil, ErrTokenExpired
	}
	if usedInt != 0 {
		return nil, ErrTokenUsed
	}

	res, err := tx.ExecContext(ctx, `UPDATE resume_link_tokens SET used = 1, used_at = ? WHERE token_hash = ? AND used = 0`, now.Unix(), key)
	if err != nil {
		return nil, fmt.Errorf("mark resume link token used: %w", err)
	}
	if affected, err := res.RowsAffected(); err != nil {
		return nil, fmt.Errorf("get consume update rows affected: %w", err)
	} else if affected == 0 {
		return nil, ErrTokenUsed
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit consume tx: %w", err)
	}

	rec.Used = true
	return &rec, nil
}

// DeleteExpired removes tokens that have passed their expiry time.
func (s *Store) DeleteExpired(ctx context.Context, now time.Time) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM resume_link_tokens WHERE expires_at < ?`, now.UTC().Unix()); err != nil {
		return fmt.Errorf("delete expired resume link tokens: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return fmt.Errorf("store closed")
	}
	return s.db.PingContext(ctx)
}

// Close stops the cleanup goroutine and closes the database. Safe to call
// more than once.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.stopCleanup:
	default:
		close(s.stopCleanup)
	}
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return fmt.Errorf("close resume link db: %w", err)
	}
	return nil
}
