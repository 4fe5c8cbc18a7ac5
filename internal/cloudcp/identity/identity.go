// Package identity is the local credential store: login emails, password
// hashes and coarse platform-wide roles. People and tenant memberships live
// in the registry and only reference an identity by ID.
package identity

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

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

var (
	// ErrEmailTaken is returned when registering an email that already has a credential.
	ErrEmailTaken = errors.New("identity: email already registered")
	// ErrInvalidCredentials is returned when authentication fails.
	ErrInvalidCredentials = errors.New("identity: invalid credentials")
	// ErrNotFound is returned for unknown identity IDs.
	ErrNotFound = errors.New("identity: not found")
)

// PlatformRole is a coarse platform-wide role, separate from tenant roles.
type PlatformRole string

const (
	PlatformRoleUser      PlatformRole = "user"
	PlatformRoleClubOwner PlatformRole = "club_owner"
	PlatformRoleOperator  PlatformRole = "operator"
)

// Identity is a login credential.
type Identity struct {
	ID           string       `json:"id"`
	Email        string       `json:"email"`
	PlatformRole PlatformRole `json:"platform_role"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Store keeps identities in a dedicated SQLite file.
type Store struct {
	db   *sql.DB
	cost int
}

// NewStore opens (or creates) the identity database in dir.
func NewStore(dir string) (*Store, error) {
	return NewStoreWithCost(dir, BcryptCost)
}

// NewStoreWithCost is NewStore with an explicit bcrypt cost.
func NewStoreWithCost(dir string, cost int) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create identity dir: %w", err)
	}

	dbPath := filepath.Join(dir, "identity.db")
	dsn := dbPath + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open identity db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db, cost: cost}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS identities (
		id            TEXT PRIMARY KEY,
		email         TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		platform_role TEXT NOT NULL DEFAULT 'user',
		created_at    INTEGER NOT NULL,
		updated_at    INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("init identity schema: %w", err)
	}
	return nil
}

// NormalizeEmail lowercases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates a credential for email.
func (s *Store) Register(ctx context.Context, email, password string) (*Identity, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, fmt.Errorf("email is required")
	}
	if err := ValidatePasswordComplexity(password); err != nil {
		return nil, err
	}
	hash, err := HashPassword(password, s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := time.Now().UTC()
	id := Identity{
		ID:           "id_" + strings.ToLower(ulid.Make().String()),
		Email:        email,
		PlatformRole: PlatformRoleUser,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO identities (id, email, password_hash, platform_role, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id.ID, id.Email, hash, string(id.PlatformRole), now.Unix(), now.Unix())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("register identity: %w", err)
	}
	return &id, nil
}

// Lookup returns the identity registered for email. Returns (nil, nil) when absent.
func (s *Store) Lookup(ctx context.Context, email string) (*Identity, error) {
	id, _, err := s.lookup(ctx, NormalizeEmail(email))
	return id, err
}

// Get returns an identity by ID.
func (s *Store) Get(ctx context.Context, identityID string) (*Identity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, email, platform_role, created_at, updated_at
		FROM identities WHERE id = ?`, identityID)
	var id Identity
	var role string
	var createdAt, updatedAt int64
	if err := row.Scan(&id.ID, &id.Email, &role, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get identity: %w", err)
	}
	id.PlatformRole = PlatformRole(role)
	id.CreatedAt = time.Unix(createdAt, 0).UTC()
	id.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &id, nil
}

// Authenticate verifies a password and returns the identity.
func (s *Store) Authenticate(ctx context.Context, email, password string) (*Identity, error) {
	id, hash, err := s.lookup(ctx, NormalizeEmail(email))
	if err != nil {
		return nil, err
	}
	if id == nil || !CheckPasswordHash(password, hash) {
		return nil, ErrInvalidCredentials
	}
	return id, nil
}

// AssignRole sets the platform-wide role of an identity.
func (s *Store) AssignRole(ctx context.Context, identityID string, role PlatformRole) error {
	res, err := s.db.ExecContext(ctx, `UPDATE identities SET platform_role = ?, updated_at = ? WHERE id = ?`,
		string(role), time.Now().UTC().Unix(), identityID)
	if err != nil {
		return fmt.Errorf("assign platform role: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ChangePassword rotates the credential of an identity.
func (s *Store) ChangePassword(ctx context.Context, identityID, password string) error {
	if err := ValidatePasswordComplexity(password); err != nil {
		return err
	}
	hash, err := HashPassword(password, s.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE identities SET password_hash = ?, updated_at = ? WHERE id = ?`,
		hash, time.Now().UTC().Unix(), identityID)
	if err != nil {
		return fmt.Errorf("change password: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) lookup(ctx context.Context, email string) (*Identity, string, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, email, password_hash, platform_role, created_at, updated_at
		FROM identities WHERE email = ?`, email)
	var id Identity
	var hash, role string
	var createdAt, updatedAt int64
	if err := row.Scan(&id.ID, &id.Email, &hash, &role, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", nil
		}
		return nil, "", fmt.Errorf("lookup identity: %w", err)
	}
	id.PlatformRole = PlatformRole(role)
	id.CreatedAt = time.Unix(createdAt, 0).UTC()
	id.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &id, hash, nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
