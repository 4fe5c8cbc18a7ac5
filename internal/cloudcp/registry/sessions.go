package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const sessionColumns = `id, plan_id, email, identity_id, platform_user_id, tenant_id, state,
	checkout_session_id, checkout_url, expires_at, last_activity_at, completed_at,
	error_message, created_at`

// CreateSignupSession inserts a new signup session.
func (r *Registry) CreateSignupSession(ctx context.Context, s *SignupSession) error {
	if s == nil {
		return fmt.Errorf("signup session is nil")
	}
	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	if s.LastActivityAt.IsZero() {
		s.LastActivityAt = s.CreatedAt
	}

	_, err := r.exec(ctx, `
		INSERT INTO signup_sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.PlanID, s.Email, s.IdentityID, nullableString(s.PlatformUserID), nullableString(s.TenantID),
		string(s.State), s.CheckoutSessionID, s.CheckoutURL,
		s.ExpiresAt.Unix(), s.LastActivityAt.Unix(), nullableTimeUnix(s.CompletedAt),
		s.ErrorMessage, s.CreatedAt.Unix(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create signup session %q: %w", s.ID, ErrConflict)
		}
		return fmt.Errorf("create signup session: %w", err)
	}
	return nil
}

// GetSignupSession retrieves a session by ID. Returns (nil, nil) when absent.
func (r *Registry) GetSignupSession(ctx context.Context, id string) (*SignupSession, error) {
	return scanSignupSession(r.queryRow(ctx, `SELECT `+sessionColumns+` FROM signup_sessions WHERE id = ?`, id))
}

// LockSignupSession retrieves a session by ID and, on backends with row
// locks, holds the row until the surrounding transaction ends.
func (r *Registry) LockSignupSession(ctx context.Context, id string) (*SignupSession, error) {
	query := r.forUpdate(`SELECT ` + sessionColumns + ` FROM signup_sessions WHERE id = ?`)
	return scanSignupSession(r.queryRow(ctx, query, id))
}

// GetSignupSessionByCheckoutID retrieves the session that owns a checkout
// session. Returns (nil, nil) when absent.
func (r *Registry) GetSignupSessionByCheckoutID(ctx context.Context, checkoutSessionID string) (*SignupSession, error) {
	if checkoutSessionID == "" {
		return nil, nil
	}
	return scanSignupSession(r.queryRow(ctx, `SELECT `+sessionColumns+` FROM signup_sessions
		WHERE checkout_session_id = ? ORDER BY created_at DESC LIMIT 1`, checkoutSessionID))
}

// LockSignupSessionByCheckoutID is GetSignupSessionByCheckoutID with a row lock.
func (r *Registry) LockSignupSessionByCheckoutID(ctx context.Context, checkoutSessionID string) (*SignupSession, error) {
	if checkoutSessionID == "" {
		return nil, nil
	}
	query := r.forUpdate(`SELECT ` + sessionColumns + ` FROM signup_sessions
		WHERE checkout_session_id = ? ORDER BY created_at DESC LIMIT 1`)
	return scanSignupSession(r.queryRow(ctx, query, checkoutSessionID))
}

// FindResumableSession returns the newest non-terminal session for email
// that has not expired at now. Returns (nil, nil) when none qualifies.
func (r *Registry) FindResumableSession(ctx context.Context, email string, now time.Time) (*SignupSession, error) {
	row := r.queryRow(ctx, `SELECT `+sessionColumns+` FROM signup_sessions
		WHERE email = ? AND state NOT IN (?, ?) AND expires_at > ?
		ORDER BY created_at DESC, id DESC LIMIT 1`,
		email, string(SessionStateCompleted), string(SessionStateExpired), now.Unix())
	return scanSignupSession(row)
}

// PendingSessionHorizon bounds how long a session can wait on billing. A
// provider checkout can be paid for at most 24h after it is issued, which
// is also the session's last activity.
const PendingSessionHorizon = 48 * time.Hour

// ListPendingSessions returns sessions waiting on billing confirmation whose
// last activity falls within PendingSessionHorizon of now. Sessions that
// expired while their checkout was still payable are included.
func (r *Registry) ListPendingSessions(ctx context.Context, now time.Time) ([]*SignupSession, error) {
	rows, err := r.query(ctx, `SELECT `+sessionColumns+` FROM signup_sessions
		WHERE state IN (?, ?, ?) AND checkout_session_id <> '' AND last_activity_at > ?
		ORDER BY last_activity_at`,
		string(SessionStateBillingStarted), string(SessionStateBillingComplete), string(SessionStateExpired),
		now.Add(-PendingSessionHorizon).Unix())
	if err != nil {
		return nil, fmt.Errorf("list pending sessions: %w", err)
	}
	defer rows.Close()

	var out []*SignupSession
	for rows.Next() {
		s, err := scanSignupSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// UpdateSignupSession writes every mutable field of s, provided the stored
// row is still in state expected. A row that moved on yields ErrStaleState.
func (r *Registry) UpdateSignupSession(ctx context.Context, s *SignupSession, expected SessionState) error {
	if s == nil {
		return fmt.Errorf("signup session is nil")
	}
	res, err := r.exec(ctx, `
		UPDATE signup_sessions SET
			identity_id = ?, platform_user_id = ?, tenant_id = ?, state = ?,
			checkout_session_id = ?, checkout_url = ?, expires_at = ?,
			last_activity_at = ?, completed_at = ?, error_message = ?
		WHERE id = ? AND state = ?`,
		s.IdentityID, nullableString(s.PlatformUserID), nullableString(s.TenantID), string(s.State),
		s.CheckoutSessionID, s.CheckoutURL, s.ExpiresAt.Unix(),
		s.LastActivityAt.Unix(), nullableTimeUnix(s.CompletedAt), s.ErrorMessage,
		s.ID, string(expected),
	)
	if err != nil {
		return fmt.Errorf("update signup session: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("signup session %q not in state %q: %w", s.ID, expected, ErrStaleState)
	}
	return nil
}

func scanSignupSession(s scanner) (*SignupSession, error) {
	var ss SignupSession
	var state string
	var platformUserID, tenantID sql.NullString
	var expiresAt, lastActivityAt, createdAt int64
	var completedAt sql.NullInt64

	err := s.Scan(
		&ss.ID, &ss.PlanID, &ss.Email, &ss.IdentityID, &platformUserID, &tenantID, &state,
		&ss.CheckoutSessionID, &ss.CheckoutURL, &expiresAt, &lastActivityAt, &completedAt,
		&ss.ErrorMessage, &createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan signup session: %w", err)
	}

	ss.State = SessionState(state)
	ss.PlatformUserID = platformUserID.String
	ss.TenantID = tenantID.String
	ss.ExpiresAt = unixUTC(expiresAt)
	ss.LastActivityAt = unixUTC(lastActivityAt)
	ss.CreatedAt = unixUTC(createdAt)
	if completedAt.Valid {
		ts := unixUTC(completedAt.Int64)
		ss.CompletedAt = &ts
	}
	return &ss, nil
}
