package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const platformUserColumns = `id, identity_id, first_name, last_name, active, default_tenant_id, created_at, updated_at`

const tenantUserColumns = `id, tenant_id, platform_user_id, role, status, is_owner, membership_plan_id, created_at, updated_at`

// CreatePlatformUser inserts a person record. A second record for the same
// identity yields ErrConflict.
func (r *Registry) CreatePlatformUser(ctx context.Context, u *PlatformUser) error {
	if u == nil {
		return fmt.Errorf("platform user is nil")
	}
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now

	_, err := r.exec(ctx, `
		INSERT INTO platform_users (`+platformUserColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.IdentityID, u.FirstName, u.LastName, boolToInt(u.Active),
		nullableString(u.DefaultTenantID), u.CreatedAt.Unix(), u.UpdatedAt.Unix(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create platform user for identity %q: %w", u.IdentityID, ErrConflict)
		}
		return fmt.Errorf("create platform user: %w", err)
	}
	return nil
}

// GetPlatformUser retrieves a person by ID. Returns (nil, nil) when absent.
func (r *Registry) GetPlatformUser(ctx context.Context, id string) (*PlatformUser, error) {
	return scanPlatformUser(r.queryRow(ctx, `SELECT `+platformUserColumns+` FROM platform_users WHERE id = ?`, id))
}

// GetPlatformUserByIdentityID retrieves the person linked to an identity.
// Returns (nil, nil) when absent.
func (r *Registry) GetPlatformUserByIdentityID(ctx context.Context, identityID string) (*PlatformUser, error) {
	return scanPlatformUser(r.queryRow(ctx, `SELECT `+platformUserColumns+` FROM platform_users WHERE identity_id = ?`, identityID))
}

// SetDefaultTenant records the tenant a person lands in after login.
func (r *Registry) SetDefaultTenant(ctx context.Context, platformUserID, tenantID string) error {
	res, err := r.exec(ctx, `UPDATE platform_users SET default_tenant_id = ?, updated_at = ? WHERE id = ?`,
		nullableString(tenantID), time.Now().UTC().Unix(), platformUserID)
	if err != nil {
		return fmt.Errorf("set default tenant: %w", err)
	}
	return requireAffected(res, "platform user", platformUserID)
}

// DeletePlatformUser removes a person. Their memberships cascade.
func (r *Registry) DeletePlatformUser(ctx context.Context, id string) error {
	res, err := r.exec(ctx, `DELETE FROM platform_users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete platform user: %w", err)
	}
	return requireAffected(res, "platform user", id)
}

// CreateTenantUser inserts a membership. A second membership for the same
// (tenant, person) pair yields ErrConflict.
func (r *Registry) CreateTenantUser(ctx context.Context, m *TenantUser) error {
	if m == nil {
		return fmt.Errorf("tenant user is nil")
	}
	if !m.Role.Valid() {
		return fmt.Errorf("invalid role %q", m.Role)
	}
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	if m.Status == "" {
		m.Status = MemberStatusActive
	}

	_, err := r.exec(ctx, `
		INSERT INTO tenant_users (`+tenantUserColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.TenantID, m.PlatformUserID, string(m.Role), string(m.Status),
		boolToInt(m.IsOwner), m.MembershipPlanID, m.CreatedAt.Unix(), m.UpdatedAt.Unix(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create membership %s/%s: %w", m.TenantID, m.PlatformUserID, ErrConflict)
		}
		return fmt.Errorf("create tenant user: %w", err)
	}
	return nil
}

// UpdateMembershipStatus changes the status of a membership.
func (r *Registry) UpdateMembershipStatus(ctx context.Context, platformUserID, tenantID string, status MemberStatus) error {
	res, err := r.exec(ctx, `UPDATE tenant_users SET status = ?, updated_at = ? WHERE platform_user_id = ? AND tenant_id = ?`,
		string(status), time.Now().UTC().Unix(), platformUserID, tenantID)
	if err != nil {
		return fmt.Errorf("update membership status: %w", err)
	}
	return requireAffected(res, "membership", tenantID+"/"+platformUserID)
}

// UpdateMembershipRole changes the tenant role of a membership.
func (r *Registry) UpdateMembershipRole(ctx context.Context, platformUserID, tenantID string, role Role) error {
	if !role.Valid() {
		return fmt.Errorf("invalid role %q", role)
	}
	res, err := r.exec(ctx, `UPDATE tenant_users SET role = ?, updated_at = ? WHERE platform_user_id = ? AND tenant_id = ?`,
		string(role), time.Now().UTC().Unix(), platformUserID, tenantID)
	if err != nil {
		return fmt.Errorf("update membership role: %w", err)
	}
	return requireAffected(res, "membership", tenantID+"/"+platformUserID)
}

// ListTenantUsers returns all memberships of a tenant, owner first.
func (r *Registry) ListTenantUsers(ctx context.Context, tenantID string) ([]*TenantUser, error) {
	rows, err := r.query(ctx, `SELECT `+tenantUserColumns+` FROM tenant_users
		WHERE tenant_id = ? ORDER BY is_owner DESC, created_at, id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list tenant users: %w", err)
	}
	defer rows.Close()
	return scanTenantUsers(rows)
}

func scanPlatformUser(s scanner) (*PlatformUser, error) {
	var u PlatformUser
	var active int
	var defaultTenant sql.NullString
	var createdAt, updatedAt int64
	err := s.Scan(&u.ID, &u.IdentityID, &u.FirstName, &u.LastName, &active, &defaultTenant, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan platform user: %w", err)
	}
	u.Active = active != 0
	u.DefaultTenantID = defaultTenant.String
	u.CreatedAt = unixUTC(createdAt)
	u.UpdatedAt = unixUTC(updatedAt)
	return &u, nil
}

func scanTenantUser(s scanner) (*TenantUser, error) {
	var m TenantUser
	var role, status string
	var owner int
	var createdAt, updatedAt int64
	err := s.Scan(&m.ID, &m.TenantID, &m.PlatformUserID, &role, &status, &owner, &m.MembershipPlanID, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan tenant user: %w", err)
	}
	m.Role = Role(role)
	m.Status = MemberStatus(status)
	m.IsOwner = owner != 0
	m.CreatedAt = unixUTC(createdAt)
	m.UpdatedAt = unixUTC(updatedAt)
	return &m, nil
}

func scanTenantUsers(rows *sql.Rows) ([]*TenantUser, error) {
	var out []*TenantUser
	for rows.Next() {
		m, err := scanTenantUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
