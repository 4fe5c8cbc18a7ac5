package registry

import (
	"context"
	"fmt"
	"strings"
)

// The queries in this file are read-only projections over tenant_users.

// ListMemberships returns every membership held by a person, optionally
// restricted to the given statuses.
func (r *Registry) ListMemberships(ctx context.Context, platformUserID string, statuses ...MemberStatus) ([]*TenantUser, error) {
	query := `SELECT ` + tenantUserColumns + ` FROM tenant_users WHERE platform_user_id = ?`
	args := []any{platformUserID}
	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, s := range statuses {
			placeholders[i] = "?"
			args = append(args, string(s))
		}
		query += ` AND status IN (` + strings.Join(placeholders, ", ") + `)`
	}
	query += ` ORDER BY created_at, id`

	rows, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	defer rows.Close()
	return scanTenantUsers(rows)
}

// GetMembership returns the membership binding a person to a tenant.
// Returns (nil, nil) when the person is not a member.
func (r *Registry) GetMembership(ctx context.Context, platformUserID, tenantID string) (*TenantUser, error) {
	row := r.queryRow(ctx, `SELECT `+tenantUserColumns+` FROM tenant_users
		WHERE platform_user_id = ? AND tenant_id = ?`, platformUserID, tenantID)
	return scanTenantUser(row)
}

// HasRoleInTenant reports whether the person holds an active membership in
// the tenant with a role at or above required.
func (r *Registry) HasRoleInTenant(ctx context.Context, platformUserID, tenantID string, required Role) (bool, error) {
	m, err := r.GetMembership(ctx, platformUserID, tenantID)
	if err != nil {
		return false, err
	}
	if m == nil || m.Status != MemberStatusActive {
		return false, nil
	}
	return m.Role.AtLeast(required), nil
}

// IsTenantOwner reports whether the person holds the owner flag in the tenant.
func (r *Registry) IsTenantOwner(ctx context.Context, platformUserID, tenantID string) (bool, error) {
	m, err := r.GetMembership(ctx, platformUserID, tenantID)
	if err != nil {
		return false, err
	}
	return m != nil && m.IsOwner, nil
}
