package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const tenantColumns = `id, display_name, subdomain, status, merchant_account_id,
	charges_enabled, payouts_enabled, details_submitted, created_at, updated_at`

// CreateTenant inserts a new tenant. A taken subdomain yields ErrConflict.
func (r *Registry) CreateTenant(ctx context.Context, t *Tenant) error {
	if t == nil {
		return fmt.Errorf("tenant is nil")
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	if t.Status == "" {
		t.Status = TenantStatusPendingActivation
	}

	_, err := r.exec(ctx, `
		INSERT INTO tenants (`+tenantColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.DisplayName, t.Subdomain, string(t.Status), t.MerchantAccountID,
		boolToInt(t.ChargesEnabled), boolToInt(t.PayoutsEnabled), boolToInt(t.DetailsSubmitted),
		t.CreatedAt.Unix(), t.UpdatedAt.Unix(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create tenant %q: %w", t.Subdomain, ErrConflict)
		}
		return fmt.Errorf("create tenant: %w", err)
	}
	return nil
}

// GetTenant retrieves a tenant by ID. Returns (nil, nil) when absent.
func (r *Registry) GetTenant(ctx context.Context, id string) (*Tenant, error) {
	row := r.queryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = ?`, id)
	return scanTenant(row)
}

// GetTenantBySubdomain retrieves a tenant by subdomain. Returns (nil, nil) when absent.
func (r *Registry) GetTenantBySubdomain(ctx context.Context, subdomain string) (*Tenant, error) {
	row := r.queryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE subdomain = ?`, subdomain)
	return scanTenant(row)
}

// SubdomainTaken reports whether any tenant already holds subdomain.
func (r *Registry) SubdomainTaken(ctx context.Context, subdomain string) (bool, error) {
	var n int
	if err := r.queryRow(ctx, `SELECT COUNT(*) FROM tenants WHERE subdomain = ?`, subdomain).Scan(&n); err != nil {
		return false, fmt.Errorf("check subdomain: %w", err)
	}
	return n > 0, nil
}

// ListTenants returns all tenants, newest first.
func (r *Registry) ListTenants(ctx context.Context) ([]*Tenant, error) {
	rows, err := r.query(ctx, `SELECT `+tenantColumns+` FROM tenants ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()
	return scanTenants(rows)
}

// ListTenantsByStatus returns all tenants in the given status.
func (r *Registry) ListTenantsByStatus(ctx context.Context, status TenantStatus) ([]*Tenant, error) {
	rows, err := r.query(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE status = ? ORDER BY created_at DESC, id`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list tenants by status: %w", err)
	}
	defer rows.Close()
	return scanTenants(rows)
}

// CountByStatus returns a map of tenant status to count.
func (r *Registry) CountByStatus(ctx context.Context) (map[TenantStatus]int, error) {
	rows, err := r.query(ctx, `SELECT status, COUNT(*) FROM tenants GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[TenantStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[TenantStatus(status)] = n
	}
	return counts, rows.Err()
}

// ActivateTenant marks a tenant active and records its merchant account.
// An empty merchantAccountID keeps the stored value.
func (r *Registry) ActivateTenant(ctx context.Context, id, merchantAccountID string) error {
	now := time.Now().UTC().Unix()
	var (
		res sql.Result
		err error
	)
	if merchantAccountID == "" {
		res, err = r.exec(ctx, `UPDATE tenants SET status = ?, updated_at = ? WHERE id = ?`,
			string(TenantStatusActive), now, id)
	} else {
		res, err = r.exec(ctx, `UPDATE tenants SET status = ?, merchant_account_id = ?, updated_at = ? WHERE id = ?`,
			string(TenantStatusActive), merchantAccountID, now, id)
	}
	if err != nil {
		return fmt.Errorf("activate tenant: %w", err)
	}
	return requireAffected(res, "tenant", id)
}

// UpdateMerchantCapabilities refreshes the capability flags of the tenant
// holding merchantAccountID. Returns false when no tenant holds it.
func (r *Registry) UpdateMerchantCapabilities(ctx context.Context, merchantAccountID string, charges, payouts, details bool) (bool, error) {
	if merchantAccountID == "" {
		return false, nil
	}
	res, err := r.exec(ctx, `
		UPDATE tenants SET charges_enabled = ?, payouts_enabled = ?, details_submitted = ?, updated_at = ?
		WHERE merchant_account_id = ?`,
		boolToInt(charges), boolToInt(payouts), boolToInt(details), time.Now().UTC().Unix(), merchantAccountID)
	if err != nil {
		return false, fmt.Errorf("update merchant capabilities: %w", err)
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

// GetTenantByMerchantAccount retrieves the tenant holding merchantAccountID.
// Returns (nil, nil) when absent.
func (r *Registry) GetTenantByMerchantAccount(ctx context.Context, merchantAccountID string) (*Tenant, error) {
	if merchantAccountID == "" {
		return nil, nil
	}
	row := r.queryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE merchant_account_id = ?`, merchantAccountID)
	return scanTenant(row)
}

// LinkMerchantAccount records merchantAccountID on a tenant together with
// the account's current capability flags.
func (r *Registry) LinkMerchantAccount(ctx context.Context, id, merchantAccountID string, charges, payouts, details bool) error {
	res, err := r.exec(ctx, `
		UPDATE tenants SET merchant_account_id = ?, charges_enabled = ?, payouts_enabled = ?, details_submitted = ?, updated_at = ?
		WHERE id = ?`,
		merchantAccountID, boolToInt(charges), boolToInt(payouts), boolToInt(details), time.Now().UTC().Unix(), id)
	if err != nil {
		return fmt.Errorf("link merchant account: %w", err)
	}
	return requireAffected(res, "tenant", id)
}

// UpdateTenantStatus moves a tenant to status.
func (r *Registry) UpdateTenantStatus(ctx context.Context, id string, status TenantStatus) error {
	res, err := r.exec(ctx, `UPDATE tenants SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC().Unix(), id)
	if err != nil {
		return fmt.Errorf("update tenant status: %w", err)
	}
	return requireAffected(res, "tenant", id)
}

// DeleteTenant removes a tenant. Memberships and the subscription cascade.
func (r *Registry) DeleteTenant(ctx context.Context, id string) error {
	res, err := r.exec(ctx, `DELETE FROM tenants WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete tenant: %w", err)
	}
	return requireAffected(res, "tenant", id)
}

func scanTenant(s scanner) (*Tenant, error) {
	var t Tenant
	var status string
	var charges, payouts, details int
	var createdAt, updatedAt int64

	err := s.Scan(
		&t.ID, &t.DisplayName, &t.Subdomain, &status, &t.MerchantAccountID,
		&charges, &payouts, &details, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan tenant: %w", err)
	}

	t.Status = TenantStatus(status)
	t.ChargesEnabled = charges != 0
	t.PayoutsEnabled = payouts != 0
	t.DetailsSubmitted = details != 0
	t.CreatedAt = unixUTC(createdAt)
	t.UpdatedAt = unixUTC(updatedAt)
	return &t, nil
}

func scanTenants(rows *sql.Rows) ([]*Tenant, error) {
	var tenants []*Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

func requireAffected(res sql.Result, kind, id string) error {
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("%s %q: %w", kind, id, ErrNotFound)
	}
	return nil
}
