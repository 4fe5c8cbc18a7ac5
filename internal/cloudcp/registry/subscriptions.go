package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const subscriptionColumns = `id, tenant_id, provider_subscription_id, provider_customer_id, plan_id,
	status, current_period_start, current_period_end, auto_renew, provider_event_at, created_at, updated_at`

// UpsertTenantSubscription creates the tenant's subscription link or
// overwrites its billing fields. There is at most one row per tenant.
func (r *Registry) UpsertTenantSubscription(ctx context.Context, s *TenantSubscription) (*TenantSubscription, error) {
	if s == nil || s.TenantID == "" {
		return nil, fmt.Errorf("tenant subscription requires a tenant id")
	}
	if s.ID == "" {
		id, err := GenerateSubscriptionID()
		if err != nil {
			return nil, err
		}
		s.ID = id
	}
	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now

	_, err := r.exec(ctx, `
		INSERT INTO tenant_subscriptions (`+subscriptionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id) DO UPDATE SET
			provider_subscription_id = excluded.provider_subscription_id,
			provider_customer_id = excluded.provider_customer_id,
			plan_id = excluded.plan_id,
			status = excluded.status,
			current_period_start = excluded.current_period_start,
			current_period_end = excluded.current_period_end,
			auto_renew = excluded.auto_renew,
			provider_event_at = excluded.provider_event_at,
			updated_at = excluded.updated_at`,
		s.ID, s.TenantID, s.ProviderSubscriptionID, s.ProviderCustomerID, s.PlanID,
		string(s.Status), timeUnix(s.CurrentPeriodStart), timeUnix(s.CurrentPeriodEnd),
		boolToInt(s.AutoRenew), timeUnix(s.ProviderEventAt), s.CreatedAt.Unix(), s.UpdatedAt.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("upsert tenant subscription: %w", err)
	}
	return r.GetTenantSubscription(ctx, s.TenantID)
}

// GetTenantSubscription returns a tenant's subscription. Returns (nil, nil) when absent.
func (r *Registry) GetTenantSubscription(ctx context.Context, tenantID string) (*TenantSubscription, error) {
	return scanSubscription(r.queryRow(ctx, `SELECT `+subscriptionColumns+` FROM tenant_subscriptions WHERE tenant_id = ?`, tenantID))
}

// GetSubscriptionByProviderID returns the subscription linked to a provider
// subscription ID. Returns (nil, nil) when absent.
func (r *Registry) GetSubscriptionByProviderID(ctx context.Context, providerSubscriptionID string) (*TenantSubscription, error) {
	return scanSubscription(r.queryRow(ctx, `SELECT `+subscriptionColumns+` FROM tenant_subscriptions
		WHERE provider_subscription_id = ?`, providerSubscriptionID))
}

// SubscriptionMirror is a provider-side change to a linked subscription.
// EventAt orders changes; zero means the change carries no timestamp.
type SubscriptionMirror struct {
	Status      SubscriptionStatus
	PeriodStart time.Time
	PeriodEnd   time.Time
	AutoRenew   bool
	EventAt     time.Time
}

// Mirror outcomes.
const (
	MirrorApplied  = "applied"
	MirrorStale    = "stale"
	MirrorUnlinked = "unlinked"
)

// UpdateSubscriptionMirror refreshes status, period bounds and renewal of the
// subscription linked to providerSubscriptionID. A change older than the
// newest one already applied is skipped and reported as MirrorStale.
func (r *Registry) UpdateSubscriptionMirror(ctx context.Context, providerSubscriptionID string, m SubscriptionMirror) (string, error) {
	now := time.Now().UTC().Unix()
	var (
		res sql.Result
		err error
	)
	if m.EventAt.IsZero() {
		res, err = r.exec(ctx, `
			UPDATE tenant_subscriptions SET
				status = ?, current_period_start = ?, current_period_end = ?, auto_renew = ?, updated_at = ?
			WHERE provider_subscription_id = ?`,
			string(m.Status), timeUnix(m.PeriodStart), timeUnix(m.PeriodEnd), boolToInt(m.AutoRenew),
			now, providerSubscriptionID)
	} else {
		eventAt := m.EventAt.UTC().Unix()
		res, err = r.exec(ctx, `
			UPDATE tenant_subscriptions SET
				status = ?, current_period_start = ?, current_period_end = ?, auto_renew = ?,
				provider_event_at = ?, updated_at = ?
			WHERE provider_subscription_id = ? AND provider_event_at <= ?`,
			string(m.Status), timeUnix(m.PeriodStart), timeUnix(m.PeriodEnd), boolToInt(m.AutoRenew),
			eventAt, now, providerSubscriptionID, eventAt)
	}
	if err != nil {
		return "", fmt.Errorf("update subscription mirror: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected > 0 {
		return MirrorApplied, nil
	}

	existing, err := r.GetSubscriptionByProviderID(ctx, providerSubscriptionID)
	if err != nil {
		return "", err
	}
	if existing == nil {
		return MirrorUnlinked, nil
	}
	return MirrorStale, nil
}

// ListTenantSubscriptions returns every subscription row.
func (r *Registry) ListTenantSubscriptions(ctx context.Context) ([]*TenantSubscription, error) {
	rows, err := r.query(ctx, `SELECT `+subscriptionColumns+` FROM tenant_subscriptions ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list tenant subscriptions: %w", err)
	}
	defer rows.Close()

	var out []*TenantSubscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanSubscription(s scanner) (*TenantSubscription, error) {
	var ts TenantSubscription
	var status string
	var start, end, eventAt, createdAt, updatedAt int64
	var autoRenew int
	err := s.Scan(
		&ts.ID, &ts.TenantID, &ts.ProviderSubscriptionID, &ts.ProviderCustomerID, &ts.PlanID,
		&status, &start, &end, &autoRenew, &eventAt, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan tenant subscription: %w", err)
	}
	ts.Status = SubscriptionStatus(status)
	ts.CurrentPeriodStart = unixUTC(start)
	ts.CurrentPeriodEnd = unixUTC(end)
	ts.AutoRenew = autoRenew != 0
	ts.ProviderEventAt = unixUTC(eventAt)
	ts.CreatedAt = unixUTC(createdAt)
	ts.UpdatedAt = unixUTC(updatedAt)
	return &ts, nil
}
