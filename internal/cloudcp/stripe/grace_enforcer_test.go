package stripe

import (
	"context"
	"testing"
	"time"

	"github.com/rcourtman/clubcloud/internal/cloudcp/registry"
)

func TestGraceEnforcer_MaxGraceDays(t *testing.T) {
	if maxGraceDays != 14 {
		t.Errorf("expected maxGraceDays=14, got %d", maxGraceDays)
	}
}

func TestGraceEnforcer_CheckInterval(t *testing.T) {
	if graceCheckInterval != 1*time.Hour {
		t.Errorf("expected graceCheckInterval=1h, got %v", graceCheckInterval)
	}
}

func seedSubscribedTenant(t *testing.T, reg *registry.Registry, id, sub string, tenantStatus registry.TenantStatus, subStatus registry.SubscriptionStatus) {
	t.Helper()
	ctx := context.Background()
	if err := reg.CreateTenant(ctx, &registry.Tenant{ID: id, DisplayName: id, Subdomain: sub, Status: tenantStatus}); err != nil {
		t.Fatalf("CreateTenant(%s): %v", id, err)
	}
	if _, err := reg.UpsertTenantSubscription(ctx, &registry.TenantSubscription{
		TenantID:               id,
		ProviderSubscriptionID: "sub_" + sub,
		ProviderCustomerID:     "cus_" + sub,
		Status:                 subStatus,
	}); err != nil {
		t.Fatalf("UpsertTenantSubscription(%s): %v", id, err)
	}
}

func TestGraceEnforcerAppliesSubscriptionStatus(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)

	seedSubscribedTenant(t, reg, "t-cancel", "cancel", registry.TenantStatusActive, registry.SubscriptionStatusCancelled)
	seedSubscribedTenant(t, reg, "t-pastdue", "pastdue", registry.TenantStatusActive, registry.SubscriptionStatusPastDue)
	seedSubscribedTenant(t, reg, "t-recover", "recover", registry.TenantStatusSuspended, registry.SubscriptionStatusActive)
	seedSubscribedTenant(t, reg, "t-pending", "pending", registry.TenantStatusPendingActivation, registry.SubscriptionStatusCancelled)

	enforcer := NewGraceEnforcer(reg)

	// Within the grace window only cancellation applies.
	if changed := enforcer.enforce(ctx); changed != 1 {
		t.Fatalf("first pass changed %d tenants, want 1", changed)
	}
	assertTenantStatus(t, reg, "t-cancel", registry.TenantStatusCancelled)
	assertTenantStatus(t, reg, "t-pastdue", registry.TenantStatusActive)
	assertTenantStatus(t, reg, "t-recover", registry.TenantStatusSuspended)
	assertTenantStatus(t, reg, "t-pending", registry.TenantStatusPendingActivation)

	enforcer.now = func() time.Time { return time.Now().UTC().Add(15 * 24 * time.Hour) }
	if changed := enforcer.enforce(ctx); changed != 1 {
		t.Fatalf("second pass changed %d tenants, want 1", changed)
	}
	assertTenantStatus(t, reg, "t-pastdue", registry.TenantStatusSuspended)
}

func assertTenantStatus(t *testing.T, reg *registry.Registry, id string, want registry.TenantStatus) {
	t.Helper()
	got, err := reg.GetTenant(context.Background(), id)
	if err != nil || got == nil {
		t.Fatalf("GetTenant(%s) = %v, %v", id, got, err)
	}
	if got.Status != want {
		t.Fatalf("tenant %s status = %s, want %s", id, got.Status, want)
	}
}

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.NewRegistry(t.TempDir())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	t.Cleanup(func() { _ = reg.Close() })
	return reg
}
