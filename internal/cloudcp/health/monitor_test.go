package health

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcourtman/clubcloud/internal/cloudcp/directory"
	"github.com/rcourtman/clubcloud/internal/cloudcp/registry"
)

type fakeTenants map[registry.TenantStatus][]*registry.Tenant

func (f fakeTenants) ListTenantsByStatus(_ context.Context, status registry.TenantStatus) ([]*registry.Tenant, error) {
	return f[status], nil
}

type failingTenants struct{}

func (failingTenants) ListTenantsByStatus(context.Context, registry.TenantStatus) ([]*registry.Tenant, error) {
	return nil, errors.New("database is locked")
}

func newTestDirectory(t *testing.T) directory.Directory {
	t.Helper()
	d, err := directory.NewSQLiteDirectory(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestCheckAllClassifiesTenants(t *testing.T) {
	ctx := context.Background()
	dir := newTestDirectory(t)
	require.NoError(t, dir.Register(ctx, "acme", "t-acme"))
	require.NoError(t, dir.Register(ctx, "taken", "t-other"))

	tenants := fakeTenants{
		registry.TenantStatusActive: {
			{ID: "t-acme", Subdomain: "acme"},
			{ID: "t-lost", Subdomain: "lost"},
		},
		registry.TenantStatusPendingActivation: {
			{ID: "t-clash", Subdomain: "taken"},
		},
		registry.TenantStatusCancelled: {
			{ID: "t-gone", Subdomain: "gone"},
		},
	}

	m := NewMonitor(tenants, dir, MonitorConfig{})
	report := m.CheckAll(ctx)

	assert.Equal(t, Report{Checked: 3, Missing: 1, Conflict: 1}, report)
}

func TestCheckAllRepairsAfterThreshold(t *testing.T) {
	ctx := context.Background()
	dir := newTestDirectory(t)
	tenants := fakeTenants{
		registry.TenantStatusActive: {{ID: "t-lost", Subdomain: "lost"}},
	}

	m := NewMonitor(tenants, dir, MonitorConfig{Repair: true, FailThreshold: 2})

	first := m.CheckAll(ctx)
	assert.Equal(t, 1, first.Missing)
	_, err := dir.Resolve(ctx, "lost")
	require.ErrorIs(t, err, directory.ErrNotFound)

	second := m.CheckAll(ctx)
	assert.Equal(t, Report{Checked: 1, Repaired: 1}, second)

	owner, err := dir.Resolve(ctx, "lost")
	require.NoError(t, err)
	assert.Equal(t, "t-lost", owner)

	third := m.CheckAll(ctx)
	assert.Equal(t, Report{Checked: 1}, third)
}

func TestCheckAllNeverRepairsConflicts(t *testing.T) {
	ctx := context.Background()
	dir := newTestDirectory(t)
	require.NoError(t, dir.Register(ctx, "taken", "t-other"))
	tenants := fakeTenants{
		registry.TenantStatusActive: {{ID: "t-clash", Subdomain: "taken"}},
	}

	m := NewMonitor(tenants, dir, MonitorConfig{Repair: true, FailThreshold: 1})
	for range 3 {
		assert.Equal(t, 1, m.CheckAll(ctx).Conflict)
	}

	owner, err := dir.Resolve(ctx, "taken")
	require.NoError(t, err)
	assert.Equal(t, "t-other", owner)
}

func TestFailureCountsResetWhenTenantDisappears(t *testing.T) {
	ctx := context.Background()
	dir := newTestDirectory(t)
	tenants := fakeTenants{
		registry.TenantStatusActive: {{ID: "t-lost", Subdomain: "lost"}},
	}

	m := NewMonitor(tenants, dir, MonitorConfig{Repair: true, FailThreshold: 3})
	m.CheckAll(ctx)
	require.Equal(t, 1, m.failures["t-lost"])

	delete(tenants, registry.TenantStatusActive)
	m.CheckAll(ctx)
	assert.Empty(t, m.failures)
}

func TestCheckAllSurvivesListErrors(t *testing.T) {
	m := NewMonitor(failingTenants{}, newTestDirectory(t), MonitorConfig{})
	assert.Equal(t, Report{}, m.CheckAll(context.Background()))
}
