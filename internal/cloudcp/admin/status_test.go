package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rcourtman/clubcloud/internal/cloudcp/registry"
)

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.NewRegistry(t.TempDir())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	t.Cleanup(func() { _ = reg.Close() })
	return reg
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHandleHealthz(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	HandleHealthz(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if rec.Body.String() != "ok" {
		t.Errorf("body = %q, want %q", rec.Body.String(), "ok")
	}
}

func TestHandleReadyz(t *testing.T) {
	reg := newTestRegistry(t)
	handler := HandleReadyz(map[string]Pinger{"registry": reg})

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if rec.Body.String() != "ready" {
		t.Errorf("body = %q, want %q", rec.Body.String(), "ready")
	}
}

func TestHandleReadyzFailingStore(t *testing.T) {
	reg := newTestRegistry(t)
	handler := HandleReadyz(map[string]Pinger{
		"registry":  reg,
		"directory": pingerFunc(func(context.Context) error { return errors.New("redis down") }),
	})

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
	if rec.Body.String() != "not ready" {
		t.Errorf("body = %q, want %q", rec.Body.String(), "not ready")
	}
}

func TestHandleReadyzNoStores(t *testing.T) {
	rec := httptest.NewRecorder()
	HandleReadyz(nil)(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestHandleStatus(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	for _, tn := range []*registry.Tenant{
		{ID: "t-STATUS001", DisplayName: "Acme", Subdomain: "acme", Status: registry.TenantStatusActive},
		{ID: "t-STATUS002", DisplayName: "Beta", Subdomain: "beta"},
	} {
		if err := reg.CreateTenant(ctx, tn); err != nil {
			t.Fatal(err)
		}
	}
	if err := reg.CreateSignupSession(ctx, &registry.SignupSession{
		ID:                "01JSTATUS",
		PlanID:            "club-monthly",
		Email:             "owner@example.com",
		TenantID:          "t-STATUS002",
		State:             registry.SessionStateBillingStarted,
		CheckoutSessionID: "cs_test_status",
		ExpiresAt:         time.Now().Add(time.Hour),
	}); err != nil {
		t.Fatal(err)
	}

	handler := HandleStatus(reg, "test-version")
	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Version != "test-version" {
		t.Errorf("version = %v, want test-version", resp.Version)
	}
	if resp.TotalTenants != 2 {
		t.Errorf("total_tenants = %d, want 2", resp.TotalTenants)
	}
	if resp.ByStatus[registry.TenantStatusPendingActivation] != 1 || resp.ByStatus[registry.TenantStatusActive] != 1 {
		t.Errorf("by_status = %v", resp.ByStatus)
	}
	if resp.PendingSignups != 1 {
		t.Errorf("pending_signups = %d, want 1", resp.PendingSignups)
	}
}

func TestHandleStatusNilRegistry(t *testing.T) {
	rec := httptest.NewRecorder()
	HandleStatus(nil, "v")(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
}
