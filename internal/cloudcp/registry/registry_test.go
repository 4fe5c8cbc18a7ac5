package registry

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := NewRegistry(t.TempDir())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	t.Cleanup(func() { _ = reg.Close() })
	return reg
}

func mustCreateTenant(t *testing.T, reg *Registry, id, subdomain string) *Tenant {
	t.Helper()
	tenant := &Tenant{ID: id, DisplayName: "Club " + subdomain, Subdomain: subdomain}
	if err := reg.CreateTenant(context.Background(), tenant); err != nil {
		t.Fatalf("CreateTenant(%s): %v", subdomain, err)
	}
	return tenant
}

func mustCreateUser(t *testing.T, reg *Registry, id, identityID string) *PlatformUser {
	t.Helper()
	u := &PlatformUser{ID: id, IdentityID: identityID, FirstName: "Ada", LastName: "Lovelace", Active: true}
	if err := reg.CreatePlatformUser(context.Background(), u); err != nil {
		t.Fatalf("CreatePlatformUser(%s): %v", id, err)
	}
	return u
}

func TestGenerateTenantID(t *testing.T) {
	id, err := GenerateTenantID()
	if err != nil {
		t.Fatalf("GenerateTenantID: %v", err)
	}
	if !strings.HasPrefix(id, "t-") {
		t.Errorf("expected prefix t-, got %q", id)
	}
	if len(id) != 12 { // "t-" + 10 chars
		t.Errorf("expected length 12, got %d (%q)", len(id), id)
	}

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := GenerateTenantID()
		if err != nil {
			t.Fatal(err)
		}
		if seen[id] {
			t.Fatalf("duplicate tenant ID: %s", id)
		}
		seen[id] = true
	}
}

func TestGeneratedIDs_CrockfordCharset(t *testing.T) {
	gens := map[string]func() (string, error){
		"pu_": GeneratePlatformUserID,
		"tu_": GenerateTenantUserID,
		"ts_": GenerateSubscriptionID,
	}
	for prefix, gen := range gens {
		id, err := gen()
		if err != nil {
			t.Fatal(err)
		}
		if !strings.HasPrefix(id, prefix) {
			t.Fatalf("id %q missing prefix %q", id, prefix)
		}
		for _, c := range strings.TrimPrefix(id, prefix) {
			if !strings.ContainsRune(crockfordBase32, c) {
				t.Errorf("character %q not in Crockford base32 alphabet (id=%s)", c, id)
			}
		}
	}
}

func TestTenantCRUD(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)

	tenant := mustCreateTenant(t, reg, "t-TEST00001", "acme")
	if tenant.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}
	if tenant.Status != TenantStatusPendingActivation {
		t.Errorf("Status = %q, want pending_activation", tenant.Status)
	}

	got, err := reg.GetTenant(ctx, "t-TEST00001")
	if err != nil {
		t.Fatalf("GetTenant: %v", err)
	}
	if got == nil || got.Subdomain != "acme" || got.DisplayName != "Club acme" {
		t.Fatalf("GetTenant = %+v", got)
	}

	bySub, err := reg.GetTenantBySubdomain(ctx, "acme")
	if err != nil || bySub == nil || bySub.ID != tenant.ID {
		t.Fatalf("GetTenantBySubdomain = %+v, %v", bySub, err)
	}

	missing, err := reg.GetTenant(ctx, "t-NOPE")
	if err != nil {
		t.Fatalf("GetTenant missing: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for missing tenant, got %+v", missing)
	}

	if err := reg.ActivateTenant(ctx, tenant.ID, "acct_123"); err != nil {
		t.Fatalf("ActivateTenant: %v", err)
	}
	got, _ = reg.GetTenant(ctx, tenant.ID)
	if got.Status != TenantStatusActive || got.MerchantAccountID != "acct_123" {
		t.Fatalf("after activate: %+v", got)
	}

	// An empty merchant account keeps the stored one.
	if err := reg.ActivateTenant(ctx, tenant.ID, ""); err != nil {
		t.Fatalf("ActivateTenant again: %v", err)
	}
	got, _ = reg.GetTenant(ctx, tenant.ID)
	if got.MerchantAccountID != "acct_123" {
		t.Fatalf("merchant account overwritten: %q", got.MerchantAccountID)
	}

	if err := reg.ActivateTenant(ctx, "t-NOPE", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("ActivateTenant missing err = %v, want ErrNotFound", err)
	}
}

func TestCreateTenantDuplicateSubdomain(t *testing.T) {
	reg := newTestRegistry(t)
	mustCreateTenant(t, reg, "t-A", "acme")

	err := reg.CreateTenant(context.Background(), &Tenant{ID: "t-B", Subdomain: "acme"})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}

	taken, err := reg.SubdomainTaken(context.Background(), "acme")
	if err != nil || !taken {
		t.Fatalf("SubdomainTaken = %v, %v", taken, err)
	}
	taken, _ = reg.SubdomainTaken(context.Background(), "other")
	if taken {
		t.Fatal("other should be free")
	}
}

func TestCountByStatus(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)
	mustCreateTenant(t, reg, "t-1", "one")
	mustCreateTenant(t, reg, "t-2", "two")
	mustCreateTenant(t, reg, "t-3", "three")
	if err := reg.ActivateTenant(ctx, "t-3", ""); err != nil {
		t.Fatal(err)
	}

	counts, err := reg.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("CountByStatus: %v", err)
	}
	if counts[TenantStatusPendingActivation] != 2 || counts[TenantStatusActive] != 1 {
		t.Fatalf("counts = %v", counts)
	}

	active, err := reg.ListTenantsByStatus(ctx, TenantStatusActive)
	if err != nil || len(active) != 1 || active[0].ID != "t-3" {
		t.Fatalf("ListTenantsByStatus = %v, %v", active, err)
	}
}

func TestUpdateTenantStatus(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)
	mustCreateTenant(t, reg, "t-1", "one")

	if err := reg.UpdateTenantStatus(ctx, "t-1", TenantStatusSuspended); err != nil {
		t.Fatalf("UpdateTenantStatus: %v", err)
	}
	got, _ := reg.GetTenant(ctx, "t-1")
	if got.Status != TenantStatusSuspended {
		t.Fatalf("status = %q, want suspended", got.Status)
	}
	if err := reg.UpdateTenantStatus(ctx, "t-missing", TenantStatusActive); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing tenant err = %v, want ErrNotFound", err)
	}
}

func TestUpdateMerchantCapabilities(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)
	mustCreateTenant(t, reg, "t-1", "one")
	if err := reg.ActivateTenant(ctx, "t-1", "acct_1"); err != nil {
		t.Fatal(err)
	}

	found, err := reg.UpdateMerchantCapabilities(ctx, "acct_1", true, true, false)
	if err != nil || !found {
		t.Fatalf("UpdateMerchantCapabilities = %v, %v", found, err)
	}
	got, _ := reg.GetTenant(ctx, "t-1")
	if !got.ChargesEnabled || !got.PayoutsEnabled || got.DetailsSubmitted {
		t.Fatalf("capabilities = %+v", got)
	}
	if got.Status != TenantStatusActive {
		t.Fatalf("status changed to %q", got.Status)
	}

	found, err = reg.UpdateMerchantCapabilities(ctx, "acct_unknown", true, true, true)
	if err != nil || found {
		t.Fatalf("unknown account = %v, %v", found, err)
	}
}

func TestLinkMerchantAccount(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)
	mustCreateTenant(t, reg, "t-1", "one")

	if got, err := reg.GetTenantByMerchantAccount(ctx, "acct_1"); err != nil || got != nil {
		t.Fatalf("before link = %v, %v", got, err)
	}
	if err := reg.LinkMerchantAccount(ctx, "t-1", "acct_1", true, false, true); err != nil {
		t.Fatalf("LinkMerchantAccount: %v", err)
	}
	got, err := reg.GetTenantByMerchantAccount(ctx, "acct_1")
	if err != nil || got == nil || got.ID != "t-1" {
		t.Fatalf("GetTenantByMerchantAccount = %v, %v", got, err)
	}
	if got.MerchantAccountID != "acct_1" || !got.ChargesEnabled || got.PayoutsEnabled || !got.DetailsSubmitted {
		t.Fatalf("linked tenant = %+v", got)
	}
	if got.Status != TenantStatusPendingActivation {
		t.Fatalf("status changed to %q", got.Status)
	}

	if err := reg.LinkMerchantAccount(ctx, "t-missing", "acct_2", false, false, false); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing tenant err = %v, want ErrNotFound", err)
	}
	if got, _ := reg.GetTenantByMerchantAccount(ctx, ""); got != nil {
		t.Fatalf("empty account id matched %+v", got)
	}
}

func TestPlans(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)

	if err := reg.UpsertPlan(ctx, &Plan{ID: "club-basic", Name: "Basic", StripePriceID: "price_basic", Active: true}); err != nil {
		t.Fatalf("UpsertPlan: %v", err)
	}
	if err := reg.UpsertPlan(ctx, &Plan{ID: "club-legacy", Name: "Legacy", StripePriceID: "price_old", Active: false}); err != nil {
		t.Fatalf("UpsertPlan: %v", err)
	}
	if err := reg.UpsertPlan(ctx, &Plan{ID: "club-basic", Name: "Basic v2", StripePriceID: "price_basic_v2", Active: true}); err != nil {
		t.Fatalf("UpsertPlan update: %v", err)
	}

	p, err := reg.GetPlan(ctx, "club-basic")
	if err != nil || p == nil {
		t.Fatalf("GetPlan = %+v, %v", p, err)
	}
	if p.Name != "Basic v2" || p.StripePriceID != "price_basic_v2" {
		t.Fatalf("plan not updated: %+v", p)
	}

	all, _ := reg.ListPlans(ctx, false)
	active, _ := reg.ListPlans(ctx, true)
	if len(all) != 2 || len(active) != 1 {
		t.Fatalf("ListPlans all=%d active=%d", len(all), len(active))
	}

	missing, err := reg.GetPlan(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("GetPlan missing = %+v, %v", missing, err)
	}
}

func TestTenantUserUniquePerPair(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)
	mustCreateTenant(t, reg, "t-1", "one")
	mustCreateUser(t, reg, "pu_1", "id_1")

	m := &TenantUser{ID: "tu_1", TenantID: "t-1", PlatformUserID: "pu_1", Role: RoleAdmin, IsOwner: true}
	if err := reg.CreateTenantUser(ctx, m); err != nil {
		t.Fatalf("CreateTenantUser: %v", err)
	}
	dup := &TenantUser{ID: "tu_2", TenantID: "t-1", PlatformUserID: "pu_1", Role: RoleMember}
	if err := reg.CreateTenantUser(ctx, dup); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate membership err = %v, want ErrConflict", err)
	}

	bad := &TenantUser{ID: "tu_3", TenantID: "t-1", PlatformUserID: "pu_1", Role: "superuser"}
	if err := reg.CreateTenantUser(ctx, bad); err == nil {
		t.Fatal("expected invalid role error")
	}
}

func TestPlatformUserUniqueIdentity(t *testing.T) {
	reg := newTestRegistry(t)
	mustCreateUser(t, reg, "pu_1", "id_1")

	err := reg.CreatePlatformUser(context.Background(), &PlatformUser{ID: "pu_2", IdentityID: "id_1"})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}

	got, err := reg.GetPlatformUserByIdentityID(context.Background(), "id_1")
	if err != nil || got == nil || got.ID != "pu_1" {
		t.Fatalf("GetPlatformUserByIdentityID = %+v, %v", got, err)
	}
}

func TestDeleteTenantCascadesMembershipsNotPeople(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)
	mustCreateTenant(t, reg, "t-1", "one")
	mustCreateTenant(t, reg, "t-2", "two")
	mustCreateUser(t, reg, "pu_1", "id_1")

	for _, tid := range []string{"t-1", "t-2"} {
		if err := reg.CreateTenantUser(ctx, &TenantUser{ID: "tu_" + tid, TenantID: tid, PlatformUserID: "pu_1", Role: RoleCoach}); err != nil {
			t.Fatal(err)
		}
	}
	if err := reg.SetDefaultTenant(ctx, "pu_1", "t-1"); err != nil {
		t.Fatalf("SetDefaultTenant: %v", err)
	}
	if _, err := reg.UpsertTenantSubscription(ctx, &TenantSubscription{TenantID: "t-1", ProviderSubscriptionID: "sub_1", Status: SubscriptionStatusActive}); err != nil {
		t.Fatal(err)
	}

	if err := reg.DeleteTenant(ctx, "t-1"); err != nil {
		t.Fatalf("DeleteTenant: %v", err)
	}

	memberships, err := reg.ListMemberships(ctx, "pu_1")
	if err != nil {
		t.Fatal(err)
	}
	if len(memberships) != 1 || memberships[0].TenantID != "t-2" {
		t.Fatalf("memberships after delete = %+v", memberships)
	}
	user, _ := reg.GetPlatformUser(ctx, "pu_1")
	if user == nil {
		t.Fatal("platform user must survive tenant deletion")
	}
	if user.DefaultTenantID != "" {
		t.Fatalf("default tenant = %q, want cleared", user.DefaultTenantID)
	}
	sub, _ := reg.GetTenantSubscription(ctx, "t-1")
	if sub != nil {
		t.Fatal("subscription should cascade with tenant")
	}

	if err := reg.DeletePlatformUser(ctx, "pu_1"); err != nil {
		t.Fatalf("DeletePlatformUser: %v", err)
	}
	users, _ := reg.ListTenantUsers(ctx, "t-2")
	if len(users) != 0 {
		t.Fatalf("memberships should cascade with person, got %d", len(users))
	}
}

func TestSignupSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)
	now := time.Now().UTC().Truncate(time.Second)

	s := &SignupSession{
		ID:        "01SESSION",
		PlanID:    "club-basic",
		Email:     "a@x.com",
		State:     SessionStateStarted,
		ExpiresAt: now.Add(24 * time.Hour),
	}
	if err := reg.CreateSignupSession(ctx, s); err != nil {
		t.Fatalf("CreateSignupSession: %v", err)
	}

	found, err := reg.FindResumableSession(ctx, "a@x.com", now)
	if err != nil || found == nil || found.ID != s.ID {
		t.Fatalf("FindResumableSession = %+v, %v", found, err)
	}
	expired, _ := reg.FindResumableSession(ctx, "a@x.com", now.Add(25*time.Hour))
	if expired != nil {
		t.Fatal("expired session must not be resumable")
	}

	s.State = SessionStateUserCreated
	s.IdentityID = "id_1"
	if err := reg.UpdateSignupSession(ctx, s, SessionStateStarted); err != nil {
		t.Fatalf("UpdateSignupSession: %v", err)
	}

	// Replaying the same compare-and-set must fail.
	if err := reg.UpdateSignupSession(ctx, s, SessionStateStarted); !errors.Is(err, ErrStaleState) {
		t.Fatalf("stale update err = %v, want ErrStaleState", err)
	}

	s.CheckoutSessionID = "cs_test_1"
	s.State = SessionStateBillingStarted
	if err := reg.UpdateSignupSession(ctx, s, SessionStateUserCreated); err != nil {
		t.Fatal(err)
	}
	byCheckout, err := reg.GetSignupSessionByCheckoutID(ctx, "cs_test_1")
	if err != nil || byCheckout == nil || byCheckout.ID != s.ID {
		t.Fatalf("GetSignupSessionByCheckoutID = %+v, %v", byCheckout, err)
	}
	pending, _ := reg.ListPendingSessions(ctx, s.LastActivityAt)
	if len(pending) != 1 {
		t.Fatalf("ListPendingSessions = %d", len(pending))
	}
	pending, _ = reg.ListPendingSessions(ctx, s.LastActivityAt.Add(PendingSessionHorizon+time.Second))
	if len(pending) != 0 {
		t.Fatalf("ListPendingSessions past the horizon = %d, want 0", len(pending))
	}

	completed := now
	s.State = SessionStateCompleted
	s.CompletedAt = &completed
	if err := reg.UpdateSignupSession(ctx, s, SessionStateBillingStarted); err != nil {
		t.Fatal(err)
	}
	got, _ := reg.GetSignupSession(ctx, s.ID)
	if got.CompletedAt == nil || !got.CompletedAt.Equal(completed) {
		t.Fatalf("CompletedAt = %v, want %v", got.CompletedAt, completed)
	}
	if again, _ := reg.FindResumableSession(ctx, "a@x.com", now); again != nil {
		t.Fatal("completed session must not be resumable")
	}
}

func TestSignupSessionExpiredAt(t *testing.T) {
	now := time.Now()
	s := &SignupSession{State: SessionStateStarted, ExpiresAt: now}
	if !s.ExpiredAt(now) {
		t.Fatal("session should be expired at its expiry instant")
	}
	if s.ExpiredAt(now.Add(-time.Second)) {
		t.Fatal("session should not be expired before expiry")
	}
	s.State = SessionStateCompleted
	if s.ExpiredAt(now.Add(time.Hour)) {
		t.Fatal("completed sessions never expire")
	}
}

func TestUpsertTenantSubscriptionKeepsSingleRow(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)
	mustCreateTenant(t, reg, "t-1", "one")

	start := time.Unix(1_700_000_000, 0).UTC()
	first, err := reg.UpsertTenantSubscription(ctx, &TenantSubscription{
		TenantID: "t-1", ProviderSubscriptionID: "sub_1", ProviderCustomerID: "cus_1",
		Status: SubscriptionStatusActive, CurrentPeriodStart: start, CurrentPeriodEnd: start.Add(30 * 24 * time.Hour), AutoRenew: true,
	})
	if err != nil {
		t.Fatalf("UpsertTenantSubscription: %v", err)
	}

	second, err := reg.UpsertTenantSubscription(ctx, &TenantSubscription{
		TenantID: "t-1", ProviderSubscriptionID: "sub_2", ProviderCustomerID: "cus_1",
		Status: SubscriptionStatusTrialing, CurrentPeriodStart: start, CurrentPeriodEnd: start.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("UpsertTenantSubscription again: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("upsert replaced row id %q -> %q", first.ID, second.ID)
	}
	if second.ProviderSubscriptionID != "sub_2" || second.Status != SubscriptionStatusTrialing || second.AutoRenew {
		t.Fatalf("billing fields not overwritten: %+v", second)
	}

	all, _ := reg.ListTenantSubscriptions(ctx)
	if len(all) != 1 {
		t.Fatalf("subscriptions = %d, want 1", len(all))
	}

	outcome, err := reg.UpdateSubscriptionMirror(ctx, "sub_2", SubscriptionMirror{
		Status: SubscriptionStatusPastDue, PeriodStart: start, PeriodEnd: start.Add(2 * time.Hour), AutoRenew: true,
	})
	if err != nil || outcome != MirrorApplied {
		t.Fatalf("UpdateSubscriptionMirror = %v, %v", outcome, err)
	}
	got, _ := reg.GetSubscriptionByProviderID(ctx, "sub_2")
	if got.Status != SubscriptionStatusPastDue || !got.AutoRenew {
		t.Fatalf("mirror = %+v", got)
	}
	outcome, _ = reg.UpdateSubscriptionMirror(ctx, "sub_unknown", SubscriptionMirror{Status: SubscriptionStatusActive})
	if outcome != MirrorUnlinked {
		t.Fatalf("unknown subscription outcome = %q, want %q", outcome, MirrorUnlinked)
	}
}

func TestUpdateSubscriptionMirrorSkipsOlderEvents(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)
	mustCreateTenant(t, reg, "t-1", "one")

	oct := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	nov := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)
	if _, err := reg.UpsertTenantSubscription(ctx, &TenantSubscription{
		TenantID: "t-1", ProviderSubscriptionID: "sub_1", Status: SubscriptionStatusActive,
		CurrentPeriodStart: oct, CurrentPeriodEnd: nov, ProviderEventAt: oct,
	}); err != nil {
		t.Fatalf("UpsertTenantSubscription: %v", err)
	}

	renewed := SubscriptionMirror{
		Status: SubscriptionStatusActive, PeriodStart: nov, PeriodEnd: nov.AddDate(0, 1, 0),
		AutoRenew: true, EventAt: nov.Add(time.Minute),
	}
	if outcome, err := reg.UpdateSubscriptionMirror(ctx, "sub_1", renewed); err != nil || outcome != MirrorApplied {
		t.Fatalf("renewal = %v, %v", outcome, err)
	}

	// A past_due notice from the October period arrives late.
	late := SubscriptionMirror{
		Status: SubscriptionStatusPastDue, PeriodStart: oct, PeriodEnd: nov,
		EventAt: oct.Add(20 * 24 * time.Hour),
	}
	outcome, err := reg.UpdateSubscriptionMirror(ctx, "sub_1", late)
	if err != nil || outcome != MirrorStale {
		t.Fatalf("late update = %v, %v, want %q", outcome, err, MirrorStale)
	}

	got, _ := reg.GetSubscriptionByProviderID(ctx, "sub_1")
	if got.Status != SubscriptionStatusActive || !got.CurrentPeriodEnd.Equal(nov.AddDate(0, 1, 0)) {
		t.Fatalf("mirror after late update = %+v", got)
	}
	if !got.ProviderEventAt.Equal(nov.Add(time.Minute)) {
		t.Fatalf("provider_event_at = %v", got.ProviderEventAt)
	}
}

func TestRunInTxRollsBack(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)

	boom := errors.New("boom")
	err := reg.RunInTx(ctx, func(ctx context.Context) error {
		if err := reg.CreateTenant(ctx, &Tenant{ID: "t-1", Subdomain: "one"}); err != nil {
			return err
		}
		// Nested calls join the outer transaction.
		if err := reg.RunInTx(ctx, func(ctx context.Context) error {
			return reg.CreateTenant(ctx, &Tenant{ID: "t-2", Subdomain: "two"})
		}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("RunInTx err = %v, want boom", err)
	}

	tenants, err := reg.ListTenants(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(tenants) != 0 {
		t.Fatalf("expected rollback, found %d tenants", len(tenants))
	}
}

func TestRunInTxCommits(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)

	err := reg.RunInTx(ctx, func(ctx context.Context) error {
		return reg.CreateTenant(ctx, &Tenant{ID: "t-1", Subdomain: "one"})
	})
	if err != nil {
		t.Fatalf("RunInTx: %v", err)
	}
	got, _ := reg.GetTenant(ctx, "t-1")
	if got == nil {
		t.Fatal("tenant not committed")
	}
}

func TestRebind(t *testing.T) {
	pg := &Registry{dialect: DialectPostgres}
	if got := pg.rebind("SELECT a FROM t WHERE x = ? AND y IN (?, ?)"); got != "SELECT a FROM t WHERE x = $1 AND y IN ($2, $3)" {
		t.Fatalf("rebind = %q", got)
	}
	if got := pg.forUpdate("SELECT 1"); got != "SELECT 1 FOR UPDATE" {
		t.Fatalf("forUpdate = %q", got)
	}

	lite := &Registry{dialect: DialectSQLite}
	if got := lite.rebind("x = ?"); got != "x = ?" {
		t.Fatalf("sqlite rebind = %q", got)
	}
	if got := lite.forUpdate("SELECT 1"); got != "SELECT 1" {
		t.Fatalf("sqlite forUpdate = %q", got)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "mysql"}); err == nil {
		t.Fatal("expected error for unknown driver")
	}
	if _, err := Open(Config{Driver: DialectPostgres}); err == nil {
		t.Fatal("expected error for postgres without DSN")
	}
}
