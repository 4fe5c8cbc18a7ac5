package onboarding

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/rcourtman/clubcloud/internal/cloudcp/billing"
	"github.com/rcourtman/clubcloud/internal/cloudcp/directory"
	"github.com/rcourtman/clubcloud/internal/cloudcp/events"
	"github.com/rcourtman/clubcloud/internal/cloudcp/identity"
	"github.com/rcourtman/clubcloud/internal/cloudcp/registry"
)

const (
	testPlanID   = "club-monthly"
	testPriceID  = "price_monthly"
	testPassword = "correct-horse-battery"
)

type fakeBilling struct {
	mu        sync.Mutex
	seq       int
	checkouts map[string]*billing.CheckoutSession
	subs      map[string]*billing.Subscription
	accounts  map[string]*billing.MerchantAccount
	created   []billing.CheckoutRequest
	getCalls  int
	createErr error
	getErr    error
	subErr    error
}

func newFakeBilling() *fakeBilling {
	return &fakeBilling{
		checkouts: make(map[string]*billing.CheckoutSession),
		subs:      make(map[string]*billing.Subscription),
		accounts:  make(map[string]*billing.MerchantAccount),
	}
}

func (f *fakeBilling) CreateCheckoutSession(_ context.Context, req billing.CheckoutRequest) (*billing.CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.seq++
	id := fmt.Sprintf("cs_test_%d", f.seq)
	cs := &billing.CheckoutSession{
		ID:            id,
		URL:           "https://checkout.example.com/" + id,
		Open:          true,
		PaymentStatus: billing.PaymentStatusUnpaid,
		Metadata:      maps.Clone(req.Metadata),
	}
	f.checkouts[id] = cs
	f.created = append(f.created, req)
	out := *cs
	return &out, nil
}

func (f *fakeBilling) GetCheckoutSession(_ context.Context, id string) (*billing.CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if f.getErr != nil {
		return nil, f.getErr
	}
	cs, ok := f.checkouts[id]
	if !ok {
		return nil, fmt.Errorf("checkout %s: %w", id, billing.ErrCheckoutNotFound)
	}
	out := *cs
	return &out, nil
}

func (f *fakeBilling) GetSubscription(_ context.Context, id string) (*billing.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subErr != nil {
		return nil, f.subErr
	}
	sub, ok := f.subs[id]
	if !ok {
		return nil, fmt.Errorf("no such subscription: %s", id)
	}
	out := *sub
	return &out, nil
}

func (f *fakeBilling) GetMerchantAccount(_ context.Context, id string) (*billing.MerchantAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	acct, ok := f.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", id, billing.ErrMerchantAccountNotFound)
	}
	out := *acct
	return &out, nil
}

// pay marks a checkout as paid by a new subscription on priceID.
func (f *fakeBilling) pay(checkoutID, subID, priceID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cs := f.checkouts[checkoutID]
	cs.Open = false
	cs.PaymentStatus = billing.PaymentStatusPaid
	cs.SubscriptionID = subID
	cs.CustomerID = "cus_" + subID
	start := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	f.subs[subID] = &billing.Subscription{
		ID:         subID,
		CustomerID: "cus_" + subID,
		Status:     "active",
		Items: []billing.SubscriptionItem{{
			PriceID:            priceID,
			CurrentPeriodStart: start,
			CurrentPeriodEnd:   start.AddDate(0, 1, 0),
		}},
	}
}

func (f *fakeBilling) expire(checkoutID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkouts[checkoutID].Open = false
}

// forget drops a checkout, as when the provider purges or never had it.
func (f *fakeBilling) forget(checkoutID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.checkouts, checkoutID)
}

func (f *fakeBilling) createdCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

// flakyDirectory wraps a real directory with injectable failures.
type flakyDirectory struct {
	directory.Directory
	registerErr error
	onRegister  func(subdomain string)
	removed     []string
}

func (d *flakyDirectory) Register(ctx context.Context, subdomain, tenantID string) error {
	if d.registerErr != nil {
		return d.registerErr
	}
	if err := d.Directory.Register(ctx, subdomain, tenantID); err != nil {
		return err
	}
	if d.onRegister != nil {
		d.onRegister(subdomain)
	}
	return nil
}

func (d *flakyDirectory) Remove(ctx context.Context, subdomain, tenantID string) error {
	d.removed = append(d.removed, subdomain)
	return d.Directory.Remove(ctx, subdomain, tenantID)
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []string
}

func (n *recordingNotifier) NotifyTenantActivated(_ context.Context, t *registry.Tenant, email string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, t.ID+"|"+email)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.notices)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	o        *Orchestrator
	reg      *registry.Registry
	dir      *flakyDirectory
	ids      *identity.Store
	bill     *fakeBilling
	notifier *recordingNotifier
	pub      *recordingPublisher
	clock    *clock
}

func newHarness(t *testing.T, mode Mode) *harness {
	t.Helper()
	ctx := context.Background()

	reg, err := registry.NewRegistry(t.TempDir())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	t.Cleanup(func() { _ = reg.Close() })

	sqliteDir, err := directory.NewSQLiteDirectory(t.TempDir())
	if err != nil {
		t.Fatalf("NewSQLiteDirectory: %v", err)
	}
	t.Cleanup(func() { _ = sqliteDir.Close() })

	ids, err := identity.NewStoreWithCost(t.TempDir(), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("NewStoreWithCost: %v", err)
	}
	t.Cleanup(func() { _ = ids.Close() })

	for _, p := range []*registry.Plan{
		{ID: testPlanID, Name: "Club Monthly", StripePriceID: testPriceID, Active: true},
		{ID: "club-annual", Name: "Club Annual", StripePriceID: "price_annual", Active: true},
		{ID: "legacy", Name: "Legacy", StripePriceID: "price_legacy", Active: false},
		{ID: "unpriced", Name: "Unpriced", Active: true},
	} {
		if err := reg.UpsertPlan(ctx, p); err != nil {
			t.Fatalf("UpsertPlan(%s): %v", p.ID, err)
		}
	}

	cfg, err := ConfigForMode(mode, "https://signup.example.com/")
	if err != nil {
		t.Fatalf("ConfigForMode: %v", err)
	}

	h := &harness{
		reg:      reg,
		dir:      &flakyDirectory{Directory: sqliteDir},
		ids:      ids,
		bill:     newFakeBilling(),
		notifier: &recordingNotifier{},
		pub:      &recordingPublisher{},
		clock:    &clock{now: time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)},
	}
	o, err := New(Deps{
		Registry:   reg,
		Directory:  h.dir,
		Identities: ids,
		Billing:    h.bill,
		Events:     h.pub,
		Notifier:   h.notifier,
	}, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	o.now = h.clock.Now
	h.o = o
	return h
}

// toTenant runs a signup up to tenant_created.
func (h *harness) toTenant(t *testing.T, email, subdomain string) *registry.SignupSession {
	t.Helper()
	ctx := context.Background()
	s, err := h.o.Start(ctx, StartRequest{PlanID: testPlanID, Email: email})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := h.o.CreateAdminIdentity(ctx, s.ID, AdminRequest{FirstName: "Ada", LastName: "Lovelace", Password: testPassword}); err != nil {
		t.Fatalf("CreateAdminIdentity: %v", err)
	}
	s, _, err = h.o.CreateTenant(ctx, s.ID, TenantRequest{DisplayName: "Club " + subdomain, Subdomain: subdomain})
	if err != nil {
		t.Fatalf("CreateTenant: %v", err)
	}
	return s
}

// toBilling runs a signup up to billing_started.
func (h *harness) toBilling(t *testing.T, email, subdomain string) *registry.SignupSession {
	t.Helper()
	s := h.toTenant(t, email, subdomain)
	res, err := h.o.InitiateBilling(context.Background(), s.ID)
	if err != nil {
		t.Fatalf("InitiateBilling: %v", err)
	}
	return res.Session
}

func (h *harness) session(t *testing.T, id string) *registry.SignupSession {
	t.Helper()
	s, err := h.reg.GetSignupSession(context.Background(), id)
	if err != nil || s == nil {
		t.Fatalf("GetSignupSession(%s) = %v, %v", id, s, err)
	}
	return s
}

func (h *harness) tenant(t *testing.T, id string) *registry.Tenant {
	t.Helper()
	tenant, err := h.reg.GetTenant(context.Background(), id)
	if err != nil || tenant == nil {
		t.Fatalf("GetTenant(%s) = %v, %v", id, tenant, err)
	}
	return tenant
}

func activationFor(s *registry.SignupSession, subID string) ActivationRequest {
	start := time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC)
	return ActivationRequest{
		SubscriptionID:    subID,
		CustomerID:        "cus_" + subID,
		PeriodStart:       start,
		PeriodEnd:         start.AddDate(0, 1, 0),
		CheckoutSessionID: s.CheckoutSessionID,
		SignupSessionID:   s.ID,
		AutoRenew:         true,
	}
}
