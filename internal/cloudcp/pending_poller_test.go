package cloudcp

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcourtman/clubcloud/internal/cloudcp/onboarding"
	"github.com/rcourtman/clubcloud/internal/cloudcp/registry"
)

type recordingReconciler struct {
	mu       sync.Mutex
	calls    []string
	outcomes map[string]onboarding.ReconcileOutcome
}

func (r *recordingReconciler) Reconcile(_ context.Context, sessionID string) onboarding.ReconcileOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, sessionID)
	if o, ok := r.outcomes[sessionID]; ok {
		return o
	}
	return onboarding.OutcomePending
}

func TestPendingPollerReconcilesStaleSessions(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	now := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)

	sessions := []*registry.SignupSession{
		{ID: "01JOLDPAID", State: registry.SessionStateBillingStarted, CheckoutSessionID: "cs_1", LastActivityAt: now.Add(-10 * time.Minute)},
		{ID: "01JOLDOPEN", State: registry.SessionStateBillingStarted, CheckoutSessionID: "cs_2", LastActivityAt: now.Add(-5 * time.Minute)},
		{ID: "01JFRESH", State: registry.SessionStateBillingStarted, CheckoutSessionID: "cs_3", LastActivityAt: now.Add(-10 * time.Second)},
		{ID: "01JEARLY", State: registry.SessionStateTenantCreated, LastActivityAt: now.Add(-time.Hour)},
	}
	for _, s := range sessions {
		s.PlanID = "club-monthly"
		s.Email = s.ID + "@example.com"
		s.ExpiresAt = now.Add(time.Hour)
		require.NoError(t, reg.CreateSignupSession(ctx, s))
	}

	rec := &recordingReconciler{outcomes: map[string]onboarding.ReconcileOutcome{
		"01JOLDPAID": onboarding.OutcomeActivated,
	}}
	p := NewPendingPoller(reg, rec, time.Minute)
	p.now = func() time.Time { return now }

	outcomes := p.poll(ctx)
	assert.ElementsMatch(t, []string{"01JOLDPAID", "01JOLDOPEN"}, rec.calls)
	assert.Equal(t, 1, outcomes[onboarding.OutcomeActivated])
	assert.Equal(t, 1, outcomes[onboarding.OutcomePending])
}

func TestPendingPollerSkipsAbandonedSessions(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	now := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)

	sessions := []*registry.SignupSession{
		{ID: "01JABANDONED", State: registry.SessionStateBillingStarted, CheckoutSessionID: "cs_old",
			LastActivityAt: now.AddDate(0, 0, -90), ExpiresAt: now.AddDate(0, 0, -89)},
		{ID: "01JLATEPAYER", State: registry.SessionStateExpired, CheckoutSessionID: "cs_late",
			LastActivityAt: now.Add(-30 * time.Hour), ExpiresAt: now.Add(-6 * time.Hour)},
		{ID: "01JNOCHECKOUT", State: registry.SessionStateExpired,
			LastActivityAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour)},
	}
	for _, s := range sessions {
		s.PlanID = "club-monthly"
		s.Email = s.ID + "@example.com"
		require.NoError(t, reg.CreateSignupSession(ctx, s))
	}

	rec := &recordingReconciler{}
	p := NewPendingPoller(reg, rec, time.Minute)
	p.now = func() time.Time { return now }

	for range 3 {
		p.poll(ctx)
	}
	// A checkout issued within the horizon may still be paid even after the
	// signup session itself expired.
	assert.Equal(t, []string{"01JLATEPAYER", "01JLATEPAYER", "01JLATEPAYER"}, rec.calls)
}
