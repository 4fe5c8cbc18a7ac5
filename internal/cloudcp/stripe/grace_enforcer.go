package stripe

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rcourtman/clubcloud/internal/cloudcp/registry"
)

const (
	graceCheckInterval = 1 * time.Hour
	maxGraceDays       = 14
)

// GraceEnforcer periodically applies the mirrored subscription status to
// tenants: cancelled subscriptions cancel the tenant and past_due ones older
// than maxGraceDays suspend it. It never makes a tenant active; recovery goes
// through subscription sync in the activation reconciler.
type GraceEnforcer struct {
	registry *registry.Registry
	now      func() time.Time
}

// NewGraceEnforcer creates a GraceEnforcer.
func NewGraceEnforcer(reg *registry.Registry) *GraceEnforcer {
	return &GraceEnforcer{registry: reg, now: func() time.Time { return time.Now().UTC() }}
}

// Run starts the enforcement loop. It blocks until ctx is cancelled.
func (g *GraceEnforcer) Run(ctx context.Context) {
	log.Info().Msg("Grace period enforcer started")

	ticker := time.NewTicker(graceCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Grace period enforcer stopped")
			return
		case <-ticker.C:
			g.enforce(ctx)
		}
	}
}

// enforce applies one pass and returns the number of tenants changed.
func (g *GraceEnforcer) enforce(ctx context.Context) int {
	subs, err := g.registry.ListTenantSubscriptions(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Grace enforcer: failed to list subscriptions")
		return 0
	}

	cutoff := g.now().Add(-time.Duration(maxGraceDays) * 24 * time.Hour)
	changed := 0
	for _, sub := range subs {
		if ctx.Err() != nil {
			return changed
		}
		tenant, err := g.registry.GetTenant(ctx, sub.TenantID)
		if err != nil || tenant == nil {
			continue
		}

		target := targetStatus(tenant.Status, sub, cutoff)
		if target == tenant.Status {
			continue
		}

		log.Warn().
			Str("tenant_id", tenant.ID).
			Str("subscription_id", sub.ProviderSubscriptionID).
			Str("subscription_status", string(sub.Status)).
			Str("from", string(tenant.Status)).
			Str("to", string(target)).
			Msg("Grace enforcer: changing tenant status")

		if err := g.registry.UpdateTenantStatus(ctx, tenant.ID, target); err != nil {
			log.Error().Err(err).Str("tenant_id", tenant.ID).Msg("Grace enforcer: failed to update tenant")
			continue
		}
		changed++
	}
	return changed
}

func targetStatus(current registry.TenantStatus, sub *registry.TenantSubscription, cutoff time.Time) registry.TenantStatus {
	switch current {
	case registry.TenantStatusPendingActivation, registry.TenantStatusCancelled:
		return current
	}
	switch sub.Status {
	case registry.SubscriptionStatusCancelled:
		return registry.TenantStatusCancelled
	case registry.SubscriptionStatusPastDue:
		if current == registry.TenantStatusActive && sub.UpdatedAt.Before(cutoff) {
			return registry.TenantStatusSuspended
		}
	}
	return current
}
