package cloudcp

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rcourtman/clubcloud/internal/cloudcp/cpmetrics"
	"github.com/rcourtman/clubcloud/internal/cloudcp/registry"
)

const tenantStatusMetricsInterval = 30 * time.Second

func runTenantStatusMetrics(ctx context.Context, reg *registry.Registry) {
	ticker := time.NewTicker(tenantStatusMetricsInterval)
	defer ticker.Stop()

	// Prime once at startup so /metrics isn't empty for this gauge.
	updateTenantStatusGauges(ctx, reg)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateTenantStatusGauges(ctx, reg)
		}
	}
}

func updateTenantStatusGauges(ctx context.Context, reg *registry.Registry) {
	counts, err := reg.CountByStatus(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to update tenant status metrics")
		return
	}

	seen := make(map[registry.TenantStatus]struct{}, len(counts))

	// Ensure stable label set for known statuses.
	for _, status := range registry.KnownTenantStatuses {
		seen[status] = struct{}{}
		cpmetrics.TenantsByStatus.WithLabelValues(string(status)).Set(float64(counts[status]))
	}

	// Record any unexpected statuses too (bounded by DB content).
	for status, c := range counts {
		if _, ok := seen[status]; ok {
			continue
		}
		cpmetrics.TenantsByStatus.WithLabelValues(string(status)).Set(float64(c))
	}
}
