// Package health checks that every live tenant is still reachable through
// the subdomain directory.
package health

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rcourtman/clubcloud/internal/cloudcp/cpmetrics"
	"github.com/rcourtman/clubcloud/internal/cloudcp/directory"
	"github.com/rcourtman/clubcloud/internal/cloudcp/registry"
)

// Check outcomes, also used as metric labels.
const (
	ResultRouted   = "routed"
	ResultMissing  = "missing"
	ResultConflict = "conflict"
	ResultError    = "error"
	ResultRepaired = "repaired"
)

// MonitorConfig holds route monitor settings.
type MonitorConfig struct {
	Interval      time.Duration // how often to check (default 5m)
	Repair        bool          // re-register missing directory entries
	FailThreshold int           // consecutive misses before repair (default 2)
}

// TenantLister is the registry surface the monitor reads.
type TenantLister interface {
	ListTenantsByStatus(ctx context.Context, status registry.TenantStatus) ([]*registry.Tenant, error)
}

// Monitor periodically verifies that each live tenant's subdomain resolves
// to it and optionally restores entries that went missing.
type Monitor struct {
	tenants TenantLister
	dir     directory.Directory
	cfg     MonitorConfig

	mu       sync.Mutex
	failures map[string]int
}

// Report summarises one pass.
type Report struct {
	Checked  int `json:"checked"`
	Missing  int `json:"missing"`
	Conflict int `json:"conflict"`
	Repaired int `json:"repaired"`
}

// liveStatuses are the tenant statuses that must stay routable.
var liveStatuses = []registry.TenantStatus{
	registry.TenantStatusPendingActivation,
	registry.TenantStatusActive,
	registry.TenantStatusSuspended,
}

// NewMonitor creates a route monitor.
func NewMonitor(tenants TenantLister, dir directory.Directory, cfg MonitorConfig) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.FailThreshold <= 0 {
		cfg.FailThreshold = 2
	}
	return &Monitor{
		tenants:  tenants,
		dir:      dir,
		cfg:      cfg,
		failures: make(map[string]int),
	}
}

// Run starts the check loop. It blocks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	log.Info().
		Dur("interval", m.cfg.Interval).
		Bool("repair", m.cfg.Repair).
		Msg("Route monitor started")

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Route monitor stopped")
			return
		case <-ticker.C:
			m.CheckAll(ctx)
		}
	}
}

// CheckAll runs one pass over every live tenant.
func (m *Monitor) CheckAll(ctx context.Context) Report {
	var report Report
	seen := make(map[string]struct{})

	for _, status := range liveStatuses {
		tenants, err := m.tenants.ListTenantsByStatus(ctx, status)
		if err != nil {
			log.Error().Err(err).Str("status", string(status)).Msg("Route monitor: failed to list tenants")
			continue
		}
		for _, tenant := range tenants {
			if ctx.Err() != nil {
				return report
			}
			seen[tenant.ID] = struct{}{}
			report.Checked++

			switch m.check(ctx, tenant) {
			case ResultMissing:
				report.Missing++
			case ResultConflict:
				report.Conflict++
			case ResultRepaired:
				report.Repaired++
			}
		}
	}

	m.mu.Lock()
	for id := range m.failures {
		if _, ok := seen[id]; !ok {
			delete(m.failures, id)
		}
	}
	m.mu.Unlock()

	cpmetrics.UnroutedTenants.Set(float64(report.Missing + report.Conflict))
	return report
}

func (m *Monitor) check(ctx context.Context, tenant *registry.Tenant) string {
	result := m.resolve(ctx, tenant)
	cpmetrics.RouteCheckResults.WithLabelValues(result).Inc()

	m.mu.Lock()
	defer m.mu.Unlock()

	if result != ResultMissing {
		delete(m.failures, tenant.ID)
		return result
	}

	m.failures[tenant.ID]++
	logger := log.Warn().
		Str("tenant_id", tenant.ID).
		Str("subdomain", tenant.Subdomain).
		Int("consecutive_failures", m.failures[tenant.ID])

	if !m.cfg.Repair || m.failures[tenant.ID] < m.cfg.FailThreshold {
		logger.Msg("Tenant has no directory entry")
		return ResultMissing
	}

	if err := m.dir.Register(ctx, tenant.Subdomain, tenant.ID); err != nil {
		log.Error().Err(err).
			Str("tenant_id", tenant.ID).
			Str("subdomain", tenant.Subdomain).
			Msg("Route monitor: failed to restore directory entry")
		return ResultMissing
	}
	delete(m.failures, tenant.ID)
	cpmetrics.RouteCheckResults.WithLabelValues(ResultRepaired).Inc()
	logger.Msg("Directory entry restored")
	return ResultRepaired
}

func (m *Monitor) resolve(ctx context.Context, tenant *registry.Tenant) string {
	owner, err := m.dir.Resolve(ctx, tenant.Subdomain)
	switch {
	case errors.Is(err, directory.ErrNotFound):
		return ResultMissing
	case err != nil:
		log.Warn().Err(err).
			Str("tenant_id", tenant.ID).
			Str("subdomain", tenant.Subdomain).
			Msg("Route check error")
		return ResultError
	case owner != tenant.ID:
		// Another tenant holds the name; needs an operator, never auto-repaired.
		log.Error().
			Str("tenant_id", tenant.ID).
			Str("subdomain", tenant.Subdomain).
			Str("directory_tenant_id", owner).
			Msg("Subdomain routes to a different tenant")
		return ResultConflict
	default:
		return ResultRouted
	}
}
