package cloudcp

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rcourtman/clubcloud/internal/cloudcp/cpmetrics"
	"github.com/rcourtman/clubcloud/internal/cloudcp/directory"
	"github.com/rcourtman/clubcloud/internal/cloudcp/registry"
)

const (
	defaultOrphanSweepInterval = 15 * time.Minute
	defaultOrphanGrace         = time.Hour
)

// OrphanSweepConfig tunes the orphaned directory entry sweep.
type OrphanSweepConfig struct {
	Interval time.Duration
	// Grace skips entries younger than this, so a tenant creation still in
	// flight is never mistaken for an orphan.
	Grace time.Duration
	// Delete removes orphans; otherwise they are only reported.
	Delete bool
}

// OrphanSweeper finds directory entries whose tenant never made it into the
// registry (a failed compensating removal) or that point at a tenant now
// holding a different subdomain.
type OrphanSweeper struct {
	dir      directory.Directory
	registry *registry.Registry
	cfg      OrphanSweepConfig
	now      func() time.Time
}

// NewOrphanSweeper creates a sweep job.
func NewOrphanSweeper(dir directory.Directory, reg *registry.Registry, cfg OrphanSweepConfig) *OrphanSweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultOrphanSweepInterval
	}
	if cfg.Grace < 0 {
		cfg.Grace = defaultOrphanGrace
	}
	return &OrphanSweeper{
		dir:      dir,
		registry: reg,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run starts the sweep loop. It blocks until ctx is cancelled.
func (s *OrphanSweeper) Run(ctx context.Context) {
	log.Info().
		Dur("interval", s.cfg.Interval).
		Bool("delete", s.cfg.Delete).
		Msg("Directory orphan sweep started")

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Directory orphan sweep stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep runs one pass and returns the orphans still present afterwards.
func (s *OrphanSweeper) sweep(ctx context.Context) int {
	entries, err := s.dir.List(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Directory orphan sweep: failed to list entries")
		return 0
	}

	cutoff := s.now().Add(-s.cfg.Grace)
	remaining := 0

	for _, entry := range entries {
		if ctx.Err() != nil {
			return remaining
		}
		if !entry.CreatedAt.IsZero() && entry.CreatedAt.After(cutoff) {
			continue // Still within the creation window
		}

		tenant, err := s.registry.GetTenant(ctx, entry.TenantID)
		if err != nil {
			log.Error().Err(err).Str("tenant_id", entry.TenantID).Msg("Directory orphan sweep: failed to read tenant")
			continue
		}
		if tenant != nil && tenant.Subdomain == entry.Subdomain {
			continue
		}

		logger := log.Warn().
			Str("subdomain", entry.Subdomain).
			Str("tenant_id", entry.TenantID).
			Bool("tenant_exists", tenant != nil)

		if !s.cfg.Delete {
			remaining++
			logger.Msg("Orphaned directory entry found")
			continue
		}
		if err := s.dir.Remove(ctx, entry.Subdomain, entry.TenantID); err != nil {
			remaining++
			log.Error().Err(err).Str("subdomain", entry.Subdomain).Msg("Directory orphan sweep: failed to remove entry")
			continue
		}
		cpmetrics.DirectoryCompensationsTotal.WithLabelValues("swept").Inc()
		logger.Msg("Orphaned directory entry removed")
	}

	cpmetrics.DirectoryOrphans.Set(float64(remaining))
	return remaining
}
