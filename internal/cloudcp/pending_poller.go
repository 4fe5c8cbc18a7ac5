package cloudcp

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rcourtman/clubcloud/internal/cloudcp/onboarding"
	"github.com/rcourtman/clubcloud/internal/cloudcp/registry"
)

const (
	defaultPendingPollInterval = 2 * time.Minute
	// pendingPollMinAge leaves a freshly issued checkout to its webhook first.
	pendingPollMinAge = time.Minute
)

// Reconciler verifies a pending session's payment with the billing provider.
type Reconciler interface {
	Reconcile(ctx context.Context, sessionID string) onboarding.ReconcileOutcome
}

// PendingPoller is the server-side polling fallback: it reconciles every
// session waiting on billing confirmation, covering lost webhooks when the
// customer never returns to the pending page. Sessions idle for longer than
// registry.PendingSessionHorizon are left alone.
type PendingPoller struct {
	registry   *registry.Registry
	reconciler Reconciler
	interval   time.Duration
	now        func() time.Time
}

// NewPendingPoller creates a poller.
func NewPendingPoller(reg *registry.Registry, reconciler Reconciler, interval time.Duration) *PendingPoller {
	if interval <= 0 {
		interval = defaultPendingPollInterval
	}
	return &PendingPoller{
		registry:   reg,
		reconciler: reconciler,
		interval:   interval,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Run starts the poll loop. It blocks until ctx is cancelled.
func (p *PendingPoller) Run(ctx context.Context) {
	log.Info().Dur("interval", p.interval).Msg("Pending signup poller started")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Pending signup poller stopped")
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

// poll reconciles each eligible pending session and returns outcome counts.
func (p *PendingPoller) poll(ctx context.Context) map[onboarding.ReconcileOutcome]int {
	now := p.now()
	sessions, err := p.registry.ListPendingSessions(ctx, now)
	if err != nil {
		log.Error().Err(err).Msg("Pending signup poller: failed to list sessions")
		return nil
	}

	cutoff := now.Add(-pendingPollMinAge)
	outcomes := make(map[onboarding.ReconcileOutcome]int)
	for _, s := range sessions {
		if ctx.Err() != nil {
			break
		}
		if s.LastActivityAt.After(cutoff) {
			continue
		}
		outcomes[p.reconciler.Reconcile(ctx, s.ID)]++
	}

	if n := outcomes[onboarding.OutcomeActivated]; n > 0 || outcomes[onboarding.OutcomeError] > 0 {
		log.Info().
			Int("activated", n).
			Int("pending", outcomes[onboarding.OutcomePending]).
			Int("errors", outcomes[onboarding.OutcomeError]).
			Msg("Pending signup poll complete")
	}
	return outcomes
}
