package cloudcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/rcourtman/clubcloud/internal/cloudcp/admin"
	"github.com/rcourtman/clubcloud/internal/cloudcp/auth"
	"github.com/rcourtman/clubcloud/internal/cloudcp/directory"
	"github.com/rcourtman/clubcloud/internal/cloudcp/email"
	"github.com/rcourtman/clubcloud/internal/cloudcp/health"
	"github.com/rcourtman/clubcloud/internal/cloudcp/events"
	"github.com/rcourtman/clubcloud/internal/cloudcp/identity"
	"github.com/rcourtman/clubcloud/internal/cloudcp/onboarding"
	"github.com/rcourtman/clubcloud/internal/cloudcp/registry"
	cpstripe "github.com/rcourtman/clubcloud/internal/cloudcp/stripe"
	"github.com/rcourtman/clubcloud/internal/logging"
)

const rateLimiterPruneInterval = 5 * time.Minute

// Run starts the control plane HTTP server with graceful shutdown.
func Run(ctx context.Context, version string) error {
	if err := logging.Init(logging.Config{
		Format:    envOrDefault("LOG_FORMAT", logging.FormatAuto),
		Level:     envOrDefault("LOG_LEVEL", "info"),
		Component: "control-plane",
	}); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}

	log.Info().Str("version", version).Msg("Starting clubcloud control plane")

	cfg, err := LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Ensure data directories exist
	if err := os.MkdirAll(cfg.ControlPlaneDir(), 0o755); err != nil {
		return fmt.Errorf("create control-plane dir: %w", err)
	}

	reg, err := registry.Open(registry.Config{
		Driver: cfg.DBDriver,
		Dir:    cfg.ControlPlaneDir(),
		DSN:    cfg.DatabaseURL,
	})
	if err != nil {
		return fmt.Errorf("open membership registry: %w", err)
	}
	defer reg.Close()

	dir, err := openDirectory(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open tenant directory: %w", err)
	}
	defer dir.Close()

	identities, err := identity.NewStore(cfg.IdentityDir())
	if err != nil {
		return fmt.Errorf("open identity store: %w", err)
	}
	defer identities.Close()

	resumeLinks, err := auth.NewService(cfg.ResumeLinkDir())
	if err != nil {
		return fmt.Errorf("open resume link store: %w", err)
	}
	defer resumeLinks.Close()

	var publisher events.Publisher = events.LogPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		log.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("Lifecycle events publishing to Kafka")
	} else {
		log.Info().Msg("Lifecycle events: log-only (set CC_KAFKA_BROKERS to enable)")
	}
	defer publisher.Close()

	billingClient := cpstripe.NewClient(cfg.StripeAPIKey)

	sender := newEmailSender(cfg)

	oc, err := cfg.OnboardingConfig()
	if err != nil {
		return fmt.Errorf("signup config: %w", err)
	}
	orch, err := onboarding.New(onboarding.Deps{
		Registry:   reg,
		Directory:  dir,
		Identities: identities,
		Billing:    billingClient,
		Events:     publisher,
		Notifier:   email.NewActivationNotifier(sender, cfg.EmailFrom, cfg.TenantDomain),
	}, oc)
	if err != nil {
		return fmt.Errorf("init signup orchestrator: %w", err)
	}

	signupLimiter := NewCPRateLimiter(60, time.Minute)
	webhookLimiter := NewCPRateLimiter(120, time.Minute)
	clubLimiter := NewCPRateLimiter(120, time.Minute)
	handler := NewHandler(&Deps{
		Config:        cfg,
		Registry:      reg,
		Signup:        orch,
		Subscriptions: billingClient,
		Identities:    identities,
		ResumeLinks:   resumeLinks,
		Email:         sender,
		Stores: map[string]admin.Pinger{
			"registry":  reg,
			"directory": dir,
			"identity":  identities,
			"resume":    resumeLinks,
		},
		Version:        version,
		SignupLimiter:  signupLimiter,
		WebhookLimiter: webhookLimiter,
		ClubLimiter:    clubLimiter,
	})

	addr := fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Create derived context for background goroutines
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	graceEnforcer := cpstripe.NewGraceEnforcer(reg)
	g.Go(func() error { graceEnforcer.Run(gctx); return nil })

	sweeper := NewOrphanSweeper(dir, reg, OrphanSweepConfig{
		Interval: cfg.OrphanSweepInterval,
		Grace:    cfg.OrphanSweepGrace,
		Delete:   cfg.OrphanSweepDelete,
	})
	g.Go(func() error { sweeper.Run(gctx); return nil })

	routes := health.NewMonitor(reg, dir, health.MonitorConfig{
		Interval: cfg.RouteCheckInterval,
		Repair:   cfg.RouteRepair,
	})
	g.Go(func() error { routes.Run(gctx); return nil })

	poller := NewPendingPoller(reg, orch, cfg.PendingPollInterval)
	g.Go(func() error { poller.Run(gctx); return nil })

	g.Go(func() error { runTenantStatusMetrics(gctx, reg); return nil })
	g.Go(func() error { runLimiterPrune(gctx, signupLimiter, webhookLimiter, clubLimiter); return nil })

	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("Control plane listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen on %s: %w", addr, err)
		}
		return nil
	})

	// Signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	g.Go(func() error {
		select {
		case <-gctx.Done():
			log.Info().Msg("Context cancelled, shutting down...")
		case sig := <-sigChan:
			log.Info().Str("signal", sig.String()).Msg("Received signal, shutting down...")
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server shutdown error")
		}
		cancel()
		return nil
	})

	err = g.Wait()
	log.Info().Msg("Control plane stopped")
	return err
}

func openDirectory(ctx context.Context, cfg *CPConfig) (directory.Directory, error) {
	switch cfg.DirectoryBackend {
	case DirectoryBackendRedis:
		d := directory.NewRedisDirectory(directory.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := d.Ping(pingCtx); err != nil {
			_ = d.Close()
			return nil, fmt.Errorf("ping redis at %s: %w", cfg.RedisAddr, err)
		}
		log.Info().Str("addr", cfg.RedisAddr).Msg("Tenant directory backed by Redis")
		return d, nil
	default:
		return directory.NewSQLiteDirectory(cfg.DirectoryDir())
	}
}

func newEmailSender(cfg *CPConfig) email.Sender {
	if cfg.ResendAPIKey != "" {
		log.Info().Msg("Email sender configured (Resend)")
		return email.NewResendSender(cfg.ResendAPIKey)
	}
	log.Info().Msg("Email sender: log-only (set RESEND_API_KEY to enable)")
	return email.NewLogSender(func(to, subject, body string) {
		const maxBody = 4096
		bodyForLog := body
		if len(bodyForLog) > maxBody {
			bodyForLog = bodyForLog[:maxBody] + "...(truncated)"
		}
		log.Info().
			Str("to", to).
			Str("subject", subject).
			Str("body", bodyForLog).
			Msg("Email (log-only, no email provider configured)")
	})
}

func runLimiterPrune(ctx context.Context, limiters ...*CPRateLimiter) {
	ticker := time.NewTicker(rateLimiterPruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, l := range limiters {
				l.Prune()
			}
		}
	}
}
