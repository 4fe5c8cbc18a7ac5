package cloudcp

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rcourtman/clubcloud/internal/cloudcp/account"
	"github.com/rcourtman/clubcloud/internal/cloudcp/admin"
	"github.com/rcourtman/clubcloud/internal/cloudcp/auth"
	"github.com/rcourtman/clubcloud/internal/cloudcp/email"
	"github.com/rcourtman/clubcloud/internal/cloudcp/portal"
	"github.com/rcourtman/clubcloud/internal/cloudcp/registry"
	cpstripe "github.com/rcourtman/clubcloud/internal/cloudcp/stripe"
)

// Orchestrator is everything the HTTP surface needs from the signup flow.
type Orchestrator interface {
	SignupService
	cpstripe.Dispatcher
	admin.MerchantSyncer
}

// Deps holds shared dependencies injected into HTTP handlers.
type Deps struct {
	Config        *CPConfig
	Registry      *registry.Registry
	Signup        Orchestrator
	Subscriptions cpstripe.SubscriptionGetter
	Identities    account.Authenticator
	ResumeLinks   *auth.Service
	Email         email.Sender
	Stores        map[string]admin.Pinger // checked by /readyz
	Version       string
	// Per-IP limiters for the signup API, the webhook and the club API.
	// A nil limiter is replaced by a default one.
	SignupLimiter  *CPRateLimiter
	WebhookLimiter *CPRateLimiter
	ClubLimiter    *CPRateLimiter
}

func limiterOrDefault(rl *CPRateLimiter, limit int) *CPRateLimiter {
	if rl != nil {
		return rl
	}
	return NewCPRateLimiter(limit, time.Minute)
}

// RegisterRoutes wires all HTTP handlers onto the given ServeMux.
func RegisterRoutes(mux *http.ServeMux, deps *Deps) {
	adminAuth := func(next http.Handler) http.Handler {
		return admin.AdminKeyMiddleware(deps.Config.AdminKey, next)
	}

	// Health / readiness are unauthenticated liveness/readiness probes.
	mux.HandleFunc("/healthz", admin.HandleHealthz)
	mux.HandleFunc("/readyz", admin.HandleReadyz(deps.Stores))

	// Status and metrics are private by default.
	statusHandler := http.HandlerFunc(admin.HandleStatus(deps.Registry, deps.Version))
	if deps.Config.PublicStatus {
		mux.Handle("/status", statusHandler)
	} else {
		mux.Handle("/status", adminAuth(statusHandler))
	}
	mux.Handle("/metrics", adminAuth(promhttp.Handler()))

	// Stripe webhook (signature-authenticated)
	webhookHandler := cpstripe.NewWebhookHandler(deps.Config.StripeWebhookSecret, deps.Signup, deps.Subscriptions)
	webhookLimiter := limiterOrDefault(deps.WebhookLimiter, 120)
	mux.Handle("/api/stripe/webhook", webhookLimiter.Middleware(webhookHandler))

	// Public signup API (rate limited per client IP)
	signupLimiter := limiterOrDefault(deps.SignupLimiter, 60)
	limited := func(h http.HandlerFunc) http.Handler {
		return signupLimiter.Middleware(h)
	}
	signup := NewSignupHandlers(deps.Signup)
	mux.Handle("POST /api/signup/sessions", limited(signup.HandleStart))
	mux.Handle("GET /api/signup/sessions/{session_id}", limited(signup.HandleResume))
	mux.Handle("GET /api/signup/sessions/{session_id}/status", limited(signup.HandleStatus))
	mux.Handle("POST /api/signup/sessions/{session_id}/admin", limited(signup.HandleCreateAdmin))
	mux.Handle("POST /api/signup/sessions/{session_id}/tenant", limited(signup.HandleCreateTenant))
	mux.Handle("POST /api/signup/sessions/{session_id}/billing", limited(signup.HandleInitiateBilling))
	mux.Handle("GET /api/signup/subdomains/{subdomain}", limited(signup.HandleCheckSubdomain))
	if deps.ResumeLinks != nil && deps.Email != nil {
		mux.Handle("POST /api/signup/resume-link", limited(auth.HandleRequestResumeLink(
			deps.ResumeLinks, deps.Registry, deps.Email, deps.Config.EmailFrom, deps.Config.BaseURL)))
		mux.Handle("GET /api/signup/resume", limited(auth.HandleResumeLinkVerify(deps.ResumeLinks, deps.Signup)))
	}

	// Club API (member credentials, role-gated per club)
	if deps.Identities != nil {
		clubLimiter := limiterOrDefault(deps.ClubLimiter, 120)
		login := func(h http.Handler) http.Handler {
			return clubLimiter.Middleware(account.RequireLogin(deps.Identities, deps.Registry, h))
		}
		mux.Handle("GET /api/me/memberships", login(account.HandleMyMemberships(deps.Registry)))
		mux.Handle("GET /api/me/clubs", login(portal.HandleDashboard(deps.Registry)))
		mux.Handle("GET /api/clubs/{tenant_id}",
			login(account.RequireRole(deps.Registry, registry.RoleMember, portal.HandleClubDetail(deps.Registry))))
		mux.Handle("GET /api/clubs/{tenant_id}/members",
			login(account.RequireRole(deps.Registry, registry.RoleCoach, account.HandleListMembers(deps.Registry))))
		mux.Handle("PATCH /api/clubs/{tenant_id}/members/{user_id}",
			login(account.RequireRole(deps.Registry, registry.RoleAdmin, account.HandleUpdateMember(deps.Registry))))
	}

	// Admin API (key-authenticated)
	mux.Handle("GET /admin/tenants", adminAuth(admin.HandleListTenants(deps.Registry)))
	mux.Handle("GET /admin/tenants/{tenant_id}", adminAuth(admin.HandleGetTenant(deps.Registry)))
	mux.Handle("PUT /admin/tenants/{tenant_id}/merchant", adminAuth(admin.HandleLinkMerchant(deps.Signup)))
	mux.Handle("POST /admin/tenants/{tenant_id}/merchant/sync", adminAuth(admin.HandleSyncMerchant(deps.Signup)))
	mux.Handle("GET /admin/users/{user_id}/memberships", adminAuth(admin.HandleListMemberships(deps.Registry)))
}

// NewHandler returns the fully wrapped root handler.
func NewHandler(deps *Deps) http.Handler {
	mux := http.NewServeMux()
	RegisterRoutes(mux, deps)
	return RequestIDMiddleware(CPSecurityHeaders(mux))
}
