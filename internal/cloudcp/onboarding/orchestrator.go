// Package onboarding drives a club from first contact to a provisioned,
// billed tenant and activates it once payment is confirmed.
package onboarding

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/rcourtman/clubcloud/internal/cloudcp/billing"
	"github.com/rcourtman/clubcloud/internal/cloudcp/cpmetrics"
	"github.com/rcourtman/clubcloud/internal/cloudcp/directory"
	"github.com/rcourtman/clubcloud/internal/cloudcp/events"
	"github.com/rcourtman/clubcloud/internal/cloudcp/identity"
	"github.com/rcourtman/clubcloud/internal/cloudcp/registry"
)

const sideEffectTimeout = 10 * time.Second

// Identities is the identity store surface used during signup.
type Identities interface {
	Register(ctx context.Context, email, password string) (*identity.Identity, error)
	Lookup(ctx context.Context, email string) (*identity.Identity, error)
	Authenticate(ctx context.Context, email, password string) (*identity.Identity, error)
	AssignRole(ctx context.Context, identityID string, role identity.PlatformRole) error
}

// Notifier tells a club owner their tenant is live.
type Notifier interface {
	NotifyTenantActivated(ctx context.Context, tenant *registry.Tenant, contactEmail string) error
}

// Deps are the collaborators of an Orchestrator. Events and Notifier are optional.
type Deps struct {
	Registry   *registry.Registry
	Directory  directory.Directory
	Identities Identities
	Billing    billing.Provider
	Events     events.Publisher
	Notifier   Notifier
}

// Orchestrator runs the signup state machine and the activation reconciler.
type Orchestrator struct {
	reg        *registry.Registry
	dir        directory.Directory
	identities Identities
	billing    billing.Provider
	events     events.Publisher
	notifier   Notifier
	cfg        Config

	now   func() time.Time
	polls singleflight.Group
}

// New creates an Orchestrator.
func New(deps Deps, cfg Config) (*Orchestrator, error) {
	if deps.Registry == nil {
		return nil, fmt.Errorf("onboarding: registry is required")
	}
	if deps.Directory == nil {
		return nil, fmt.Errorf("onboarding: directory is required")
	}
	if deps.Identities == nil {
		return nil, fmt.Errorf("onboarding: identity store is required")
	}
	if deps.Billing == nil {
		return nil, fmt.Errorf("onboarding: billing provider is required")
	}
	return &Orchestrator{
		reg:        deps.Registry,
		dir:        deps.Directory,
		identities: deps.Identities,
		billing:    deps.Billing,
		events:     deps.Events,
		notifier:   deps.Notifier,
		cfg:        cfg.withDefaults(),
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// StartRequest begins a signup.
type StartRequest struct {
	PlanID string `json:"plan_id"`
	Email  string `json:"email"`
}

// AdminRequest carries the club owner's account details.
type AdminRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Password  string `json:"password"`
}

// TenantRequest carries the club's name and requested subdomain.
type TenantRequest struct {
	DisplayName string `json:"display_name"`
	Subdomain   string `json:"subdomain"`
}

// CheckoutResult is the outcome of InitiateBilling.
type CheckoutResult struct {
	Session     *registry.SignupSession
	CheckoutURL string
	Reused      bool
}

// Start opens a signup session for a plan. In modes that reuse sessions an
// unexpired session for the same email is handed back instead.
func (o *Orchestrator) Start(ctx context.Context, req StartRequest) (*registry.SignupSession, error) {
	const op = "start"

	email := identity.NormalizeEmail(req.Email)
	if !validEmail(email) {
		return nil, o.fail(op, newError(ErrorTypeValidation, op, "", ErrInvalidEmail))
	}
	planID := strings.TrimSpace(req.PlanID)
	plan, err := o.reg.GetPlan(ctx, planID)
	if err != nil {
		return nil, o.fail(op, newError(ErrorTypeInternal, op, "", err))
	}
	if plan == nil || !plan.Active {
		return nil, o.fail(op, newError(ErrorTypeValidation, op, "", fmt.Errorf("%w: %q", ErrPlanNotFound, planID)))
	}

	now := o.now()
	if o.cfg.ReuseOpenSessions {
		existing, err := o.reg.FindResumableSession(ctx, email, now)
		if err != nil {
			return nil, o.fail(op, newError(ErrorTypeInternal, op, "", err))
		}
		if existing != nil {
			return o.reuseSession(ctx, existing, plan.ID)
		}
	}

	s := &registry.SignupSession{
		ID:             ulid.Make().String(),
		PlanID:         plan.ID,
		Email:          email,
		State:          registry.SessionStateStarted,
		ExpiresAt:      now.Add(o.cfg.SessionTTL),
		LastActivityAt: now,
		CreatedAt:      now,
	}
	if err := o.reg.CreateSignupSession(ctx, s); err != nil {
		return nil, o.fail(op, newError(ErrorTypeInternal, op, "", err))
	}
	cpmetrics.SignupStepsTotal.WithLabelValues(op, "created").Inc()
	log.Info().Str("session_id", s.ID).Str("plan_id", s.PlanID).Msg("Signup session started")
	return s, nil
}

// reuseSession touches an open session and, while no checkout exists yet,
// switches it to the newly requested plan.
func (o *Orchestrator) reuseSession(ctx context.Context, s *registry.SignupSession, planID string) (*registry.SignupSession, error) {
	const op = "start"
	prev := s.State
	if s.PlanID != planID {
		if beforeBilling(s.State) {
			s.PlanID = planID
		} else {
			log.Info().Str("session_id", s.ID).Str("requested_plan", planID).Str("plan_id", s.PlanID).
				Msg("Keeping plan of resumed session with billing in progress")
		}
	}
	s.LastActivityAt = o.now()
	if err := o.reg.UpdateSignupSession(ctx, s, prev); err != nil {
		return nil, o.fail(op, o.classifyWriteErr(ctx, op, s.ID, err))
	}
	cpmetrics.SignupStepsTotal.WithLabelValues(op, "reused").Inc()
	log.Info().Str("session_id", s.ID).Str("state", string(s.State)).Msg("Resumed signup session")
	return s, nil
}

// CreateAdminIdentity registers the club owner's identity and person
// record. Requires state started.
func (o *Orchestrator) CreateAdminIdentity(ctx context.Context, sessionID string, req AdminRequest) (*registry.SignupSession, error) {
	const op = "create_admin"

	s, err := o.loadSession(ctx, op, sessionID)
	if err != nil {
		return nil, o.fail(op, err)
	}
	if err := requireState(op, s, registry.SessionStateStarted); err != nil {
		return nil, o.fail(op, err)
	}
	if err := identity.ValidatePasswordComplexity(req.Password); err != nil {
		return nil, o.fail(op, newError(ErrorTypeValidation, op, s.ID, fmt.Errorf("%w: %v", ErrInvalidPassword, err)))
	}

	ident, err := o.resolveIdentity(ctx, op, s, req.Password)
	if err != nil {
		return nil, o.fail(op, err)
	}
	if err := o.identities.AssignRole(ctx, ident.ID, identity.PlatformRoleClubOwner); err != nil {
		return nil, o.fail(op, newError(ErrorTypeInternal, op, s.ID, err))
	}

	puID, err := registry.GeneratePlatformUserID()
	if err != nil {
		return nil, o.fail(op, newError(ErrorTypeInternal, op, s.ID, err))
	}
	now := o.now()
	err = o.reg.RunInTx(ctx, func(ctx context.Context) error {
		if err := o.reg.CreatePlatformUser(ctx, &registry.PlatformUser{
			ID:         puID,
			IdentityID: ident.ID,
			FirstName:  strings.TrimSpace(req.FirstName),
			LastName:   strings.TrimSpace(req.LastName),
			Active:     true,
		}); err != nil {
			if errors.Is(err, registry.ErrConflict) {
				return newError(ErrorTypeValidation, op, s.ID, ErrEmailTaken)
			}
			return err
		}
		s.IdentityID = ident.ID
		s.PlatformUserID = puID
		s.State = registry.SessionStateUserCreated
		s.LastActivityAt = now
		s.ErrorMessage = ""
		return o.reg.UpdateSignupSession(ctx, s, registry.SessionStateStarted)
	})
	if err != nil {
		return nil, o.fail(op, o.classifyWriteErr(ctx, op, s.ID, err))
	}

	cpmetrics.SignupStepsTotal.WithLabelValues(op, "ok").Inc()
	log.Info().Str("session_id", s.ID).Str("platform_user_id", puID).Msg("Signup admin identity created")
	return s, nil
}

// resolveIdentity registers a new identity for the session email. An
// identity left behind by an earlier attempt that never produced a person
// record is reused when the password matches.
func (o *Orchestrator) resolveIdentity(ctx context.Context, op string, s *registry.SignupSession, password string) (*identity.Identity, error) {
	existing, err := o.identities.Lookup(ctx, s.Email)
	if err != nil {
		return nil, newError(ErrorTypeInternal, op, s.ID, err)
	}
	if existing == nil {
		ident, err := o.identities.Register(ctx, s.Email, password)
		if err != nil {
			if errors.Is(err, identity.ErrEmailTaken) {
				return nil, newError(ErrorTypeValidation, op, s.ID, ErrEmailTaken)
			}
			return nil, newError(ErrorTypeInternal, op, s.ID, err)
		}
		return ident, nil
	}

	pu, err := o.reg.GetPlatformUserByIdentityID(ctx, existing.ID)
	if err != nil {
		return nil, newError(ErrorTypeInternal, op, s.ID, err)
	}
	if pu != nil {
		return nil, newError(ErrorTypeValidation, op, s.ID, ErrEmailTaken)
	}
	ident, err := o.identities.Authenticate(ctx, s.Email, password)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidCredentials) {
			return nil, newError(ErrorTypeValidation, op, s.ID, ErrEmailTaken)
		}
		return nil, newError(ErrorTypeInternal, op, s.ID, err)
	}
	log.Info().Str("session_id", s.ID).Str("identity_id", ident.ID).Msg("Reusing identity from abandoned signup")
	return ident, nil
}

// CreateTenant claims the subdomain, creates the tenant and makes the
// session's person its owner. Requires state user_created.
func (o *Orchestrator) CreateTenant(ctx context.Context, sessionID string, req TenantRequest) (*registry.SignupSession, *registry.Tenant, error) {
	const op = "create_tenant"

	s, err := o.loadSession(ctx, op, sessionID)
	if err != nil {
		return nil, nil, o.fail(op, err)
	}
	if err := requireState(op, s, registry.SessionStateUserCreated); err != nil {
		return nil, nil, o.fail(op, err)
	}
	if s.PlatformUserID == "" {
		return nil, nil, o.fail(op, newError(ErrorTypePrecondition, op, s.ID, fmt.Errorf("%w: no platform user linked", ErrInvalidState)))
	}

	name := strings.TrimSpace(req.DisplayName)
	if name == "" {
		return nil, nil, o.fail(op, newError(ErrorTypeValidation, op, s.ID, ErrInvalidName))
	}
	sub := NormalizeSubdomain(req.Subdomain)
	if err := ValidateSubdomain(sub, o.cfg.MinSubdomainLength); err != nil {
		return nil, nil, o.fail(op, newError(ErrorTypeValidation, op, s.ID, err))
	}
	taken, err := o.reg.SubdomainTaken(ctx, sub)
	if err != nil {
		return nil, nil, o.fail(op, newError(ErrorTypeInternal, op, s.ID, err))
	}
	if taken {
		return nil, nil, o.fail(op, newError(ErrorTypeValidation, op, s.ID, fmt.Errorf("%w: %q", ErrSubdomainTaken, sub)))
	}

	tenantID, err := registry.GenerateTenantID()
	if err != nil {
		return nil, nil, o.fail(op, newError(ErrorTypeInternal, op, s.ID, err))
	}

	// The directory is written first so a failure leaves nothing behind.
	if err := o.dir.Register(ctx, sub, tenantID); err != nil {
		if errors.Is(err, directory.ErrSubdomainTaken) {
			return nil, nil, o.fail(op, newError(ErrorTypeValidation, op, s.ID, fmt.Errorf("%w: %q", ErrSubdomainTaken, sub)))
		}
		return nil, nil, o.fail(op, newError(ErrorTypeProvider, op, s.ID, fmt.Errorf("register subdomain: %w", err)))
	}

	tenant := &registry.Tenant{
		ID:          tenantID,
		DisplayName: name,
		Subdomain:   sub,
		Status:      registry.TenantStatusPendingActivation,
	}
	now := o.now()
	err = o.reg.RunInTx(ctx, func(ctx context.Context) error {
		if err := o.reg.CreateTenant(ctx, tenant); err != nil {
			if errors.Is(err, registry.ErrConflict) {
				return newError(ErrorTypeValidation, op, s.ID, fmt.Errorf("%w: %q", ErrSubdomainTaken, sub))
			}
			return err
		}
		tuID, err := registry.GenerateTenantUserID()
		if err != nil {
			return err
		}
		if err := o.reg.CreateTenantUser(ctx, &registry.TenantUser{
			ID:             tuID,
			TenantID:       tenantID,
			PlatformUserID: s.PlatformUserID,
			Role:           registry.RoleAdmin,
			Status:         registry.MemberStatusActive,
			IsOwner:        true,
		}); err != nil {
			return err
		}
		if err := o.reg.SetDefaultTenant(ctx, s.PlatformUserID, tenantID); err != nil {
			return err
		}
		s.TenantID = tenantID
		s.State = registry.SessionStateTenantCreated
		s.LastActivityAt = now
		s.ErrorMessage = ""
		return o.reg.UpdateSignupSession(ctx, s, registry.SessionStateUserCreated)
	})
	if err != nil {
		o.releaseSubdomain(ctx, s.ID, sub, tenantID)
		return nil, nil, o.fail(op, o.classifyWriteErr(ctx, op, s.ID, err))
	}

	cpmetrics.SignupStepsTotal.WithLabelValues(op, "ok").Inc()
	log.Info().Str("session_id", s.ID).Str("tenant_id", tenantID).Str("subdomain", sub).Msg("Tenant created")
	o.publish(ctx, events.New(events.TypeTenantCreated, tenantID, s.ID, map[string]string{
		"subdomain": sub,
		"plan_id":   s.PlanID,
	}))
	return s, tenant, nil
}

// releaseSubdomain undoes a directory claim whose registry write failed.
func (o *Orchestrator) releaseSubdomain(ctx context.Context, sessionID, sub, tenantID string) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()
	if err := o.dir.Remove(cctx, sub, tenantID); err != nil {
		cpmetrics.DirectoryCompensationsTotal.WithLabelValues("failed").Inc()
		log.Error().Err(err).Str("session_id", sessionID).Str("subdomain", sub).Str("tenant_id", tenantID).
			Msg("Failed to release directory entry after tenant creation failed")
		return
	}
	cpmetrics.DirectoryCompensationsTotal.WithLabelValues("removed").Inc()
	log.Warn().Str("session_id", sessionID).Str("subdomain", sub).Msg("Released directory entry after tenant creation failed")
}

// InitiateBilling creates (or reuses) a hosted checkout for the session's
// plan. Allowed from tenant_created and, as a retry, billing_started.
func (o *Orchestrator) InitiateBilling(ctx context.Context, sessionID string) (*CheckoutResult, error) {
	const op = "initiate_billing"

	s, err := o.loadSession(ctx, op, sessionID)
	if err != nil {
		return nil, o.fail(op, err)
	}
	if err := requireState(op, s, registry.SessionStateTenantCreated, registry.SessionStateBillingStarted); err != nil {
		return nil, o.fail(op, err)
	}
	if s.TenantID == "" {
		return nil, o.fail(op, newError(ErrorTypePrecondition, op, s.ID, ErrTenantNotLinked))
	}
	plan, err := o.reg.GetPlan(ctx, s.PlanID)
	if err != nil {
		return nil, o.fail(op, newError(ErrorTypeInternal, op, s.ID, err))
	}
	if plan == nil {
		return nil, o.fail(op, newError(ErrorTypeValidation, op, s.ID, fmt.Errorf("%w: %q", ErrPlanNotFound, s.PlanID)))
	}
	if strings.TrimSpace(plan.StripePriceID) == "" {
		return nil, o.fail(op, newError(ErrorTypeValidation, op, s.ID, fmt.Errorf("%w: plan %q", ErrMissingPriceReference, plan.ID)))
	}

	if s.CheckoutSessionID != "" {
		result, err := o.existingCheckout(ctx, op, s)
		if err != nil || result != nil {
			if err != nil {
				return nil, o.fail(op, err)
			}
			return result, nil
		}
	}

	bctx, cancel := context.WithTimeout(ctx, o.cfg.BillingTimeout)
	defer cancel()
	checkout, err := o.billing.CreateCheckoutSession(bctx, billing.CheckoutRequest{
		PriceID:    plan.StripePriceID,
		SuccessURL: o.returnURL("/signup/pending", s.ID, false),
		CancelURL:  o.returnURL("/signup/billing", s.ID, true),
		Email:      s.Email,
		Metadata: map[string]string{
			billing.MetadataSignupSessionID: s.ID,
			billing.MetadataTenantID:        s.TenantID,
			billing.MetadataPlanID:          plan.ID,
		},
	})
	if err != nil {
		return nil, o.fail(op, newError(ErrorTypeProvider, op, s.ID, fmt.Errorf("create checkout session: %w", err)))
	}
	if checkout == nil || checkout.ID == "" || checkout.URL == "" {
		return nil, o.fail(op, newError(ErrorTypeProvider, op, s.ID, fmt.Errorf("create checkout session: provider returned no redirect")))
	}

	prev := s.State
	s.CheckoutSessionID = checkout.ID
	s.CheckoutURL = checkout.URL
	s.State = registry.SessionStateBillingStarted
	s.ErrorMessage = ""
	s.LastActivityAt = o.now()
	if err := o.reg.UpdateSignupSession(ctx, s, prev); err != nil {
		return nil, o.fail(op, o.classifyWriteErr(ctx, op, s.ID, err))
	}

	cpmetrics.SignupStepsTotal.WithLabelValues(op, "created").Inc()
	log.Info().Str("session_id", s.ID).Str("checkout_session_id", checkout.ID).Msg("Checkout session created")
	return &CheckoutResult{Session: s, CheckoutURL: checkout.URL}, nil
}

// existingCheckout inspects the checkout already attached to s. It returns
// a result when that checkout can be handed back, an error when a new one
// must not be created, and (nil, nil) when a fresh checkout is needed.
func (o *Orchestrator) existingCheckout(ctx context.Context, op string, s *registry.SignupSession) (*CheckoutResult, error) {
	bctx, cancel := context.WithTimeout(ctx, o.cfg.BillingTimeout)
	defer cancel()
	checkout, err := o.billing.GetCheckoutSession(bctx, s.CheckoutSessionID)
	if errors.Is(err, billing.ErrCheckoutNotFound) || (err == nil && checkout == nil) {
		log.Warn().
			Str("session_id", s.ID).
			Str("checkout_session_id", s.CheckoutSessionID).
			Msg("Stored checkout session no longer exists; creating a new one")
		return nil, nil
	}
	if err != nil {
		// The stored checkout may already be paid, so it is not replaced
		// while the provider cannot say.
		return nil, newError(ErrorTypeProvider, op, s.ID, fmt.Errorf("get checkout session: %w", err))
	}

	if checkout.PaymentStatus.Settled() {
		// Already paid: activate rather than charge twice.
		if outcome := o.Reconcile(ctx, s.ID); outcome == OutcomeActivated || outcome == OutcomeAlreadyCompleted {
			return nil, newError(ErrorTypePrecondition, op, s.ID, ErrSessionCompleted)
		}
		return nil, newError(ErrorTypePrecondition, op, s.ID, ErrCheckoutSettled)
	}

	if o.cfg.ReuseCheckoutSessions && checkout.Open && checkout.URL != "" {
		prev := s.State
		s.CheckoutURL = checkout.URL
		s.State = registry.SessionStateBillingStarted
		s.ErrorMessage = ""
		s.LastActivityAt = o.now()
		if err := o.reg.UpdateSignupSession(ctx, s, prev); err != nil {
			return nil, o.classifyWriteErr(ctx, op, s.ID, err)
		}
		cpmetrics.SignupStepsTotal.WithLabelValues(op, "reused").Inc()
		log.Info().Str("session_id", s.ID).Str("checkout_session_id", checkout.ID).Msg("Reusing open checkout session")
		return &CheckoutResult{Session: s, CheckoutURL: checkout.URL, Reused: true}, nil
	}
	return nil, nil
}

func (o *Orchestrator) returnURL(path, sessionID string, cancelled bool) string {
	q := url.Values{}
	q.Set("session_id", sessionID)
	if cancelled {
		q.Set("cancelled", "1")
	}
	return o.cfg.BaseURL + path + "?" + q.Encode()
}

// Summary is the client-facing view of a signup session.
type Summary struct {
	SessionID    string                `json:"session_id"`
	State        registry.SessionState `json:"state"`
	PlanID       string                `json:"plan_id"`
	Email        string                `json:"email"`
	TenantID     string                `json:"tenant_id,omitempty"`
	Subdomain    string                `json:"subdomain,omitempty"`
	CheckoutURL  string                `json:"checkout_url,omitempty"`
	ErrorMessage string                `json:"error_message,omitempty"`
	ExpiresAt    time.Time             `json:"expires_at"`
	NextStep     string                `json:"next_step"`
}

// Resume returns where an open session left off.
func (o *Orchestrator) Resume(ctx context.Context, sessionID string) (*Summary, error) {
	const op = "resume"
	s, err := o.loadSession(ctx, op, sessionID)
	if err != nil {
		return nil, err
	}
	if s.State == registry.SessionStateCompleted {
		return nil, newError(ErrorTypePrecondition, op, s.ID, ErrSessionCompleted)
	}
	return o.summarize(ctx, op, s)
}

// Status returns the session summary whatever its state. Expired sessions
// are still flipped on read.
func (o *Orchestrator) Status(ctx context.Context, sessionID string) (*Summary, error) {
	const op = "status"
	s, err := o.loadSession(ctx, op, sessionID)
	if err != nil && !errors.Is(err, ErrSessionExpired) {
		return nil, err
	}
	if s == nil {
		return nil, err
	}
	return o.summarize(ctx, op, s)
}

// PollStatus answers the post-checkout page. A session stored as waiting on
// billing is reconciled before it is summarized, so a payment that lands at
// the expiry boundary activates the tenant rather than expiring the session.
// The outcome is empty when no reconcile ran.
func (o *Orchestrator) PollStatus(ctx context.Context, sessionID string) (*Summary, ReconcileOutcome, error) {
	s, err := o.reg.GetSignupSession(ctx, sessionID)
	if err != nil {
		return nil, "", newError(ErrorTypeInternal, "status", sessionID, err)
	}
	var outcome ReconcileOutcome
	if s != nil && (s.State == registry.SessionStateBillingStarted || s.State == registry.SessionStateBillingComplete) {
		outcome = o.Reconcile(ctx, sessionID)
	}
	sum, err := o.Status(ctx, sessionID)
	if err != nil {
		return nil, outcome, err
	}
	return sum, outcome, nil
}

func (o *Orchestrator) summarize(ctx context.Context, op string, s *registry.SignupSession) (*Summary, error) {
	sum := &Summary{
		SessionID:    s.ID,
		State:        s.State,
		PlanID:       s.PlanID,
		Email:        s.Email,
		TenantID:     s.TenantID,
		CheckoutURL:  s.CheckoutURL,
		ErrorMessage: s.ErrorMessage,
		ExpiresAt:    s.ExpiresAt,
		NextStep:     NextStep(s.State),
	}
	if s.TenantID != "" {
		t, err := o.reg.GetTenant(ctx, s.TenantID)
		if err != nil {
			return nil, newError(ErrorTypeInternal, op, s.ID, err)
		}
		if t != nil {
			sum.Subdomain = t.Subdomain
		}
	}
	return sum, nil
}

// SubdomainCheck is the result of CheckSubdomain.
type SubdomainCheck struct {
	Subdomain string `json:"subdomain"`
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
}

// CheckSubdomain reports whether a subdomain could be claimed right now.
func (o *Orchestrator) CheckSubdomain(ctx context.Context, raw string) (*SubdomainCheck, error) {
	sub := NormalizeSubdomain(raw)
	res := &SubdomainCheck{Subdomain: sub}
	if err := ValidateSubdomain(sub, o.cfg.MinSubdomainLength); err != nil {
		res.Reason = err.Error()
		return res, nil
	}
	taken, err := o.reg.SubdomainTaken(ctx, sub)
	if err != nil {
		return nil, newError(ErrorTypeInternal, "check_subdomain", "", err)
	}
	if taken {
		res.Reason = ErrSubdomainTaken.Error()
		return res, nil
	}
	res.Available = true
	return res, nil
}

// loadSession reads a session, flipping it to expired when its expiry has
// elapsed. An expired session is returned alongside ErrSessionExpired.
func (o *Orchestrator) loadSession(ctx context.Context, op, sessionID string) (*registry.SignupSession, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, newError(ErrorTypeNotFound, op, "", ErrSessionNotFound)
	}
	s, err := o.reg.GetSignupSession(ctx, sessionID)
	if err != nil {
		return nil, newError(ErrorTypeInternal, op, sessionID, err)
	}
	if s == nil {
		return nil, newError(ErrorTypeNotFound, op, sessionID, ErrSessionNotFound)
	}
	if s.State == registry.SessionStateExpired {
		return s, newError(ErrorTypePrecondition, op, s.ID, ErrSessionExpired)
	}
	if s.ExpiredAt(o.now()) {
		prev := s.State
		s.State = registry.SessionStateExpired
		if err := o.reg.UpdateSignupSession(ctx, s, prev); err != nil {
			if !errors.Is(err, registry.ErrStaleState) {
				return nil, newError(ErrorTypeInternal, op, s.ID, err)
			}
			// Someone else moved it first; report what they left.
			return o.loadSession(ctx, op, sessionID)
		}
		cpmetrics.SignupStepsTotal.WithLabelValues("expire", "ok").Inc()
		log.Info().Str("session_id", s.ID).Str("previous_state", string(prev)).Msg("Signup session expired")
		return s, newError(ErrorTypePrecondition, op, s.ID, ErrSessionExpired)
	}
	return s, nil
}

// classifyWriteErr turns a failed session write into a SignupError. A
// compare-and-set miss is re-read so the caller learns the real state.
func (o *Orchestrator) classifyWriteErr(ctx context.Context, op, sessionID string, err error) error {
	var se *SignupError
	if errors.As(err, &se) {
		return se
	}
	if !errors.Is(err, registry.ErrStaleState) {
		return newError(ErrorTypeInternal, op, sessionID, err)
	}
	current, gerr := o.reg.GetSignupSession(ctx, sessionID)
	if gerr != nil || current == nil {
		return newError(ErrorTypePrecondition, op, sessionID, ErrInvalidState)
	}
	if current.State == registry.SessionStateCompleted {
		return newError(ErrorTypePrecondition, op, sessionID, ErrSessionCompleted)
	}
	return newError(ErrorTypePrecondition, op, sessionID,
		fmt.Errorf("%w: session moved to %s", ErrInvalidState, current.State))
}

func (o *Orchestrator) fail(step string, err error) error {
	cpmetrics.SignupStepsTotal.WithLabelValues(step, string(TypeOf(err))).Inc()
	return err
}

func (o *Orchestrator) publish(ctx context.Context, e events.Event) {
	if o.events == nil {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()
	if err := o.events.Publish(pctx, e); err != nil {
		log.Warn().Err(err).Str("event_type", string(e.Type)).Str("tenant_id", e.TenantID).Msg("Failed to publish lifecycle event")
	}
}

func validEmail(email string) bool {
	if email == "" || len(email) > 254 {
		return false
	}
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}
