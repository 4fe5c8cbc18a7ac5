package onboarding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rcourtman/clubcloud/internal/cloudcp/billing"
	"github.com/rcourtman/clubcloud/internal/cloudcp/cpmetrics"
	"github.com/rcourtman/clubcloud/internal/cloudcp/events"
	"github.com/rcourtman/clubcloud/internal/cloudcp/registry"
)

// Activation trigger sources, used for metrics and logs.
const (
	SourceWebhook = "webhook"
	SourcePoll    = "poll"
)

const defaultFailureMessage = "payment failed"

// ActivationRequest carries everything needed to activate a tenant after
// payment. SignupSessionID wins over CheckoutSessionID when both are set.
type ActivationRequest struct {
	Source             string
	SubscriptionID     string
	CustomerID         string
	MerchantAccountID  string
	PeriodStart        time.Time
	PeriodEnd          time.Time
	CheckoutSessionID  string
	SignupSessionID    string
	PlanID             string
	SubscriptionStatus registry.SubscriptionStatus
	AutoRenew          bool
	// EventAt is the provider time of the triggering event. Later
	// subscription changes older than it are ignored.
	EventAt time.Time
}

// ActivationResult reports what Activate did.
type ActivationResult struct {
	SessionID        string
	TenantID         string
	AlreadyCompleted bool
}

// Activate links the subscription, activates the tenant and completes the
// signup session in one transaction. Calling it again for a completed
// session is a successful no-op, so webhook and poll may race freely.
func (o *Orchestrator) Activate(ctx context.Context, req ActivationRequest) (*ActivationResult, error) {
	const op = "activate"
	source := req.Source
	if source == "" {
		source = SourceWebhook
	}

	var (
		result  ActivationResult
		session *registry.SignupSession
		tenant  *registry.Tenant
	)
	err := o.reg.RunInTx(ctx, func(ctx context.Context) error {
		s, err := o.lockForActivation(ctx, req)
		if err != nil {
			return newError(ErrorTypeInternal, op, req.SignupSessionID, err)
		}
		if s == nil {
			return newError(ErrorTypeNotFound, op, req.SignupSessionID,
				fmt.Errorf("%w: checkout %q", ErrSessionNotFound, req.CheckoutSessionID))
		}
		result.SessionID = s.ID
		result.TenantID = s.TenantID
		if s.State == registry.SessionStateCompleted {
			result.AlreadyCompleted = true
			return nil
		}
		if s.TenantID == "" {
			return newError(ErrorTypePrecondition, op, s.ID, ErrTenantNotLinked)
		}

		status := req.SubscriptionStatus
		if status == "" {
			status = registry.SubscriptionStatusActive
		}
		planID := req.PlanID
		if planID == "" {
			planID = s.PlanID
		}
		if _, err := o.reg.UpsertTenantSubscription(ctx, &registry.TenantSubscription{
			TenantID:               s.TenantID,
			ProviderSubscriptionID: req.SubscriptionID,
			ProviderCustomerID:     req.CustomerID,
			PlanID:                 planID,
			Status:                 status,
			CurrentPeriodStart:     req.PeriodStart,
			CurrentPeriodEnd:       req.PeriodEnd,
			AutoRenew:              req.AutoRenew,
			ProviderEventAt:        req.EventAt,
		}); err != nil {
			return err
		}
		if err := o.reg.ActivateTenant(ctx, s.TenantID, req.MerchantAccountID); err != nil {
			return err
		}

		prev := s.State
		now := o.now()
		s.State = registry.SessionStateCompleted
		s.CompletedAt = &now
		s.LastActivityAt = now
		s.ErrorMessage = ""
		if req.CheckoutSessionID != "" {
			s.CheckoutSessionID = req.CheckoutSessionID
		}
		if err := o.reg.UpdateSignupSession(ctx, s, prev); err != nil {
			return err
		}
		session = s

		tenant, err = o.reg.GetTenant(ctx, s.TenantID)
		return err
	})
	if err != nil {
		var se *SignupError
		if !errors.As(err, &se) {
			se = newError(ErrorTypeInternal, op, result.SessionID, err)
		}
		cpmetrics.ActivationsTotal.WithLabelValues(source, string(se.Type)).Inc()
		return nil, se
	}

	if result.AlreadyCompleted {
		cpmetrics.ActivationsTotal.WithLabelValues(source, "already_completed").Inc()
		log.Info().Str("session_id", result.SessionID).Str("source", source).Msg("Activation replay ignored; session already completed")
		return &result, nil
	}

	cpmetrics.ActivationsTotal.WithLabelValues(source, "activated").Inc()
	log.Info().
		Str("session_id", session.ID).
		Str("tenant_id", session.TenantID).
		Str("subscription_id", req.SubscriptionID).
		Str("source", source).
		Msg("Tenant activated")

	o.publish(ctx, events.New(events.TypeTenantActivated, session.TenantID, session.ID, map[string]string{
		"subscription_id": req.SubscriptionID,
		"plan_id":         session.PlanID,
		"source":          source,
	}))
	o.notifyActivated(ctx, tenant, session.Email)
	return &result, nil
}

func (o *Orchestrator) lockForActivation(ctx context.Context, req ActivationRequest) (*registry.SignupSession, error) {
	if req.SignupSessionID != "" {
		s, err := o.reg.LockSignupSession(ctx, req.SignupSessionID)
		if err != nil || s != nil {
			return s, err
		}
	}
	return o.reg.LockSignupSessionByCheckoutID(ctx, req.CheckoutSessionID)
}

func (o *Orchestrator) notifyActivated(ctx context.Context, tenant *registry.Tenant, email string) {
	if o.notifier == nil || tenant == nil {
		return
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()
	if err := o.notifier.NotifyTenantActivated(nctx, tenant, email); err != nil {
		log.Warn().Err(err).Str("tenant_id", tenant.ID).Msg("Failed to send activation notice")
	}
}

// RecordBillingFailure notes a failed or abandoned payment on the session
// that owns checkoutSessionID. The state is left unchanged so the client
// can retry billing. Unknown checkouts are ignored.
func (o *Orchestrator) RecordBillingFailure(ctx context.Context, checkoutSessionID, message string) error {
	const op = "record_billing_failure"
	if strings.TrimSpace(message) == "" {
		message = defaultFailureMessage
	}

	s, err := o.reg.GetSignupSessionByCheckoutID(ctx, checkoutSessionID)
	if err != nil {
		return newError(ErrorTypeInternal, op, "", err)
	}
	if s == nil {
		log.Warn().Str("checkout_session_id", checkoutSessionID).Msg("Billing failure for unknown checkout session ignored")
		return nil
	}
	if s.State != registry.SessionStateBillingStarted {
		log.Info().Str("session_id", s.ID).Str("state", string(s.State)).Msg("Billing failure ignored; session not awaiting payment")
		return nil
	}

	s.ErrorMessage = message
	s.LastActivityAt = o.now()
	if err := o.reg.UpdateSignupSession(ctx, s, registry.SessionStateBillingStarted); err != nil {
		if errors.Is(err, registry.ErrStaleState) {
			log.Info().Str("session_id", s.ID).Msg("Billing failure ignored; session moved on concurrently")
			return nil
		}
		return newError(ErrorTypeInternal, op, s.ID, err)
	}

	cpmetrics.SignupStepsTotal.WithLabelValues("billing_failure", "recorded").Inc()
	log.Warn().Str("session_id", s.ID).Str("checkout_session_id", checkoutSessionID).Str("reason", message).Msg("Signup billing failed")
	o.publish(ctx, events.New(events.TypeSignupBillingFailed, s.TenantID, s.ID, map[string]string{
		"checkout_session_id": checkoutSessionID,
		"reason":              message,
	}))
	return nil
}

// ReconcileOutcome is the result of one polling reconciliation.
type ReconcileOutcome string

const (
	OutcomePending          ReconcileOutcome = "pending"
	OutcomeActivated        ReconcileOutcome = "activated"
	OutcomeAlreadyCompleted ReconcileOutcome = "already_completed"
	OutcomeNoMatch          ReconcileOutcome = "no_match"
	OutcomeSkipped          ReconcileOutcome = "skipped"
	OutcomeError            ReconcileOutcome = "error"
)

// Reconcile asks the billing provider directly whether the session's
// checkout was paid and activates on success. It never returns an error:
// failures are logged and reported as OutcomeError so a pending page keeps
// polling. Concurrent calls for one session share a single provider round trip.
func (o *Orchestrator) Reconcile(ctx context.Context, sessionID string) ReconcileOutcome {
	v, _, _ := o.polls.Do(sessionID, func() (any, error) {
		return o.reconcile(ctx, sessionID), nil
	})
	outcome := v.(ReconcileOutcome)
	cpmetrics.ReconcilePollsTotal.WithLabelValues(string(outcome)).Inc()
	return outcome
}

func (o *Orchestrator) reconcile(ctx context.Context, sessionID string) ReconcileOutcome {
	logger := log.With().Str("session_id", sessionID).Logger()

	s, err := o.reg.GetSignupSession(ctx, sessionID)
	if err != nil {
		logger.Warn().Err(err).Msg("Reconcile: failed to load session")
		return OutcomeError
	}
	if s == nil {
		return OutcomeSkipped
	}
	if s.State == registry.SessionStateCompleted {
		return OutcomeAlreadyCompleted
	}
	if s.TenantID == "" || s.CheckoutSessionID == "" {
		return OutcomeSkipped
	}

	bctx, cancel := context.WithTimeout(ctx, o.cfg.BillingTimeout)
	defer cancel()

	checkout, err := o.billing.GetCheckoutSession(bctx, s.CheckoutSessionID)
	if err != nil {
		logger.Warn().Err(err).Str("checkout_session_id", s.CheckoutSessionID).Msg("Reconcile: failed to retrieve checkout session")
		return OutcomeError
	}
	if checkout == nil || !checkout.PaymentStatus.Settled() || checkout.SubscriptionID == "" {
		return OutcomePending
	}

	sub, err := o.billing.GetSubscription(bctx, checkout.SubscriptionID)
	if err != nil {
		logger.Warn().Err(err).Str("subscription_id", checkout.SubscriptionID).Msg("Reconcile: failed to retrieve subscription")
		return OutcomeError
	}

	plans, err := o.reg.ListPlans(ctx, false)
	if err != nil {
		logger.Warn().Err(err).Msg("Reconcile: failed to list plans")
		return OutcomeError
	}
	planByPrice := make(map[string]string, len(plans))
	prices := make(map[string]struct{}, len(plans))
	for _, p := range plans {
		if p.StripePriceID == "" {
			continue
		}
		planByPrice[p.StripePriceID] = p.ID
		prices[p.StripePriceID] = struct{}{}
	}
	item, ok := sub.MatchPrice(prices)
	if !ok {
		logger.Warn().Str("subscription_id", sub.ID).Msg("Reconcile: subscription has no item for a known plan")
		return OutcomeNoMatch
	}

	customerID := sub.CustomerID
	if customerID == "" {
		customerID = checkout.CustomerID
	}
	res, err := o.Activate(ctx, ActivationRequest{
		Source:             SourcePoll,
		SubscriptionID:     sub.ID,
		CustomerID:         customerID,
		MerchantAccountID:  checkout.Metadata[billing.MetadataMerchantAccountID],
		PeriodStart:        item.CurrentPeriodStart,
		PeriodEnd:          item.CurrentPeriodEnd,
		CheckoutSessionID:  checkout.ID,
		SignupSessionID:    s.ID,
		PlanID:             planByPrice[item.PriceID],
		SubscriptionStatus: billing.MapSubscriptionStatus(sub.Status),
		AutoRenew:          !sub.CancelAtPeriodEnd,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("Reconcile: activation failed")
		return OutcomeError
	}
	if res.AlreadyCompleted {
		return OutcomeAlreadyCompleted
	}
	return OutcomeActivated
}

// EventKind classifies a billing notification.
type EventKind string

const (
	EventCheckoutSucceeded EventKind = "checkout_succeeded"
	EventCheckoutFailed    EventKind = "checkout_failed"
)

// Event is a billing notification translated into signup terms.
type Event struct {
	Kind              EventKind
	CheckoutSessionID string
	FailureMessage    string
	Activation        ActivationRequest
}

// Dispatch routes a billing notification to the matching handler.
func (o *Orchestrator) Dispatch(ctx context.Context, e Event) error {
	switch e.Kind {
	case EventCheckoutSucceeded:
		req := e.Activation
		if req.CheckoutSessionID == "" {
			req.CheckoutSessionID = e.CheckoutSessionID
		}
		if req.Source == "" {
			req.Source = SourceWebhook
		}
		_, err := o.Activate(ctx, req)
		return err
	case EventCheckoutFailed:
		return o.RecordBillingFailure(ctx, e.CheckoutSessionID, e.FailureMessage)
	default:
		return newError(ErrorTypeValidation, "dispatch", "", fmt.Errorf("unknown billing event kind %q", e.Kind))
	}
}

// SubscriptionUpdate is a lifecycle change of an existing subscription.
// Providers may deliver changes out of order; EventAt (the provider's event
// time) lets older changes be discarded.
type SubscriptionUpdate struct {
	SubscriptionID string
	Status         registry.SubscriptionStatus
	PeriodStart    time.Time
	PeriodEnd      time.Time
	AutoRenew      bool
	EventAt        time.Time
}

// SyncSubscription mirrors a subscription change onto the tenant's link.
// A suspended tenant whose subscription is paying again is returned to
// active in the same transaction. Subscriptions no tenant holds and changes
// older than the mirror are ignored.
func (o *Orchestrator) SyncSubscription(ctx context.Context, u SubscriptionUpdate) error {
	const op = "sync_subscription"
	var (
		outcome     string
		reactivated string
	)
	err := o.reg.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		outcome, err = o.reg.UpdateSubscriptionMirror(ctx, u.SubscriptionID, registry.SubscriptionMirror{
			Status:      u.Status,
			PeriodStart: u.PeriodStart,
			PeriodEnd:   u.PeriodEnd,
			AutoRenew:   u.AutoRenew,
			EventAt:     u.EventAt,
		})
		if err != nil || outcome != registry.MirrorApplied {
			return err
		}
		if u.Status != registry.SubscriptionStatusActive && u.Status != registry.SubscriptionStatusTrialing {
			return nil
		}

		sub, err := o.reg.GetSubscriptionByProviderID(ctx, u.SubscriptionID)
		if err != nil || sub == nil {
			return err
		}
		t, err := o.reg.GetTenant(ctx, sub.TenantID)
		if err != nil || t == nil || t.Status != registry.TenantStatusSuspended {
			return err
		}
		if err := o.reg.UpdateTenantStatus(ctx, t.ID, registry.TenantStatusActive); err != nil {
			return err
		}
		reactivated = t.ID
		return nil
	})
	if err != nil {
		return newError(ErrorTypeInternal, op, "", err)
	}
	switch outcome {
	case registry.MirrorUnlinked:
		log.Info().Str("subscription_id", u.SubscriptionID).Msg("Subscription update for unlinked subscription ignored")
		return nil
	case registry.MirrorStale:
		log.Info().
			Str("subscription_id", u.SubscriptionID).
			Str("status", string(u.Status)).
			Time("event_at", u.EventAt).
			Msg("Out-of-order subscription update ignored")
		return nil
	}
	log.Info().Str("subscription_id", u.SubscriptionID).Str("status", string(u.Status)).Msg("Subscription mirror updated")

	if reactivated != "" {
		log.Info().Str("tenant_id", reactivated).Str("subscription_id", u.SubscriptionID).Msg("Suspended tenant reactivated")
		o.publish(ctx, events.New(events.TypeTenantReactivated, reactivated, "", map[string]string{
			"subscription_id": u.SubscriptionID,
		}))
	}
	return nil
}

// LinkMerchantAccount attaches a connected merchant account to a tenant.
// The account is fetched from the billing provider first, so an unknown id
// is rejected and the capability flags start out current. An account held
// by another tenant is refused. Relinking the same account is a refresh.
func (o *Orchestrator) LinkMerchantAccount(ctx context.Context, tenantID, accountID string) (*registry.Tenant, error) {
	const op = "link_merchant_account"
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, newError(ErrorTypeValidation, op, "", fmt.Errorf("%w: empty account id", ErrUnknownMerchant))
	}
	t, err := o.reg.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, newError(ErrorTypeInternal, op, "", err)
	}
	if t == nil {
		return nil, newError(ErrorTypeNotFound, op, "", fmt.Errorf("tenant %q: %w", tenantID, registry.ErrNotFound))
	}

	bctx, cancel := context.WithTimeout(ctx, o.cfg.BillingTimeout)
	defer cancel()
	acct, err := o.billing.GetMerchantAccount(bctx, accountID)
	if errors.Is(err, billing.ErrMerchantAccountNotFound) || (err == nil && acct == nil) {
		return nil, newError(ErrorTypeValidation, op, "", fmt.Errorf("%w: %q", ErrUnknownMerchant, accountID))
	}
	if err != nil {
		return nil, newError(ErrorTypeProvider, op, "", fmt.Errorf("get merchant account: %w", err))
	}

	err = o.reg.RunInTx(ctx, func(ctx context.Context) error {
		holder, err := o.reg.GetTenantByMerchantAccount(ctx, acct.ID)
		if err != nil {
			return err
		}
		if holder != nil && holder.ID != tenantID {
			return newError(ErrorTypePrecondition, op, "", fmt.Errorf("%w: %q", ErrMerchantTaken, acct.ID))
		}
		return o.reg.LinkMerchantAccount(ctx, tenantID, acct.ID, acct.ChargesEnabled, acct.PayoutsEnabled, acct.DetailsSubmitted)
	})
	if err != nil {
		var se *SignupError
		if errors.As(err, &se) {
			return nil, err
		}
		return nil, newError(ErrorTypeInternal, op, "", err)
	}

	ev := log.Info().Str("tenant_id", tenantID).Str("merchant_account_id", acct.ID)
	if t.MerchantAccountID != "" && t.MerchantAccountID != acct.ID {
		ev = ev.Str("previous_merchant_account_id", t.MerchantAccountID)
	}
	ev.Bool("charges_enabled", acct.ChargesEnabled).Msg("Merchant account linked")
	return o.reg.GetTenant(ctx, tenantID)
}

// RefreshMerchantAccount stores a merchant account's capability flags on
// the tenant that holds it.
func (o *Orchestrator) RefreshMerchantAccount(ctx context.Context, acct billing.MerchantAccount) error {
	const op = "refresh_merchant_account"
	updated, err := o.reg.UpdateMerchantCapabilities(ctx, acct.ID, acct.ChargesEnabled, acct.PayoutsEnabled, acct.DetailsSubmitted)
	if err != nil {
		return newError(ErrorTypeInternal, op, "", err)
	}
	if !updated {
		log.Info().Str("merchant_account_id", acct.ID).Msg("Merchant account update for unknown account ignored")
		return nil
	}
	log.Info().
		Str("merchant_account_id", acct.ID).
		Bool("charges_enabled", acct.ChargesEnabled).
		Bool("payouts_enabled", acct.PayoutsEnabled).
		Msg("Merchant account capabilities refreshed")
	return nil
}

// SyncMerchantAccount fetches a merchant account from the billing provider
// and refreshes the tenant's capability flags.
func (o *Orchestrator) SyncMerchantAccount(ctx context.Context, tenantID string) (*registry.Tenant, error) {
	const op = "sync_merchant_account"
	t, err := o.reg.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, newError(ErrorTypeInternal, op, "", err)
	}
	if t == nil {
		return nil, newError(ErrorTypeNotFound, op, "", fmt.Errorf("tenant %q: %w", tenantID, registry.ErrNotFound))
	}
	if t.MerchantAccountID == "" {
		return nil, newError(ErrorTypePrecondition, op, "", fmt.Errorf("tenant %q has no merchant account", tenantID))
	}

	bctx, cancel := context.WithTimeout(ctx, o.cfg.BillingTimeout)
	defer cancel()
	acct, err := o.billing.GetMerchantAccount(bctx, t.MerchantAccountID)
	if err != nil {
		return nil, newError(ErrorTypeProvider, op, "", fmt.Errorf("get merchant account: %w", err))
	}
	if acct == nil {
		return nil, newError(ErrorTypeProvider, op, "", fmt.Errorf("merchant account %q not found", t.MerchantAccountID))
	}
	if err := o.RefreshMerchantAccount(ctx, *acct); err != nil {
		return nil, err
	}
	return o.reg.GetTenant(ctx, tenantID)
}
