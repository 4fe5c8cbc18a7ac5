package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	stripelib "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/rcourtman/clubcloud/internal/cloudcp/billing"
	"github.com/rcourtman/clubcloud/internal/cloudcp/cpmetrics"
	"github.com/rcourtman/clubcloud/internal/cloudcp/onboarding"
	"github.com/rcourtman/clubcloud/internal/cloudcp/registry"
)

const webhookBodyLimit = 1024 * 1024 // 1 MiB

const (
	failureAsyncPayment    = "asynchronous payment failed"
	failureCheckoutExpired = "checkout session expired before payment"
)

// Dispatcher receives translated billing events.
type Dispatcher interface {
	Dispatch(ctx context.Context, e onboarding.Event) error
	SyncSubscription(ctx context.Context, u onboarding.SubscriptionUpdate) error
	RefreshMerchantAccount(ctx context.Context, acct billing.MerchantAccount) error
}

// SubscriptionGetter fetches subscription details missing from checkout events.
type SubscriptionGetter interface {
	GetSubscription(ctx context.Context, id string) (*billing.Subscription, error)
}

// WebhookHandler handles incoming Stripe webhook events.
type WebhookHandler struct {
	secret        string
	dispatcher    Dispatcher
	subscriptions SubscriptionGetter
}

type webhookErrorResponse struct {
	Error string `json:"error"`
}

type webhookReceivedResponse struct {
	Received bool `json:"received"`
}

// NewWebhookHandler creates a Stripe webhook HTTP handler. subscriptions may
// be nil, in which case activations carry no billing period.
func NewWebhookHandler(secret string, dispatcher Dispatcher, subscriptions SubscriptionGetter) *WebhookHandler {
	return &WebhookHandler{
		secret:        secret,
		dispatcher:    dispatcher,
		subscriptions: subscriptions,
	}
}

// ServeHTTP verifies the Stripe signature and dispatches the event.
// Retryable failures answer 500 so Stripe redelivers; permanent ones are
// logged and acknowledged.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	eventType := "unknown"
	status := http.StatusOK
	defer func() {
		cpmetrics.WebhookRequestsTotal.WithLabelValues(eventType, strconv.Itoa(status)).Inc()
		cpmetrics.WebhookDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
	}()

	if r.Method != http.MethodPost {
		status = http.StatusMethodNotAllowed
		writeJSON(w, http.StatusMethodNotAllowed, webhookErrorResponse{Error: "method not allowed"})
		return
	}
	if strings.TrimSpace(h.secret) == "" {
		status = http.StatusServiceUnavailable
		writeJSON(w, http.StatusServiceUnavailable, webhookErrorResponse{Error: "webhook secret not configured"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, webhookBodyLimit)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		status = http.StatusBadRequest
		writeJSON(w, http.StatusBadRequest, webhookErrorResponse{Error: "failed to read request body"})
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" {
		status = http.StatusBadRequest
		writeJSON(w, http.StatusBadRequest, webhookErrorResponse{Error: "missing Stripe signature"})
		return
	}

	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, h.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		status = http.StatusBadRequest
		writeJSON(w, http.StatusBadRequest, webhookErrorResponse{Error: "invalid Stripe signature"})
		return
	}
	eventType = string(event.Type)

	if err := h.handleEvent(r.Context(), &event); err != nil {
		if !onboarding.IsRetryable(err) {
			log.Warn().Err(err).
				Str("event_id", event.ID).
				Str("type", string(event.Type)).
				Str("error_type", string(onboarding.TypeOf(err))).
				Msg("Stripe webhook event rejected; acknowledging")
			writeJSON(w, http.StatusOK, webhookReceivedResponse{Received: true})
			return
		}
		log.Error().Err(err).
			Str("event_id", event.ID).
			Str("type", string(event.Type)).
			Msg("Stripe webhook processing failed")
		status = http.StatusInternalServerError
		writeJSON(w, http.StatusInternalServerError, webhookErrorResponse{Error: "processing failed"})
		return
	}

	status = http.StatusOK
	writeJSON(w, http.StatusOK, webhookReceivedResponse{Received: true})
}

func (h *WebhookHandler) handleEvent(ctx context.Context, event *stripelib.Event) error {
	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		var session CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return fmt.Errorf("decode checkout.session: %w", err)
		}
		return h.handleCheckoutPaid(ctx, event, session)

	case "checkout.session.async_payment_failed", "checkout.session.expired":
		var session CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return fmt.Errorf("decode checkout.session: %w", err)
		}
		msg := failureAsyncPayment
		if event.Type == "checkout.session.expired" {
			msg = failureCheckoutExpired
		}
		return h.dispatcher.Dispatch(ctx, onboarding.Event{
			Kind:              onboarding.EventCheckoutFailed,
			CheckoutSessionID: session.ID,
			FailureMessage:    msg,
		})

	case "customer.subscription.updated", "customer.subscription.deleted":
		var sub Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("decode subscription: %w", err)
		}
		status := billing.MapSubscriptionStatus(sub.Status)
		if event.Type == "customer.subscription.deleted" {
			status = registry.SubscriptionStatusCancelled
		}
		start, end := sub.Period()
		return h.dispatcher.SyncSubscription(ctx, onboarding.SubscriptionUpdate{
			SubscriptionID: sub.ID,
			Status:         status,
			PeriodStart:    start,
			PeriodEnd:      end,
			AutoRenew:      !sub.CancelAtPeriodEnd && event.Type != "customer.subscription.deleted",
			EventAt:        unixOrZero(event.Created),
		})

	case "account.updated":
		var acct Account
		if err := json.Unmarshal(event.Data.Raw, &acct); err != nil {
			return fmt.Errorf("decode account: %w", err)
		}
		return h.dispatcher.RefreshMerchantAccount(ctx, billing.MerchantAccount{
			ID:               acct.ID,
			ChargesEnabled:   acct.ChargesEnabled,
			PayoutsEnabled:   acct.PayoutsEnabled,
			DetailsSubmitted: acct.DetailsSubmitted,
		})

	default:
		log.Info().
			Str("type", string(event.Type)).
			Str("event_id", event.ID).
			Msg("Stripe webhook ignored (unhandled type)")
		return nil
	}
}

func (h *WebhookHandler) handleCheckoutPaid(ctx context.Context, event *stripelib.Event, session CheckoutSession) error {
	if !billing.PaymentStatus(session.PaymentStatus).Settled() {
		// Delayed payment methods complete later via async_payment_succeeded.
		log.Info().
			Str("event_id", event.ID).
			Str("checkout_session_id", session.ID).
			Str("payment_status", session.PaymentStatus).
			Msg("Checkout completed without settled payment; waiting")
		return nil
	}
	if session.Subscription == "" {
		log.Warn().
			Str("event_id", event.ID).
			Str("checkout_session_id", session.ID).
			Msg("Checkout completed without a subscription; ignoring")
		return nil
	}

	req := onboarding.ActivationRequest{
		Source:             onboarding.SourceWebhook,
		SubscriptionID:     session.Subscription,
		CustomerID:         session.Customer,
		MerchantAccountID:  session.Metadata[billing.MetadataMerchantAccountID],
		CheckoutSessionID:  session.ID,
		SignupSessionID:    session.Metadata[billing.MetadataSignupSessionID],
		PlanID:             session.Metadata[billing.MetadataPlanID],
		SubscriptionStatus: registry.SubscriptionStatusActive,
		AutoRenew:          true,
		EventAt:            unixOrZero(event.Created),
	}
	if h.subscriptions != nil {
		sub, err := h.subscriptions.GetSubscription(ctx, session.Subscription)
		if err != nil {
			return fmt.Errorf("fetch subscription %s: %w", session.Subscription, err)
		}
		if sub != nil {
			req.SubscriptionStatus = billing.MapSubscriptionStatus(sub.Status)
			req.AutoRenew = !sub.CancelAtPeriodEnd
			if len(sub.Items) > 0 {
				req.PeriodStart = sub.Items[0].CurrentPeriodStart
				req.PeriodEnd = sub.Items[0].CurrentPeriodEnd
			}
			if req.CustomerID == "" {
				req.CustomerID = sub.CustomerID
			}
		}
	}

	return h.dispatcher.Dispatch(ctx, onboarding.Event{
		Kind:              onboarding.EventCheckoutSucceeded,
		CheckoutSessionID: session.ID,
		Activation:        req,
	})
}

// CheckoutSession is a minimal representation of a Stripe checkout.session event.
type CheckoutSession struct {
	ID            string            `json:"id"`
	Mode          string            `json:"mode"`
	Status        string            `json:"status"`
	PaymentStatus string            `json:"payment_status"`
	Customer      string            `json:"customer"`
	Subscription  string            `json:"subscription"`
	CustomerEmail string            `json:"customer_email"`
	Metadata      map[string]string `json:"metadata"`
}

// Subscription is a minimal representation of a Stripe subscription event.
type Subscription struct {
	ID                string `json:"id"`
	Customer          string `json:"customer"`
	Status            string `json:"status"`
	CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`
	Items             struct {
		Data []struct {
			CurrentPeriodStart int64 `json:"current_period_start"`
			CurrentPeriodEnd   int64 `json:"current_period_end"`
			Price              struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
	Metadata map[string]string `json:"metadata"`
}

// Period returns the billing period of the first subscription item.
func (s *Subscription) Period() (time.Time, time.Time) {
	if len(s.Items.Data) == 0 {
		return time.Time{}, time.Time{}
	}
	item := s.Items.Data[0]
	return unixOrZero(item.CurrentPeriodStart), unixOrZero(item.CurrentPeriodEnd)
}

// Account is a minimal representation of a Stripe connected account event.
type Account struct {
	ID               string `json:"id"`
	ChargesEnabled   bool   `json:"charges_enabled"`
	PayoutsEnabled   bool   `json:"payouts_enabled"`
	DetailsSubmitted bool   `json:"details_submitted"`
}

func writeJSON[T any](w http.ResponseWriter, status int, v T) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Int("status", status).Msg("cloudcp.stripe: encode webhook response")
	}
}
