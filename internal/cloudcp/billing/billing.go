// Package billing defines the subset of the billing provider that signup
// and activation depend on. internal/cloudcp/stripe implements it.
package billing

import (
	"context"
	"errors"
	"time"
)

// Lookups of objects the provider does not know, either because the id is
// malformed or because the object no longer exists, wrap these.
var (
	ErrCheckoutNotFound        = errors.New("checkout session not found")
	ErrMerchantAccountNotFound = errors.New("merchant account not found")
)

// Metadata keys attached to every checkout session so that webhooks and
// polls can find their way back to the signup session.
const (
	MetadataSignupSessionID   = "signup_session_id"
	MetadataTenantID          = "tenant_id"
	MetadataPlanID            = "plan_id"
	MetadataMerchantAccountID = "merchant_account_id"
)

// PaymentStatus is the payment status of a checkout session.
type PaymentStatus string

const (
	PaymentStatusPaid              PaymentStatus = "paid"
	PaymentStatusUnpaid            PaymentStatus = "unpaid"
	PaymentStatusNoPaymentRequired PaymentStatus = "no_payment_required"
)

// Settled reports whether the checkout needs no further payment.
func (s PaymentStatus) Settled() bool {
	return s == PaymentStatusPaid || s == PaymentStatusNoPaymentRequired
}

// CheckoutRequest describes a hosted checkout to create.
type CheckoutRequest struct {
	PriceID    string
	SuccessURL string
	CancelURL  string
	Email      string
	Metadata   map[string]string
}

// CheckoutSession is a hosted checkout as seen by the signup flow.
type CheckoutSession struct {
	ID             string
	URL            string
	Open           bool // still accepting payment
	PaymentStatus  PaymentStatus
	SubscriptionID string
	CustomerID     string
	Metadata       map[string]string
	ExpiresAt      time.Time
}

// SubscriptionItem is one priced line of a subscription.
type SubscriptionItem struct {
	PriceID            string
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
}

// Subscription is a billing provider subscription.
type Subscription struct {
	ID                string
	CustomerID        string
	Status            string // provider status, e.g. "active", "trialing"
	CancelAtPeriodEnd bool
	Items             []SubscriptionItem
	Metadata          map[string]string
}

// MatchPrice returns the first item whose price is in prices.
func (s *Subscription) MatchPrice(prices map[string]struct{}) (SubscriptionItem, bool) {
	if s == nil {
		return SubscriptionItem{}, false
	}
	for _, item := range s.Items {
		if _, ok := prices[item.PriceID]; ok {
			return item, true
		}
	}
	return SubscriptionItem{}, false
}

// MerchantAccount is the capability snapshot of a connected merchant account.
type MerchantAccount struct {
	ID               string
	ChargesEnabled   bool
	PayoutsEnabled   bool
	DetailsSubmitted bool
}

// Provider is the billing provider surface. Every call honours ctx.
type Provider interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	GetCheckoutSession(ctx context.Context, id string) (*CheckoutSession, error)
	GetSubscription(ctx context.Context, id string) (*Subscription, error)
	GetMerchantAccount(ctx context.Context, id string) (*MerchantAccount, error)
}
