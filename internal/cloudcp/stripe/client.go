package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	stripelib "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/account"
	stripesession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/subscription"

	"github.com/rcourtman/clubcloud/internal/cloudcp/billing"
)

// Client implements billing.Provider on the Stripe API.
type Client struct {
	createCheckoutSession func(params *stripelib.CheckoutSessionParams) (*stripelib.CheckoutSession, error)
	getCheckoutSession    func(id string, params *stripelib.CheckoutSessionParams) (*stripelib.CheckoutSession, error)
	getSubscription       func(id string, params *stripelib.SubscriptionParams) (*stripelib.Subscription, error)
	getAccount            func(id string, params *stripelib.AccountParams) (*stripelib.Account, error)
}

// NewClient configures the Stripe SDK with apiKey and returns a Client.
func NewClient(apiKey string) *Client {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		log.Warn().Msg("Stripe API key not configured; billing calls will fail")
	}
	stripelib.Key = apiKey
	return &Client{
		createCheckoutSession: stripesession.New,
		getCheckoutSession:    stripesession.Get,
		getSubscription:       subscription.Get,
		getAccount:            account.GetByID,
	}
}

// CreateCheckoutSession creates a hosted subscription checkout. Metadata is
// copied onto the subscription so later lifecycle events carry it too.
func (c *Client) CreateCheckoutSession(ctx context.Context, req billing.CheckoutRequest) (*billing.CheckoutSession, error) {
	if strings.TrimSpace(req.PriceID) == "" {
		return nil, fmt.Errorf("stripe: price id is required")
	}
	params := &stripelib.CheckoutSessionParams{
		Mode:                    stripelib.String(string(stripelib.CheckoutSessionModeSubscription)),
		SuccessURL:              stripelib.String(req.SuccessURL),
		CancelURL:               stripelib.String(req.CancelURL),
		PaymentMethodCollection: stripelib.String(string(stripelib.CheckoutSessionPaymentMethodCollectionAlways)),
		LineItems: []*stripelib.CheckoutSessionLineItemParams{
			{
				Price:    stripelib.String(strings.TrimSpace(req.PriceID)),
				Quantity: stripelib.Int64(1),
			},
		},
		Metadata: req.Metadata,
		SubscriptionData: &stripelib.CheckoutSessionSubscriptionDataParams{
			Metadata: req.Metadata,
		},
	}
	if email := strings.TrimSpace(req.Email); email != "" {
		params.CustomerEmail = stripelib.String(email)
	}
	params.Context = ctx

	cs, err := c.createCheckoutSession(params)
	if err != nil {
		return nil, fmt.Errorf("stripe: create checkout session: %w", err)
	}
	return convertCheckoutSession(cs), nil
}

// GetCheckoutSession retrieves a checkout session by ID. Malformed or
// unknown ids yield billing.ErrCheckoutNotFound.
func (c *Client) GetCheckoutSession(ctx context.Context, id string) (*billing.CheckoutSession, error) {
	if !ValidObjectID(prefixCheckoutSession, id) {
		return nil, fmt.Errorf("stripe: invalid checkout session id %q: %w", id, billing.ErrCheckoutNotFound)
	}
	params := &stripelib.CheckoutSessionParams{}
	params.Context = ctx
	cs, err := c.getCheckoutSession(id, params)
	if err != nil {
		if isResourceMissing(err) {
			return nil, fmt.Errorf("stripe: checkout session %q: %w", id, billing.ErrCheckoutNotFound)
		}
		return nil, fmt.Errorf("stripe: get checkout session: %w", err)
	}
	return convertCheckoutSession(cs), nil
}

// GetSubscription retrieves a subscription by ID.
func (c *Client) GetSubscription(ctx context.Context, id string) (*billing.Subscription, error) {
	if !ValidObjectID(prefixSubscription, id) {
		return nil, fmt.Errorf("stripe: invalid subscription id %q", id)
	}
	params := &stripelib.SubscriptionParams{}
	params.Context = ctx
	sub, err := c.getSubscription(id, params)
	if err != nil {
		return nil, fmt.Errorf("stripe: get subscription: %w", err)
	}
	return convertSubscription(sub), nil
}

// GetMerchantAccount retrieves a connected account's capability flags.
// Malformed or unknown ids yield billing.ErrMerchantAccountNotFound.
func (c *Client) GetMerchantAccount(ctx context.Context, id string) (*billing.MerchantAccount, error) {
	if !ValidObjectID(prefixAccount, id) {
		return nil, fmt.Errorf("stripe: invalid account id %q: %w", id, billing.ErrMerchantAccountNotFound)
	}
	params := &stripelib.AccountParams{}
	params.Context = ctx
	acct, err := c.getAccount(id, params)
	if err != nil {
		if isResourceMissing(err) {
			return nil, fmt.Errorf("stripe: account %q: %w", id, billing.ErrMerchantAccountNotFound)
		}
		return nil, fmt.Errorf("stripe: get account: %w", err)
	}
	if acct == nil {
		return nil, nil
	}
	return &billing.MerchantAccount{
		ID:               acct.ID,
		ChargesEnabled:   acct.ChargesEnabled,
		PayoutsEnabled:   acct.PayoutsEnabled,
		DetailsSubmitted: acct.DetailsSubmitted,
	}, nil
}

// isResourceMissing reports whether err is Stripe's answer for an object
// that does not exist.
func isResourceMissing(err error) bool {
	var stripeErr *stripelib.Error
	return errors.As(err, &stripeErr) && stripeErr.Code == stripelib.ErrorCodeResourceMissing
}

func convertCheckoutSession(cs *stripelib.CheckoutSession) *billing.CheckoutSession {
	if cs == nil {
		return nil
	}
	out := &billing.CheckoutSession{
		ID:            cs.ID,
		URL:           cs.URL,
		Open:          cs.Status == stripelib.CheckoutSessionStatusOpen,
		PaymentStatus: billing.PaymentStatus(cs.PaymentStatus),
		Metadata:      cs.Metadata,
	}
	if cs.Subscription != nil {
		out.SubscriptionID = cs.Subscription.ID
	}
	if cs.Customer != nil {
		out.CustomerID = cs.Customer.ID
	}
	if cs.ExpiresAt > 0 {
		out.ExpiresAt = time.Unix(cs.ExpiresAt, 0).UTC()
	}
	return out
}

func convertSubscription(sub *stripelib.Subscription) *billing.Subscription {
	if sub == nil {
		return nil
	}
	out := &billing.Subscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		Metadata:          sub.Metadata,
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item == nil || item.Price == nil {
				continue
			}
			out.Items = append(out.Items, billing.SubscriptionItem{
				PriceID:            item.Price.ID,
				CurrentPeriodStart: unixOrZero(item.CurrentPeriodStart),
				CurrentPeriodEnd:   unixOrZero(item.CurrentPeriodEnd),
			})
		}
	}
	return out
}

func unixOrZero(v int64) time.Time {
	if v <= 0 {
		return time.Time{}
	}
	return time.Unix(v, 0).UTC()
}
