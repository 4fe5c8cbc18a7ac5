package stripe

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripewebhook "github.com/stripe/stripe-go/v82/webhook"

	"github.com/rcourtman/clubcloud/internal/cloudcp/billing"
	"github.com/rcourtman/clubcloud/internal/cloudcp/onboarding"
	"github.com/rcourtman/clubcloud/internal/cloudcp/registry"
)

const testWebhookSecret = "whsec_test_secret"

type recordingDispatcher struct {
	events   []onboarding.Event
	updates  []onboarding.SubscriptionUpdate
	accounts []billing.MerchantAccount
	err      error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, e onboarding.Event) error {
	d.events = append(d.events, e)
	return d.err
}

func (d *recordingDispatcher) SyncSubscription(_ context.Context, u onboarding.SubscriptionUpdate) error {
	d.updates = append(d.updates, u)
	return d.err
}

func (d *recordingDispatcher) RefreshMerchantAccount(_ context.Context, acct billing.MerchantAccount) error {
	d.accounts = append(d.accounts, acct)
	return d.err
}

type stubSubscriptions struct {
	sub *billing.Subscription
	err error
}

func (s stubSubscriptions) GetSubscription(context.Context, string) (*billing.Subscription, error) {
	return s.sub, s.err
}

func signedWebhookRequest(t *testing.T, secret, payload string) *http.Request {
	t.Helper()

	signed := stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    secret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/stripe/webhook", bytes.NewReader(signed.Payload))
	req.Header.Set("Stripe-Signature", signed.Header)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

const checkoutCompletedEvent = `{"id":"evt_1","object":"event","type":"checkout.session.completed","data":{"object":{
	"id":"cs_test_1","object":"checkout.session","mode":"subscription","status":"complete","payment_status":"paid",
	"customer":"cus_1","subscription":"sub_1",
	"metadata":{"signup_session_id":"01JSESSION","tenant_id":"t-ACME","plan_id":"club-monthly","merchant_account_id":"acct_1"}}}}`

func TestWebhookCheckoutCompletedDispatchesActivation(t *testing.T) {
	start := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	d := &recordingDispatcher{}
	subs := stubSubscriptions{sub: &billing.Subscription{
		ID:                "sub_1",
		Status:            "trialing",
		CancelAtPeriodEnd: true,
		Items: []billing.SubscriptionItem{{
			PriceID:            "price_monthly",
			CurrentPeriodStart: start,
			CurrentPeriodEnd:   start.AddDate(0, 1, 0),
		}},
	}}
	h := NewWebhookHandler(testWebhookSecret, d, subs)

	rec := serve(h, signedWebhookRequest(t, testWebhookSecret, checkoutCompletedEvent))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"received":true}`, rec.Body.String())

	require.Len(t, d.events, 1)
	e := d.events[0]
	assert.Equal(t, onboarding.EventCheckoutSucceeded, e.Kind)
	assert.Equal(t, "cs_test_1", e.CheckoutSessionID)
	assert.Equal(t, onboarding.ActivationRequest{
		Source:             onboarding.SourceWebhook,
		SubscriptionID:     "sub_1",
		CustomerID:         "cus_1",
		MerchantAccountID:  "acct_1",
		PeriodStart:        start,
		PeriodEnd:          start.AddDate(0, 1, 0),
		CheckoutSessionID:  "cs_test_1",
		SignupSessionID:    "01JSESSION",
		PlanID:             "club-monthly",
		SubscriptionStatus: registry.SubscriptionStatusTrialing,
		AutoRenew:          false,
	}, e.Activation)
}

func TestWebhookCheckoutUnpaidWaits(t *testing.T) {
	d := &recordingDispatcher{}
	h := NewWebhookHandler(testWebhookSecret, d, nil)
	payload := `{"id":"evt_2","object":"event","type":"checkout.session.completed","data":{"object":{"id":"cs_test_2","payment_status":"unpaid","subscription":"sub_2"}}}`

	rec := serve(h, signedWebhookRequest(t, testWebhookSecret, payload))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, d.events)
}

func TestWebhookFailureEvents(t *testing.T) {
	tests := []struct {
		eventType string
		message   string
	}{
		{"checkout.session.async_payment_failed", failureAsyncPayment},
		{"checkout.session.expired", failureCheckoutExpired},
	}
	for _, tt := range tests {
		t.Run(tt.eventType, func(t *testing.T) {
			d := &recordingDispatcher{}
			h := NewWebhookHandler(testWebhookSecret, d, nil)
			payload := `{"id":"evt_3","object":"event","type":"` + tt.eventType + `","data":{"object":{"id":"cs_test_3"}}}`

			rec := serve(h, signedWebhookRequest(t, testWebhookSecret, payload))
			require.Equal(t, http.StatusOK, rec.Code)
			require.Len(t, d.events, 1)
			assert.Equal(t, onboarding.EventCheckoutFailed, d.events[0].Kind)
			assert.Equal(t, "cs_test_3", d.events[0].CheckoutSessionID)
			assert.Equal(t, tt.message, d.events[0].FailureMessage)
		})
	}
}

func TestWebhookSubscriptionEvents(t *testing.T) {
	d := &recordingDispatcher{}
	h := NewWebhookHandler(testWebhookSecret, d, nil)

	updated := `{"id":"evt_4","object":"event","created":1790100000,"type":"customer.subscription.updated","data":{"object":{
		"id":"sub_1","customer":"cus_1","status":"past_due","cancel_at_period_end":false,
		"items":{"data":[{"current_period_start":1790000000,"current_period_end":1792592000,"price":{"id":"price_monthly"}}]}}}}`
	rec := serve(h, signedWebhookRequest(t, testWebhookSecret, updated))
	require.Equal(t, http.StatusOK, rec.Code)

	deleted := `{"id":"evt_5","object":"event","type":"customer.subscription.deleted","data":{"object":{"id":"sub_1","status":"canceled"}}}`
	rec = serve(h, signedWebhookRequest(t, testWebhookSecret, deleted))
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, d.updates, 2)
	assert.Equal(t, registry.SubscriptionStatusPastDue, d.updates[0].Status)
	assert.True(t, d.updates[0].AutoRenew)
	assert.Equal(t, time.Unix(1790000000, 0).UTC(), d.updates[0].PeriodStart)
	assert.Equal(t, time.Unix(1790100000, 0).UTC(), d.updates[0].EventAt, "event time orders mirror writes")
	assert.True(t, d.updates[1].EventAt.IsZero())
	assert.Equal(t, registry.SubscriptionStatusCancelled, d.updates[1].Status)
	assert.False(t, d.updates[1].AutoRenew)
}

func TestWebhookAccountUpdated(t *testing.T) {
	d := &recordingDispatcher{}
	h := NewWebhookHandler(testWebhookSecret, d, nil)
	payload := `{"id":"evt_6","object":"event","type":"account.updated","data":{"object":{"id":"acct_1","charges_enabled":true,"payouts_enabled":false,"details_submitted":true}}}`

	rec := serve(h, signedWebhookRequest(t, testWebhookSecret, payload))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, d.accounts, 1)
	assert.Equal(t, billing.MerchantAccount{ID: "acct_1", ChargesEnabled: true, DetailsSubmitted: true}, d.accounts[0])
}

func TestWebhookErrorClassification(t *testing.T) {
	permanent := &onboarding.SignupError{Type: onboarding.ErrorTypeNotFound, Op: "activate", Err: onboarding.ErrSessionNotFound}
	transient := &onboarding.SignupError{Type: onboarding.ErrorTypeInternal, Op: "activate", Err: errors.New("database is locked")}

	d := &recordingDispatcher{err: permanent}
	h := NewWebhookHandler(testWebhookSecret, d, nil)
	rec := serve(h, signedWebhookRequest(t, testWebhookSecret, checkoutCompletedEvent))
	assert.Equal(t, http.StatusOK, rec.Code, "permanent errors are acknowledged")

	d.err = transient
	rec = serve(h, signedWebhookRequest(t, testWebhookSecret, checkoutCompletedEvent))
	assert.Equal(t, http.StatusInternalServerError, rec.Code, "transient errors ask for redelivery")

	// Redelivery is processed again rather than short-circuited.
	rec = serve(h, signedWebhookRequest(t, testWebhookSecret, checkoutCompletedEvent))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Len(t, d.events, 3)
}

func TestWebhookSubscriptionFetchFailureIsRetried(t *testing.T) {
	d := &recordingDispatcher{}
	h := NewWebhookHandler(testWebhookSecret, d, stubSubscriptions{err: errors.New("stripe timeout")})

	rec := serve(h, signedWebhookRequest(t, testWebhookSecret, checkoutCompletedEvent))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Empty(t, d.events)
}

func TestWebhookRejectsBadRequests(t *testing.T) {
	d := &recordingDispatcher{}

	noSecret := NewWebhookHandler("", d, nil)
	rec := serve(noSecret, signedWebhookRequest(t, testWebhookSecret, checkoutCompletedEvent))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	h := NewWebhookHandler(testWebhookSecret, d, nil)
	rec = serve(h, httptest.NewRequest(http.MethodGet, "/api/stripe/webhook", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	unsigned := httptest.NewRequest(http.MethodPost, "/api/stripe/webhook", bytes.NewReader([]byte(checkoutCompletedEvent)))
	rec = serve(h, unsigned)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(h, signedWebhookRequest(t, "whsec_other", checkoutCompletedEvent))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Empty(t, d.events)
}

func TestWebhookIgnoresUnhandledTypes(t *testing.T) {
	d := &recordingDispatcher{}
	h := NewWebhookHandler(testWebhookSecret, d, nil)
	payload := `{"id":"evt_7","object":"event","type":"invoice.paid","data":{"object":{"id":"in_1"}}}`

	rec := serve(h, signedWebhookRequest(t, testWebhookSecret, payload))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, d.events)
}
