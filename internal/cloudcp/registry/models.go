package registry

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"
)

// TenantStatus represents the lifecycle status of a tenant.
type TenantStatus string

const (
	TenantStatusPendingActivation TenantStatus = "pending_activation"
	TenantStatusActive            TenantStatus = "active"
	TenantStatusSuspended         TenantStatus = "suspended"
	TenantStatusCancelled         TenantStatus = "cancelled"
)

// KnownTenantStatuses lists every status a tenant can hold.
var KnownTenantStatuses = []TenantStatus{
	TenantStatusPendingActivation,
	TenantStatusActive,
	TenantStatusSuspended,
	TenantStatusCancelled,
}

// Tenant is one customer organization (a club).
type Tenant struct {
	ID                string       `json:"id"`
	DisplayName       string       `json:"display_name"`
	Subdomain         string       `json:"subdomain"`
	Status            TenantStatus `json:"status"`
	MerchantAccountID string       `json:"merchant_account_id,omitempty"`
	ChargesEnabled    bool         `json:"charges_enabled"`
	PayoutsEnabled    bool         `json:"payouts_enabled"`
	DetailsSubmitted  bool         `json:"details_submitted"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

// Plan is a purchasable SaaS plan backed by a Stripe price.
type Plan struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	StripePriceID string    `json:"stripe_price_id"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// PlatformUser is a person, independent of login credentials.
type PlatformUser struct {
	ID              string    `json:"id"`
	IdentityID      string    `json:"identity_id"`
	FirstName       string    `json:"first_name"`
	LastName        string    `json:"last_name"`
	Active          bool      `json:"active"`
	DefaultTenantID string    `json:"default_tenant_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Role is a tenant-scoped role. Roles are ordered member < coach < admin.
type Role string

const (
	RoleMember Role = "member"
	RoleCoach  Role = "coach"
	RoleAdmin  Role = "admin"
)

func (r Role) rank() int {
	switch r {
	case RoleMember:
		return 1
	case RoleCoach:
		return 2
	case RoleAdmin:
		return 3
	default:
		return 0
	}
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool { return r.rank() > 0 }

// AtLeast reports whether r is equal to or above required in the hierarchy.
// Unknown roles never satisfy and are never satisfied.
func (r Role) AtLeast(required Role) bool {
	if !r.Valid() || !required.Valid() {
		return false
	}
	return r.rank() >= required.rank()
}

// MemberStatus is the status of a tenant membership.
type MemberStatus string

const (
	MemberStatusActive        MemberStatus = "active"
	MemberStatusInactive      MemberStatus = "inactive"
	MemberStatusSuspended     MemberStatus = "suspended"
	MemberStatusPendingInvite MemberStatus = "pending_invite"
)

// Valid reports whether s is a known membership status.
func (s MemberStatus) Valid() bool {
	switch s {
	case MemberStatusActive, MemberStatusInactive, MemberStatusSuspended, MemberStatusPendingInvite:
		return true
	}
	return false
}

// TenantUser binds one PlatformUser to one Tenant.
type TenantUser struct {
	ID               string       `json:"id"`
	TenantID         string       `json:"tenant_id"`
	PlatformUserID   string       `json:"platform_user_id"`
	Role             Role         `json:"role"`
	Status           MemberStatus `json:"status"`
	IsOwner          bool         `json:"is_owner"`
	MembershipPlanID string       `json:"membership_plan_id,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// SessionState is the state of a signup session.
type SessionState string

const (
	SessionStateStarted         SessionState = "started"
	SessionStateUserCreated     SessionState = "user_created"
	SessionStateTenantCreated   SessionState = "tenant_created"
	SessionStateBillingStarted  SessionState = "billing_started"
	SessionStateBillingComplete SessionState = "billing_complete"
	SessionStateCompleted       SessionState = "completed"
	SessionStateExpired         SessionState = "expired"
)

// Terminal reports whether no further transitions are possible from s.
func (s SessionState) Terminal() bool {
	return s == SessionStateCompleted || s == SessionStateExpired
}

// SignupSession tracks one in-progress provisioning attempt.
type SignupSession struct {
	ID                string       `json:"id"`
	PlanID            string       `json:"plan_id"`
	Email             string       `json:"email"`
	IdentityID        string       `json:"identity_id,omitempty"`
	PlatformUserID    string       `json:"platform_user_id,omitempty"`
	TenantID          string       `json:"tenant_id,omitempty"`
	State             SessionState `json:"state"`
	CheckoutSessionID string       `json:"checkout_session_id,omitempty"`
	CheckoutURL       string       `json:"checkout_url,omitempty"`
	ExpiresAt         time.Time    `json:"expires_at"`
	LastActivityAt    time.Time    `json:"last_activity_at"`
	CompletedAt       *time.Time   `json:"completed_at,omitempty"`
	ErrorMessage      string       `json:"error_message,omitempty"`
	CreatedAt         time.Time    `json:"created_at"`
}

// ExpiredAt reports whether the session's expiry has elapsed at now.
// Terminal sessions never expire.
func (s *SignupSession) ExpiredAt(now time.Time) bool {
	if s == nil || s.State.Terminal() {
		return false
	}
	return !now.Before(s.ExpiresAt)
}

// SubscriptionStatus mirrors the billing provider's subscription status.
type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusPastDue   SubscriptionStatus = "past_due"
	SubscriptionStatusTrialing  SubscriptionStatus = "trialing"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
)

// TenantSubscription links a tenant to its billing provider subscription.
type TenantSubscription struct {
	ID                     string             `json:"id"`
	TenantID               string             `json:"tenant_id"`
	ProviderSubscriptionID string             `json:"provider_subscription_id"`
	ProviderCustomerID     string             `json:"provider_customer_id"`
	PlanID                 string             `json:"plan_id,omitempty"`
	Status                 SubscriptionStatus `json:"status"`
	CurrentPeriodStart     time.Time          `json:"current_period_start"`
	CurrentPeriodEnd       time.Time          `json:"current_period_end"`
	AutoRenew              bool               `json:"auto_renew"`
	ProviderEventAt        time.Time          `json:"provider_event_at"` // newest provider change applied
	CreatedAt              time.Time          `json:"created_at"`
	UpdatedAt              time.Time          `json:"updated_at"`
}

// crockfordBase32 is the Crockford base32 alphabet (excludes I, L, O, U).
const crockfordBase32 = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

func generateID(prefix string) (string, error) {
	b := make([]byte, 10)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate %s id: %w", strings.TrimRight(prefix, "-_"), err)
	}
	var sb strings.Builder
	sb.WriteString(prefix)
	for _, v := range b {
		sb.WriteByte(crockfordBase32[int(v)%len(crockfordBase32)])
	}
	return sb.String(), nil
}

// GenerateTenantID returns a tenant ID of the form "t-" followed by 10 random
// Crockford base32 characters (50 bits of entropy).
func GenerateTenantID() (string, error) { return generateID("t-") }

// GeneratePlatformUserID returns an ID of the form "pu_" + 10 Crockford characters.
func GeneratePlatformUserID() (string, error) { return generateID("pu_") }

// GenerateTenantUserID returns an ID of the form "tu_" + 10 Crockford characters.
func GenerateTenantUserID() (string, error) { return generateID("tu_") }

// GenerateSubscriptionID returns an ID of the form "ts_" + 10 Crockford characters.
func GenerateSubscriptionID() (string, error) { return generateID("ts_") }
