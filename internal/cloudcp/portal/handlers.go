// Package portal serves the signed-in member's view of their clubs.
package portal

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rcourtman/clubcloud/internal/cloudcp/account"
	"github.com/rcourtman/clubcloud/internal/cloudcp/registry"
)

type errorResponse struct {
	Error string `json:"error"`
}

type userInfo struct {
	ID              string `json:"id"`
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
	DefaultTenantID string `json:"default_tenant_id,omitempty"`
}

type clubSummaryItem struct {
	TenantID           string                      `json:"tenant_id"`
	DisplayName        string                      `json:"display_name"`
	Subdomain          string                      `json:"subdomain"`
	Status             registry.TenantStatus       `json:"status"`
	Role               registry.Role               `json:"role"`
	IsOwner            bool                        `json:"is_owner"`
	SubscriptionStatus registry.SubscriptionStatus `json:"subscription_status,omitempty"`
	CurrentPeriodEnd   *time.Time                  `json:"current_period_end,omitempty"`
}

type dashboardSummary struct {
	Total     int `json:"total"`
	Active    int `json:"active"`
	Pending   int `json:"pending"`
	Suspended int `json:"suspended"`
	Owned     int `json:"owned"`
}

type dashboardResponse struct {
	User    userInfo          `json:"user"`
	Clubs   []clubSummaryItem `json:"clubs"`
	Summary dashboardSummary  `json:"summary"`
}

type payoutReadiness struct {
	ChargesEnabled   bool `json:"charges_enabled"`
	PayoutsEnabled   bool `json:"payouts_enabled"`
	DetailsSubmitted bool `json:"details_submitted"`
	Ready            bool `json:"ready"`
}

type clubDetailResponse struct {
	TenantID     string                       `json:"tenant_id"`
	DisplayName  string                       `json:"display_name"`
	Subdomain    string                       `json:"subdomain"`
	Status       registry.TenantStatus        `json:"status"`
	CreatedAt    time.Time                    `json:"created_at"`
	Membership   *registry.TenantUser         `json:"membership"`
	MemberCounts map[registry.Role]int        `json:"member_counts"`
	Subscription *registry.TenantSubscription `json:"subscription,omitempty"`
	Payouts      *payoutReadiness             `json:"payouts,omitempty"`
}

// HandleDashboard returns every club the caller actively belongs to with a
// status summary.
// Route: GET /api/me/clubs
func HandleDashboard(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p := account.PrincipalFromContext(r.Context())
		if p == nil {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "authentication required"})
			return
		}

		memberships, err := reg.ListMemberships(r.Context(), p.User.ID, registry.MemberStatusActive)
		if err != nil {
			log.Error().Err(err).Str("platform_user_id", p.User.ID).Msg("portal: list memberships")
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
			return
		}

		resp := dashboardResponse{
			User: userInfo{
				ID:              p.User.ID,
				FirstName:       p.User.FirstName,
				LastName:        p.User.LastName,
				DefaultTenantID: p.User.DefaultTenantID,
			},
			Clubs: make([]clubSummaryItem, 0, len(memberships)),
		}

		for _, m := range memberships {
			t, err := reg.GetTenant(r.Context(), m.TenantID)
			if err != nil {
				log.Error().Err(err).Str("tenant_id", m.TenantID).Msg("portal: load tenant")
				writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
				return
			}
			if t == nil || t.Status == registry.TenantStatusCancelled {
				continue
			}

			item := clubSummaryItem{
				TenantID:    t.ID,
				DisplayName: t.DisplayName,
				Subdomain:   t.Subdomain,
				Status:      t.Status,
				Role:        m.Role,
				IsOwner:     m.IsOwner,
			}
			// Billing state is an admin concern.
			if m.Role.AtLeast(registry.RoleAdmin) {
				sub, err := reg.GetTenantSubscription(r.Context(), t.ID)
				if err != nil {
					log.Error().Err(err).Str("tenant_id", t.ID).Msg("portal: load subscription")
					writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
					return
				}
				if sub != nil {
					item.SubscriptionStatus = sub.Status
					if !sub.CurrentPeriodEnd.IsZero() {
						end := sub.CurrentPeriodEnd
						item.CurrentPeriodEnd = &end
					}
				}
			}
			resp.Clubs = append(resp.Clubs, item)

			resp.Summary.Total++
			if m.IsOwner {
				resp.Summary.Owned++
			}
			switch t.Status {
			case registry.TenantStatusActive:
				resp.Summary.Active++
			case registry.TenantStatusPendingActivation:
				resp.Summary.Pending++
			case registry.TenantStatusSuspended:
				resp.Summary.Suspended++
			}
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

// HandleClubDetail returns one club as seen by the caller. Admins also see
// the subscription and payout readiness.
// Route: GET /api/clubs/{tenant_id}
//
// Auth: must run behind account.RequireRole(RoleMember).
func HandleClubDetail(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p := account.PrincipalFromContext(r.Context())
		if p == nil {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "authentication required"})
			return
		}
		tenantID := strings.TrimSpace(r.PathValue("tenant_id"))

		t, err := reg.GetTenant(r.Context(), tenantID)
		if err != nil {
			log.Error().Err(err).Str("tenant_id", tenantID).Msg("portal: load tenant")
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
			return
		}
		if t == nil {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "club not found"})
			return
		}

		m, err := reg.GetMembership(r.Context(), p.User.ID, tenantID)
		if err != nil {
			log.Error().Err(err).Str("tenant_id", tenantID).Msg("portal: load membership")
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
			return
		}
		if m == nil {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "club not found"})
			return
		}

		roster, err := reg.ListTenantUsers(r.Context(), tenantID)
		if err != nil {
			log.Error().Err(err).Str("tenant_id", tenantID).Msg("portal: list members")
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
			return
		}
		counts := map[registry.Role]int{
			registry.RoleMember: 0,
			registry.RoleCoach:  0,
			registry.RoleAdmin:  0,
		}
		for _, u := range roster {
			if u.Status == registry.MemberStatusActive {
				counts[u.Role]++
			}
		}

		resp := clubDetailResponse{
			TenantID:     t.ID,
			DisplayName:  t.DisplayName,
			Subdomain:    t.Subdomain,
			Status:       t.Status,
			CreatedAt:    t.CreatedAt,
			Membership:   m,
			MemberCounts: counts,
		}

		if m.Role.AtLeast(registry.RoleAdmin) {
			sub, err := reg.GetTenantSubscription(r.Context(), tenantID)
			if err != nil {
				log.Error().Err(err).Str("tenant_id", tenantID).Msg("portal: load subscription")
				writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
				return
			}
			resp.Subscription = sub
			resp.Payouts = &payoutReadiness{
				ChargesEnabled:   t.ChargesEnabled,
				PayoutsEnabled:   t.PayoutsEnabled,
				DetailsSubmitted: t.DetailsSubmitted,
				Ready:            t.ChargesEnabled && t.PayoutsEnabled && t.DetailsSubmitted,
			}
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func writeJSON[T any](w http.ResponseWriter, status int, v T) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Int("status", status).Msg("cloudcp.portal: encode JSON response")
	}
}
