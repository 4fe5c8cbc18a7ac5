package admin

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/rcourtman/clubcloud/internal/cloudcp/auditlog"
	"github.com/rcourtman/clubcloud/internal/cloudcp/onboarding"
	"github.com/rcourtman/clubcloud/internal/cloudcp/registry"
)

// MerchantSyncer links connected merchant accounts to tenants and refreshes
// their capability flags from the billing provider.
type MerchantSyncer interface {
	LinkMerchantAccount(ctx context.Context, tenantID, accountID string) (*registry.Tenant, error)
	SyncMerchantAccount(ctx context.Context, tenantID string) (*registry.Tenant, error)
}

const linkMerchantBodyLimit = 4 << 10

type linkMerchantRequest struct {
	AccountID string `json:"account_id"`
}

type tenantDetail struct {
	Tenant       *registry.Tenant             `json:"tenant"`
	Subscription *registry.TenantSubscription `json:"subscription,omitempty"`
	Members      []*registry.TenantUser       `json:"members"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// HandleListTenants returns an authenticated handler that lists all tenants.
func HandleListTenants(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		// Optional status filter
		statusFilter := strings.TrimSpace(r.URL.Query().Get("status"))

		var tenants []*registry.Tenant
		var err error

		if statusFilter != "" {
			tenants, err = reg.ListTenantsByStatus(r.Context(), registry.TenantStatus(statusFilter))
		} else {
			tenants, err = reg.ListTenants(r.Context())
		}
		if err != nil {
			log.Error().Err(err).Msg("admin: list tenants")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		if tenants == nil {
			tenants = []*registry.Tenant{}
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"tenants": tenants,
			"count":   len(tenants),
		})
	}
}

// HandleGetTenant returns a tenant with its subscription mirror and members.
func HandleGetTenant(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		ctx := r.Context()
		tenantID := strings.TrimSpace(r.PathValue("tenant_id"))

		tenant, err := reg.GetTenant(ctx, tenantID)
		if err != nil {
			log.Error().Err(err).Str("tenant_id", tenantID).Msg("admin: get tenant")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if tenant == nil {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "tenant not found"})
			return
		}

		sub, err := reg.GetTenantSubscription(ctx, tenantID)
		if err != nil {
			log.Error().Err(err).Str("tenant_id", tenantID).Msg("admin: get tenant subscription")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		members, err := reg.ListTenantUsers(ctx, tenantID)
		if err != nil {
			log.Error().Err(err).Str("tenant_id", tenantID).Msg("admin: list tenant users")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if members == nil {
			members = []*registry.TenantUser{}
		}

		writeJSON(w, http.StatusOK, tenantDetail{Tenant: tenant, Subscription: sub, Members: members})
	}
}

// HandleListMemberships lists a platform user's memberships. The optional
// status query takes a comma-separated list of membership statuses.
func HandleListMemberships(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		userID := strings.TrimSpace(r.PathValue("user_id"))

		var statuses []registry.MemberStatus
		for _, s := range strings.Split(r.URL.Query().Get("status"), ",") {
			if s = strings.TrimSpace(s); s != "" {
				statuses = append(statuses, registry.MemberStatus(s))
			}
		}

		memberships, err := reg.ListMemberships(r.Context(), userID, statuses...)
		if err != nil {
			log.Error().Err(err).Str("platform_user_id", userID).Msg("admin: list memberships")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if memberships == nil {
			memberships = []*registry.TenantUser{}
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"platform_user_id": userID,
			"memberships":      memberships,
			"count":            len(memberships),
		})
	}
}

// HandleSyncMerchant pulls a tenant's connected account from the billing
// provider and stores its capability flags.
func HandleSyncMerchant(syncer MerchantSyncer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		tenantID := strings.TrimSpace(r.PathValue("tenant_id"))

		tenant, err := syncer.SyncMerchantAccount(r.Context(), tenantID)
		if err != nil {
			log.Warn().Err(err).Str("tenant_id", tenantID).Msg("admin: merchant sync failed")
			writeMerchantError(w, err)
			return
		}
		if tenant == nil {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "tenant not found"})
			return
		}

		auditlog.Record(r, auditlog.ActionMerchantSynced).
			Str("tenant_id", tenantID).
			Bool("charges_enabled", tenant.ChargesEnabled).
			Msg("Merchant account synced")
		writeJSON(w, http.StatusOK, tenant)
	}
}

// HandleLinkMerchant attaches a connected merchant account to a tenant.
// The body is {"account_id": "acct_..."}.
func HandleLinkMerchant(syncer MerchantSyncer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		tenantID := strings.TrimSpace(r.PathValue("tenant_id"))

		var req linkMerchantRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, linkMerchantBodyLimit)).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
			return
		}

		tenant, err := syncer.LinkMerchantAccount(r.Context(), tenantID, req.AccountID)
		if err != nil {
			log.Warn().Err(err).Str("tenant_id", tenantID).Msg("admin: merchant link failed")
			writeMerchantError(w, err)
			return
		}
		if tenant == nil {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "tenant not found"})
			return
		}

		auditlog.Record(r, auditlog.ActionMerchantLinked).
			Str("tenant_id", tenantID).
			Str("merchant_account_id", tenant.MerchantAccountID).
			Msg("Merchant account linked")
		writeJSON(w, http.StatusOK, tenant)
	}
}

func writeMerchantError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch onboarding.TypeOf(err) {
	case onboarding.ErrorTypeValidation:
		status = http.StatusUnprocessableEntity
	case onboarding.ErrorTypeNotFound:
		status = http.StatusNotFound
	case onboarding.ErrorTypePrecondition:
		status = http.StatusConflict
	case onboarding.ErrorTypeProvider:
		status = http.StatusBadGateway
	}
	msg := "internal error"
	if status != http.StatusInternalServerError {
		var se *onboarding.SignupError
		if errors.As(err, &se) && se.Err != nil {
			msg = se.Err.Error()
		}
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

// AdminKeyMiddleware returns middleware that requires a valid admin API key.
func AdminKeyMiddleware(adminKey string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get("X-Admin-Key"))
		if key == "" {
			// Also check Authorization: Bearer <key>
			auth := r.Header.Get("Authorization")
			if strings.HasPrefix(auth, "Bearer ") {
				key = strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
			}
		}

		if adminKey == "" || key == "" || subtle.ConstantTimeCompare([]byte(key), []byte(adminKey)) != 1 {
			auditlog.Record(r, auditlog.ActionAdminAuthFailed).Msg("Admin authentication failed")
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON[T any](w http.ResponseWriter, status int, v T) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Int("status", status).Msg("cloudcp.admin: encode response")
	}
}
