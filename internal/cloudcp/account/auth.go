// Package account serves the signed-in club surface: a person's own
// memberships and the roster of a club they belong to.
package account

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/rcourtman/clubcloud/internal/cloudcp/auditlog"
	"github.com/rcourtman/clubcloud/internal/cloudcp/identity"
	"github.com/rcourtman/clubcloud/internal/cloudcp/registry"
)

// Authenticator verifies login credentials.
type Authenticator interface {
	Authenticate(ctx context.Context, email, password string) (*identity.Identity, error)
}

// Principal is the authenticated caller.
type Principal struct {
	Identity *identity.Identity
	User     *registry.PlatformUser
}

type principalKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the caller stored by RequireLogin, or nil.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey{}).(*Principal)
	return p
}

// RequireLogin authenticates HTTP Basic credentials against the identity
// store and resolves the person behind them.
func RequireLogin(authn Authenticator, reg *registry.Registry, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		email, password, ok := r.BasicAuth()
		if !ok || strings.TrimSpace(email) == "" {
			w.Header().Set("WWW-Authenticate", `Basic realm="clubcloud"`)
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "authentication required"})
			return
		}

		id, err := authn.Authenticate(r.Context(), email, password)
		if err != nil {
			if !errors.Is(err, identity.ErrInvalidCredentials) {
				log.Error().Err(err).Msg("account: authenticate")
				writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
				return
			}
			auditlog.Record(r, auditlog.ActionClubAuthFailed).
				Str("email", identity.NormalizeEmail(email)).
				Msg("Club login rejected")
			w.Header().Set("WWW-Authenticate", `Basic realm="clubcloud"`)
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid credentials"})
			return
		}

		user, err := reg.GetPlatformUserByIdentityID(r.Context(), id.ID)
		if err != nil {
			log.Error().Err(err).Str("identity_id", id.ID).Msg("account: resolve platform user")
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
			return
		}
		if user == nil || !user.Active {
			auditlog.Record(r, auditlog.ActionClubAuthFailed).
				Str("identity_id", id.ID).
				Str("reason", "no_active_person").
				Msg("Club login rejected")
			writeJSON(w, http.StatusForbidden, errorResponse{Error: "account is not active"})
			return
		}

		ctx := WithPrincipal(r.Context(), &Principal{Identity: id, User: user})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole lets the request through only when the caller holds an active
// membership of at least required in the club named by the tenant_id path
// value. It must run behind RequireLogin.
func RequireRole(reg *registry.Registry, required registry.Role, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := PrincipalFromContext(r.Context())
		if p == nil {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "authentication required"})
			return
		}
		tenantID := strings.TrimSpace(r.PathValue("tenant_id"))

		ok, err := reg.HasRoleInTenant(r.Context(), p.User.ID, tenantID, required)
		if err != nil {
			log.Error().Err(err).
				Str("platform_user_id", p.User.ID).
				Str("tenant_id", tenantID).
				Msg("account: role check")
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
			return
		}
		if !ok {
			auditlog.Record(r, auditlog.ActionClubAccessDenied).
				Str("platform_user_id", p.User.ID).
				Str("tenant_id", tenantID).
				Str("required_role", string(required)).
				Msg("Club access denied")
			writeJSON(w, http.StatusForbidden, errorResponse{Error: "insufficient role"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
