package account

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/rcourtman/clubcloud/internal/cloudcp/auditlog"
	"github.com/rcourtman/clubcloud/internal/cloudcp/registry"
)

const memberRequestBodyLimit = 16 * 1024

var (
	errOwnerProtected = errors.New("the club owner's membership cannot be changed")
	errSelfUpdate     = errors.New("you cannot change your own membership")
	errMemberNotFound = errors.New("member not found")
)

type errorResponse struct {
	Error string `json:"error"`
}

type membershipsResponse struct {
	PlatformUserID string                 `json:"platform_user_id"`
	Memberships    []*registry.TenantUser `json:"memberships"`
}

type rosterResponse struct {
	TenantID string                 `json:"tenant_id"`
	Members  []*registry.TenantUser `json:"members"`
	Count    int                    `json:"count"`
}

type updateMemberRequest struct {
	Role   *registry.Role         `json:"role,omitempty"`
	Status *registry.MemberStatus `json:"status,omitempty"`
}

// HandleMyMemberships lists the caller's active memberships.
// Route: GET /api/me/memberships
func HandleMyMemberships(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p := PrincipalFromContext(r.Context())
		if p == nil {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "authentication required"})
			return
		}
		memberships, err := reg.ListMemberships(r.Context(), p.User.ID, registry.MemberStatusActive)
		if err != nil {
			log.Error().Err(err).Str("platform_user_id", p.User.ID).Msg("account: list memberships")
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
			return
		}
		if memberships == nil {
			memberships = []*registry.TenantUser{}
		}
		writeJSON(w, http.StatusOK, membershipsResponse{PlatformUserID: p.User.ID, Memberships: memberships})
	}
}

// HandleListMembers returns a club's roster, owner first.
// Route: GET /api/clubs/{tenant_id}/members
func HandleListMembers(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID := strings.TrimSpace(r.PathValue("tenant_id"))
		members, err := reg.ListTenantUsers(r.Context(), tenantID)
		if err != nil {
			log.Error().Err(err).Str("tenant_id", tenantID).Msg("account: list members")
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
			return
		}
		if members == nil {
			members = []*registry.TenantUser{}
		}
		writeJSON(w, http.StatusOK, rosterResponse{TenantID: tenantID, Members: members, Count: len(members)})
	}
}

// HandleUpdateMember changes another member's role and/or status.
// Route: PATCH /api/clubs/{tenant_id}/members/{user_id}
func HandleUpdateMember(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p := PrincipalFromContext(r.Context())
		if p == nil {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "authentication required"})
			return
		}
		tenantID := strings.TrimSpace(r.PathValue("tenant_id"))
		userID := strings.TrimSpace(r.PathValue("user_id"))

		var req updateMemberRequest
		r.Body = http.MaxBytesReader(w, r.Body, memberRequestBodyLimit)
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
			return
		}
		if req.Role == nil && req.Status == nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "role or status is required"})
			return
		}
		if req.Role != nil && !req.Role.Valid() {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid role"})
			return
		}
		if req.Status != nil && !req.Status.Valid() {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid status"})
			return
		}
		if userID == p.User.ID {
			writeJSON(w, http.StatusConflict, errorResponse{Error: errSelfUpdate.Error()})
			return
		}

		var before, after registry.TenantUser
		err := reg.RunInTx(r.Context(), func(ctx context.Context) error {
			m, err := reg.GetMembership(ctx, userID, tenantID)
			if err != nil {
				return err
			}
			if m == nil {
				return errMemberNotFound
			}
			if m.IsOwner {
				return errOwnerProtected
			}
			before = *m
			if req.Role != nil && *req.Role != m.Role {
				if err := reg.UpdateMembershipRole(ctx, userID, tenantID, *req.Role); err != nil {
					return err
				}
				m.Role = *req.Role
			}
			if req.Status != nil && *req.Status != m.Status {
				if err := reg.UpdateMembershipStatus(ctx, userID, tenantID, *req.Status); err != nil {
					return err
				}
				m.Status = *req.Status
			}
			after = *m
			return nil
		})
		switch {
		case errors.Is(err, errMemberNotFound), errors.Is(err, registry.ErrNotFound):
			writeJSON(w, http.StatusNotFound, errorResponse{Error: errMemberNotFound.Error()})
			return
		case errors.Is(err, errOwnerProtected):
			writeJSON(w, http.StatusConflict, errorResponse{Error: errOwnerProtected.Error()})
			return
		case err != nil:
			log.Error().Err(err).
				Str("tenant_id", tenantID).
				Str("platform_user_id", userID).
				Msg("account: update member")
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
			return
		}

		auditlog.Record(r, auditlog.ActionMemberUpdated).
			Str("tenant_id", tenantID).
			Str("actor_platform_user_id", p.User.ID).
			Str("platform_user_id", userID).
			Str("old_role", string(before.Role)).
			Str("new_role", string(after.Role)).
			Str("old_status", string(before.Status)).
			Str("new_status", string(after.Status)).
			Msg("Club member updated")

		writeJSON(w, http.StatusOK, after)
	}
}

func writeJSON[T any](w http.ResponseWriter, status int, v T) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Int("status", status).Msg("account: encode response")
	}
}
