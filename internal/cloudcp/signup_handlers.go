package cloudcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rcourtman/clubcloud/internal/cloudcp/auditlog"
	"github.com/rcourtman/clubcloud/internal/cloudcp/onboarding"
	"github.com/rcourtman/clubcloud/internal/cloudcp/registry"
	"github.com/rcourtman/clubcloud/internal/logging"
)

const signupRequestBodyLimit = 64 * 1024

// SignupService is the signup flow as driven over HTTP.
type SignupService interface {
	Start(ctx context.Context, req onboarding.StartRequest) (*registry.SignupSession, error)
	CreateAdminIdentity(ctx context.Context, sessionID string, req onboarding.AdminRequest) (*registry.SignupSession, error)
	CreateTenant(ctx context.Context, sessionID string, req onboarding.TenantRequest) (*registry.SignupSession, *registry.Tenant, error)
	InitiateBilling(ctx context.Context, sessionID string) (*onboarding.CheckoutResult, error)
	Resume(ctx context.Context, sessionID string) (*onboarding.Summary, error)
	PollStatus(ctx context.Context, sessionID string) (*onboarding.Summary, onboarding.ReconcileOutcome, error)
	CheckSubdomain(ctx context.Context, raw string) (*onboarding.SubdomainCheck, error)
}

// SignupHandlers serves the JSON signup API.
type SignupHandlers struct {
	signup SignupService
}

// NewSignupHandlers creates the signup API handlers.
func NewSignupHandlers(signup SignupService) *SignupHandlers {
	return &SignupHandlers{signup: signup}
}

type apiError struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type sessionResponse struct {
	SessionID    string                `json:"session_id"`
	State        registry.SessionState `json:"state"`
	NextStep     string                `json:"next_step"`
	ExpiresAt    time.Time             `json:"expires_at"`
	TenantID     string                `json:"tenant_id,omitempty"`
	Subdomain    string                `json:"subdomain,omitempty"`
	ErrorMessage string                `json:"error_message,omitempty"`
}

type checkoutResponse struct {
	SessionID   string                `json:"session_id"`
	State       registry.SessionState `json:"state"`
	CheckoutURL string                `json:"checkout_url"`
	Reused      bool                  `json:"reused"`
}

type signupStatusResponse struct {
	*onboarding.Summary
	Reconcile onboarding.ReconcileOutcome `json:"reconcile,omitempty"`
}

func newSessionResponse(s *registry.SignupSession) sessionResponse {
	return sessionResponse{
		SessionID:    s.ID,
		State:        s.State,
		NextStep:     onboarding.NextStep(s.State),
		ExpiresAt:    s.ExpiresAt,
		TenantID:     s.TenantID,
		ErrorMessage: s.ErrorMessage,
	}
}

// HandleStart handles POST /api/signup/sessions.
func (h *SignupHandlers) HandleStart(w http.ResponseWriter, r *http.Request) {
	var req onboarding.StartRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	s, err := h.signup.Start(r.Context(), req)
	if err != nil {
		writeSignupError(w, r, err)
		return
	}
	auditlog.Record(r, auditlog.ActionSignupStarted).
		Str("session_id", s.ID).
		Str("plan_id", s.PlanID).
		Msg("Signup session started")
	writeJSON(w, http.StatusCreated, newSessionResponse(s))
}

// HandleCreateAdmin handles POST /api/signup/sessions/{session_id}/admin.
func (h *SignupHandlers) HandleCreateAdmin(w http.ResponseWriter, r *http.Request) {
	var req onboarding.AdminRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	s, err := h.signup.CreateAdminIdentity(r.Context(), r.PathValue("session_id"), req)
	if err != nil {
		writeSignupError(w, r, err)
		return
	}
	auditlog.Record(r, auditlog.ActionAdminCreated).
		Str("session_id", s.ID).
		Str("platform_user_id", s.PlatformUserID).
		Msg("Club owner account created")
	writeJSON(w, http.StatusOK, newSessionResponse(s))
}

// HandleCreateTenant handles POST /api/signup/sessions/{session_id}/tenant.
func (h *SignupHandlers) HandleCreateTenant(w http.ResponseWriter, r *http.Request) {
	var req onboarding.TenantRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	s, tenant, err := h.signup.CreateTenant(r.Context(), r.PathValue("session_id"), req)
	if err != nil {
		writeSignupError(w, r, err)
		return
	}
	auditlog.Record(r, auditlog.ActionTenantCreated).
		Str("session_id", s.ID).
		Str("tenant_id", tenant.ID).
		Str("subdomain", tenant.Subdomain).
		Msg("Club tenant created")
	resp := newSessionResponse(s)
	resp.Subdomain = tenant.Subdomain
	writeJSON(w, http.StatusCreated, resp)
}

// HandleInitiateBilling handles POST /api/signup/sessions/{session_id}/billing.
func (h *SignupHandlers) HandleInitiateBilling(w http.ResponseWriter, r *http.Request) {
	res, err := h.signup.InitiateBilling(r.Context(), r.PathValue("session_id"))
	if err != nil {
		writeSignupError(w, r, err)
		return
	}
	auditlog.Record(r, auditlog.ActionBillingStarted).
		Str("session_id", res.Session.ID).
		Str("tenant_id", res.Session.TenantID).
		Bool("reused", res.Reused).
		Msg("Checkout issued")
	writeJSON(w, http.StatusOK, checkoutResponse{
		SessionID:   res.Session.ID,
		State:       res.Session.State,
		CheckoutURL: res.CheckoutURL,
		Reused:      res.Reused,
	})
}

// HandleResume handles GET /api/signup/sessions/{session_id}.
func (h *SignupHandlers) HandleResume(w http.ResponseWriter, r *http.Request) {
	sum, err := h.signup.Resume(r.Context(), r.PathValue("session_id"))
	if err != nil {
		writeSignupError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// HandleStatus handles GET /api/signup/sessions/{session_id}/status. It is
// polled by the post-checkout page, so a session still waiting on payment is
// reconciled against the billing provider before answering.
func (h *SignupHandlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	sum, outcome, err := h.signup.PollStatus(r.Context(), r.PathValue("session_id"))
	if err != nil {
		writeSignupError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, signupStatusResponse{Summary: sum, Reconcile: outcome})
}

// HandleCheckSubdomain handles GET /api/signup/subdomains/{subdomain}.
func (h *SignupHandlers) HandleCheckSubdomain(w http.ResponseWriter, r *http.Request) {
	res, err := h.signup.CheckSubdomain(r.Context(), r.PathValue("subdomain"))
	if err != nil {
		writeSignupError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, signupRequestBodyLimit)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		msg := "invalid JSON body"
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			msg = "request body too large"
		case errors.Is(err, io.EOF):
			msg = "request body is required"
		}
		writeJSON(w, http.StatusBadRequest, apiError{Error: msg, Code: string(onboarding.ErrorTypeValidation)})
		return false
	}
	return true
}

// signupErrorStatus maps a signup error onto an HTTP status.
func signupErrorStatus(err error) int {
	switch onboarding.TypeOf(err) {
	case onboarding.ErrorTypeValidation:
		if errors.Is(err, onboarding.ErrEmailTaken) || errors.Is(err, onboarding.ErrSubdomainTaken) {
			return http.StatusConflict
		}
		return http.StatusBadRequest
	case onboarding.ErrorTypePrecondition:
		if errors.Is(err, onboarding.ErrSessionExpired) {
			return http.StatusGone
		}
		return http.StatusConflict
	case onboarding.ErrorTypeNotFound:
		return http.StatusNotFound
	case onboarding.ErrorTypeProvider:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeSignupError(w http.ResponseWriter, r *http.Request, err error) {
	status := signupErrorStatus(err)
	errType := onboarding.TypeOf(err)

	logger := logging.FromContext(logging.WithSignupSession(r.Context(), r.PathValue("session_id")))
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Str("path", r.URL.Path).Msg("Signup request failed")
	} else {
		logger.Info().Err(err).Str("path", r.URL.Path).Int("status", status).Msg("Signup request rejected")
	}

	msg := "internal error"
	switch {
	case status == http.StatusBadGateway:
		msg = "billing provider unavailable, please retry"
	case status < http.StatusInternalServerError:
		var se *onboarding.SignupError
		if errors.As(err, &se) && se.Err != nil {
			msg = se.Err.Error()
		} else {
			msg = err.Error()
		}
	}
	writeJSON(w, status, apiError{Error: strings.TrimSpace(msg), Code: string(errType)})
}

func writeJSON[T any](w http.ResponseWriter, status int, v T) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Int("status", status).Msg("cloudcp: encode response")
	}
}
