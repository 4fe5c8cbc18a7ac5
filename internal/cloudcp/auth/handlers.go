package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rcourtman/clubcloud/internal/cloudcp/email"
	"github.com/rcourtman/clubcloud/internal/cloudcp/identity"
	"github.com/rcourtman/clubcloud/internal/cloudcp/onboarding"
	"github.com/rcourtman/clubcloud/internal/cloudcp/registry"
)

const resumeRequestBodyLimit = 4 * 1024

// SessionFinder locates the open signup session of an email address.
type SessionFinder interface {
	FindResumableSession(ctx context.Context, email string, now time.Time) (*registry.SignupSession, error)
}

// Resumer returns the summary of a signup session.
type Resumer interface {
	Resume(ctx context.Context, sessionID string) (*onboarding.Summary, error)
}

type resumeLinkRequest struct {
	Email string `json:"email"`
}

type resumeLinkAccepted struct {
	Accepted bool `json:"accepted"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// HandleRequestResumeLink mails a resume link when email has an open signup.
// The answer is the same whether or not a session exists.
// Route: POST /api/signup/resume-link
func HandleRequestResumeLink(svc *Service, finder SessionFinder, sender email.Sender, from, baseURL string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req resumeLinkRequest
		r.Body = http.MaxBytesReader(w, r.Body, resumeRequestBodyLimit)
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "Invalid JSON body")
			return
		}
		addr := identity.NormalizeEmail(req.Email)
		if addr == "" || !strings.Contains(addr, "@") {
			writeError(w, http.StatusBadRequest, "bad_request", "email is required")
			return
		}

		ctx := r.Context()
		s, err := finder.FindResumableSession(ctx, addr, time.Now().UTC())
		if err != nil {
			log.Error().Err(err).Msg("Failed to look up resumable signup session")
			writeError(w, http.StatusInternalServerError, "internal_error", "Unable to send resume link")
			return
		}
		if s == nil {
			log.Info().Msg("Resume link requested without an open signup session")
			writeJSON(w, http.StatusAccepted, resumeLinkAccepted{Accepted: true})
			return
		}

		token, err := svc.GenerateToken(ctx, addr, s.ID)
		if err != nil {
			log.Error().Err(err).Str("session_id", s.ID).Msg("Failed to generate resume link")
			writeError(w, http.StatusInternalServerError, "internal_error", "Unable to send resume link")
			return
		}
		resumeURL := BuildResumeURL(baseURL, token)

		html, text, err := email.RenderResumeLinkEmail(email.ResumeLinkData{
			ResumeURL: resumeURL,
			ExpiresIn: svc.ttl.String(),
		})
		if err != nil {
			log.Error().Err(err).Msg("Failed to render resume link email")
			writeError(w, http.StatusInternalServerError, "internal_error", "Unable to send resume link")
			return
		}
		if err := sender.Send(ctx, email.Message{
			From:    from,
			To:      addr,
			Subject: "Finish setting up your club",
			HTML:    html,
			Text:    text,
		}); err != nil {
			log.Error().Err(err).Str("session_id", s.ID).Msg("Failed to send resume link email")
			writeError(w, http.StatusBadGateway, "email_failed", "Unable to send resume link, please retry")
			return
		}

		log.Info().Str("session_id", s.ID).Msg("Resume link sent")
		writeJSON(w, http.StatusAccepted, resumeLinkAccepted{Accepted: true})
	}
}

// HandleResumeLinkVerify redeems a resume link. Browsers are redirected to
// the signup page for the session; API clients get the session summary.
// Route: GET /api/signup/resume
func HandleResumeLinkVerify(svc *Service, resumer Resumer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wantsJSON := strings.Contains(r.Header.Get("Accept"), "application/json")

		tokenStr := strings.TrimSpace(r.URL.Query().Get("token"))
		if tokenStr == "" {
			writeError(w, http.StatusBadRequest, "missing_token", "Token parameter is required")
			return
		}

		rec, err := svc.ValidateToken(r.Context(), tokenStr)
		if err != nil {
			if !errors.Is(err, ErrTokenInvalid) && !errors.Is(err, ErrTokenExpired) && !errors.Is(err, ErrTokenUsed) {
				log.Error().Err(err).Msg("Resume link verification failed")
				writeError(w, http.StatusInternalServerError, "internal_error", "Unable to verify link")
				return
			}
			log.Warn().Err(err).Msg("Resume link rejected")
			if !wantsJSON {
				http.Redirect(w, r, "/signup?error=resume_link_invalid", http.StatusTemporaryRedirect)
				return
			}
			writeError(w, http.StatusBadRequest, "invalid_token", "Invalid or expired resume link")
			return
		}

		sum, err := resumer.Resume(r.Context(), rec.SessionID)
		if err != nil {
			log.Info().Err(err).Str("session_id", rec.SessionID).Msg("Resume link points at a session that cannot resume")
			if !wantsJSON {
				http.Redirect(w, r, "/signup?error=session_unavailable", http.StatusTemporaryRedirect)
				return
			}
			writeError(w, http.StatusGone, "session_unavailable", "This signup can no longer be resumed")
			return
		}

		log.Info().Str("session_id", sum.SessionID).Str("state", string(sum.State)).Msg("Signup resumed from link")
		if !wantsJSON {
			http.Redirect(w, r, "/signup?"+url.Values{"session_id": []string{sum.SessionID}}.Encode(), http.StatusSeeOther)
			return
		}
		writeJSON(w, http.StatusOK, sum)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}

func writeJSON[T any](w http.ResponseWriter, status int, v T) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Int("status", status).Msg("cloudcp.auth: encode response")
	}
}
