// Package auditlog records security-relevant control plane actions as
// structured log lines tagged with request metadata.
package auditlog

import (
	"net"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rcourtman/clubcloud/internal/logging"
)

// Action names an audited action.
type Action string

const (
	ActionSignupStarted    Action = "signup.started"
	ActionAdminCreated     Action = "signup.admin_created"
	ActionTenantCreated    Action = "signup.tenant_created"
	ActionBillingStarted   Action = "signup.billing_started"
	ActionMerchantSynced   Action = "admin.merchant_synced"
	ActionMerchantLinked   Action = "admin.merchant_linked"
	ActionAdminAuthFailed  Action = "admin.auth_failed"
	ActionMemberUpdated    Action = "club.member_updated"
	ActionClubAuthFailed   Action = "club.auth_failed"
	ActionClubAccessDenied Action = "club.access_denied"
)

// Record starts an audit log line for action. Callers add fields and finish
// it with Msg.
func Record(r *http.Request, action Action) *zerolog.Event {
	ev := log.Info().
		Str("audit", string(action)).
		Str("client_ip", ClientIP(r)).
		Str("path", RequestPath(r))
	if actor := ActorID(r); actor != "" {
		ev = ev.Str("actor_id", actor)
	}
	if r != nil {
		if id := logging.RequestIDFromContext(r.Context()); id != "" {
			ev = ev.Str("request_id", id)
		}
	}
	return ev
}

// ClientIP resolves the client IP for audit metadata and rate limiting.
// The control plane sits behind one reverse proxy, so only the last
// X-Forwarded-For hop is trusted; earlier hops are client supplied.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}

	if hop := lastForwardedHop(r.Header.Values("X-Forwarded-For")); hop != "" {
		return hop
	}

	if rip := strings.TrimSpace(r.Header.Get("X-Real-IP")); rip != "" {
		return strings.Trim(rip, "[]")
	}

	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return strings.TrimSpace(host)
}

func lastForwardedHop(values []string) string {
	for i := len(values) - 1; i >= 0; i-- {
		hops := strings.Split(values[i], ",")
		for j := len(hops) - 1; j >= 0; j-- {
			if hop := strings.TrimSpace(hops[j]); hop != "" {
				return hop
			}
		}
	}
	return ""
}

// ActorID returns the operator identifier an admin client sends along.
func ActorID(r *http.Request) string {
	if r == nil {
		return ""
	}
	for _, header := range []string{"X-Actor-ID", "X-Admin-Actor"} {
		if v := strings.TrimSpace(r.Header.Get(header)); v != "" {
			return v
		}
	}
	return ""
}

// RequestPath returns a stable request path for audit metadata.
func RequestPath(r *http.Request) string {
	if r == nil || r.URL == nil {
		return ""
	}
	if p := strings.TrimSpace(r.URL.Path); p != "" {
		return p
	}
	return "/"
}
