package admin

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rcourtman/clubcloud/internal/cloudcp/cpmetrics"
	"github.com/rcourtman/clubcloud/internal/cloudcp/registry"
)

const readinessTimeout = 5 * time.Second

// Pinger is a backing store the readiness probe checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

type statusResponse struct {
	Version        string                        `json:"version"`
	TotalTenants   int                           `json:"total_tenants"`
	ByStatus       map[registry.TenantStatus]int `json:"by_status"`
	PendingSignups int                           `json:"pending_signups"`
}

// HandleHealthz returns 200 "ok" unconditionally (liveness probe).
func HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz returns a handler that pings every store (readiness probe).
// Nil stores count as not ready.
func HandleReadyz(stores map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		w.Header().Set("Content-Type", "text/plain")
		if len(stores) == 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		for name, store := range stores {
			if store == nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte("not ready"))
				return
			}
			if err := store.Ping(ctx); err != nil {
				log.Warn().Err(err).Str("store", name).Msg("Readiness check failed")
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte("not ready"))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	}
}

// HandleStatus returns a handler that reports aggregate tenant status.
func HandleStatus(reg *registry.Registry, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if reg == nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		counts, err := reg.CountByStatus(r.Context())
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		// Opportunistically sync gauges on status calls (in addition to the background updater).
		for status, c := range counts {
			cpmetrics.TenantsByStatus.WithLabelValues(string(status)).Set(float64(c))
		}

		total := 0
		for _, c := range counts {
			total += c
		}

		pending, err := reg.ListPendingSessions(r.Context(), time.Now().UTC())
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, statusResponse{
			Version:        version,
			TotalTenants:   total,
			ByStatus:       counts,
			PendingSignups: len(pending),
		})
	}
}
