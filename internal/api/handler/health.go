package handler

import (
	"context"
	"net/http"

	"github.com/agoradebate/agora/internal/api/response"
	"github.com/agoradebate/agora/internal/metrics"
	"github.com/agoradebate/agora/internal/store"
)

// HealthCheck returns a simple health check response
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	response.OK(w, map[string]string{
		"status": "ok",
	})
}

// ReadyCheck returns readiness status including durable tier connectivity
func ReadyCheck(ping func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ping != nil {
			if err := ping(r.Context()); err != nil {
				response.Error(w, http.StatusServiceUnavailable, "durable store not ready")
				return
			}
		}

		response.OK(w, map[string]string{
			"status": "ready",
		})
	}
}

// PendingWrites reports sessions with messages still queued for the
// durable tier, useful when diagnosing cache-ahead divergence.
func PendingWrites(sessions *store.SessionStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pending := map[string]int{}
		for _, id := range sessions.PendingSessions() {
			pending[id] = sessions.PendingWrites(id)
		}

		response.OK(w, map[string]any{
			"sessions": pending,
			"count":    len(pending),
		})
	}
}

// MetricsSnapshot returns per-path latency aggregates
func MetricsSnapshot(store *metrics.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response.OK(w, store.Aggregate())
	}
}
