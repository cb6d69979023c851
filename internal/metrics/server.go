// Package metrics hosts the operational sidecar endpoint: Prometheus scrape
// target plus liveness and readiness probes, on its own listener so the
// management API surface stays separate from scraping.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewServer serves /metrics, /healthz and /readyz on addr. Readiness pings
// the database pool; liveness only proves the process is up.
func NewServer(addr string, pool *pgxpool.Pool) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := pool.Ping(ctx); err != nil {
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})

	return &http.Server{
		Addr:    addr,
		Handler: mux,
	}
}
