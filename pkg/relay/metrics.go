package relay

import (
	stdliberrors "errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	metricStreamClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "stagehand",
		Name:      "relay_stream_clients",
		Help:      "Connected SSE and websocket event stream clients.",
	})
	metricRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stagehand",
		Name:      "relay_requests_total",
		Help:      "Relay HTTP requests by route pattern.",
	}, []string{"route"})
)

func recordRequest(route string) {
	metricRequests.WithLabelValues(route).Inc()
}

// handleMetrics serves the process Prometheus registry, turn counters
// included. Gated behind the auth token unless metrics are explicitly
// public.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.PublicMetrics && !s.authorized(r) {
		respondError(w, http.StatusUnauthorized, stdliberrors.New("unauthorized"))
		return
	}
	promhttp.Handler().ServeHTTP(w, r)
}
