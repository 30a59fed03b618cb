package rest

import (
	"crypto/rsa"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter returns a configured chi.Router for the NetSentry dashboard API.
//
// Route layout:
//
//	GET   /healthz                               – liveness probe (no auth)
//	GET   /api/v1/alerts                         – filtered alert query
//	GET   /api/v1/alerts/{id}                    – single alert
//	PATCH /api/v1/alerts/{id}/acknowledge        – mark alert acknowledged
//	GET   /api/v1/dashboard/stats                – headline stat snapshot
//	GET   /api/v1/analytics/timeline             – zero-filled hourly buckets
//	GET   /api/v1/analytics/severity-distribution
//	GET   /api/v1/analytics/attack-types         – top attack types with shares
//	GET   /api/v1/analytics/protocols            – top transport protocols
//	GET   /api/v1/analytics/top-ips              – most active source IPs
//	GET   /api/v1/ip-management/stats
//	GET   /api/v1/ip-management/ips              – tracked IPs with derived state
//	GET   /api/v1/ip-management/login-attempts
//	GET   /api/v1/ip-management/check/{ip}
//	POST  /api/v1/ip-management/block
//	POST  /api/v1/ip-management/whitelist
//	POST  /api/v1/ip-management/unblock
//	POST  /api/v1/suricata/parse-log             – eve.json ingest
//	GET   /api/v1/sync/status
//	POST  /api/v1/sync/{start,stop,force}
//
// ws, when non-nil, is mounted at /ws for the live alert feed.
//
// pubKey is the RSA public key used to verify RS256 Bearer tokens on all
// /api routes. Pass nil to disable JWT validation (useful in tests that
// cover only request parsing / response formatting).
func NewRouter(srv *Server, pubKey *rsa.PublicKey, ws http.Handler) http.Handler {
	r := chi.NewRouter()

	// Built-in chi middleware for observability and hygiene.
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Health check, no authentication.
	r.Get("/healthz", srv.handleHealthz)

	// Live alert feed. Browsers cannot attach Authorization headers to
	// WebSocket upgrades, so /ws sits outside the JWT gate like /healthz.
	if ws != nil {
		r.Handle("/ws", ws)
	}

	// Authenticated API routes.
	r.Route("/api/v1", func(r chi.Router) {
		if pubKey != nil {
			r.Use(JWTMiddleware(JWTConfig{PublicKey: pubKey, Logger: srv.logger}))
		}

		r.Route("/alerts", func(r chi.Router) {
			r.Get("/", srv.handleGetAlerts)
			r.Get("/{id}", srv.handleGetAlert)
			r.Patch("/{id}/acknowledge", srv.handleAcknowledgeAlert)
		})

		r.Get("/dashboard/stats", srv.handleDashboardStats)

		r.Route("/analytics", func(r chi.Router) {
			r.Get("/timeline", srv.handleTimeline)
			r.Get("/severity-distribution", srv.handleSeverityDistribution)
			r.Get("/attack-types", srv.handleAttackTypes)
			r.Get("/protocols", srv.handleProtocols)
			r.Get("/top-ips", srv.handleTopIPs)
		})

		r.Route("/ip-management", func(r chi.Router) {
			r.Get("/stats", srv.handleIPStats)
			r.Get("/ips", srv.handleListIPs)
			r.Get("/login-attempts", srv.handleLoginAttempts)
			r.Get("/check/{ip}", srv.handleCheckIP)
			r.Post("/block", srv.handleBlockIP)
			r.Post("/whitelist", srv.handleWhitelistIP)
			r.Post("/unblock", srv.handleUnblockIP)
		})

		r.Post("/suricata/parse-log", srv.handleParseLog)

		r.Route("/sync", func(r chi.Router) {
			r.Get("/status", srv.handleSyncStatus)
			r.Post("/start", srv.handleSyncStart)
			r.Post("/stop", srv.handleSyncStop)
			r.Post("/force", srv.handleSyncForce)
		})
	})

	return r
}
