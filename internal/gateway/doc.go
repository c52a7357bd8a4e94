// Package gateway orchestrates the gatekeeper server components.
//
// # Overview
//
// The gateway package is the central coordinator of the gatekeeper
// server. It loads robot patterns, builds the identity resolver against
// the authority service, and mounts one streaming proxy handler per
// configured upstream, along with the site surface routes.
//
// # HTTP Surface
//
// The router exposes:
//
//   - GET / - Plain-text banner
//   - GET /healthz - Liveness check
//   - GET /favicon.ico - Redirect to the static favicon
//   - GET /static/* - Static assets served from disk
//   - GET /metrics - Prometheus metrics (when enabled)
//   - ANY /package/* - Authenticated proxy to the package upstream
//   - ANY /audit/* - Authenticated proxy to the audit upstream
//
// # Lifecycle
//
// New builds the Gateway from a config.Config. Run starts the HTTP
// server and blocks until the context is canceled, then performs a
// graceful shutdown with a five second deadline.
//
// # Metrics
//
// Each Gateway owns a private Prometheus registry. Request totals and
// latency are labeled by status, method, and chi route pattern; robot
// hits, auth failures, and upstream errors get their own counters.
package gateway
