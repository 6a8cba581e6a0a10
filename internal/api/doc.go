// Package api serves the daemon's read-only HTTP surface: liveness,
// reconciliation status, the provider system document, the tracked
// network state, the health report and Prometheus metrics.
//
// Endpoints:
//
//	GET /health            liveness, plain "OK"
//	GET /api/status        daemon status and last pass
//	GET /api/cloud/status  plain "OK" once a pass has fetched metadata
//	GET /api/cloud/system  provider system document
//	GET /api/network       links with tracked addresses, routes and rules
//	GET /api/health        health report
//	GET /metrics           Prometheus metrics
package api
