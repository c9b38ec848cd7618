// Package api hosts the HTTP server, middleware, and REST handlers for the
// notice poller. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/categories for the board's category table.
//   - GET /v1/notices?date=yy.mm.dd for stored notices of one day.
//   - GET /v1/notices/live, /today and /latest for on-demand board queries.
package api
