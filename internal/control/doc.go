// Package control hosts the operator HTTP server that runs next to a crawl.
// Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/run for the latest run snapshot.
//   - POST /v1/run/stop to abort the current run between items.
package control
