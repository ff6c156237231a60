// Package api hosts the HTTP server, middleware, and REST handlers. Notable
// routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/search?q=&page=&per_page= for ranked, paginated results.
//   - POST /v1/crawl to queue a crawl run; GET /v1/crawl/status for the worker.
//   - GET /v1/crawl/runs and /v1/crawl/runs/{run_id} for run history via the
//     RunRepository interface.
package api
