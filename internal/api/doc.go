// Package api hosts the HTTP task façade: task creation, start, cancel and
// inspection over the task store. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - /v1/tasks for task submission, control and logs.
//   - GET /v1/platforms for the platform catalog.
package api
