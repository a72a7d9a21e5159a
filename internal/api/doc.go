// Package api serves single-identifier lookups over HTTP. Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/annotations/{id} for one lookup, with optional strip_prefix and
//     truncate query parameters.
//   - POST /v1/annotations for a small batch of identifiers.
package api
