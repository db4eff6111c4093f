// Package api hosts the HTTP server for metadata lookups. Routes:
//   - GET /v1/identify returns scraped records as JSON, best match first.
//   - GET /v1/cover returns the cover image bytes, or 404 when there is none.
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//
// Both lookup routes accept title, author (repeatable), id, isbn and timeout
// query parameters.
package api
