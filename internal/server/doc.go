// Package server exposes a Pipeline over HTTP.
//
// Routes:
//
//	POST /v1/hash      hash a batch of payloads
//	GET  /v1/metrics   current monitor snapshot
//	GET  /v1/validate  run the self-check battery (503 on failure)
//	GET  /v1/alerts    WebSocket stream of alert events
//	GET  /healthz      liveness
//	GET  /metrics      Prometheus scrape endpoint, when configured
package server
