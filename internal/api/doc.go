// Package api implements the bridge's operations HTTP server.
//
// This package provides:
//   - /metrics for Prometheus scrapes
//   - /health for liveness probes
//   - a read-only /api/v1 surface (status, mappings) when enabled
//   - a WebSocket feed of transfers and drops at /api/v1/ws
//
// # Security
//
// With a JWT secret configured, every /api/v1 route requires an HS256
// bearer token. WebSocket clients that cannot set headers pass it as the
// token query parameter. /metrics and /health stay open for scrapers.
//
// # Live feed
//
// The Hub is a bridge.Recorder. Transfers are broadcast on the
// "bridge.transfer" channel and drops on "bridge.drop"; clients choose
// channels with subscribe messages. A slow client loses events rather than
// stalling the router.
package api
