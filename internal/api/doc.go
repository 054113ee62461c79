// Package api serves the gateway's local HTTP listener.
//
// Routes:
//   - GET /health  component health checks, 503 when any check fails
//   - GET /status  gateway counters and delivery state as JSON
//   - GET /metrics Prometheus exposition of the gateway registry
//   - GET /ws      live feed of forwarded records (when a Hub is configured)
//
// # Live feed
//
// The Hub implements the gateway's mirror hook. Clients send
//
//	{"type":"subscribe","id":"1","payload":{"channels":["signals"]}}
//
// to receive every record, or "signals.<machine>" for a single machine.
// Slow clients lose events rather than stall delivery.
//
// The listener has no authentication and is meant to bind to loopback or a
// management network.
package api
