// Package api provides the HTTP REST API and WebSocket server of the Cybro
// bridge.
//
// It exposes the PLC's entities, their recorded state history, the raw
// variable snapshot of the last poll and bridge metrics to dashboards and
// tooling. State changes published by the bridge are relayed to WebSocket
// clients subscribed to the "entity.state_changed" channel.
//
// The server follows the same lifecycle pattern as the infrastructure
// components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// When security.jwt.secret is set, every route except /health and /metrics
// requires an HS256 bearer token. WebSocket clients obtain a single-use
// ticket from POST /auth/ws-ticket and connect with /ws?ticket=...
package api
