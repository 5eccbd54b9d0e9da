// Package api implements the HTTP REST API and WebSocket server of the
// Tinkerforge bridge.
//
// This package provides:
//   - REST endpoints for thing management, channel links and commands
//   - State history and device-type catalogue queries
//   - WebSocket hub for status, state and trigger broadcasts
//   - JWT authentication with admin and viewer roles
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Architecture
//
// The API server sits beside the MQTT surface. Both end in the same
// binding: a command posted to /things/{id}/channels/{channel}/command
// runs through Binding.ExecuteCommand exactly like one received on
// tfbridge/command/{thing}/{channel}, and the binding pushes every status,
// state and trigger it publishes to the Hub.
//
// # Security
//
// Every route except health, metrics and login requires a Bearer token
// issued by POST /auth/login. Viewers may read; operating and configuring
// things needs the admin role. WebSocket connections use single-use
// tickets so the JWT never appears in a URL.
package api
