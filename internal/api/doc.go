// Package api implements the HTTP REST API and WebSocket server for the SLS
// detector bridge.
//
// This package provides:
//   - REST endpoints to list detectors and read or write their parameters
//   - Connect and disconnect control per detector address
//   - Parameter history queries backed by SQLite
//   - A WebSocket hub that relays parameter changes in real time
//
// # Security
//
// Reads are open. Routes that change detector state require a JWT bearer
// token carrying a role with the matching permission (see package auth).
// WebSocket clients pass the token in the token query parameter.
//
// # Graceful Degradation
//
// The server runs without MQTT, InfluxDB or a managed receiver. Endpoints
// that depend on a missing collaborator answer 404 or omit the section.
package api
