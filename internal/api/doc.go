// Package api implements the HTTP surface of an NMOS node.
//
// This package provides:
//   - The IS-05 connection API under /x-nmos/connection/{version}/single
//   - A read-only IS-04 node API under /x-nmos/node/{version}
//   - The admin API under /api/v1: health, metrics, registration, routing,
//     snapshots, events and the audit trail
//   - WebSocket hub for route, registration and command event broadcasts
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Architecture
//
// The server is handed a *node.Instance at construction and never looks a
// node up by ID. Connection API requests go straight to the node's
// connection.Manager; admin routing requests go to its routing.Reconciler.
// Components disabled in configuration answer 503 with a hint naming the
// setting that enables them.
//
// # Security
//
// The connection and node APIs are unauthenticated, as controllers on the
// media network expect. The admin API requires a bearer JWT (see
// internal/auth) when security.jwt.secret is set, and each route checks a
// role permission. WebSocket clients pass the same token as the token
// query parameter.
//
// # WebSocket channels
//
// Clients subscribe to channels by name ("route.changed"), by prefix
// ("route.*") or to everything ("*"). Channels ending in ".status" are
// retained: a new subscriber immediately receives the last payload.
//
// Errors are returned as {status, code, message, hints}.
package api
