// Package registration keeps a node registered with an NMOS registry.
//
// The Registrar POSTs the node's resources in dependency order, heartbeats
// on a fixed interval, re-registers when the registry answers a heartbeat
// with 404, and deletes everything in reverse order on Stop.
package registration
