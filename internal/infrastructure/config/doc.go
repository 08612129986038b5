// Package config loads and validates node configuration.
//
// Loading order is defaults, then the YAML file, then NMOS_* environment
// variables. Validate reports every problem in a single error so a broken
// file can be fixed in one pass. Configuration errors are fatal at startup:
// the node never talks to a registry whose URL failed validation.
//
// Secrets (registry tokens, MQTT passwords, the JWT secret) should come from
// the environment rather than the file.
//
// Usage:
//
//	cfg, err := config.Load("configs/node.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
