// Package config loads and validates gridhost configuration.
//
// This package manages:
//   - Loading configuration from a YAML file
//   - Overriding values with GRIDHOST_* environment variables
//   - Validation of required fields
//
// Credentials (MQTT password, InfluxDB token) should be supplied through the
// environment rather than committed to the file.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	interval := cfg.WebSocket.GetPingInterval()
package config
