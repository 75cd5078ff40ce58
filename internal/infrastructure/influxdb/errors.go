package influxdb

import "errors"

// Sentinel errors, checked with errors.Is.
var (
	// ErrNotConnected indicates the client was closed or never connected.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrConnectionFailed indicates the initial ping failed.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrDisabled indicates the integration is disabled in config.
	ErrDisabled = errors.New("influxdb: disabled in configuration")
)
