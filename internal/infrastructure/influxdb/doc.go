// Package influxdb writes fan-out telemetry to InfluxDB v2.
//
// Each broadcast produces one point:
//
//	fanout,event=<name> attempted=<n>i,delivered=<n>i,pruned=<n>i <ts>
//
// which gives per-event delivery and churn history alongside the live
// Prometheus counters. The integration is optional and disabled by default.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // not configured
//	}
//	defer client.Close()
//
//	client.WriteFanout(influxdb.FanoutSample{Event: "gridCreated", Attempted: 3, Delivered: 3, At: time.Now()})
package influxdb
