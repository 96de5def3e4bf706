// Package influxdb stores the hub's time-series telemetry.
//
// The poll loop feeds it two measurements: channel_state (switch on/off
// per channel, written as 0/1) and device_online (reachability per
// sweep). It wraps influxdb-client-go v2 with non-blocking batched
// writes, so recording a sample never stalls a sweep.
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // run without metrics
//	}
//	defer client.Close()
//
//	client.WriteChannelState("bf83c0a2", "1", true)
//
// Batch write failures are delivered asynchronously through the
// SetOnError callback. All methods are safe for concurrent use.
package influxdb
