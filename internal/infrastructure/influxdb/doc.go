// Package influxdb writes bridge telemetry to InfluxDB v2.
//
// It wraps the official influxdb-client-go v2 library. Every value that
// crosses the bridge becomes a bridge_transfer point tagged with direction,
// topic, pin and encoder; drops become bridge_drop points tagged with the
// reason.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	router, _ := bridge.NewRouter(bridge.RouterOptions{Recorder: client, ...})
//
// # Error Handling
//
// Writes are batched and non-blocking. Batch failures are reported through
// SetOnError; connection and health check errors are returned directly.
package influxdb
