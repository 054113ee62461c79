// Package influxdb mirrors decoded exmebus signals into InfluxDB v2.
//
// It wraps the official influxdb-client-go v2 library. Every record the
// gateway forwards to the collector can also be written as a point in the
// "exmebus_signal" measurement, tagged by machine, signal number, group and
// view type, and timestamped with the event time.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteSignal("m-17", packet)
//
// # Error Handling
//
// Writes are non-blocking and batched (batch_size, flush_interval). Batch
// failures are delivered to the SetOnError callback; connection and health
// check errors are returned directly.
package influxdb
