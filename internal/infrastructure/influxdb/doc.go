// Package influxdb writes channel telemetry and thing status transitions to
// InfluxDB using the official influxdb-client-go v2 library.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB, cfg.Bridge.ID)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // run without telemetry
//	}
//	defer client.Close()
//
//	client.WriteChannelState("temp-office", "temperature", "temperature", 21.37, time.Now())
//
// Points:
//   - channel_state: tags thing_id, channel_id, thing_type; field value
//   - thing_status: tags thing_id, status, detail; fields online, description
//   - diagnostic: tags thing_id, channel_id; fields count, reason
//
// All points also carry the bridge tag given to Connect.
//
// Writes are non-blocking and batched per batch_size and flush_interval.
// Asynchronous write failures are delivered to the SetOnError callback.
// Every write is a no-op while the client is disconnected.
package influxdb
