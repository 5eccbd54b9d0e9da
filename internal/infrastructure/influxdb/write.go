package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the bridge.
const (
	MeasurementChannelState = "channel_state"
	MeasurementThingStatus  = "thing_status"
	MeasurementDiagnostic   = "diagnostic"
)

// WriteChannelState records one numeric channel update.
//
// Only numeric states are written; the caller converts switches and
// contacts to 0/1 before calling. The write is non-blocking.
//
// Example:
//
//	client.WriteChannelState("temp-office", "temperature", "temperature", 21.37, time.Now())
func (c *Client) WriteChannelState(thingID, channelID, thingType string, value float64, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(channelStatePoint(thingID, channelID, thingType, value, at))
}

// WriteStatusEvent records a thing status transition.
func (c *Client) WriteStatusEvent(thingID, status, detail, description string, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(statusPoint(thingID, status, detail, description, at))
}

// WriteDiagnostic counts a device report the bridge could not map to a channel.
func (c *Client) WriteDiagnostic(thingID, channelID, reason string, at time.Time) {
	if !c.IsConnected() {
		return
	}
	point := write.NewPoint(
		MeasurementDiagnostic,
		map[string]string{
			"thing_id":   thingID,
			"channel_id": channelID,
		},
		map[string]interface{}{
			"count":  1,
			"reason": reason,
		},
		at,
	)
	c.writeAPI.WritePoint(point)
}

// thing_id and channel_id are tags: both come from configuration and stay
// low cardinality.
func channelStatePoint(thingID, channelID, thingType string, value float64, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementChannelState,
		map[string]string{
			"thing_id":   thingID,
			"channel_id": channelID,
			"thing_type": thingType,
		},
		map[string]interface{}{
			"value": value,
		},
		at,
	)
}

func statusPoint(thingID, status, detail, description string, at time.Time) *write.Point {
	fields := map[string]interface{}{
		"online": status == "ONLINE",
	}
	if description != "" {
		fields["description"] = description
	}
	return write.NewPoint(
		MeasurementThingStatus,
		map[string]string{
			"thing_id": thingID,
			"status":   status,
			"detail":   detail,
		},
		fields,
		at,
	)
}
