package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteChannelState records one switch channel sample. Boolean states
// are stored as 0/1 so dashboards can graph on-time directly.
//
// Non-blocking; the point joins the current batch.
func (c *Client) WriteChannelState(deviceID, channelID string, on bool) {
	value := 0.0
	if on {
		value = 1.0
	}
	c.writePoint("channel_state",
		map[string]string{"device_id": deviceID, "channel": channelID},
		map[string]interface{}{"value": value})
}

// WriteDeviceOnline records one reachability sample. The poll loop
// emits one per device per sweep, which makes uptime and flapping
// visible over time.
func (c *Client) WriteDeviceOnline(deviceID string, online bool) {
	value := 0.0
	if online {
		value = 1.0
	}
	c.writePoint("device_online",
		map[string]string{"device_id": deviceID},
		map[string]interface{}{"value": value})
}

func (c *Client) writePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}
