// Package mqtt provides the hub's broker connection.
//
// MQTT is the seam between the hub core and the out-of-process LAN
// adapter that speaks the Tuya local protocol: requests go out on
// tuyahub/request/<adapter>/<device>, responses and unsolicited state
// come back on tuyahub/response and tuyahub/state, and the hub
// publishes retained canonical device state under tuyahub/core. The
// topic layout lives in topics.go.
//
// The client auto-reconnects with backoff, replays subscriptions after
// a reconnect, and keeps a retained online/offline status on
// tuyahub/system/status with a last-will message covering crashes.
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.Subscribe(mqtt.Topics{}.AllAdapterStates(), 1, handler)
package mqtt
