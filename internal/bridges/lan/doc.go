// Package lan links the hub core to the out-of-process LAN adapter over
// MQTT.
//
// The adapter owns the actual Tuya LAN sockets (local key encryption,
// persistent TCP connections, gateway multiplexing). The core never
// opens a device socket itself; it publishes a RequestMessage to
// tuyahub/request/{adapter}/{device_id} and waits for the matching
// ResponseMessage on tuyahub/response/{adapter}/{device_id}, correlated
// by request ID. Unsolicited device reports arrive on
// tuyahub/state/{adapter}/{device_id}.
//
// Factory implements device.LinkFactory, so the registry can open links
// without knowing the transport:
//
//	factory := lan.NewFactory(mqttClient, lan.Options{
//	    Timeout: cfg.Hub.GetLinkTimeout(),
//	    Retries: cfg.Hub.LinkRetryLimit,
//	})
//	if err := factory.Start(); err != nil {
//	    return err
//	}
//	registry := device.NewRegistry(store, factory)
package lan
