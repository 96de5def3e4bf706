// Package device provides the device catalogue and reconciliation loop
// for the Tuya hub.
//
// The package is organised around a small set of cooperating pieces:
//
//   - Device: one catalogue entry, with its class, LAN connection
//     details, channel mapping, and last known channel values
//   - Store: SQLite persistence for devices and hub settings
//   - Registry: thread-safe cache over the Store with name resolution,
//     gateway inheritance, and per-device link management
//   - Link / LinkFactory: the transport boundary; links carry all
//     device I/O so the registry never speaks a wire protocol itself
//   - Scheduler: in-memory countdown timers ("tắt đèn sau 10 phút")
//   - Poller: the reconciliation loop that fires due timers and polls
//     every reachable device each sweep
//
// # Usage
//
//	store := device.NewSQLiteStore(db)
//	registry := device.NewRegistry(store, linkFactory)
//	registry.SetLogger(log)
//
//	// Load the catalogue and resolve gateway inheritance on startup.
//	if err := registry.LoadSystem(ctx); err != nil {
//	    return err
//	}
//
//	// Control a device by name.
//	dev, _ := registry.ResolveByName("đèn phòng khách")
//	registry.SetChannel(ctx, dev.ID, dev.PrimaryChannel(), true)
//
//	// Run the reconciliation loop.
//	poller := device.NewPoller(registry, device.NewScheduler(), device.PollerOptions{
//	    Interval: cfg.Hub.GetPollInterval(),
//	    Pause:    cfg.Hub.GetDevicePause(),
//	})
//	go poller.Run(ctx)
//
// # Thread Safety
//
// Registry, Scheduler, and Poller are safe for concurrent use. Link I/O
// is performed outside the registry's cache lock, so a slow or dead
// device cannot stall reads.
package device
