package device

import (
	"context"
	"time"
)

// StateSink receives state-change notifications from the poller.
// Implementations must not block; the poller calls them inline.
type StateSink interface {
	DeviceStateChanged(d Device)
}

// StateSinkFunc adapts a function to the StateSink interface.
type StateSinkFunc func(d Device)

// DeviceStateChanged calls f(d).
func (f StateSinkFunc) DeviceStateChanged(d Device) { f(d) }

// MetricsWriter records channel and availability samples. The InfluxDB
// client satisfies this; a nil writer disables metrics.
type MetricsWriter interface {
	WriteChannelState(deviceID, channelID string, on bool)
	WriteDeviceOnline(deviceID string, online bool)
}

// Poller runs the reconciliation loop: each sweep executes due timers
// first, then polls every reachable device in turn, pausing briefly
// between devices so the LAN is never flooded.
type Poller struct {
	registry  *Registry
	scheduler *Scheduler

	interval time.Duration // pause between sweeps
	pause    time.Duration // pause between devices within a sweep

	sink    StateSink
	metrics MetricsWriter
	logger  Logger
}

// PollerOptions configures a Poller. Sink and Metrics are optional.
type PollerOptions struct {
	Interval time.Duration
	Pause    time.Duration
	Sink     StateSink
	Metrics  MetricsWriter
	Logger   Logger
}

// NewPoller creates a reconciliation loop over the registry and scheduler.
func NewPoller(registry *Registry, scheduler *Scheduler, opts PollerOptions) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	return &Poller{
		registry:  registry,
		scheduler: scheduler,
		interval:  opts.Interval,
		pause:     opts.Pause,
		sink:      opts.Sink,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
	}
}

// Run executes sweeps until the context is cancelled. It blocks; run it
// in its own goroutine.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info("poller started", "interval", p.interval, "pause", p.pause)

	for {
		p.Sweep(ctx)

		select {
		case <-ctx.Done():
			p.logger.Info("poller stopped")
			return
		case <-time.After(p.interval):
		}
	}
}

// Sweep performs one reconciliation pass: fire due timers, then poll
// every device that has an address. Exposed for tests and for forcing a
// refresh after control commands.
func (p *Poller) Sweep(ctx context.Context) {
	p.fireDueTimers(ctx)

	for _, d := range p.registry.ListDevices() {
		if ctx.Err() != nil {
			return
		}
		if d.IsGateway() || d.MissingAddress() {
			continue
		}

		p.pollOne(ctx, d)

		if p.pause > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.pause):
			}
		}
	}
}

func (p *Poller) fireDueTimers(ctx context.Context) {
	for _, t := range p.scheduler.Due(time.Now()) {
		p.logger.Info("timer fired",
			"device", t.Key.DeviceID, "channel", t.Key.ChannelID, "turn_on", t.TurnOn)

		err := p.registry.SetChannel(ctx, t.Key.DeviceID, t.Key.ChannelID, t.TurnOn)
		if err != nil {
			p.logger.Error("timer action failed",
				"device", t.Key.DeviceID, "channel", t.Key.ChannelID, "error", err)
			continue
		}
		p.notify(t.Key.DeviceID)
		if p.metrics != nil {
			p.metrics.WriteChannelState(t.Key.DeviceID, t.Key.ChannelID, t.TurnOn)
		}
	}
}

func (p *Poller) pollOne(ctx context.Context, d Device) {
	wasOnline := d.Online

	values, changed, err := p.registry.Poll(ctx, d.ID)
	if err != nil {
		if wasOnline {
			p.logger.Warn("device went offline", "id", d.ID, "name", d.Name, "error", err)
			p.notify(d.ID)
			if p.metrics != nil {
				p.metrics.WriteDeviceOnline(d.ID, false)
			}
		}
		return
	}

	if !changed {
		return
	}

	p.notify(d.ID)

	if p.metrics != nil {
		if !wasOnline {
			p.metrics.WriteDeviceOnline(d.ID, true)
		}
		for channelID, v := range values {
			if on, ok := v.(bool); ok {
				p.metrics.WriteChannelState(d.ID, channelID, on)
			}
		}
	}
}

// notify pushes the device's current cached state to the sink.
func (p *Poller) notify(id string) {
	if p.sink == nil {
		return
	}
	d, err := p.registry.GetDevice(id)
	if err != nil {
		return
	}
	p.sink.DeviceStateChanged(*d)
}
