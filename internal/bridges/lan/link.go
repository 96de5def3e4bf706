package lan

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tuyahub/core/internal/device"
	"github.com/tuyahub/core/internal/infrastructure/mqtt"
)

// Defaults applied when Options leaves a field zero.
const (
	defaultAdapter = "lan"
	defaultTimeout = 2 * time.Second
	defaultRetries = 1
)

// Bus is the MQTT surface the factory needs. Satisfied by *mqtt.Client;
// narrowed for tests.
type Bus interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	IsConnected() bool
}

// Logger is the logging interface used by the factory.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Factory.
type Options struct {
	// Adapter names the adapter instance in the topic path. Default "lan".
	Adapter string

	// QoS for requests. Responses are subscribed at the same level.
	QoS byte

	// Timeout bounds one request/response round trip.
	Timeout time.Duration

	// Retries is how many extra attempts follow a timeout.
	Retries int

	Logger Logger
}

// Factory creates device links that speak to the out-of-process LAN
// adapter over MQTT. One factory serves every device; links are cheap
// handles that share the factory's bus and correlation table.
//
// Implements device.LinkFactory.
type Factory struct {
	bus     Bus
	adapter string
	qos     byte
	timeout time.Duration
	retries int
	logger  Logger

	// pending maps request IDs to the waiter for their response.
	pending   map[string]chan ResponseMessage
	pendingMu sync.Mutex

	started bool
	mu      sync.Mutex
}

// NewFactory creates a link factory over the given bus.
func NewFactory(bus Bus, opts Options) *Factory {
	if opts.Adapter == "" {
		opts.Adapter = defaultAdapter
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Retries < 0 {
		opts.Retries = defaultRetries
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	return &Factory{
		bus:     bus,
		adapter: opts.Adapter,
		qos:     opts.QoS,
		timeout: opts.Timeout,
		retries: opts.Retries,
		logger:  opts.Logger,
		pending: make(map[string]chan ResponseMessage),
	}
}

// Start subscribes to the adapter's response topic. Must be called once
// before any link is used.
func (f *Factory) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.started {
		return nil
	}

	topic := mqtt.Topics{}.AdapterResponse(f.adapter, "+")
	if err := f.bus.Subscribe(topic, f.qos, f.handleResponse); err != nil {
		return fmt.Errorf("subscribing to responses: %w", err)
	}

	f.started = true
	f.logger.Info("lan link factory started", "adapter", f.adapter, "timeout", f.timeout)
	return nil
}

// Stop drops the response subscription. Requests in flight will time
// out; call after the poller and API have shut down.
func (f *Factory) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.started {
		return nil
	}

	topic := mqtt.Topics{}.AdapterResponse(f.adapter, "+")
	if err := f.bus.Unsubscribe(topic); err != nil {
		return fmt.Errorf("unsubscribing from responses: %w", err)
	}

	f.started = false
	return nil
}

// SubscribeStates registers a handler for unsolicited device state
// reports pushed by the adapter. Optional; Start does not require it.
func (f *Factory) SubscribeStates(handler func(deviceID string, values map[string]any)) error {
	topic := mqtt.Topics{}.AdapterState(f.adapter, "+")
	return f.bus.Subscribe(topic, f.qos, func(topic string, payload []byte) error {
		var msg StateMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			return fmt.Errorf("decoding state message: %w", err)
		}
		if msg.DeviceID == "" {
			// Fall back to the topic's device segment.
			parts := strings.Split(topic, "/")
			msg.DeviceID = parts[len(parts)-1]
		}
		handler(msg.DeviceID, msg.Values)
		return nil
	})
}

// NewLink returns a link for the given device connection.
func (f *Factory) NewLink(cfg device.LinkConfig) (device.Link, error) {
	return &Link{factory: f, cfg: cfg}, nil
}

// handleResponse routes an adapter response to its waiting request.
// Responses for requests that already timed out are dropped.
func (f *Factory) handleResponse(_ string, payload []byte) error {
	var msg ResponseMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("decoding response message: %w", err)
	}

	f.pendingMu.Lock()
	waiter, ok := f.pending[msg.RequestID]
	f.pendingMu.Unlock()

	if !ok {
		f.logger.Debug("late or unknown response dropped",
			"request_id", msg.RequestID, "device", msg.DeviceID)
		return nil
	}

	select {
	case waiter <- msg:
	default:
	}
	return nil
}

// request performs one correlated round trip, retrying on timeout.
func (f *Factory) request(ctx context.Context, cfg device.LinkConfig, op Op, channelID string, value any) (*ResponseMessage, error) {
	f.mu.Lock()
	started := f.started
	f.mu.Unlock()
	if !started {
		return nil, ErrNotStarted
	}
	if !f.bus.IsConnected() {
		return nil, ErrNotConnected
	}

	var lastErr error
	for attempt := 0; attempt <= f.retries; attempt++ {
		resp, err := f.attempt(ctx, cfg, op, channelID, value)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, err
		}
		if attempt < f.retries {
			f.logger.Debug("request retry",
				"device", cfg.DeviceID, "op", op, "attempt", attempt+1, "error", err)
		}
	}
	return nil, lastErr
}

func (f *Factory) attempt(ctx context.Context, cfg device.LinkConfig, op Op, channelID string, value any) (*ResponseMessage, error) {
	msg := RequestMessage{
		ID:              uuid.NewString(),
		Timestamp:       time.Now().UTC(),
		DeviceID:        cfg.DeviceID,
		Op:              op,
		ChannelID:       channelID,
		Value:           value,
		Address:         cfg.Address,
		CredentialKey:   cfg.CredentialKey,
		ProtocolVersion: cfg.ProtocolVersion,
		NodeID:          cfg.NodeID,
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	waiter := make(chan ResponseMessage, 1)
	f.pendingMu.Lock()
	f.pending[msg.ID] = waiter
	f.pendingMu.Unlock()
	defer func() {
		f.pendingMu.Lock()
		delete(f.pending, msg.ID)
		f.pendingMu.Unlock()
	}()

	topic := mqtt.Topics{}.AdapterRequest(f.adapter, cfg.DeviceID)
	if err := f.bus.Publish(topic, payload, f.qos, false); err != nil {
		return nil, fmt.Errorf("publishing request: %w", err)
	}

	timer := time.NewTimer(f.timeout)
	defer timer.Stop()

	select {
	case resp := <-waiter:
		if !resp.OK {
			return nil, fmt.Errorf("%w: %s", ErrAdapter, resp.Error)
		}
		return &resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("%w: device %s op %s", ErrTimeout, cfg.DeviceID, op)
	}
}

// Link is one device's handle on the factory. Implements device.Link.
type Link struct {
	factory *Factory
	cfg     device.LinkConfig
}

// Status reads the device's current channel values.
func (l *Link) Status(ctx context.Context) (map[string]any, error) {
	resp, err := l.factory.request(ctx, l.cfg, OpStatus, "", nil)
	if err != nil {
		return nil, err
	}
	return resp.Values, nil
}

// SetValue writes a value to one channel.
func (l *Link) SetValue(ctx context.Context, channelID string, value any) error {
	_, err := l.factory.request(ctx, l.cfg, OpSet, channelID, value)
	return err
}

// TurnOn switches a boolean channel on.
func (l *Link) TurnOn(ctx context.Context, channelID string) error {
	_, err := l.factory.request(ctx, l.cfg, OpTurnOn, channelID, nil)
	return err
}

// TurnOff switches a boolean channel off.
func (l *Link) TurnOff(ctx context.Context, channelID string) error {
	_, err := l.factory.request(ctx, l.cfg, OpTurnOff, channelID, nil)
	return err
}

// Close releases the link. The underlying bus is shared and stays open.
func (l *Link) Close() error {
	return nil
}
