package device

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry provides device management with caching and thread safety.
// It wraps a Store and adds an in-memory cache for fast lookups, a name
// index for command resolution, and per-device link management.
//
// The cache is populated via LoadSystem() and kept in sync by the
// state-updating operations.
//
// All public methods are thread-safe. Link I/O never happens while the
// cache lock is held, so a slow device cannot stall reads.
type Registry struct {
	store   Store
	factory LinkFactory

	cache   map[string]*Device // Cached devices by ID
	cacheMu sync.RWMutex       // Protects cache

	// links holds one open link per dialled endpoint. Sub devices share
	// their parent gateway's entry.
	links  map[string]Link
	linkMu sync.Mutex

	logger Logger
}

// NewRegistry creates a new device registry.
// The store is used for persistence; the factory creates device links
// on demand.
func NewRegistry(store Store, factory LinkFactory) *Registry {
	return &Registry{
		store:   store,
		factory: factory,
		cache:   make(map[string]*Device),
		links:   make(map[string]Link),
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// LoadSystem loads the device catalogue from the store, resolves gateway
// inheritance, and rebuilds the cache.
//
// Sub devices inherit their parent gateway's LAN address and credential
// key; the protocol version falls back to the parent's, then to
// DefaultProtocolVersion. A sub device whose parent is missing from the
// catalogue is kept but logged; it will be unreachable until its parent
// appears.
//
// This should be called on application startup and after catalogue imports.
func (r *Registry) LoadSystem(ctx context.Context) error {
	devices, err := r.store.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	byID := make(map[string]*Device, len(devices))
	for i := range devices {
		d := devices[i]
		byID[d.ID] = d.DeepCopy()
	}

	for _, d := range byID {
		if d.ProtocolVersion == "" {
			d.ProtocolVersion = DefaultProtocolVersion
		}
		if !d.IsSubDevice() {
			continue
		}

		parent, ok := byID[d.ParentID]
		if !ok {
			r.logger.Warn("sub device parent missing from catalogue",
				"id", d.ID, "name", d.Name, "parent_id", d.ParentID)
			continue
		}

		d.Address = parent.Address
		d.CredentialKey = parent.CredentialKey
		if parent.ProtocolVersion != "" {
			d.ProtocolVersion = parent.ProtocolVersion
		}
	}

	r.cacheMu.Lock()
	r.cache = byID
	r.cacheMu.Unlock()

	// Open links are keyed by address-bearing device; a reload may have
	// changed addresses, so start over.
	r.closeLinks()

	r.logger.Info("device catalogue loaded", "count", len(devices))
	return nil
}

// Import replaces catalogue entries from a cloud export and reloads the
// system. Channel values and online flags of existing devices survive
// the import; connection details and mappings are overwritten.
func (r *Registry) Import(ctx context.Context, devices []Device) error {
	for i := range devices {
		d := &devices[i]
		if d.Class == "" {
			d.Class = Classify(d.Category, d.ChannelMapping)
		}
		if err := r.store.Upsert(ctx, d); err != nil {
			return fmt.Errorf("importing device %s: %w", d.ID, err)
		}
	}
	return r.LoadSystem(ctx)
}

// GetDevice retrieves a device by ID.
// Returns ErrDeviceNotFound if the device does not exist.
// The returned device is a deep copy; callers can safely modify it.
func (r *Registry) GetDevice(id string) (*Device, error) {
	r.cacheMu.RLock()
	cached, ok := r.cache[id]
	r.cacheMu.RUnlock()

	if !ok {
		return nil, ErrDeviceNotFound
	}
	// Return a deep copy to prevent external mutation of cache
	return cached.DeepCopy(), nil
}

// ListDevices retrieves all devices sorted by name.
// The returned devices are deep copies; callers can safely modify them.
func (r *Registry) ListDevices() []Device {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	devices := make([]Device, 0, len(r.cache))
	for _, d := range r.cache {
		// Deep copy to prevent external mutation of cache
		devices = append(devices, *d.DeepCopy())
	}
	sort.Slice(devices, func(i, j int) bool {
		if devices[i].Name != devices[j].Name {
			return devices[i].Name < devices[j].Name
		}
		return devices[i].ID < devices[j].ID
	})
	return devices
}

// ListByClass retrieves all devices of the given class sorted by name.
func (r *Registry) ListByClass(class Class) []Device {
	var devices []Device
	for _, d := range r.ListDevices() {
		if d.Class == class {
			devices = append(devices, d)
		}
	}
	return devices
}

// ResolveByName finds a device by display name.
//
// Matching is case-insensitive. An exact match always wins. Otherwise
// every device whose name contains the query as a substring is a
// candidate and the shortest candidate name is chosen; among equal
// lengths the lexicographically smallest wins. The tie-break is
// deterministic so the same spoken command always reaches the same
// device.
func (r *Registry) ResolveByName(name string) (*Device, error) {
	query := strings.ToLower(strings.TrimSpace(name))
	if query == "" {
		return nil, ErrDeviceNotFound
	}

	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	var best *Device
	for _, d := range r.cache {
		candidate := strings.ToLower(d.Name)
		if candidate == query {
			return d.DeepCopy(), nil
		}
		if !strings.Contains(candidate, query) {
			continue
		}
		if best == nil || betterNameMatch(d, best) {
			best = d
		}
	}

	if best == nil {
		return nil, ErrDeviceNotFound
	}
	return best.DeepCopy(), nil
}

// ResolveTarget resolves a display name to a device and, when the name
// belongs to a renamed channel rather than the device itself, the
// channel ID. Channel roles act as names for the individual gangs of a
// multi-gang switch once the user renames them.
//
// The same matching rules as ResolveByName apply, with device names
// preferred over channel names on an exact tie.
func (r *Registry) ResolveTarget(name string) (*Device, string, error) {
	query := strings.ToLower(strings.TrimSpace(name))
	if query == "" {
		return nil, "", ErrDeviceNotFound
	}

	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	type candidate struct {
		d    *Device
		ch   string
		name string
	}
	var exactChannel *candidate
	var best *candidate

	better := func(a, b *candidate) bool {
		if len(a.name) != len(b.name) {
			return len(a.name) < len(b.name)
		}
		if a.name != b.name {
			return a.name < b.name
		}
		if a.d.ID != b.d.ID {
			return a.d.ID < b.d.ID
		}
		return a.ch < b.ch
	}

	for _, d := range r.cache {
		deviceName := strings.ToLower(d.Name)
		if deviceName == query {
			return d.DeepCopy(), "", nil
		}
		if strings.Contains(deviceName, query) {
			c := &candidate{d: d, name: deviceName}
			if best == nil || better(c, best) {
				best = c
			}
		}
		for ch, role := range d.ChannelMapping {
			channelName := strings.ToLower(role)
			if channelName == query {
				c := &candidate{d: d, ch: ch, name: channelName}
				if exactChannel == nil || better(c, exactChannel) {
					exactChannel = c
				}
				continue
			}
			if strings.Contains(channelName, query) {
				c := &candidate{d: d, ch: ch, name: channelName}
				if best == nil || better(c, best) {
					best = c
				}
			}
		}
	}

	if exactChannel != nil {
		return exactChannel.d.DeepCopy(), exactChannel.ch, nil
	}
	if best == nil {
		return nil, "", ErrDeviceNotFound
	}
	return best.d.DeepCopy(), best.ch, nil
}

// betterNameMatch reports whether a should be preferred over b for a
// substring name match: shorter name first, then lexicographic order.
func betterNameMatch(a, b *Device) bool {
	an := strings.ToLower(a.Name)
	bn := strings.ToLower(b.Name)
	if len(an) != len(bn) {
		return len(an) < len(bn)
	}
	if an != bn {
		return an < bn
	}
	return a.ID < b.ID
}

// DeviceCount returns the number of cached devices.
func (r *Registry) DeviceCount() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}

// Poll reads the device's current channel values through its link and
// merges them into the cache and store.
//
// The merge is a superset merge: channels absent from this report keep
// their previous value, so devices that answer with partial status never
// erase state. Persistence is skipped when nothing changed.
//
// Returns the merged values and whether anything changed.
func (r *Registry) Poll(ctx context.Context, id string) (map[string]any, bool, error) {
	d, err := r.GetDevice(id)
	if err != nil {
		return nil, false, err
	}
	if d.IsGateway() {
		// Gateways carry no channels of their own.
		return nil, false, nil
	}
	if d.MissingAddress() {
		return nil, false, r.addressError(d)
	}

	link, err := r.linkFor(d)
	if err != nil {
		return nil, false, err
	}

	// Link I/O happens outside the cache lock.
	values, err := link.Status(ctx)
	if err != nil {
		r.markOffline(ctx, id)
		return nil, false, fmt.Errorf("%w: %w", ErrUnreachable, err)
	}

	merged, changed := r.mergeState(id, values, true)
	if changed {
		if err := r.store.UpdateState(ctx, id, values, true); err != nil {
			return merged, changed, fmt.Errorf("persisting state: %w", err)
		}
	}
	return merged, changed, nil
}

// ApplyState merges an unsolicited state report (an adapter push) into
// the cache and store. Returns whether anything changed.
func (r *Registry) ApplyState(ctx context.Context, id string, values map[string]any) (bool, error) {
	if _, err := r.GetDevice(id); err != nil {
		return false, err
	}

	_, changed := r.mergeState(id, values, true)
	if changed {
		if err := r.store.UpdateState(ctx, id, values, true); err != nil {
			return changed, fmt.Errorf("persisting state: %w", err)
		}
	}
	return changed, nil
}

// SetChannel writes a value to one channel of a controllable device and
// records the new value.
func (r *Registry) SetChannel(ctx context.Context, id, channelID string, value any) error {
	d, err := r.GetDevice(id)
	if err != nil {
		return err
	}
	if !d.Controllable() {
		return ErrNotControllable
	}
	if d.MissingAddress() {
		return r.addressError(d)
	}
	if _, ok := d.ChannelMapping[channelID]; !ok && len(d.ChannelMapping) > 0 {
		return fmt.Errorf("%w: %s has no channel %q", ErrInvalidChannel, d.Name, channelID)
	}

	link, err := r.linkFor(d)
	if err != nil {
		return err
	}

	if err := writeChannel(ctx, link, channelID, value); err != nil {
		r.markOffline(ctx, id)
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}

	values := map[string]any{channelID: value}
	if _, changed := r.mergeState(id, values, true); changed {
		if err := r.store.UpdateState(ctx, id, values, true); err != nil {
			return fmt.Errorf("persisting state: %w", err)
		}
	}

	r.logger.Debug("channel set", "id", id, "channel", channelID, "value", value)
	return nil
}

// writeChannel dispatches boolean writes to the dedicated on/off calls
// so links can use the protocol's native switch commands.
func writeChannel(ctx context.Context, link Link, channelID string, value any) error {
	if on, ok := value.(bool); ok {
		if on {
			return link.TurnOn(ctx, channelID)
		}
		return link.TurnOff(ctx, channelID)
	}
	return link.SetValue(ctx, channelID, value)
}

// addressError explains why a device has no usable LAN address. A sub
// device whose parent gateway left the catalogue gets the more specific
// ErrGatewayNotFound.
func (r *Registry) addressError(d *Device) error {
	if d.IsSubDevice() {
		r.cacheMu.RLock()
		_, ok := r.cache[d.ParentID]
		r.cacheMu.RUnlock()
		if !ok {
			return fmt.Errorf("%w: %s", ErrGatewayNotFound, d.ParentID)
		}
	}
	return ErrNoAddress
}

// linkFor returns the open link for a device, creating it on first use.
// Sub devices carry their parent gateway's address and credentials, so
// their links share the gateway's transport; the NodeID routes commands
// to the child.
func (r *Registry) linkFor(d *Device) (Link, error) {
	r.linkMu.Lock()
	defer r.linkMu.Unlock()

	if link, ok := r.links[d.ID]; ok {
		return link, nil
	}

	cfg := LinkConfig{
		DeviceID:        d.ID,
		Address:         d.Address,
		CredentialKey:   d.CredentialKey,
		ProtocolVersion: d.ProtocolVersion,
		NodeID:          d.NodeID,
	}

	link, err := r.factory.NewLink(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating link for %s: %w", d.ID, err)
	}

	r.links[d.ID] = link
	return link, nil
}

// mergeState merges channel values into the cached device and flips the
// online flag. Returns the merged values and whether anything changed.
func (r *Registry) mergeState(id string, values map[string]any, online bool) (map[string]any, bool) {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	cached, ok := r.cache[id]
	if !ok {
		return nil, false
	}

	changed := cached.Online != online
	updated := cached.DeepCopy()
	updated.Online = online

	if updated.ChannelValues == nil {
		updated.ChannelValues = make(map[string]any, len(values))
	}
	for k, v := range values {
		if prev, ok := updated.ChannelValues[k]; !ok || !equalValue(prev, v) {
			updated.ChannelValues[k] = deepCopyValue(v)
			changed = true
		}
	}

	if changed {
		now := time.Now().UTC()
		updated.LastUpdate = &now
		r.cache[id] = updated
	}
	return deepCopyMap(updated.ChannelValues), changed
}

// markOffline flags a device unreachable in cache and store.
func (r *Registry) markOffline(ctx context.Context, id string) {
	r.cacheMu.Lock()
	cached, ok := r.cache[id]
	wasOnline := ok && cached.Online
	if wasOnline {
		updated := cached.DeepCopy()
		updated.Online = false
		r.cache[id] = updated
	}
	r.cacheMu.Unlock()

	if wasOnline {
		if err := r.store.UpdateState(ctx, id, nil, false); err != nil {
			r.logger.Warn("persisting offline flag failed", "id", id, "error", err)
		}
	}
}

// equalValue compares two channel values. JSON decoding yields a small
// set of types (bool, float64, string, nested maps/slices); anything
// deeper falls back to formatted comparison.
func equalValue(a, b any) bool {
	if a == nil || b == nil {
		return a == b
	}
	switch av := a.(type) {
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case float64:
		bv, ok := b.(float64)
		return ok && av == bv
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	default:
		return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
	}
}

// closeLinks closes and forgets all open links.
func (r *Registry) closeLinks() {
	r.linkMu.Lock()
	defer r.linkMu.Unlock()

	for id, link := range r.links {
		if err := link.Close(); err != nil {
			r.logger.Warn("closing link failed", "id", id, "error", err)
		}
	}
	r.links = make(map[string]Link)
}

// Close releases all device links. Call on shutdown.
func (r *Registry) Close() {
	r.closeLinks()
}

// Stats returns registry statistics for monitoring.
type Stats struct {
	TotalDevices int
	Online       int
	ByClass      map[Class]int
}

// GetStats returns current registry statistics.
func (r *Registry) GetStats() Stats {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	stats := Stats{
		TotalDevices: len(r.cache),
		ByClass:      make(map[Class]int),
	}

	for _, d := range r.cache {
		stats.ByClass[d.Class]++
		if d.Online {
			stats.Online++
		}
	}

	return stats
}
