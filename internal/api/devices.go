package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tuyahub/core/internal/device"
	"github.com/tuyahub/core/internal/notify"
)

// deviceView is the wire representation of one catalogue entry.
// The credential key never appears here.
type deviceView struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	Class          device.Class      `json:"class"`
	Category       string            `json:"category"`
	Online         bool              `json:"online"`
	ChannelMapping map[string]string `json:"channel_mapping"`
	ChannelValues  map[string]any    `json:"channel_values"`
	Timers         map[string]string `json:"timers,omitempty"`
	LastUpdate     *time.Time        `json:"last_update,omitempty"`
}

func (s *Server) deviceToView(d device.Device, now time.Time) deviceView {
	view := deviceView{
		ID:             d.ID,
		Name:           d.Name,
		Class:          d.Class,
		Category:       d.Category,
		Online:         d.Online,
		ChannelMapping: d.ChannelMapping,
		ChannelValues:  d.ChannelValues,
		LastUpdate:     d.LastUpdate,
	}

	for channelID := range d.ChannelMapping {
		timer, ok := s.scheduler.Get(device.TimerKey{DeviceID: d.ID, ChannelID: channelID})
		if !ok {
			continue
		}
		if view.Timers == nil {
			view.Timers = make(map[string]string)
		}
		view.Timers[channelID] = timer.Label(now)
	}
	return view
}

// handleListDevices returns the device catalogue with pending timer
// labels. ?class= restricts the list to one device class.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	now := time.Now()

	var devices []device.Device
	if class := r.URL.Query().Get("class"); class != "" {
		devices = s.registry.ListByClass(device.Class(class))
	} else {
		devices = s.registry.ListDevices()
	}

	views := make([]deviceView, 0, len(devices))
	for _, d := range devices {
		views = append(views, s.deviceToView(d, now))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"devices": views,
		"count":   len(views),
	})
}

// controlRequest is the body of POST /api/control.
// Device accepts either a catalogue ID or a display name.
type controlRequest struct {
	Device  string `json:"device"`
	Channel string `json:"channel,omitempty"`
	Action  string `json:"action"`
	Value   any    `json:"value,omitempty"`
}

// handleControl switches or sets one channel of a device.
func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	var req controlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Device == "" {
		writeBadRequest(w, "device is required")
		return
	}

	d, namedChannel, err := s.resolveTarget(req.Device)
	if err != nil {
		writeNotFound(w, "device not found: "+req.Device)
		return
	}

	channelID := req.Channel
	if channelID == "" {
		channelID = namedChannel
	}
	if channelID == "" {
		channelID = d.PrimaryChannel()
	}

	var value any
	var verb string
	switch req.Action {
	case "on":
		value, verb = true, "BẬT"
	case "off":
		value, verb = false, "TẮT"
	case "toggle":
		on := !d.ChannelOn(channelID)
		value = on
		verb = "TẮT"
		if on {
			verb = "BẬT"
		}
	case "set":
		if req.Value == nil {
			writeBadRequest(w, "value is required for action set")
			return
		}
		value, verb = req.Value, "đặt"
	default:
		writeBadRequest(w, "unknown action: "+req.Action)
		return
	}

	if err := s.registry.SetChannel(r.Context(), d.ID, channelID, value); err != nil {
		s.writeControlError(w, d, err)
		return
	}

	s.broadcastDeviceState(d.ID)

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"message": fmt.Sprintf("Đã %s %s.", verb, d.Name),
		"device":  d.ID,
		"channel": channelID,
	})
}

// setTimerRequest is the body of POST /api/set_timer. Minutes of zero or
// less cancels any pending timer on the channel.
type setTimerRequest struct {
	Device  string `json:"device"`
	Channel string `json:"channel,omitempty"`
	Minutes int    `json:"minutes"`
}

// handleSetTimer schedules a countdown that flips the channel to the
// opposite of its current state.
func (s *Server) handleSetTimer(w http.ResponseWriter, r *http.Request) {
	var req setTimerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Device == "" {
		writeBadRequest(w, "device is required")
		return
	}

	d, namedChannel, err := s.resolveTarget(req.Device)
	if err != nil {
		writeNotFound(w, "device not found: "+req.Device)
		return
	}
	if !d.Controllable() {
		writeBadRequest(w, "device is not controllable: "+d.Name)
		return
	}

	channelID := req.Channel
	if channelID == "" {
		channelID = namedChannel
	}
	if channelID == "" {
		channelID = d.PrimaryChannel()
	}

	key := device.TimerKey{DeviceID: d.ID, ChannelID: channelID}
	msg := s.scheduler.Set(key, d.Name, d.ChannelOn(channelID),
		time.Duration(req.Minutes)*time.Minute)

	resp := map[string]any{
		"ok":      true,
		"message": msg,
		"device":  d.ID,
		"channel": channelID,
	}
	if timer, ok := s.scheduler.Get(key); ok {
		resp["label"] = timer.Label(time.Now())
	}
	writeJSON(w, http.StatusOK, resp)
}

// updateConfigRequest is the body of POST /api/update_config. Only the
// fields present are patched; Channels renames channel display roles in
// the mapping.
type updateConfigRequest struct {
	Device          string            `json:"device"`
	Name            string            `json:"name,omitempty"`
	Address         string            `json:"address,omitempty"`
	CredentialKey   string            `json:"credential_key,omitempty"`
	ProtocolVersion string            `json:"protocol_version,omitempty"`
	Category        string            `json:"category,omitempty"`
	Channels        map[string]string `json:"channels,omitempty"`
}

// handleUpdateConfig patches a device's static configuration and reloads
// the registry so inherited fields and the name index stay consistent.
func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req updateConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Device == "" {
		writeBadRequest(w, "device is required")
		return
	}

	target, err := s.resolveDevice(req.Device)
	if err != nil {
		writeNotFound(w, "device not found: "+req.Device)
		return
	}

	// Patch the stored row, not the cached copy: the cache holds
	// inherited address/credential values that must not be written back.
	d, err := s.settings.GetByID(r.Context(), target.ID)
	if err != nil {
		writeInternalError(w, "reading device failed")
		return
	}

	changed := false
	if req.Name != "" && req.Name != d.Name {
		d.Name = req.Name
		changed = true
	}
	if req.Address != "" && req.Address != d.Address {
		d.Address = req.Address
		changed = true
	}
	if req.CredentialKey != "" && req.CredentialKey != d.CredentialKey {
		d.CredentialKey = req.CredentialKey
		changed = true
	}
	if req.ProtocolVersion != "" && req.ProtocolVersion != d.ProtocolVersion {
		d.ProtocolVersion = req.ProtocolVersion
		changed = true
	}
	if req.Category != "" && req.Category != d.Category {
		d.Category = req.Category
		d.Class = device.Classify(d.Category, d.ChannelMapping)
		changed = true
	}
	for channelID, role := range req.Channels {
		if _, ok := d.ChannelMapping[channelID]; !ok {
			writeBadRequest(w, "unknown channel: "+channelID)
			return
		}
		if d.ChannelMapping[channelID] != role {
			d.ChannelMapping[channelID] = role
			changed = true
		}
	}

	if !changed {
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":      true,
			"changed": false,
			"message": "Không có gì thay đổi.",
		})
		return
	}

	if err := s.settings.Upsert(r.Context(), d); err != nil {
		writeInternalError(w, "storing device failed")
		return
	}

	// Reload so sub devices pick up inherited changes and renames land
	// in the name index. Reload failure leaves the old cache serving.
	if err := s.registry.LoadSystem(r.Context()); err != nil {
		s.logger.Error("registry reload after config update", "device", d.ID, "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"changed": true,
		"message": "Đã lưu cấu hình.",
		"device":  d.ID,
	})
}

// handleGetSettings returns stored settings. ?key= fetches a single
// value and responds 404 when the key does not exist.
func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	if key := r.URL.Query().Get("key"); key != "" {
		value, err := s.settings.GetSetting(r.Context(), key)
		if err != nil {
			if errors.Is(err, device.ErrSettingNotFound) {
				writeNotFound(w, "setting not found: "+key)
				return
			}
			writeInternalError(w, "reading setting failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"key": key, "value": value})
		return
	}

	settings, err := s.settings.ListSettings(r.Context())
	if err != nil {
		writeInternalError(w, "reading settings failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"settings": settings})
}

// handlePutSettings stores settings without the change-detection reply.
func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var req map[string]string
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	for key, value := range req {
		if err := s.settings.PutSetting(r.Context(), key, value); err != nil {
			writeInternalError(w, "storing settings failed")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleListNotifications returns stored notifications, newest first.
// ?q= searches subject, body and sender; ?limit= caps the result count.
func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	if s.notifications == nil {
		writeJSON(w, http.StatusOK, map[string]any{"notifications": []any{}})
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, "invalid limit")
			return
		}
		limit = n
	}

	query := r.URL.Query().Get("q")
	var (
		list any
		err  error
	)
	switch {
	case query != "":
		list, err = s.notifications.Search(r.Context(), query, limit)
	case r.URL.Query().Get("unannounced") == "1":
		list, err = s.notifications.Unannounced(r.Context())
	default:
		list, err = s.notifications.List(r.Context(), limit)
	}
	if err != nil {
		writeInternalError(w, "reading notifications failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"notifications": list})
}

// handleAnnounceNotification flags a notification as announced so it
// drops out of the unannounced queue.
func (s *Server) handleAnnounceNotification(w http.ResponseWriter, r *http.Request) {
	if s.notifications == nil {
		writeNotFound(w, "notifications are not enabled")
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeBadRequest(w, "invalid notification id")
		return
	}

	if err := s.notifications.MarkAnnounced(r.Context(), id); err != nil {
		if errors.Is(err, notify.ErrNotificationNotFound) {
			writeNotFound(w, "notification not found")
			return
		}
		writeInternalError(w, "updating notification failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleHealth returns the hub health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	stats := s.registry.GetStats()

	resp := map[string]any{
		"status":         "ok",
		"version":        s.version,
		"devices":        stats.TotalDevices,
		"devices_online": stats.Online,
		"timers":         s.scheduler.Len(),
	}
	if s.mqtt != nil {
		resp["mqtt_connected"] = s.mqtt.IsConnected()
	}
	if s.hub != nil {
		resp["ws_clients"] = s.hub.ClientCount()
	}
	writeJSON(w, http.StatusOK, resp)
}

// resolveDevice finds a device by ID first, then by display name.
func (s *Server) resolveDevice(ref string) (*device.Device, error) {
	if d, err := s.registry.GetDevice(ref); err == nil {
		return d, nil
	}
	return s.registry.ResolveByName(ref)
}

// resolveTarget finds a device by ID first, then by display name,
// including the renamed channels of multi-gang devices. The returned
// channel ID is empty unless the name addressed a specific channel.
func (s *Server) resolveTarget(ref string) (*device.Device, string, error) {
	if d, err := s.registry.GetDevice(ref); err == nil {
		return d, "", nil
	}
	return s.registry.ResolveTarget(ref)
}

// writeControlError maps registry errors to HTTP responses.
func (s *Server) writeControlError(w http.ResponseWriter, d *device.Device, err error) {
	switch {
	case errors.Is(err, device.ErrNotControllable):
		writeBadRequest(w, "device is not controllable: "+d.Name)
	case errors.Is(err, device.ErrInvalidChannel):
		writeBadRequest(w, err.Error())
	case errors.Is(err, device.ErrNoAddress):
		writeError(w, http.StatusConflict, ErrCodeConflict, "device has no LAN address: "+d.Name)
	case errors.Is(err, device.ErrGatewayNotFound):
		writeError(w, http.StatusConflict, ErrCodeConflict, "gateway not in catalogue for: "+d.Name)
	case errors.Is(err, device.ErrUnreachable):
		writeError(w, http.StatusBadGateway, ErrCodeUnreachable, "device unreachable: "+d.Name)
	default:
		s.logger.Error("control failed", "device", d.ID, "error", err)
		writeInternalError(w, "control failed")
	}
}

// broadcastDeviceState pushes the device's current state to WebSocket
// subscribers of device.state_changed.
func (s *Server) broadcastDeviceState(id string) {
	if s.hub == nil {
		return
	}
	d, err := s.registry.GetDevice(id)
	if err != nil {
		return
	}
	s.hub.Broadcast("device.state_changed", s.deviceToView(*d, time.Now()))
}
