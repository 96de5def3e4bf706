package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tuyahub/core/internal/device"
	"github.com/tuyahub/core/internal/infrastructure/config"
	"github.com/tuyahub/core/internal/infrastructure/logging"
	"github.com/tuyahub/core/internal/notify"
)

// fakeLink records writes and returns a scripted status.
type fakeLink struct {
	mu     sync.Mutex
	status map[string]any
	writes []string
}

func (l *fakeLink) Status(_ context.Context) (map[string]any, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]any, len(l.status))
	for k, v := range l.status {
		out[k] = v
	}
	return out, nil
}

func (l *fakeLink) SetValue(_ context.Context, channelID string, _ any) error {
	return l.record("set:" + channelID)
}

func (l *fakeLink) TurnOn(_ context.Context, channelID string) error {
	return l.record("on:" + channelID)
}

func (l *fakeLink) TurnOff(_ context.Context, channelID string) error {
	return l.record("off:" + channelID)
}

func (l *fakeLink) Close() error { return nil }

func (l *fakeLink) record(op string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writes = append(l.writes, op)
	return nil
}

type fakeFactory struct {
	mu    sync.Mutex
	links map[string]*fakeLink
}

func (f *fakeFactory) NewLink(cfg device.LinkConfig) (device.Link, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.links == nil {
		f.links = make(map[string]*fakeLink)
	}
	link, ok := f.links[cfg.DeviceID]
	if !ok {
		link = &fakeLink{status: map[string]any{}}
		f.links[cfg.DeviceID] = link
	}
	return link, nil
}

func setupAPITestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	schema := `
		CREATE TABLE devices (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			class TEXT NOT NULL DEFAULT 'sensor',
			category TEXT NOT NULL DEFAULT '',
			address TEXT,
			credential_key TEXT,
			protocol_version TEXT,
			parent_id TEXT,
			node_id TEXT,
			channel_mapping TEXT NOT NULL DEFAULT '{}',
			channel_values TEXT NOT NULL DEFAULT '{}',
			online INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
		CREATE TABLE settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
		CREATE TABLE notifications (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sender TEXT NOT NULL,
			subject TEXT NOT NULL,
			body TEXT NOT NULL DEFAULT '',
			received_at TEXT NOT NULL,
			announced INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			UNIQUE(sender, subject, received_at)
		);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})
	return db
}

type testEnv struct {
	server   *Server
	registry *device.Registry
	store    *device.SQLiteStore
	notify   *notify.SQLiteStore
	factory  *fakeFactory
	http     *httptest.Server
}

func newTestEnv(t *testing.T, devices ...*device.Device) *testEnv {
	t.Helper()

	db := setupAPITestDB(t)
	store := device.NewSQLiteStore(db)
	ctx := context.Background()

	for _, d := range devices {
		if err := store.Upsert(ctx, d); err != nil {
			t.Fatalf("seeding device %s: %v", d.ID, err)
		}
		// Upsert does not insert runtime state for new rows beyond the
		// initial values; push them explicitly so tests control state.
		if len(d.ChannelValues) > 0 || d.Online {
			if err := store.UpdateState(ctx, d.ID, d.ChannelValues, d.Online); err != nil {
				t.Fatalf("seeding state %s: %v", d.ID, err)
			}
		}
	}

	factory := &fakeFactory{}
	registry := device.NewRegistry(store, factory)
	if err := registry.LoadSystem(ctx); err != nil {
		t.Fatalf("LoadSystem() error = %v", err)
	}

	logger := logging.New(config.LoggingConfig{Level: "error", Format: "text"}, "test")

	srv, err := New(Deps{
		Config:        config.APIConfig{Host: "127.0.0.1", Port: 0},
		WS:            config.WebSocketConfig{MaxMessageSize: 4096, PingInterval: 30, PongTimeout: 60},
		Logger:        logger,
		Registry:      registry,
		Scheduler:     device.NewScheduler(),
		Settings:      store,
		Notifications: notify.NewSQLiteStore(db),
		Version:       "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	srv.hub = NewHub(srv.wsCfg, logger)

	ts := httptest.NewServer(srv.buildRouter())
	t.Cleanup(ts.Close)

	return &testEnv{
		server:   srv,
		registry: registry,
		store:    store,
		notify:   notify.NewSQLiteStore(db),
		factory:  factory,
		http:     ts,
	}
}

func seedSwitch(id, name string) *device.Device {
	return &device.Device{
		ID:              id,
		Name:            name,
		Class:           device.ClassSwitch,
		Category:        "cz",
		Address:         "192.168.1.60",
		CredentialKey:   "key",
		ProtocolVersion: "3.3",
		ChannelMapping:  map[string]string{"1": "switch_1"},
		ChannelValues:   map[string]any{"1": false},
		Online:          true,
	}
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshalling request: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return out
}

func TestHandleHealth(t *testing.T) {
	env := newTestEnv(t, seedSwitch("dev1", "quạt"))

	resp, err := http.Get(env.http.URL + "/api/health")
	if err != nil {
		t.Fatalf("GET /api/health: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	body := decodeBody(t, resp)
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
	if body["devices"] != float64(1) {
		t.Errorf("devices = %v, want 1", body["devices"])
	}
}

func TestHandleListDevices(t *testing.T) {
	env := newTestEnv(t,
		seedSwitch("dev1", "quạt trần"),
		seedSwitch("dev2", "đèn bếp"),
	)

	resp, err := http.Get(env.http.URL + "/api/devices")
	if err != nil {
		t.Fatalf("GET /api/devices: %v", err)
	}
	body := decodeBody(t, resp)

	if body["count"] != float64(2) {
		t.Fatalf("count = %v, want 2", body["count"])
	}
	devices, _ := body["devices"].([]any)
	if len(devices) != 2 {
		t.Fatalf("devices length = %d, want 2", len(devices))
	}

	// Credential keys must never leak.
	raw, _ := json.Marshal(body)
	if strings.Contains(string(raw), "credential") {
		t.Error("credential material leaked into device list")
	}
}

func TestHandleListDevices_ClassFilter(t *testing.T) {
	sensor := seedSwitch("se1", "cảm biến nhiệt")
	sensor.Class = device.ClassSensor
	env := newTestEnv(t, seedSwitch("dev1", "quạt trần"), sensor)

	resp, err := http.Get(env.http.URL + "/api/devices?class=sensor")
	if err != nil {
		t.Fatalf("GET /api/devices?class=sensor: %v", err)
	}
	body := decodeBody(t, resp)

	if body["count"] != float64(1) {
		t.Fatalf("count = %v, want 1", body["count"])
	}
	devices, _ := body["devices"].([]any)
	first, _ := devices[0].(map[string]any)
	if first["id"] != "se1" {
		t.Errorf("filtered device = %v, want se1", first["id"])
	}
}

func TestHandleListDevices_IncludesTimerLabels(t *testing.T) {
	env := newTestEnv(t, seedSwitch("dev1", "quạt trần"))

	env.server.scheduler.Set(
		device.TimerKey{DeviceID: "dev1", ChannelID: "1"},
		"quạt trần", true, 9*time.Minute)

	resp, err := http.Get(env.http.URL + "/api/devices")
	if err != nil {
		t.Fatalf("GET /api/devices: %v", err)
	}
	body := decodeBody(t, resp)

	devices, _ := body["devices"].([]any)
	first, _ := devices[0].(map[string]any)
	timers, _ := first["timers"].(map[string]any)
	label, _ := timers["1"].(string)
	if !strings.HasPrefix(label, "TẮT sau") {
		t.Errorf("timer label = %q, want TẮT sau Np", label)
	}
}

func TestHandleControl_OnByName(t *testing.T) {
	env := newTestEnv(t, seedSwitch("dev1", "quạt trần"))

	resp := postJSON(t, env.http.URL+"/api/control", map[string]any{
		"device": "quạt",
		"action": "on",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if msg, _ := body["message"].(string); msg != "Đã BẬT quạt trần." {
		t.Errorf("message = %q", msg)
	}

	link := env.factory.links["dev1"]
	if link == nil || len(link.writes) != 1 || link.writes[0] != "on:1" {
		t.Fatalf("link writes = %v, want [on:1]", linkWrites(link))
	}

	d, _ := env.registry.GetDevice("dev1")
	if !d.ChannelOn("1") {
		t.Error("channel 1 not on after control")
	}
}

func linkWrites(l *fakeLink) []string {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.writes...)
}

func TestHandleControl_Toggle(t *testing.T) {
	env := newTestEnv(t, seedSwitch("dev1", "quạt trần"))

	// Channel starts off; toggle turns it on.
	resp := postJSON(t, env.http.URL+"/api/control", map[string]any{
		"device": "dev1",
		"action": "toggle",
	})
	body := decodeBody(t, resp)
	if msg, _ := body["message"].(string); msg != "Đã BẬT quạt trần." {
		t.Errorf("first toggle message = %q", msg)
	}

	resp = postJSON(t, env.http.URL+"/api/control", map[string]any{
		"device": "dev1",
		"action": "toggle",
	})
	body = decodeBody(t, resp)
	if msg, _ := body["message"].(string); msg != "Đã TẮT quạt trần." {
		t.Errorf("second toggle message = %q", msg)
	}

	writes := linkWrites(env.factory.links["dev1"])
	if len(writes) != 2 || writes[0] != "on:1" || writes[1] != "off:1" {
		t.Errorf("link writes = %v, want [on:1 off:1]", writes)
	}
}

func TestHandleControl_Errors(t *testing.T) {
	sensor := &device.Device{
		ID: "se1", Name: "cảm biến", Class: device.ClassSensor,
		Category: "wsdcg", Address: "192.168.1.61",
	}
	env := newTestEnv(t, seedSwitch("dev1", "quạt"), sensor)

	tests := []struct {
		name       string
		body       map[string]any
		wantStatus int
	}{
		{"unknown device", map[string]any{"device": "tủ lạnh", "action": "on"}, http.StatusNotFound},
		{"missing device", map[string]any{"action": "on"}, http.StatusBadRequest},
		{"unknown action", map[string]any{"device": "dev1", "action": "explode"}, http.StatusBadRequest},
		{"set without value", map[string]any{"device": "dev1", "action": "set"}, http.StatusBadRequest},
		{"sensor not controllable", map[string]any{"device": "se1", "action": "on"}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, env.http.URL+"/api/control", tt.body)
			defer resp.Body.Close()
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
		})
	}
}

func TestHandleSetTimer(t *testing.T) {
	d := seedSwitch("dev1", "đèn ngủ")
	d.ChannelValues = map[string]any{"1": true}
	env := newTestEnv(t, d)

	resp := postJSON(t, env.http.URL+"/api/set_timer", map[string]any{
		"device":  "đèn ngủ",
		"minutes": 10,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if msg, _ := body["message"].(string); msg != "Sẽ TẮT đèn ngủ sau 10 phút." {
		t.Errorf("message = %q", msg)
	}
	if env.server.scheduler.Len() != 1 {
		t.Errorf("scheduler holds %d timers, want 1", env.server.scheduler.Len())
	}

	// Zero minutes cancels.
	resp = postJSON(t, env.http.URL+"/api/set_timer", map[string]any{
		"device":  "đèn ngủ",
		"minutes": 0,
	})
	body = decodeBody(t, resp)
	if msg, _ := body["message"].(string); msg != "Đã hủy hẹn giờ." {
		t.Errorf("cancel message = %q", msg)
	}
	if env.server.scheduler.Len() != 0 {
		t.Errorf("scheduler holds %d timers after cancel, want 0", env.server.scheduler.Len())
	}
}

func TestHandleUpdateConfig(t *testing.T) {
	env := newTestEnv(t, seedSwitch("dev1", "quạt"))

	resp := postJSON(t, env.http.URL+"/api/update_config", map[string]any{
		"device":   "quạt",
		"name":     "quạt trần",
		"channels": map[string]string{"1": "switch_fan"},
	})
	body := decodeBody(t, resp)
	if msg, _ := body["message"].(string); msg != "Đã lưu cấu hình." {
		t.Errorf("message = %q, want Đã lưu cấu hình.", msg)
	}

	// The registry reloaded: the new name resolves, the old does not.
	d, err := env.registry.ResolveByName("quạt trần")
	if err != nil {
		t.Fatalf("ResolveByName(quạt trần) error = %v", err)
	}
	if d.ChannelMapping["1"] != "switch_fan" {
		t.Errorf("channel role = %q, want switch_fan", d.ChannelMapping["1"])
	}

	// Same patch again: nothing changed.
	resp = postJSON(t, env.http.URL+"/api/update_config", map[string]any{
		"device": "dev1",
		"name":   "quạt trần",
	})
	body = decodeBody(t, resp)
	if msg, _ := body["message"].(string); msg != "Không có gì thay đổi." {
		t.Errorf("message = %q, want Không có gì thay đổi.", msg)
	}
}

func TestHandleUpdateConfig_UnknownChannel(t *testing.T) {
	env := newTestEnv(t, seedSwitch("dev1", "quạt"))

	resp := postJSON(t, env.http.URL+"/api/update_config", map[string]any{
		"device":   "dev1",
		"channels": map[string]string{"9": "switch_9"},
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHandleSettingsRoundtrip(t *testing.T) {
	env := newTestEnv(t)

	resp := postJSON(t, env.http.URL+"/api/settings", map[string]string{
		"volume": "80",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /api/settings status = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()

	getResp, err := http.Get(env.http.URL + "/api/settings")
	if err != nil {
		t.Fatalf("GET /api/settings: %v", err)
	}
	body := decodeBody(t, getResp)
	settings, _ := body["settings"].(map[string]any)
	if settings["volume"] != "80" {
		t.Errorf("settings = %v, want volume 80", settings)
	}

	// Single-key lookup.
	oneResp, err := http.Get(env.http.URL + "/api/settings?key=volume")
	if err != nil {
		t.Fatalf("GET /api/settings?key=volume: %v", err)
	}
	one := decodeBody(t, oneResp)
	if one["value"] != "80" {
		t.Errorf("value = %v, want 80", one["value"])
	}

	missResp, err := http.Get(env.http.URL + "/api/settings?key=ghost")
	if err != nil {
		t.Fatalf("GET /api/settings?key=ghost: %v", err)
	}
	missResp.Body.Close()
	if missResp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown key status = %d, want 404", missResp.StatusCode)
	}
}

func TestHandleListNotifications(t *testing.T) {
	env := newTestEnv(t)

	at := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	_, err := env.notify.Add(context.Background(), &notify.Notification{
		Sender: "evn@cskh.evn.com.vn", Subject: "Hóa đơn tiền điện", ReceivedAt: at,
	})
	if err != nil {
		t.Fatalf("seeding notification: %v", err)
	}

	resp, err := http.Get(env.http.URL + "/api/notifications")
	if err != nil {
		t.Fatalf("GET /api/notifications: %v", err)
	}
	body := decodeBody(t, resp)
	items, _ := body["notifications"].([]any)
	if len(items) != 1 {
		t.Fatalf("notifications = %v, want 1 item", body["notifications"])
	}

	// Search misses.
	resp, err = http.Get(env.http.URL + "/api/notifications?q=nothing-here")
	if err != nil {
		t.Fatalf("GET /api/notifications?q: %v", err)
	}
	body = decodeBody(t, resp)
	if items, ok := body["notifications"].([]any); ok && len(items) != 0 {
		t.Errorf("search returned %d items, want 0", len(items))
	}
}

func TestHandleAnnounceNotification(t *testing.T) {
	env := newTestEnv(t)

	at := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	n := &notify.Notification{
		Sender: "evn@cskh.evn.com.vn", Subject: "Hóa đơn tiền điện", ReceivedAt: at,
	}
	if _, err := env.notify.Add(context.Background(), n); err != nil {
		t.Fatalf("seeding notification: %v", err)
	}

	resp := postJSON(t, fmt.Sprintf("%s/api/notifications/%d/announce", env.http.URL, n.ID), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("announce status = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()

	// The unannounced queue is now empty.
	getResp, err := http.Get(env.http.URL + "/api/notifications?unannounced=1")
	if err != nil {
		t.Fatalf("GET unannounced: %v", err)
	}
	body := decodeBody(t, getResp)
	if items, ok := body["notifications"].([]any); ok && len(items) != 0 {
		t.Errorf("unannounced returned %d items, want 0", len(items))
	}

	// Unknown ID is a 404.
	resp = postJSON(t, env.http.URL+"/api/notifications/9999/announce", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("announce unknown id status = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()
}
