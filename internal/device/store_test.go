package device

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// setupTestDB creates an in-memory SQLite database with the hub schema.
func setupTestDB(t *testing.T) *sql.DB {
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
		CREATE INDEX idx_devices_name ON devices(name);
		CREATE INDEX idx_devices_parent_id ON devices(parent_id);

		CREATE TABLE settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TEXT NOT NULL
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

func testDevice(id, name string) *Device {
	return &Device{
		ID:              id,
		Name:            name,
		Class:           ClassSwitch,
		Category:        "cz",
		Address:         "192.168.1.50",
		CredentialKey:   "localkey123",
		ProtocolVersion: "3.3",
		ChannelMapping:  map[string]string{"1": "switch_1"},
		ChannelValues:   map[string]any{"1": true},
		Online:          true,
	}
}

func TestSQLiteStore_UpsertAndGet(t *testing.T) {
	store := NewSQLiteStore(setupTestDB(t))
	ctx := context.Background()

	d := testDevice("dev1", "Quạt phòng khách")
	if err := store.Upsert(ctx, d); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	got, err := store.GetByID(ctx, "dev1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Name != "Quạt phòng khách" {
		t.Errorf("Name = %q, want %q", got.Name, "Quạt phòng khách")
	}
	if got.Class != ClassSwitch {
		t.Errorf("Class = %q, want %q", got.Class, ClassSwitch)
	}
	if got.ChannelMapping["1"] != "switch_1" {
		t.Errorf("ChannelMapping[1] = %q, want switch_1", got.ChannelMapping["1"])
	}
	if on, _ := got.ChannelValues["1"].(bool); !on {
		t.Errorf("ChannelValues[1] = %v, want true", got.ChannelValues["1"])
	}
	if !got.Online {
		t.Error("Online = false, want true")
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("timestamps not set")
	}
}

func TestSQLiteStore_GetByID_NotFound(t *testing.T) {
	store := NewSQLiteStore(setupTestDB(t))

	_, err := store.GetByID(context.Background(), "missing")
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("GetByID() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestSQLiteStore_UpsertPreservesRuntimeState(t *testing.T) {
	store := NewSQLiteStore(setupTestDB(t))
	ctx := context.Background()

	d := testDevice("dev1", "Đèn bếp")
	if err := store.Upsert(ctx, d); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if err := store.UpdateState(ctx, "dev1", map[string]any{"1": false, "9": 42.0}, true); err != nil {
		t.Fatalf("UpdateState() error = %v", err)
	}

	// Re-import the catalogue entry with a new name and no values.
	reimport := testDevice("dev1", "Đèn bếp mới")
	reimport.ChannelValues = nil
	reimport.Online = false
	if err := store.Upsert(ctx, reimport); err != nil {
		t.Fatalf("re-Upsert() error = %v", err)
	}

	got, err := store.GetByID(ctx, "dev1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Name != "Đèn bếp mới" {
		t.Errorf("Name = %q, want updated name", got.Name)
	}
	if on, _ := got.ChannelValues["1"].(bool); on {
		t.Errorf("ChannelValues[1] = %v, want false preserved across import", got.ChannelValues["1"])
	}
	if v, _ := got.ChannelValues["9"].(float64); v != 42.0 {
		t.Errorf("ChannelValues[9] = %v, want 42 preserved across import", got.ChannelValues["9"])
	}
	if !got.Online {
		t.Error("Online flag lost across import")
	}
}

func TestSQLiteStore_List(t *testing.T) {
	store := NewSQLiteStore(setupTestDB(t))
	ctx := context.Background()

	for _, name := range []string{"zebra", "alpha", "mid"} {
		d := testDevice("id-"+name, name)
		if err := store.Upsert(ctx, d); err != nil {
			t.Fatalf("Upsert(%s) error = %v", name, err)
		}
	}

	devices, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(devices) != 3 {
		t.Fatalf("List() returned %d devices, want 3", len(devices))
	}
	if devices[0].Name != "alpha" || devices[2].Name != "zebra" {
		t.Errorf("List() not ordered by name: %s, %s, %s",
			devices[0].Name, devices[1].Name, devices[2].Name)
	}
}

func TestSQLiteStore_UpdateState_SupersetMerge(t *testing.T) {
	store := NewSQLiteStore(setupTestDB(t))
	ctx := context.Background()

	d := testDevice("dev1", "công tắc ba kênh")
	d.ChannelValues = map[string]any{"1": true, "2": false, "3": true}
	if err := store.Upsert(ctx, d); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	// Seed the stored values (Upsert inserts them on first write).
	if err := store.UpdateState(ctx, "dev1", d.ChannelValues, true); err != nil {
		t.Fatalf("seed UpdateState() error = %v", err)
	}

	// Partial report: only channel 2 changed.
	if err := store.UpdateState(ctx, "dev1", map[string]any{"2": true}, true); err != nil {
		t.Fatalf("UpdateState() error = %v", err)
	}

	got, err := store.GetByID(ctx, "dev1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	for ch, want := range map[string]bool{"1": true, "2": true, "3": true} {
		if on, _ := got.ChannelValues[ch].(bool); on != want {
			t.Errorf("channel %s = %v, want %v", ch, got.ChannelValues[ch], want)
		}
	}
}

func TestSQLiteStore_UpdateState_NotFound(t *testing.T) {
	store := NewSQLiteStore(setupTestDB(t))

	err := store.UpdateState(context.Background(), "missing", map[string]any{"1": true}, true)
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("UpdateState() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestSQLiteStore_Delete(t *testing.T) {
	store := NewSQLiteStore(setupTestDB(t))
	ctx := context.Background()

	if err := store.Upsert(ctx, testDevice("dev1", "one")); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if err := store.Delete(ctx, "dev1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.GetByID(ctx, "dev1"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("GetByID() after delete error = %v, want ErrDeviceNotFound", err)
	}
	if err := store.Delete(ctx, "dev1"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("second Delete() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestSQLiteStore_Settings(t *testing.T) {
	store := NewSQLiteStore(setupTestDB(t))
	ctx := context.Background()

	if _, err := store.GetSetting(ctx, "voice"); !errors.Is(err, ErrSettingNotFound) {
		t.Errorf("GetSetting() error = %v, want ErrSettingNotFound", err)
	}

	if err := store.PutSetting(ctx, "voice", "linh"); err != nil {
		t.Fatalf("PutSetting() error = %v", err)
	}
	if err := store.PutSetting(ctx, "voice", "mai"); err != nil {
		t.Fatalf("PutSetting() overwrite error = %v", err)
	}
	if err := store.PutSetting(ctx, "volume", "80"); err != nil {
		t.Fatalf("PutSetting() error = %v", err)
	}

	got, err := store.GetSetting(ctx, "voice")
	if err != nil {
		t.Fatalf("GetSetting() error = %v", err)
	}
	if got != "mai" {
		t.Errorf("GetSetting(voice) = %q, want mai", got)
	}

	all, err := store.ListSettings(ctx)
	if err != nil {
		t.Fatalf("ListSettings() error = %v", err)
	}
	if len(all) != 2 || all["volume"] != "80" {
		t.Errorf("ListSettings() = %v, want voice and volume", all)
	}
}

func TestSQLiteStore_NullableFields(t *testing.T) {
	store := NewSQLiteStore(setupTestDB(t))
	ctx := context.Background()

	d := &Device{
		ID:       "bare",
		Name:     "bare sensor",
		Class:    ClassSensor,
		Category: "wsdcg",
	}
	if err := store.Upsert(ctx, d); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	got, err := store.GetByID(ctx, "bare")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Address != "" || got.ParentID != "" || got.NodeID != "" {
		t.Errorf("nullable fields not empty: %+v", got)
	}
	if got.ChannelMapping == nil || got.ChannelValues == nil {
		t.Error("JSON maps should decode to empty maps, not nil")
	}
}
