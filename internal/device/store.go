package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Store defines the interface for device persistence operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Store interface {
	// GetByID retrieves a device by its unique identifier.
	// Returns ErrDeviceNotFound if the device does not exist.
	GetByID(ctx context.Context, id string) (*Device, error)

	// List retrieves all devices ordered by name.
	List(ctx context.Context) ([]Device, error)

	// Upsert inserts a device or replaces an existing one with the same ID.
	// Used when importing the cloud catalogue export.
	Upsert(ctx context.Context, device *Device) error

	// Delete removes a device by ID.
	// Returns ErrDeviceNotFound if the device does not exist.
	Delete(ctx context.Context, id string) error

	// UpdateState merges channel values into the device's stored values
	// and updates the online flag. Channels absent from the values map
	// keep their stored value.
	UpdateState(ctx context.Context, id string, values map[string]any, online bool) error

	// GetSetting retrieves a settings value by key.
	// Returns ErrSettingNotFound if the key does not exist.
	GetSetting(ctx context.Context, key string) (string, error)

	// PutSetting stores a settings key/value pair, replacing any existing value.
	PutSetting(ctx context.Context, key, value string) error

	// ListSettings retrieves all settings as a map.
	ListSettings(ctx context.Context) (map[string]string, error)
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-backed store.
// The db parameter should be an open SQLite connection.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

const deviceColumns = `id, name, class, category, address, credential_key,
		protocol_version, parent_id, node_id, channel_mapping, channel_values,
		online, created_at, updated_at`

// GetByID retrieves a device by its unique identifier.
func (s *SQLiteStore) GetByID(ctx context.Context, id string) (*Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE id = ?`

	row := s.db.QueryRowContext(ctx, query, id)
	device, err := scanDeviceRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by id: %w", err)
	}
	return device, nil
}

// List retrieves all devices ordered by name.
func (s *SQLiteStore) List(ctx context.Context) ([]Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices ORDER BY name`
	return s.queryDevices(ctx, query)
}

// Upsert inserts a device or replaces an existing one with the same ID.
func (s *SQLiteStore) Upsert(ctx context.Context, device *Device) error {
	mappingJSON, err := json.Marshal(orEmptyStringMap(device.ChannelMapping))
	if err != nil {
		return fmt.Errorf("marshalling channel_mapping: %w", err)
	}

	valuesJSON, err := json.Marshal(orEmptyAnyMap(device.ChannelValues))
	if err != nil {
		return fmt.Errorf("marshalling channel_values: %w", err)
	}

	// Set timestamps if not set
	now := time.Now().UTC()
	if device.CreatedAt.IsZero() {
		device.CreatedAt = now
	}
	device.UpdatedAt = now

	query := `
		INSERT INTO devices (
			id, name, class, category, address, credential_key,
			protocol_version, parent_id, node_id, channel_mapping, channel_values,
			online, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			class = excluded.class,
			category = excluded.category,
			address = excluded.address,
			credential_key = excluded.credential_key,
			protocol_version = excluded.protocol_version,
			parent_id = excluded.parent_id,
			node_id = excluded.node_id,
			channel_mapping = excluded.channel_mapping,
			updated_at = excluded.updated_at`

	_, err = s.db.ExecContext(ctx, query,
		device.ID,
		device.Name,
		string(device.Class),
		device.Category,
		nullableString(device.Address),
		nullableString(device.CredentialKey),
		nullableString(device.ProtocolVersion),
		nullableString(device.ParentID),
		nullableString(device.NodeID),
		string(mappingJSON),
		string(valuesJSON),
		boolToInt(device.Online),
		device.CreatedAt.Format(time.RFC3339),
		device.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting device: %w", err)
	}

	return nil
}

// Delete removes a device by ID.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM devices WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrDeviceNotFound
	}

	return nil
}

// UpdateState merges the given channel values into the device's stored values.
// json_patch(target, patch) applies patch keys to target, preserving existing
// keys not present in patch, so a partial status report never erases channels
// the device did not include this time.
func (s *SQLiteStore) UpdateState(ctx context.Context, id string, values map[string]any, online bool) error {
	valuesJSON, err := json.Marshal(orEmptyAnyMap(values))
	if err != nil {
		return fmt.Errorf("marshalling channel_values: %w", err)
	}

	now := time.Now().UTC()
	query := `
		UPDATE devices
		SET channel_values = json_patch(COALESCE(channel_values, '{}'), ?),
		    online = ?,
		    updated_at = ?
		WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query,
		string(valuesJSON),
		boolToInt(online),
		now.Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("updating device state: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrDeviceNotFound
	}

	return nil
}

// GetSetting retrieves a settings value by key.
func (s *SQLiteStore) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrSettingNotFound
		}
		return "", fmt.Errorf("querying setting: %w", err)
	}
	return value, nil
}

// PutSetting stores a settings key/value pair, replacing any existing value.
func (s *SQLiteStore) PutSetting(ctx context.Context, key, value string) error {
	now := time.Now().UTC()
	query := `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`

	if _, err := s.db.ExecContext(ctx, query, key, value, now.Format(time.RFC3339)); err != nil {
		return fmt.Errorf("storing setting: %w", err)
	}
	return nil
}

// ListSettings retrieves all settings as a map.
func (s *SQLiteStore) ListSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM settings ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("querying settings: %w", err)
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scanning setting: %w", err)
		}
		settings[key] = value
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating settings: %w", err)
	}
	return settings, nil
}

// queryDevices executes a query and returns a slice of devices.
func (s *SQLiteStore) queryDevices(ctx context.Context, query string, args ...any) ([]Device, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		device, err := scanDeviceRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *device)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}

	return devices, nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanDeviceRow scans a row or rows result into a Device.
func scanDeviceRow(scanner rowScanner) (*Device, error) {
	var d Device
	var address, credentialKey, protocolVersion sql.NullString
	var parentID, nodeID sql.NullString
	var mappingJSON, valuesJSON string
	var online int
	var createdAt, updatedAt string
	var class string

	err := scanner.Scan(
		&d.ID,
		&d.Name,
		&class,
		&d.Category,
		&address,
		&credentialKey,
		&protocolVersion,
		&parentID,
		&nodeID,
		&mappingJSON,
		&valuesJSON,
		&online,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.Class = Class(class)
	d.Online = online != 0

	// Set nullable strings
	if address.Valid {
		d.Address = address.String
	}
	if credentialKey.Valid {
		d.CredentialKey = credentialKey.String
	}
	if protocolVersion.Valid {
		d.ProtocolVersion = protocolVersion.String
	}
	if parentID.Valid {
		d.ParentID = parentID.String
	}
	if nodeID.Valid {
		d.NodeID = nodeID.String
	}

	// Parse timestamps
	var parseErr error
	d.CreatedAt, parseErr = time.Parse(time.RFC3339, createdAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing created_at: %w", parseErr)
	}
	d.UpdatedAt, parseErr = time.Parse(time.RFC3339, updatedAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", parseErr)
	}

	// Unmarshal JSON fields
	if err := json.Unmarshal([]byte(mappingJSON), &d.ChannelMapping); err != nil {
		return nil, fmt.Errorf("unmarshalling channel_mapping: %w", err)
	}

	if err := json.Unmarshal([]byte(valuesJSON), &d.ChannelValues); err != nil {
		return nil, fmt.Errorf("unmarshalling channel_values: %w", err)
	}

	return &d, nil
}

// nullableString returns a sql.NullString for optional strings.
func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// boolToInt converts a boolean to 0/1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// orEmptyStringMap substitutes an empty map for nil so JSON columns
// always hold an object, never the string "null".
func orEmptyStringMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

// orEmptyAnyMap substitutes an empty map for nil.
func orEmptyAnyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
