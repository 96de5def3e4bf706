package notify

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotificationNotFound is returned when a notification ID does not exist.
var ErrNotificationNotFound = errors.New("notify: notification not found")

// Notification is one announcement record, typically a billing email
// forwarded to the hub.
type Notification struct {
	ID         int64     `json:"id"`
	Sender     string    `json:"sender"`
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	ReceivedAt time.Time `json:"received_at"`
	Announced  bool      `json:"announced"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store defines notification persistence.
type Store interface {
	// Add records a notification. A record with the same sender, subject
	// and receipt time already present is left untouched; Add reports
	// whether a new row was inserted.
	Add(ctx context.Context, n *Notification) (bool, error)

	// List returns the most recent notifications, newest first.
	List(ctx context.Context, limit int) ([]Notification, error)

	// Search returns notifications whose subject or body contains the
	// query, newest first.
	Search(ctx context.Context, query string, limit int) ([]Notification, error)

	// Unannounced returns notifications not yet announced, oldest first.
	Unannounced(ctx context.Context) ([]Notification, error)

	// MarkAnnounced flags a notification as announced.
	MarkAnnounced(ctx context.Context, id int64) error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-backed notification store.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

const notificationColumns = `id, sender, subject, body, received_at, announced, created_at`

// Add records a notification, ignoring exact duplicates.
func (s *SQLiteStore) Add(ctx context.Context, n *Notification) (bool, error) {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO notifications (sender, subject, body, received_at, announced, created_at)
		VALUES (?, ?, ?, ?, 0, ?)
		ON CONFLICT(sender, subject, received_at) DO NOTHING`

	result, err := s.db.ExecContext(ctx, query,
		n.Sender,
		n.Subject,
		n.Body,
		n.ReceivedAt.UTC().Format(time.RFC3339),
		n.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return false, fmt.Errorf("inserting notification: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return false, nil
	}

	id, err := result.LastInsertId()
	if err != nil {
		return false, fmt.Errorf("reading insert id: %w", err)
	}
	n.ID = id
	return true, nil
}

// List returns the most recent notifications, newest first.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + notificationColumns + `
		FROM notifications ORDER BY received_at DESC, id DESC LIMIT ?`
	return s.queryNotifications(ctx, query, limit)
}

// Search returns notifications matching the query, newest first.
func (s *SQLiteStore) Search(ctx context.Context, query string, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	pattern := "%" + query + "%"
	sqlQuery := `SELECT ` + notificationColumns + `
		FROM notifications
		WHERE subject LIKE ? OR body LIKE ? OR sender LIKE ?
		ORDER BY received_at DESC, id DESC LIMIT ?`
	return s.queryNotifications(ctx, sqlQuery, pattern, pattern, pattern, limit)
}

// Unannounced returns notifications not yet announced, oldest first so
// announcements play in arrival order.
func (s *SQLiteStore) Unannounced(ctx context.Context) ([]Notification, error) {
	query := `SELECT ` + notificationColumns + `
		FROM notifications WHERE announced = 0 ORDER BY received_at ASC, id ASC`
	return s.queryNotifications(ctx, query)
}

// MarkAnnounced flags a notification as announced.
func (s *SQLiteStore) MarkAnnounced(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE notifications SET announced = 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("marking notification announced: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

func (s *SQLiteStore) queryNotifications(ctx context.Context, query string, args ...any) ([]Notification, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying notifications: %w", err)
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var n Notification
		var announced int
		var receivedAt, createdAt string

		if err := rows.Scan(&n.ID, &n.Sender, &n.Subject, &n.Body,
			&receivedAt, &announced, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning notification: %w", err)
		}

		n.Announced = announced != 0
		n.ReceivedAt, err = time.Parse(time.RFC3339, receivedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing received_at: %w", err)
		}
		n.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		out = append(out, n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating notifications: %w", err)
	}
	return out, nil
}
