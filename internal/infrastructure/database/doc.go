// Package database provides the hub's SQLite connection.
//
// It owns connection setup (WAL mode, busy timeout, single-writer pool),
// embedded schema migrations and a health probe. The actual tables, the
// device catalogue, hub settings and the notification log, are read and
// written by the stores in internal/device and internal/notify; this
// package only hands them an open *sql.DB.
//
// Migrations are additive. New columns are nullable or carry defaults,
// and every .up.sql ships a matching .down.sql so a release can be
// stepped back during development.
package database
