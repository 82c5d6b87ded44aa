// Package storage persists per-transfer records so completed runs can be
// audited after the processes exit.
package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Transfer roles recorded in the journal
const (
	RoleSender   = "sender"
	RoleReceiver = "receiver"
)

// TransferRecord describes one finished (or interrupted) transfer
type TransferRecord struct {
	ID            int64
	Role          string // "sender" or "receiver"
	Peer          string // Remote endpoint, if known
	Bytes         int64  // Payload bytes read (sender) or emitted (receiver)
	Packets       int64  // Distinct packets created or received
	Retransmits   int64  // Sender only
	Duplicates    int64  // Duplicate ACKs (sender) or duplicate data (receiver)
	CorruptFrames int64  // Frames dropped for failed checksums
	Digest        string // BLAKE2b-256 of the byte stream, hex
	StartedAt     int64  // Unix seconds
	FinishedAt    int64  // Unix seconds
}

// TransferJournal is a SQLite-backed log of transfer outcomes
type TransferJournal struct {
	db *sql.DB
}

// NewTransferJournal opens (creating if needed) the journal database at path
func NewTransferJournal(path string) (*TransferJournal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %v", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL: %v", err)
	}

	j := &TransferJournal{db: db}
	if err := j.initSchema(); err != nil {
		return nil, err
	}

	return j, nil
}

// initSchema creates the database schema
func (j *TransferJournal) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS transfers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		role TEXT NOT NULL,
		peer TEXT NOT NULL,
		bytes INTEGER NOT NULL,
		packets INTEGER NOT NULL,
		retransmits INTEGER NOT NULL DEFAULT 0,
		duplicates INTEGER NOT NULL DEFAULT 0,
		corrupt_frames INTEGER NOT NULL DEFAULT 0,
		digest TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL
	);

	-- Index for history queries, newest first
	CREATE INDEX IF NOT EXISTS idx_finished ON transfers(finished_at);
	`

	if _, err := j.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %v", err)
	}

	return nil
}

// Record appends a transfer record to the journal and returns its row ID
func (j *TransferJournal) Record(rec *TransferRecord) (int64, error) {
	query := `
		INSERT INTO transfers (role, peer, bytes, packets, retransmits, duplicates, corrupt_frames, digest, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := j.db.Exec(query,
		rec.Role, rec.Peer, rec.Bytes, rec.Packets, rec.Retransmits,
		rec.Duplicates, rec.CorruptFrames, rec.Digest, rec.StartedAt, rec.FinishedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to record transfer: %v", err)
	}

	return result.LastInsertId()
}

// RecentTransfers returns up to limit transfer records, newest first
func (j *TransferJournal) RecentTransfers(limit int) ([]*TransferRecord, error) {
	query := `
		SELECT id, role, peer, bytes, packets, retransmits, duplicates, corrupt_frames, digest, started_at, finished_at
		FROM transfers
		ORDER BY finished_at DESC, id DESC
		LIMIT ?
	`

	rows, err := j.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query transfers: %v", err)
	}
	defer rows.Close()

	var records []*TransferRecord
	for rows.Next() {
		rec := &TransferRecord{}
		if err := rows.Scan(&rec.ID, &rec.Role, &rec.Peer, &rec.Bytes, &rec.Packets,
			&rec.Retransmits, &rec.Duplicates, &rec.CorruptFrames, &rec.Digest,
			&rec.StartedAt, &rec.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transfer: %v", err)
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// TotalBytes returns the sum of bytes across all journaled transfers for a role
func (j *TransferJournal) TotalBytes(role string) (int64, error) {
	var total sql.NullInt64
	err := j.db.QueryRow(`SELECT SUM(bytes) FROM transfers WHERE role = ?`, role).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum bytes: %v", err)
	}
	if !total.Valid {
		return 0, nil
	}
	return total.Int64, nil
}

// Close closes the database connection
func (j *TransferJournal) Close() error {
	return j.db.Close()
}

// Now returns the current time as Unix seconds, for callers building records
func Now() int64 {
	return time.Now().Unix()
}
