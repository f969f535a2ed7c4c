package main

import (
	"database/sql"
	"fmt"
	"os"

	_ "github.com/lib/pq"
)

// HistoryLog is a one-way audit trail of bot lifecycle events: redeem
// outcomes, fatal logons, shutdowns. It is append-only and never read back
// by any scheduling decision — GamesToFarm and farming progress are never
// persisted across restarts, only the fact that an event happened is.
type HistoryLog struct {
	db *sql.DB
}

// NewHistoryLog opens the audit database from DATABASE_URL and ensures the
// bot_events table exists. Returns (nil, nil) when DATABASE_URL is unset, so
// the log is entirely optional.
func NewHistoryLog() (*HistoryLog, error) {
	connStr := os.Getenv("DATABASE_URL")
	if connStr == "" {
		LogInfo("History log disabled (DATABASE_URL not set)")
		return nil, nil
	}

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("pinging history database: %w", err)
	}

	const schema = `
		CREATE TABLE IF NOT EXISTS bot_events (
			id SERIAL PRIMARY KEY,
			bot_name TEXT NOT NULL,
			kind TEXT NOT NULL,
			detail TEXT,
			occurred_at TIMESTAMPTZ NOT NULL
		)
	`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("creating bot_events table: %w", err)
	}

	LogInfo("History log connected")
	return &HistoryLog{db: db}, nil
}

// Append inserts one audit row. Failure is logged, not returned: a dropped
// audit write must never interrupt farming.
func (h *HistoryLog) Append(entry HistoryEntry) {
	if h == nil || h.db == nil {
		return
	}
	const query = `
		INSERT INTO bot_events (bot_name, kind, detail, occurred_at)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := h.db.Exec(query, entry.BotName, string(entry.Kind), entry.Detail, entry.OccurredAt); err != nil {
		LogWarning("History log: failed to append %s event for %s: %v", entry.Kind, entry.BotName, err)
	}
}

// Close releases the underlying database connection.
func (h *HistoryLog) Close() {
	if h == nil || h.db == nil {
		return
	}
	if err := h.db.Close(); err != nil {
		LogWarning("History log: error closing database: %v", err)
	}
}
