package db

import (
	"context"
	"database/sql"
	"fmt"
)

// Items and events are append-only: the only update the ledger ever makes is
// recording the buyer of an item exactly once.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS items (
		id BIGINT NOT NULL PRIMARY KEY,
		seller VARCHAR(128) NOT NULL,
		buyer VARCHAR(128) NULL,
		name VARCHAR(255) NOT NULL,
		description TEXT NOT NULL,
		price BIGINT NOT NULL,
		created_at TIMESTAMP(6) NOT NULL,
		sold_at TIMESTAMP(6) NULL,
		INDEX idx_items_buyer (buyer)
	)`,
	`CREATE TABLE IF NOT EXISTS accounts (
		id VARCHAR(128) NOT NULL PRIMARY KEY,
		balance BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS ledger_events (
		seq BIGINT NOT NULL PRIMARY KEY,
		id CHAR(26) NOT NULL COMMENT 'ULID',
		kind VARCHAR(16) NOT NULL COMMENT 'listed, purchased',
		item_id BIGINT NOT NULL,
		seller VARCHAR(128) NOT NULL,
		buyer VARCHAR(128) NULL,
		name VARCHAR(255) NOT NULL,
		price BIGINT NOT NULL,
		committed_at TIMESTAMP(6) NOT NULL,
		UNIQUE KEY uq_ledger_events_id (id),
		FOREIGN KEY (item_id) REFERENCES items(id)
	)`,
}

// Migrate creates the ledger schema. It is safe to run repeatedly.
func Migrate(ctx context.Context, conn *sql.DB) error {
	for i, q := range migrations {
		if _, err := conn.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	return nil
}

// Reset empties every ledger table. Intended for tests and local resets.
func Reset(ctx context.Context, conn *sql.DB) error {
	for _, table := range []string{"ledger_events", "items", "accounts"} {
		if _, err := conn.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("reset %s: %w", table, err)
		}
	}
	return nil
}
