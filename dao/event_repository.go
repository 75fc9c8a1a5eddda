package dao

import (
	"context"
	"database/sql"
	"fmt"

	"chainlist-backend/model"
)

// AppendEvent assigns the next sequence number. Like InsertItem it relies
// on the ledger sequencer of a single writer process, not on row locks.
func (s *MySQLStore) AppendEvent(ctx context.Context, e model.Event) (int64, error) {
	var seq int64
	err := s.WithTx(ctx, func(ctx context.Context) error {
		if err := s.q(ctx).QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM ledger_events FOR UPDATE`).Scan(&seq); err != nil {
			return fmt.Errorf("next event seq: %w", err)
		}

		var buyer sql.NullString
		if e.Buyer != "" {
			buyer = sql.NullString{String: e.Buyer, Valid: true}
		}

		const stmt = `
INSERT INTO ledger_events (seq, id, kind, item_id, seller, buyer, name, price, committed_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
		if _, err := s.q(ctx).ExecContext(ctx, stmt, seq, e.ID, string(e.Kind), e.ItemID, e.Seller, buyer, e.Name, e.Price, e.CommittedAt); err != nil {
			return fmt.Errorf("append event: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return seq, nil
}

// Events reads the log in commit order starting after afterSeq. A limit of
// zero or less returns everything.
func (s *MySQLStore) Events(ctx context.Context, afterSeq int64, limit int) ([]model.Event, error) {
	query := `
SELECT seq, id, kind, item_id, seller, buyer, name, price, committed_at
FROM ledger_events
WHERE seq > ?
ORDER BY seq ASC`
	args := []any{afterSeq}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	events := []model.Event{}
	for rows.Next() {
		var e model.Event
		var kind string
		var buyer sql.NullString
		if err := rows.Scan(&e.Seq, &e.ID, &kind, &e.ItemID, &e.Seller, &buyer, &e.Name, &e.Price, &e.CommittedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Kind = model.EventKind(kind)
		e.Buyer = buyer.String
		e.CommittedAt = e.CommittedAt.UTC()
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}
