package dao

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"chainlist-backend/model"
)

const itemColumns = `id, seller, buyer, name, description, price, created_at, sold_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (model.Item, error) {
	var item model.Item
	var buyer sql.NullString
	var soldAt sql.NullTime

	if err := row.Scan(&item.ID, &item.Seller, &buyer, &item.Name, &item.Description, &item.Price, &item.CreatedAt, &soldAt); err != nil {
		return model.Item{}, err
	}

	if buyer.Valid {
		item.Buyer = &buyer.String
	}
	if soldAt.Valid {
		t := soldAt.Time.UTC()
		item.SoldAt = &t
	}
	item.CreatedAt = item.CreatedAt.UTC()
	return item, nil
}

// InsertItem allocates the next dense id. Ids are computed from the current
// maximum under a locking read instead of AUTO_INCREMENT, which leaves gaps on
// rollback.
//
// Under read committed the locking read takes no gap lock, so two writers
// could compute the same id. Ids assume a single writer process whose
// inserts are serialized by the ledger sequencer.
func (s *MySQLStore) InsertItem(ctx context.Context, item model.Item) (int64, error) {
	var id int64
	err := s.WithTx(ctx, func(ctx context.Context) error {
		if err := s.q(ctx).QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) + 1 FROM items FOR UPDATE`).Scan(&id); err != nil {
			return fmt.Errorf("next item id: %w", err)
		}

		const stmt = `
INSERT INTO items (id, seller, buyer, name, description, price, created_at)
VALUES (?, ?, NULL, ?, ?, ?, ?)`
		if _, err := s.q(ctx).ExecContext(ctx, stmt, id, item.Seller, item.Name, item.Description, item.Price, item.CreatedAt); err != nil {
			return fmt.Errorf("insert item: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *MySQLStore) GetItem(ctx context.Context, id int64) (model.Item, error) {
	row := s.q(ctx).QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?`, id)
	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Item{}, model.ErrNotFound
		}
		return model.Item{}, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

func (s *MySQLStore) GetItemForUpdate(ctx context.Context, id int64) (model.Item, error) {
	row := s.q(ctx).QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ? FOR UPDATE`, id)
	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Item{}, model.ErrNotFound
		}
		return model.Item{}, fmt.Errorf("get item for update: %w", err)
	}
	return item, nil
}

// MarkSold records the buyer only while the item is still unsold.
func (s *MySQLStore) MarkSold(ctx context.Context, id int64, buyer string, at time.Time) error {
	res, err := s.q(ctx).ExecContext(ctx,
		`UPDATE items SET buyer = ?, sold_at = ? WHERE id = ? AND buyer IS NULL`,
		buyer, at, id,
	)
	if err != nil {
		return fmt.Errorf("mark item sold: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark item sold: %w", err)
	}
	if n == 0 {
		if _, err := s.GetItem(ctx, id); err != nil {
			return err
		}
		return model.ErrAlreadySold
	}
	return nil
}

func (s *MySQLStore) ForSaleIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `SELECT id FROM items WHERE buyer IS NULL ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list for sale: %w", err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan item id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list for sale: %w", err)
	}
	return ids, nil
}

func (s *MySQLStore) CountItems(ctx context.Context) (int64, error) {
	var n int64
	if err := s.q(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM items`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count items: %w", err)
	}
	return n, nil
}
