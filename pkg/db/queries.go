package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// CreateOrder inserts an order row.
func (d *Database) CreateOrder(ctx context.Context, o Order) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO orders (id, symbol, side, kind, price, qty, filled_qty, maker_only, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, o.ID, o.Symbol, o.Side, o.Kind, o.Price, o.Qty, o.FilledQty, boolToInt(o.MakerOnly), o.Status, o.CreatedAt)
	if err != nil {
		return fmt.Errorf("create order: %w", err)
	}
	return nil
}

// UpdateOrderProgress updates an order's fill progress and status.
func (d *Database) UpdateOrderProgress(ctx context.Context, id, filledQty, status string) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE orders SET filled_qty = ?, status = ? WHERE id = ?
	`, filledQty, status, id)
	if err != nil {
		return fmt.Errorf("update order progress: %w", err)
	}
	return nil
}

// CreateFill inserts a fill row.
func (d *Database) CreateFill(ctx context.Context, f Fill) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO fills (id, order_id, symbol, side, price, qty, fill_type, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, f.ID, f.OrderID, f.Symbol, f.Side, f.Price, f.Qty, f.FillType, f.LatencyMs, f.CreatedAt)
	if err != nil {
		return fmt.Errorf("create fill: %w", err)
	}
	return nil
}

// ListFills returns the most recent fills, newest first.
func (d *Database) ListFills(ctx context.Context, limit int) ([]Fill, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, order_id, symbol, side, price, qty, fill_type, latency_ms, created_at
		FROM fills ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list fills: %w", err)
	}
	defer rows.Close()

	var out []Fill
	for rows.Next() {
		var f Fill
		if err := rows.Scan(&f.ID, &f.OrderID, &f.Symbol, &f.Side, &f.Price, &f.Qty,
			&f.FillType, &f.LatencyMs, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan fill: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// SaveSnapshot inserts a ledger snapshot row.
func (d *Database) SaveSnapshot(ctx context.Context, s LedgerSnapshot) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO ledger_snapshots (id, cash, realized_pnl, total_fees_paid, positions, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, s.ID, s.Cash, s.RealizedPnL, s.TotalFeesPaid, s.Positions, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// LatestSnapshot returns the newest ledger snapshot, or nil when none exist.
func (d *Database) LatestSnapshot(ctx context.Context) (*LedgerSnapshot, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, cash, realized_pnl, total_fees_paid, positions, created_at
		FROM ledger_snapshots ORDER BY created_at DESC LIMIT 1
	`)
	var s LedgerSnapshot
	if err := row.Scan(&s.ID, &s.Cash, &s.RealizedPnL, &s.TotalFeesPaid, &s.Positions, &s.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest snapshot: %w", err)
	}
	return &s, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
