package db

import (
	"fmt"
)

// Money columns are stored as TEXT so exact decimal values survive the
// round trip; REAL would reintroduce binary floating point.
const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS orders (
    id TEXT PRIMARY KEY,
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    kind TEXT NOT NULL,
    price TEXT NOT NULL,
    qty TEXT NOT NULL,
    filled_qty TEXT NOT NULL DEFAULT '0',
    maker_only INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS fills (
    id TEXT PRIMARY KEY,
    order_id TEXT NOT NULL,
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    price TEXT NOT NULL,
    qty TEXT NOT NULL,
    fill_type TEXT NOT NULL,
    latency_ms INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS ledger_snapshots (
    id TEXT PRIMARY KEY,
    cash TEXT NOT NULL,
    realized_pnl TEXT NOT NULL,
    total_fees_paid TEXT NOT NULL,
    positions TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_fills_order_id ON fills(order_id);
CREATE INDEX IF NOT EXISTS idx_fills_symbol ON fills(symbol);
CREATE INDEX IF NOT EXISTS idx_snapshots_created ON ledger_snapshots(created_at);
`

// ApplyMigrations creates the schema if it does not exist.
func ApplyMigrations(d *Database) error {
	if d == nil || d.DB == nil {
		return fmt.Errorf("apply migrations: nil database")
	}
	if _, err := d.DB.Exec(schema); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
