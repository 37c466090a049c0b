package db

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Order is the journal's view of one order, upserted on every state change.
type Order struct {
	ClientID   string
	NativeID   string
	Instrument string
	Side       string
	Type       string
	Qty        int
	LimitPrice float64
	StopPrice  float64
	State      string
	Filled     int
	AvgPrice   float64
	Tag        string
	UpdatedAt  time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS orders (
	client_id   TEXT PRIMARY KEY,
	native_id   TEXT,
	instrument  TEXT NOT NULL,
	side        TEXT NOT NULL,
	type        TEXT NOT NULL,
	qty         INTEGER NOT NULL,
	limit_price REAL,
	stop_price  REAL,
	state       TEXT NOT NULL,
	filled      INTEGER NOT NULL DEFAULT 0,
	avg_price   REAL,
	tag         TEXT,
	updated_at  TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS order_events (
	id         TEXT PRIMARY KEY,
	client_id  TEXT NOT NULL,
	state      TEXT NOT NULL,
	filled     INTEGER NOT NULL,
	avg_price  REAL,
	created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_order_events_client ON order_events(client_id);
`

// ApplyMigrations creates the journal tables.
func ApplyMigrations(d *Database) error {
	_, err := d.DB.Exec(schema)
	return err
}

// RecordOrder upserts the order snapshot and appends an audit event row.
func (d *Database) RecordOrder(ctx context.Context, o Order) error {
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (client_id, native_id, instrument, side, type, qty,
			limit_price, stop_price, state, filled, avg_price, tag, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(client_id) DO UPDATE SET
			native_id  = excluded.native_id,
			state      = excluded.state,
			filled     = excluded.filled,
			avg_price  = excluded.avg_price,
			updated_at = excluded.updated_at
	`, o.ClientID, o.NativeID, o.Instrument, o.Side, o.Type, o.Qty,
		o.LimitPrice, o.StopPrice, o.State, o.Filled, o.AvgPrice, o.Tag, o.UpdatedAt)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO order_events (id, client_id, state, filled, avg_price, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, uuid.NewString(), o.ClientID, o.State, o.Filled, o.AvgPrice, time.Now())
	if err != nil {
		return err
	}

	return tx.Commit()
}

// ListOrders returns the most recently updated orders, newest first.
func (d *Database) ListOrders(ctx context.Context, limit int) ([]Order, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT client_id, COALESCE(native_id, ''), instrument, side, type, qty,
			COALESCE(limit_price, 0), COALESCE(stop_price, 0), state, filled,
			COALESCE(avg_price, 0), COALESCE(tag, ''), updated_at
		FROM orders ORDER BY updated_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ClientID, &o.NativeID, &o.Instrument, &o.Side, &o.Type,
			&o.Qty, &o.LimitPrice, &o.StopPrice, &o.State, &o.Filled,
			&o.AvgPrice, &o.Tag, &o.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
