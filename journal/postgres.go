// journal/postgres.go
package journal

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

const createEventsTable = `
CREATE TABLE IF NOT EXISTS scalp_events (
	id          UUID PRIMARY KEY,
	event_time  TIMESTAMPTZ NOT NULL,
	kind        TEXT NOT NULL,
	symbol      TEXT NOT NULL,
	position_id TEXT NOT NULL DEFAULT '',
	direction   TEXT NOT NULL DEFAULT '',
	price       DOUBLE PRECISION NOT NULL DEFAULT 0,
	stop_loss   DOUBLE PRECISION NOT NULL DEFAULT 0,
	take_profit DOUBLE PRECISION NOT NULL DEFAULT 0,
	profit      DOUBLE PRECISION NOT NULL DEFAULT 0,
	detail      TEXT NOT NULL DEFAULT ''
)`

const insertEvent = `
INSERT INTO scalp_events
	(id, event_time, kind, symbol, position_id, direction, price, stop_loss, take_profit, profit, detail)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (id) DO NOTHING`

// PostgresJournal writes events to the scalp_events table.
type PostgresJournal struct {
	db *sql.DB
}

// NewPostgresJournal connects to dsn and creates the table if it is missing.
func NewPostgresJournal(ctx context.Context, dsn string) (*PostgresJournal, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, createEventsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create scalp_events table: %w", err)
	}
	return &PostgresJournal{db: db}, nil
}

func (p *PostgresJournal) Record(ctx context.Context, ev Event) error {
	_, err := p.db.ExecContext(ctx, insertEvent,
		ev.ID.String(), ev.Time, string(ev.Kind), ev.Symbol, ev.PositionID, ev.Direction,
		ev.Price, ev.StopLoss, ev.TakeProfit, ev.Profit, ev.Detail)
	if err != nil {
		return fmt.Errorf("failed to insert journal event: %w", err)
	}
	return nil
}

func (p *PostgresJournal) Close() error {
	return p.db.Close()
}
