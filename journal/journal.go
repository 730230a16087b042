// journal/journal.go
package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind names what happened.
type Kind string

const (
	KindEntry     Kind = "entry"
	KindClose     Kind = "timeout_close"
	KindBreakEven Kind = "break_even"
	KindTrailing  Kind = "trailing"
	KindRejected  Kind = "rejected"
	KindFault     Kind = "fault"
)

// Event is one audit record. Events are written and never read back by the bot.
type Event struct {
	ID         uuid.UUID `json:"id"`
	Time       time.Time `json:"time"`
	Kind       Kind      `json:"kind"`
	Symbol     string    `json:"symbol"`
	PositionID string    `json:"position_id,omitempty"`
	Direction  string    `json:"direction,omitempty"`
	Price      float64   `json:"price,omitempty"`
	StopLoss   float64   `json:"stop_loss,omitempty"`
	TakeProfit float64   `json:"take_profit,omitempty"`
	Profit     float64   `json:"profit,omitempty"`
	Detail     string    `json:"detail,omitempty"`
}

// NewEvent stamps a fresh ID and time.
func NewEvent(kind Kind, symbol string) Event {
	return Event{ID: uuid.New(), Time: time.Now().UTC(), Kind: kind, Symbol: symbol}
}

// Journal appends events to durable storage.
type Journal interface {
	Record(ctx context.Context, ev Event) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Record(context.Context, Event) error { return nil }
func (Nop) Close() error                        { return nil }

// Open returns the journal for driver: "file" writes JSON lines under dir,
// "postgres" writes to dsn, "none" or "" discards.
func Open(ctx context.Context, driver, dir, symbol, dsn string) (Journal, error) {
	switch driver {
	case "", "none":
		return Nop{}, nil
	case "file":
		return NewFileJournal(dir, symbol)
	case "postgres":
		if dsn == "" {
			return nil, fmt.Errorf("journal driver 'postgres' requires JOURNAL_POSTGRES_DSN")
		}
		return NewPostgresJournal(ctx, dsn)
	}
	return nil, fmt.Errorf("unknown journal driver %q", driver)
}
