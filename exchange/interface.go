package exchange

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrDataUnavailable marks market data that could not be fetched or is too
// short to use. Callers skip the entry decision for the cycle.
var ErrDataUnavailable = errors.New("market data unavailable")

// RejectedError is returned when the venue refuses an order, a close or a
// modification. No position was opened, closed or resized by the request.
type RejectedError struct {
	Op     string
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s rejected: %s", e.Op, e.Reason)
}

// IsRejected reports whether err (or anything it wraps) is a *RejectedError.
func IsRejected(err error) bool {
	var rej *RejectedError
	return errors.As(err, &rej)
}

// Bar is one OHLC sample.
type Bar struct {
	Time  time.Time
	Open  float64
	High  float64
	Low   float64
	Close float64
}

// Tick is the current top of book.
type Tick struct {
	Bid  float64
	Ask  float64
	Time time.Time
}

// Direction is the side of a position or an entry.
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// Sign returns +1 for long and -1 for short.
func (d Direction) Sign() float64 {
	if d == Short {
		return -1
	}
	return 1
}

// ExitPrice is the price a position in direction d would be closed at.
func (t Tick) ExitPrice(d Direction) float64 {
	if d == Short {
		return t.Ask
	}
	return t.Bid
}

// EntryPrice is the price a new position in direction d would be opened at.
func (t Tick) EntryPrice(d Direction) float64 {
	if d == Short {
		return t.Bid
	}
	return t.Ask
}

// Position is a broker-owned snapshot. StopLoss and TakeProfit are 0 when unset.
type Position struct {
	ID               string
	Symbol           string
	Direction        Direction
	EntryPrice       float64
	Volume           float64
	StopLoss         float64
	TakeProfit       float64
	UnrealizedProfit float64
	OpenTime         time.Time
	Tag              string // ownership tag of the orders that opened it, "" if unknown
}

// OrderRequest describes a market entry with its protective levels.
type OrderRequest struct {
	Symbol     string
	Direction  Direction
	Volume     float64
	Price      float64
	StopLoss   float64
	TakeProfit float64
	Tag        string
}

// OrderResult is what the venue reports for an accepted entry.
type OrderResult struct {
	OrderID    string
	PositionID string
	FillPrice  float64
	OpenTime   time.Time
}

// Client is the execution and market-data gateway used by the trading loop.
// Implementations own their own timeouts; a timeout is reported as
// ErrDataUnavailable for reads and as a plain error for writes.
type Client interface {
	FetchBars(ctx context.Context, symbol, timeframe string, count int) ([]Bar, error)
	FetchTick(ctx context.Context, symbol string) (Tick, error)
	FetchOpenPositions(ctx context.Context, symbol string) ([]Position, error)
	SubmitOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)
	ClosePosition(ctx context.Context, positionID string, volume, price float64) error
	ModifyProtection(ctx context.Context, positionID string, stopLoss, takeProfit float64) error
}

// OwnedBy filters positions down to those opened under tag.
func OwnedBy(positions []Position, tag string) []Position {
	owned := make([]Position, 0, len(positions))
	for _, p := range positions {
		if p.Tag == tag {
			owned = append(owned, p)
		}
	}
	return owned
}

// Client order ids look like <tag>-<kind>-<openUnix>-<suffix>. The open time
// rides along so it survives stop replacement.
const (
	kindEntry      = "en"
	kindStopLoss   = "sl"
	kindTakeProfit = "tp"
	kindClose      = "cl"
)

func clientOrderID(tag, kind string, openTime time.Time, suffix string) string {
	return fmt.Sprintf("%s-%s-%d-%s", tag, kind, openTime.Unix(), suffix)
}

type parsedClientID struct {
	Tag      string
	Kind     string
	OpenTime time.Time
}

func parseClientOrderID(id string) (parsedClientID, bool) {
	parts := strings.Split(id, "-")
	if len(parts) != 4 {
		return parsedClientID{}, false
	}
	unix, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return parsedClientID{}, false
	}
	return parsedClientID{Tag: parts[0], Kind: parts[1], OpenTime: time.Unix(unix, 0)}, true
}
