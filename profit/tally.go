// profit/tally.go
package profit

import (
	"fmt"
	"sync"
)

// Summary is a point-in-time copy of the session counters.
type Summary struct {
	Entries        int
	TimeoutCloses  int
	BreakEvens     int
	TrailMoves     int
	Rejections     int
	Faults         int
	RealizedProfit float64 // profit reported when the bot closed positions itself
	Cycles         int
}

func (s Summary) String() string {
	return fmt.Sprintf("cycles=%d entries=%d timeout_closes=%d break_evens=%d trail_moves=%d rejections=%d faults=%d realized=%.2f",
		s.Cycles, s.Entries, s.TimeoutCloses, s.BreakEvens, s.TrailMoves, s.Rejections, s.Faults, s.RealizedProfit)
}

// Tally counts what the bot did during this run. It is informational only
// and never feeds a trading decision.
type Tally struct {
	mu sync.Mutex
	s  Summary
}

func NewTally() *Tally {
	return &Tally{}
}

func (t *Tally) RecordCycle() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.s.Cycles++
}

func (t *Tally) RecordEntry() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.s.Entries++
}

// RecordClose counts a close the bot requested, with the profit the position
// showed at that moment.
func (t *Tally) RecordClose(pnl float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.s.TimeoutCloses++
	t.s.RealizedProfit += pnl
}

func (t *Tally) RecordBreakEven() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.s.BreakEvens++
}

func (t *Tally) RecordTrailMove() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.s.TrailMoves++
}

func (t *Tally) RecordRejection() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.s.Rejections++
}

func (t *Tally) RecordFault() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.s.Faults++
}

// Snapshot returns a copy of the counters.
func (t *Tally) Snapshot() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.s
}
