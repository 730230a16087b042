package profit

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTally(t *testing.T) {
	tl := NewTally()
	tl.RecordCycle()
	tl.RecordEntry()
	tl.RecordBreakEven()
	tl.RecordTrailMove()
	tl.RecordTrailMove()
	tl.RecordRejection()
	tl.RecordFault()
	tl.RecordClose(-0.5)
	tl.RecordClose(-0.25)

	s := tl.Snapshot()
	assert.Equal(t, Summary{
		Entries: 1, TimeoutCloses: 2, BreakEvens: 1, TrailMoves: 2,
		Rejections: 1, Faults: 1, RealizedProfit: -0.75, Cycles: 1,
	}, s)
	assert.Contains(t, s.String(), "trail_moves=2")
	assert.Contains(t, s.String(), "realized=-0.75")
}

func TestTally_Concurrent(t *testing.T) {
	tl := NewTally()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tl.RecordCycle()
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, tl.Snapshot().Cycles)
}
