package exchange

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"scalp_guard_go/logs"
)

// Paper-trading client for running the strategy without a venue, and for tests.

// Ensure MockClient implements Client interface
var _ Client = (*MockClient)(nil)

// MockConfig seeds the simulated market.
type MockConfig struct {
	Symbol       string
	InitialPrice float64
	Spread       float64
	ContractSize float64 // profit per 1.0 price move per 1.0 volume
	Volatility   float64 // standard deviation of one simulated step
	History      int     // base (1m) bars generated up front
}

// MockStats counts the write calls the client accepted.
type MockStats struct {
	Submitted int
	Closed    int
	Modified  int
	Rejected  int
}

// MockClient keeps one simulated instrument in memory. Base bars are one
// minute wide; coarser timeframes are aggregated from them.
type MockClient struct {
	mu           sync.RWMutex
	cfg          MockConfig
	mid          float64
	baseBars     []Bar
	barOverrides map[string][]Bar
	positions    map[string]*Position
	nextID       int64
	now          func() time.Time
	rejectNext   map[string]string
	failNext     map[string]error
	stats        MockStats
	realized     float64
	rng          *rand.Rand
	stopChan     chan struct{}
	stopOnce     sync.Once
}

// NewMockClient creates a simulated market with cfg.History base bars of
// random-walk history ending at cfg.InitialPrice.
func NewMockClient(cfg MockConfig) *MockClient {
	if cfg.ContractSize <= 0 {
		cfg.ContractSize = 1
	}
	c := &MockClient{
		cfg:          cfg,
		mid:          cfg.InitialPrice,
		barOverrides: make(map[string][]Bar),
		positions:    make(map[string]*Position),
		now:          time.Now,
		rejectNext:   make(map[string]string),
		failNext:     make(map[string]error),
		rng:          rand.New(rand.NewSource(1)),
		stopChan:     make(chan struct{}),
	}
	c.seedHistory()
	return c
}

func (c *MockClient) seedHistory() {
	if c.cfg.History <= 0 {
		return
	}
	start := c.now().Truncate(time.Minute).Add(-time.Duration(c.cfg.History) * time.Minute)
	price := c.cfg.InitialPrice
	closes := make([]float64, c.cfg.History)
	// Walk backwards so the newest close equals the initial price.
	for i := c.cfg.History - 1; i >= 0; i-- {
		closes[i] = price
		price -= c.rng.NormFloat64() * c.cfg.Volatility
	}
	prev := closes[0]
	for i, cl := range closes {
		c.baseBars = append(c.baseBars, Bar{
			Time:  start.Add(time.Duration(i) * time.Minute),
			Open:  prev,
			High:  math.Max(prev, cl),
			Low:   math.Min(prev, cl),
			Close: cl,
		})
		prev = cl
	}
}

// Start runs the price simulator until Stop is called.
func (c *MockClient) Start(step time.Duration) {
	go func() {
		ticker := time.NewTicker(step)
		defer ticker.Stop()
		for {
			select {
			case <-c.stopChan:
				return
			case <-ticker.C:
				c.Step()
			}
		}
	}()
	logs.Warnf("[Mock Client] Price simulator started for %s at %.5f, step every %s", c.cfg.Symbol, c.cfg.InitialPrice, step)
}

// Stop gracefully stops the simulator goroutine.
func (c *MockClient) Stop() {
	c.stopOnce.Do(func() { close(c.stopChan) })
}

// Step moves the price one random increment, appends a base bar and lets
// resting stops and targets trigger.
func (c *MockClient) Step() {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.mid
	c.mid = math.Max(c.mid+c.rng.NormFloat64()*c.cfg.Volatility, c.cfg.Spread)
	c.appendBar_noLock(prev, c.mid)
	c.triggerProtection_noLock()
}

func (c *MockClient) appendBar_noLock(open, close float64) {
	t := c.now().Truncate(time.Minute)
	if n := len(c.baseBars); n > 0 && !c.baseBars[n-1].Time.Before(t) {
		last := &c.baseBars[n-1]
		last.Close = close
		last.High = math.Max(last.High, close)
		last.Low = math.Min(last.Low, close)
		return
	}
	c.baseBars = append(c.baseBars, Bar{
		Time: t, Open: open, High: math.Max(open, close), Low: math.Min(open, close), Close: close,
	})
}

func (c *MockClient) triggerProtection_noLock() {
	tick := c.tick_noLock()
	for id, p := range c.positions {
		exit := tick.ExitPrice(p.Direction)
		hitStop := p.StopLoss > 0 && ((p.Direction == Long && exit <= p.StopLoss) || (p.Direction == Short && exit >= p.StopLoss))
		hitTarget := p.TakeProfit > 0 && ((p.Direction == Long && exit >= p.TakeProfit) || (p.Direction == Short && exit <= p.TakeProfit))
		if hitStop || hitTarget {
			pnl := c.profit_noLock(p, exit)
			c.realized += pnl
			delete(c.positions, id)
			logs.Infof("[Mock Client] %s %s closed by venue at %.5f (stop=%v target=%v), PnL %.2f", id, p.Direction, exit, hitStop, hitTarget, pnl)
		}
	}
}

// SetPrice moves the mid price without generating a bar or triggering orders.
func (c *MockClient) SetPrice(mid float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mid = mid
}

// SetBars pins the bars returned for timeframe.
func (c *MockClient) SetBars(timeframe string, bars []Bar) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.barOverrides[timeframe] = append([]Bar(nil), bars...)
}

// FailBars makes FetchBars for timeframe fail until SetBars is called again.
func (c *MockClient) FailBars(timeframe string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.barOverrides[timeframe] = nil
	c.failNext["bars:"+timeframe] = ErrDataUnavailable
}

// SetClock replaces the wall clock used for open times and bar stamps.
func (c *MockClient) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// RejectNext makes the next call of op ("submit", "close", "modify") fail with a *RejectedError.
func (c *MockClient) RejectNext(op, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rejectNext[op] = reason
}

// FailNext makes the next call of op fail with err. op may also be "tick" or "positions".
func (c *MockClient) FailNext(op string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failNext[op] = err
}

// OpenPosition inserts a position directly, bypassing the entry path.
func (c *MockClient) OpenPosition(p Position) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p.ID == "" {
		c.nextID++
		p.ID = "P" + strconv.FormatInt(c.nextID, 10)
	}
	if p.Symbol == "" {
		p.Symbol = c.cfg.Symbol
	}
	c.positions[p.ID] = &p
	return p.ID
}

// Stats returns the accepted write counters.
func (c *MockClient) Stats() MockStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

// RealizedProfit is the sum of profits of every position closed so far.
func (c *MockClient) RealizedProfit() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.realized
}

// takeFault_noLock consumes a queued rejection or failure for op.
func (c *MockClient) takeFault_noLock(op string) error {
	if reason, ok := c.rejectNext[op]; ok {
		delete(c.rejectNext, op)
		c.stats.Rejected++
		return &RejectedError{Op: op, Reason: reason}
	}
	if err, ok := c.failNext[op]; ok {
		delete(c.failNext, op)
		return err
	}
	return nil
}

func (c *MockClient) FetchBars(ctx context.Context, symbol, timeframe string, count int) ([]Bar, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.takeFault_noLock("bars:" + timeframe); err != nil {
		return nil, fmt.Errorf("%w: mock bars %s", err, timeframe)
	}
	if bars, ok := c.barOverrides[timeframe]; ok {
		if bars == nil {
			return nil, fmt.Errorf("%w: mock bars %s", ErrDataUnavailable, timeframe)
		}
		return lastN(bars, count), nil
	}

	width, err := timeframeMinutes(timeframe)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDataUnavailable, err)
	}
	agg := aggregate(c.baseBars, width)
	if len(agg) == 0 {
		return nil, fmt.Errorf("%w: no simulated history yet", ErrDataUnavailable)
	}
	return lastN(agg, count), nil
}

func lastN(bars []Bar, n int) []Bar {
	if n > 0 && len(bars) > n {
		bars = bars[len(bars)-n:]
	}
	return append([]Bar(nil), bars...)
}

func timeframeMinutes(tf string) (int, error) {
	if len(tf) < 2 {
		return 0, fmt.Errorf("unsupported timeframe %q", tf)
	}
	n, err := strconv.Atoi(tf[:len(tf)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("unsupported timeframe %q", tf)
	}
	switch strings.ToLower(tf[len(tf)-1:]) {
	case "m":
		return n, nil
	case "h":
		return n * 60, nil
	case "d":
		return n * 60 * 24, nil
	}
	return 0, fmt.Errorf("unsupported timeframe %q", tf)
}

// aggregate groups one-minute bars into buckets of width minutes aligned on the bucket start.
func aggregate(base []Bar, width int) []Bar {
	if width <= 1 {
		return base
	}
	span := time.Duration(width) * time.Minute
	var out []Bar
	for _, b := range base {
		start := b.Time.Truncate(span)
		if n := len(out); n > 0 && out[n-1].Time.Equal(start) {
			last := &out[n-1]
			last.High = math.Max(last.High, b.High)
			last.Low = math.Min(last.Low, b.Low)
			last.Close = b.Close
			continue
		}
		out = append(out, Bar{Time: start, Open: b.Open, High: b.High, Low: b.Low, Close: b.Close})
	}
	return out
}

func (c *MockClient) tick_noLock() Tick {
	half := c.cfg.Spread / 2
	return Tick{Bid: c.mid - half, Ask: c.mid + half, Time: c.now()}
}

func (c *MockClient) FetchTick(ctx context.Context, symbol string) (Tick, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.takeFault_noLock("tick"); err != nil {
		return Tick{}, err
	}
	if c.mid <= 0 {
		return Tick{}, fmt.Errorf("%w: no simulated price", ErrDataUnavailable)
	}
	return c.tick_noLock(), nil
}

func (c *MockClient) profit_noLock(p *Position, exit float64) float64 {
	return (exit - p.EntryPrice) * p.Direction.Sign() * p.Volume * c.cfg.ContractSize
}

func (c *MockClient) FetchOpenPositions(ctx context.Context, symbol string) ([]Position, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.takeFault_noLock("positions"); err != nil {
		return nil, err
	}

	tick := c.tick_noLock()
	out := make([]Position, 0, len(c.positions))
	for _, p := range c.positions {
		if p.Symbol != symbol {
			continue
		}
		snap := *p
		snap.UnrealizedProfit = c.profit_noLock(&snap, tick.ExitPrice(snap.Direction))
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (c *MockClient) SubmitOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.takeFault_noLock("submit"); err != nil {
		return nil, err
	}
	if req.Volume <= 0 {
		c.stats.Rejected++
		return nil, &RejectedError{Op: "submit", Reason: "volume must be positive"}
	}

	fill := c.tick_noLock().EntryPrice(req.Direction)
	c.nextID++
	id := "P" + strconv.FormatInt(c.nextID, 10)
	openTime := c.now()
	c.positions[id] = &Position{
		ID:         id,
		Symbol:     req.Symbol,
		Direction:  req.Direction,
		EntryPrice: fill,
		Volume:     req.Volume,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		OpenTime:   openTime,
		Tag:        req.Tag,
	}
	c.stats.Submitted++
	logs.Debugf("[Mock Client] Filled %s %s %.4f at %.5f as %s", req.Direction, req.Symbol, req.Volume, fill, id)
	return &OrderResult{OrderID: id, PositionID: id, FillPrice: fill, OpenTime: openTime}, nil
}

func (c *MockClient) ClosePosition(ctx context.Context, positionID string, volume, price float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.takeFault_noLock("close"); err != nil {
		return err
	}
	p, ok := c.positions[positionID]
	if !ok {
		c.stats.Rejected++
		return &RejectedError{Op: "close", Reason: fmt.Sprintf("position %s not found", positionID)}
	}

	exit := c.tick_noLock().ExitPrice(p.Direction)
	closed := math.Min(volume, p.Volume)
	part := *p
	part.Volume = closed
	c.realized += c.profit_noLock(&part, exit)

	p.Volume -= closed
	if p.Volume <= 1e-12 {
		delete(c.positions, positionID)
	}
	c.stats.Closed++
	return nil
}

func (c *MockClient) ModifyProtection(ctx context.Context, positionID string, stopLoss, takeProfit float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.takeFault_noLock("modify"); err != nil {
		return err
	}
	p, ok := c.positions[positionID]
	if !ok {
		c.stats.Rejected++
		return &RejectedError{Op: "modify", Reason: fmt.Sprintf("position %s not found", positionID)}
	}
	p.StopLoss = stopLoss
	p.TakeProfit = takeProfit
	c.stats.Modified++
	return nil
}
