// monitor/loop.go
package monitor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"scalp_guard_go/config"
	"scalp_guard_go/exchange"
	"scalp_guard_go/indicator"
	"scalp_guard_go/investment"
	"scalp_guard_go/journal"
	"scalp_guard_go/logs"
	"scalp_guard_go/notify"
	"scalp_guard_go/profit"
	"scalp_guard_go/risk"
	"scalp_guard_go/strategy"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Settings are the loop parameters taken from the configuration.
type Settings struct {
	Symbol             string
	Timeframe          string
	HigherTimeframe    string
	BarsCount          int
	HTFBarsCount       int
	Volume             float64
	OrderTag           string
	StopDistance       float64
	TakeProfitDistance float64
	TickSize           float64
	PollInterval       time.Duration
	CallTimeout        time.Duration
	HeartbeatInterval  time.Duration
	TimeSyncInterval   time.Duration
	FaultThreshold     int
}

// SettingsFromConfig copies the loop parameters out of a validated config.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		Symbol:             cfg.Symbol,
		Timeframe:          cfg.Timeframe,
		HigherTimeframe:    cfg.HigherTimeframe,
		BarsCount:          cfg.BarsCount,
		HTFBarsCount:       cfg.HTFBarsCount,
		Volume:             cfg.Volume,
		OrderTag:           cfg.OrderTag,
		StopDistance:       cfg.Protection.StopDistance,
		TakeProfitDistance: cfg.Protection.TakeProfitDistance,
		TickSize:           cfg.Protection.TickSize,
		PollInterval:       time.Duration(cfg.Normal.PollIntervalSeconds) * time.Second,
		CallTimeout:        time.Duration(cfg.Normal.HTTPTimeoutSeconds) * time.Second,
		HeartbeatInterval:  time.Duration(cfg.Normal.HeartbeatIntervalMinutes) * time.Minute,
		TimeSyncInterval:   time.Duration(cfg.Normal.TimeSyncIntervalMinutes) * time.Minute,
		FaultThreshold:     cfg.Normal.FaultEscalationThreshold,
	}
}

// TimeSyncer is implemented by clients that keep a clock offset to the venue.
type TimeSyncer interface {
	SyncTime(ctx context.Context) error
}

// Loop runs entry detection and position protection once per poll interval.
// All decision state is re-derived from the venue each cycle.
type Loop struct {
	cfg        Settings
	client     exchange.Client
	indicators indicator.Params
	trend      *strategy.TrendClassifier
	signals    *strategy.SignalGenerator
	risk       *risk.Manager
	gate       *investment.Gate
	notifier   notify.Notifier
	journal    journal.Journal
	tally      *profit.Tally
	now        func() time.Time

	faultStreak   int
	lastHeartbeat time.Time
	lastSync      time.Time
}

// NewLoop wires the loop. notifier, journal and tally may be nil. Bar counts
// below what the indicator periods need are raised to that minimum.
func NewLoop(
	cfg Settings,
	client exchange.Client,
	indicators indicator.Params,
	trend *strategy.TrendClassifier,
	signals *strategy.SignalGenerator,
	riskManager *risk.Manager,
	gate *investment.Gate,
	notifier notify.Notifier,
	jrnl journal.Journal,
	tally *profit.Tally,
) *Loop {
	if notifier == nil {
		notifier = notify.LogNotifier{}
	}
	if jrnl == nil {
		jrnl = journal.Nop{}
	}
	if tally == nil {
		tally = profit.NewTally()
	}
	if cfg.FaultThreshold <= 0 {
		cfg.FaultThreshold = 3
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	if need := indicators.MinBars(); cfg.BarsCount < need || cfg.HTFBarsCount < need {
		logs.Warnf("[Monitor] Raising bar counts (%d, %d) to at least %d for the configured periods", cfg.BarsCount, cfg.HTFBarsCount, need)
		cfg.BarsCount = max(cfg.BarsCount, need)
		cfg.HTFBarsCount = max(cfg.HTFBarsCount, need)
	}
	return &Loop{
		cfg:        cfg,
		client:     client,
		indicators: indicators,
		trend:      trend,
		signals:    signals,
		risk:       riskManager,
		gate:       gate,
		notifier:   notifier,
		journal:    jrnl,
		tally:      tally,
		now:        time.Now,
	}
}

// Run executes cycles until ctx is cancelled. Cancellation is only observed
// between cycles; a running cycle always completes.
func (l *Loop) Run(ctx context.Context) {
	logs.Infof("[Monitor] Loop started for %s, polling every %s", l.cfg.Symbol, l.cfg.PollInterval)
	l.lastHeartbeat = l.now()
	l.lastSync = l.now()

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			logs.Info("Monitor received stop signal, exiting.")
			return
		case <-timer.C:
		}
		if ctx.Err() != nil {
			logs.Info("Monitor received stop signal, exiting.")
			return
		}
		l.RunCycle()
		timer.Reset(l.cfg.PollInterval)
	}
}

// RunCycle performs one entry pass and one protection pass. The returned
// error is the cycle's transient fault, already logged and counted.
func (l *Loop) RunCycle() (err error) {
	entry := logs.WithField("cycle", uuid.NewString()[:8])
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in cycle: %v", r)
			entry.Errorf("[Monitor] Recovered from panic: %v\n%s", r, debug.Stack())
		}
		l.afterCycle(entry, err)
	}()

	l.tally.RecordCycle()
	var errs []error
	if err := l.entryPass(entry); err != nil {
		errs = append(errs, fmt.Errorf("entry: %w", err))
	}
	if err := l.protectionPass(entry); err != nil {
		errs = append(errs, fmt.Errorf("protection: %w", err))
	}
	l.housekeeping()
	return errors.Join(errs...)
}

func (l *Loop) afterCycle(entry *logrus.Entry, err error) {
	if err == nil {
		if l.faultStreak >= l.cfg.FaultThreshold {
			entry.Infof("[Monitor] Recovered after %d faulty cycles", l.faultStreak)
			l.notify(fmt.Sprintf("%s Recovered", l.cfg.Symbol), fmt.Sprintf("Loop healthy again after %d faulty cycles", l.faultStreak))
		}
		l.faultStreak = 0
		return
	}

	l.faultStreak++
	l.tally.RecordFault()
	entry.Errorf("[Monitor-Error] Cycle failed (%d in a row): %v", l.faultStreak, err)

	ev := journal.NewEvent(journal.KindFault, l.cfg.Symbol)
	ev.Detail = err.Error()
	l.record(ev)

	if l.faultStreak == l.cfg.FaultThreshold {
		l.notify(fmt.Sprintf("%s Repeated Faults", l.cfg.Symbol),
			fmt.Sprintf("%d consecutive cycles failed. Last error: %v", l.faultStreak, err))
	}
}

// FaultStreak returns the number of consecutive faulty cycles.
func (l *Loop) FaultStreak() int {
	return l.faultStreak
}

func (l *Loop) housekeeping() {
	now := l.now()
	if l.cfg.HeartbeatInterval > 0 && now.Sub(l.lastHeartbeat) >= l.cfg.HeartbeatInterval {
		logs.Infof("[Heartbeat] Monitor service still running... %s", l.tally.Snapshot())
		l.lastHeartbeat = now
	}

	syncer, ok := l.client.(TimeSyncer)
	if !ok || l.cfg.TimeSyncInterval <= 0 || now.Sub(l.lastSync) < l.cfg.TimeSyncInterval {
		return
	}
	logs.Info("[Monitor] Executing regular time synchronization...")
	ctx, cancel := l.callContext()
	defer cancel()
	if err := syncer.SyncTime(ctx); err != nil {
		logs.Errorf("[Monitor-Error] Regular time synchronization failed: %v", err)
	}
	l.lastSync = now
}

// callContext bounds one gateway call. It is not derived from the Run
// context so a stop request never aborts a request halfway.
func (l *Loop) callContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), l.cfg.CallTimeout)
}

// notify delivers best-effort; a failed delivery is only logged.
func (l *Loop) notify(subject, body string) {
	if err := l.notifier.Notify(subject, body); err != nil {
		logs.Warnf("[Notify] Delivery of %q failed: %v", subject, err)
	}
}

func (l *Loop) record(ev journal.Event) {
	ctx, cancel := l.callContext()
	defer cancel()
	if err := l.journal.Record(ctx, ev); err != nil {
		logs.Warnf("[Journal] Failed to record %s event: %v", ev.Kind, err)
	}
}

// rejected handles a venue refusal: log, notify, journal. Nothing is retried;
// the next cycle decides again from a fresh snapshot.
func (l *Loop) rejected(entry *logrus.Entry, positionID string, err error) {
	entry.Warnf("[Monitor] Venue rejected request for %s: %v", positionID, err)
	l.tally.RecordRejection()
	l.notify(fmt.Sprintf("%s Request Rejected", l.cfg.Symbol), err.Error())

	ev := journal.NewEvent(journal.KindRejected, l.cfg.Symbol)
	ev.PositionID = positionID
	ev.Detail = err.Error()
	l.record(ev)
}
