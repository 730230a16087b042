// orchestrator.go
package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"scalp_guard_go/config"
	"scalp_guard_go/exchange"
	"scalp_guard_go/indicator"
	"scalp_guard_go/investment"
	"scalp_guard_go/journal"
	"scalp_guard_go/logs"
	"scalp_guard_go/monitor"
	"scalp_guard_go/notify"
	"scalp_guard_go/profit"
	"scalp_guard_go/risk"
	"scalp_guard_go/strategy"
)

type Orchestrator struct {
	client     exchange.Client
	mockClient *exchange.MockClient
	loop       *monitor.Loop
	notifier   notify.Notifier
	journal    journal.Journal
	tally      *profit.Tally
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	cfg        *config.Config
	stopOnce   sync.Once
}

func NewOrchestrator(cfg *config.Config, envCfg *config.EnvConfig, journalDir string) (*Orchestrator, error) {
	o := &Orchestrator{cfg: cfg, tally: profit.NewTally()}
	timeout := time.Duration(cfg.Normal.HTTPTimeoutSeconds) * time.Second

	if cfg.UseSimulation {
		sim := cfg.Simulation
		mockClient := exchange.NewMockClient(exchange.MockConfig{
			Symbol:       cfg.Symbol,
			InitialPrice: sim.InitialPrice,
			Spread:       sim.Spread,
			ContractSize: sim.ContractSize,
			Volatility:   sim.Volatility,
			History:      5000,
		})
		step := time.Duration(sim.StepSeconds) * time.Second
		if step <= 0 {
			step = time.Second
		}
		mockClient.Start(step)
		o.mockClient = mockClient
		o.client = mockClient
		logs.Warnf("<<<<<<<<<< WARNING: Running in simulation mode >>>>>>>>>>")
	} else {
		if envCfg.ApiKey == "" || envCfg.ApiSecret == "" || envCfg.BaseURL == "" {
			return nil, fmt.Errorf("BINANCE_API_KEY, BINANCE_SECRET_KEY and BINANCE_FUTURES_BASE_URL must be set for live trading")
		}
		apiClient := exchange.NewAPIClient(envCfg.ApiKey, envCfg.ApiSecret, envCfg.BaseURL, cfg.OrderTag,
			cfg.Protection.TickSize, cfg.Normal.HTTPTimeoutSeconds, cfg.Normal.RecvWindowSeconds)
		// Ensure time synchronization before making any API calls
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		err := apiClient.SyncTime(ctx)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("failed to sync exchange time: %w", err)
		}
		o.client = apiClient
	}

	notifier, err := notify.FromConfig(cfg.Notify, envCfg.SMTPPassword, envCfg.TelegramBotToken)
	if err != nil {
		o.stopSimulation()
		return nil, fmt.Errorf("failed to set up notifications: %w", err)
	}
	o.notifier = notifier

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	jrnl, err := journal.Open(ctx, cfg.Journal.Driver, journalDir, cfg.Symbol, envCfg.PostgresDSN)
	cancel()
	if err != nil {
		o.stopSimulation()
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	o.journal = jrnl
	logs.Infof("Journal initialized with driver '%s'", cfg.Journal.Driver)

	if err := o.reconcileOnStartup(); err != nil {
		o.stopSimulation()
		jrnl.Close()
		return nil, err
	}

	ind := cfg.Indicators
	params := indicator.Params{EMAFast: ind.EMAFast, EMASlow: ind.EMASlow, RSIPeriod: ind.RSIPeriod}
	p := cfg.Protection
	riskManager := risk.NewManager(risk.Settings{
		BreakEvenTrigger: p.BreakEvenTrigger,
		TrailStep:        p.TrailStep,
		PointValue:       p.PointValue,
		TickSize:         p.TickSize,
		MaxTradeDuration: time.Duration(p.MaxTradeMinutes) * time.Minute,
	})

	o.loop = monitor.NewLoop(
		monitor.SettingsFromConfig(cfg),
		o.client,
		params,
		strategy.NewTrendClassifier(params, ind.TrendDeadBand),
		strategy.NewSignalGenerator(ind.RSIOverbought, ind.RSIOversold),
		riskManager,
		investment.NewGate(cfg.Symbol, cfg.Volume, cfg.Entry.MaxNotional),
		o.notifier,
		o.journal,
		o.tally,
	)
	o.ctx, o.cancel = context.WithCancel(context.Background())
	return o, nil
}

// reconcileOnStartup logs what is already open. Owned positions are picked up
// by the protection pass on the first cycle; nothing is restored from disk.
func (o *Orchestrator) reconcileOnStartup() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(o.cfg.Normal.HTTPTimeoutSeconds)*time.Second)
	defer cancel()
	positions, err := o.client.FetchOpenPositions(ctx, o.cfg.Symbol)
	if err != nil {
		return fmt.Errorf("failed to get positions at startup: %w", err)
	}
	owned := exchange.OwnedBy(positions, o.cfg.OrderTag)
	if len(positions) == 0 {
		logs.Infof("[Orchestrator] No open positions on %s. This is a fresh start.", o.cfg.Symbol)
		return nil
	}
	for _, p := range owned {
		logs.Infof("[Orchestrator] Adopting %s %s %.4f @ %.5f (SL %.5f, TP %.5f)", p.ID, p.Direction, p.Volume, p.EntryPrice, p.StopLoss, p.TakeProfit)
	}
	if foreign := len(positions) - len(owned); foreign > 0 {
		logs.Warnf("[Orchestrator] %d position(s) on %s are not tagged '%s'; they will not be managed and block new entries.", foreign, o.cfg.Symbol, o.cfg.OrderTag)
	}
	return nil
}

func (o *Orchestrator) Start() {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.loop.Run(o.ctx)
	}()
	logs.Infof("Strategy %s started, press Ctrl+C to exit.", o.cfg.Symbol)
	o.notify(fmt.Sprintf("%s Bot Started", o.cfg.Symbol), fmt.Sprintf("Scalper running on %s/%s, tag %s", o.cfg.Timeframe, o.cfg.HigherTimeframe, o.cfg.OrderTag))
}

// Stop cancels the loop, waits for the running cycle to finish and flushes everything.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() {
		logs.Info("Received close signal, starting graceful shutdown...")
		o.cancel()
		o.wg.Wait()

		o.printFinalSummary()
		o.notify(fmt.Sprintf("%s Bot Stopped", o.cfg.Symbol), o.tally.Snapshot().String())

		if err := o.journal.Close(); err != nil {
			logs.Errorf("Failed to close journal: %v", err)
		}
		o.stopSimulation()
		logs.Info("All services stopped successfully.")
	})
}

func (o *Orchestrator) stopSimulation() {
	if o.mockClient != nil {
		o.mockClient.Stop()
	}
}

func (o *Orchestrator) notify(subject, body string) {
	if err := o.notifier.Notify(subject, body); err != nil {
		logs.Warnf("[Notify] Delivery of %q failed: %v", subject, err)
	}
}

func (o *Orchestrator) printFinalSummary() {
	s := o.tally.Snapshot()
	logs.Info("\n--- Final Session Summary ---")
	logs.Infof("Cycles: %d, faults: %d", s.Cycles, s.Faults)
	logs.Infof("Entries: %d, timeout closes: %d, rejections: %d", s.Entries, s.TimeoutCloses, s.Rejections)
	logs.Infof("Break-even moves: %d, trailing moves: %d", s.BreakEvens, s.TrailMoves)
	logs.Infof("Profit at timeout closes: %.4f", s.RealizedProfit)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(o.cfg.Normal.HTTPTimeoutSeconds)*time.Second)
	defer cancel()
	positions, err := o.client.FetchOpenPositions(ctx, o.cfg.Symbol)
	if err != nil {
		logs.Errorf("Failed to get position info: %v", err)
	} else {
		var unrealized float64
		for _, p := range exchange.OwnedBy(positions, o.cfg.OrderTag) {
			logs.Infof("Open position left to its stop: %s %s %.4f (Unrealized PnL: %.4f)", p.ID, p.Direction, p.Volume, p.UnrealizedProfit)
			unrealized += p.UnrealizedProfit
		}
		logs.Infof("Unrealized PnL of owned positions: %.4f", unrealized)
	}
	if o.mockClient != nil {
		logs.Infof("Simulated realized PnL: %.4f", o.mockClient.RealizedProfit())
	}
	logs.Info("--------------------")
}
