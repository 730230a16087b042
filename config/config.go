// config/config.go
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v2"
)

// IndicatorConfig holds the moving average and oscillator settings.
type IndicatorConfig struct {
	EMAFast       int     `yaml:"ema_fast"`
	EMASlow       int     `yaml:"ema_slow"`
	RSIPeriod     int     `yaml:"rsi_period"`
	RSIOverbought float64 `yaml:"rsi_overbought"`
	RSIOversold   float64 `yaml:"rsi_oversold"`
	TrendDeadBand float64 `yaml:"trend_dead_band"`
}

// ProtectionConfig holds the stop/target distances and the exit policy parameters.
// Distances are in price units, trigger and step are in account currency.
type ProtectionConfig struct {
	StopDistance       float64 `yaml:"stop_distance"`
	TakeProfitDistance float64 `yaml:"take_profit_distance"`
	BreakEvenTrigger   float64 `yaml:"break_even_trigger"`
	TrailStep          float64 `yaml:"trail_step"`
	PointValue         float64 `yaml:"point_value"`
	TickSize           float64 `yaml:"tick_size"`
	MaxTradeMinutes    int     `yaml:"max_trade_minutes"`
}

// EntryConfig limits the entry path.
type EntryConfig struct {
	MaxNotional float64 `yaml:"max_notional"`
}

// LogConfig holds the configuration for logging.
type LogConfig struct {
	LogLevel   string `yaml:"log_level"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// NormalConfig holds all general, non-strategy-specific configuration.
type NormalConfig struct {
	PollIntervalSeconds      int    `yaml:"poll_interval_seconds"`
	HTTPTimeoutSeconds       int    `yaml:"http_timeout_seconds"`
	RecvWindowSeconds        int    `yaml:"recv_window_seconds"`
	HeartbeatIntervalMinutes int    `yaml:"heartbeat_interval_minutes"`
	TimeSyncIntervalMinutes  int    `yaml:"time_sync_interval_minutes"` // 0 disables periodic resync
	FaultEscalationThreshold int    `yaml:"fault_escalation_threshold"`
	LogDirectory             string `yaml:"log_directory"`
	JournalDirectory         string `yaml:"journal_directory"`
}

type EmailConfig struct {
	Enabled  bool   `yaml:"enabled"`
	SMTPHost string `yaml:"smtp_host"`
	SMTPPort int    `yaml:"smtp_port"`
	From     string `yaml:"from"`
	To       string `yaml:"to"`
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	ChatID  string `yaml:"chat_id"`
}

// NotifyConfig selects the notification channels.
type NotifyConfig struct {
	Email    *EmailConfig    `yaml:"email"`
	Telegram *TelegramConfig `yaml:"telegram"`
}

// JournalConfig selects where trade events are recorded.
type JournalConfig struct {
	Driver string `yaml:"driver"` // "file", "postgres" or "none"
}

// SimulationConfig drives the paper-trading client.
type SimulationConfig struct {
	InitialPrice float64 `yaml:"initial_price"`
	Volatility   float64 `yaml:"volatility"`
	ContractSize float64 `yaml:"contract_size"`
	Spread       float64 `yaml:"spread"`
	StepSeconds  int     `yaml:"step_seconds"` // price update interval, default 1
}

// Config is the top-level configuration structure.
type Config struct {
	Symbol          string            `yaml:"symbol"`
	Volume          float64           `yaml:"volume"`
	OrderTag        string            `yaml:"order_tag"`
	UseSimulation   bool              `yaml:"use_simulation"`
	Timeframe       string            `yaml:"timeframe"`
	HigherTimeframe string            `yaml:"higher_timeframe"`
	BarsCount       int               `yaml:"bars_count"`
	HTFBarsCount    int               `yaml:"htf_bars_count"`
	Indicators      *IndicatorConfig  `yaml:"indicators"`
	Protection      *ProtectionConfig `yaml:"protection"`
	Entry           *EntryConfig      `yaml:"entry"`
	Normal          *NormalConfig     `yaml:"normal_config"`
	Logs            *LogConfig        `yaml:"logs"`
	Notify          *NotifyConfig     `yaml:"notify"`
	Journal         *JournalConfig    `yaml:"journal"`
	Simulation      *SimulationConfig `yaml:"simulation"`
}

// NewConfig creates a new Config with nested blocks allocated and only safe,
// non-strategy defaults filled in. Strategy parameters must come from the file.
func NewConfig() *Config {
	return &Config{
		Timeframe:       "1m",
		HigherTimeframe: "5m",
		BarsCount:       100,
		HTFBarsCount:    50,
		Indicators:      &IndicatorConfig{},
		Protection:      &ProtectionConfig{},
		Entry:           &EntryConfig{},
		Normal: &NormalConfig{
			FaultEscalationThreshold: 3,
		},
		Logs:       &LogConfig{},
		Notify:     &NotifyConfig{Email: &EmailConfig{}, Telegram: &TelegramConfig{}},
		Journal:    &JournalConfig{Driver: "file"},
		Simulation: &SimulationConfig{},
	}
}

// LoadConfig loads configuration from a given path, applies defaults, and validates it.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("Error: Config file not found at %s. Program cannot run without a config file", path)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults of NewConfig and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := NewConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal yaml: %w", err)
	}
	cfg.fillNilBlocks()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// fillNilBlocks re-allocates blocks explicitly set to null in the file.
func (c *Config) fillNilBlocks() {
	d := NewConfig()
	if c.Indicators == nil {
		c.Indicators = d.Indicators
	}
	if c.Protection == nil {
		c.Protection = d.Protection
	}
	if c.Entry == nil {
		c.Entry = d.Entry
	}
	if c.Normal == nil {
		c.Normal = d.Normal
	}
	if c.Logs == nil {
		c.Logs = d.Logs
	}
	if c.Notify == nil {
		c.Notify = d.Notify
	}
	if c.Notify.Email == nil {
		c.Notify.Email = d.Notify.Email
	}
	if c.Notify.Telegram == nil {
		c.Notify.Telegram = d.Notify.Telegram
	}
	if c.Journal == nil {
		c.Journal = d.Journal
	}
	if c.Simulation == nil {
		c.Simulation = d.Simulation
	}
}

// Validate checks the logical consistency and completeness of the entire configuration.
func (c *Config) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("Critical config missing: 'symbol' must be explicitly specified in config.yaml")
	}
	if c.Volume <= 0 {
		return fmt.Errorf("Critical config missing: 'volume' must be explicitly specified in config.yaml and be positive")
	}
	if c.OrderTag == "" {
		return fmt.Errorf("Critical config missing: 'order_tag' must be explicitly specified in config.yaml")
	}
	if len(c.OrderTag) > 8 || strings.ContainsAny(c.OrderTag, "- ") {
		return fmt.Errorf("Config error: order_tag must be at most 8 characters without '-' or spaces")
	}
	if c.Timeframe == "" || c.HigherTimeframe == "" {
		return fmt.Errorf("Critical config missing: 'timeframe' and 'higher_timeframe' must be specified")
	}
	if c.Timeframe == c.HigherTimeframe {
		return fmt.Errorf("Config error: higher_timeframe must differ from timeframe")
	}

	ind := c.Indicators
	if ind.EMAFast <= 0 || ind.EMASlow <= 0 || ind.RSIPeriod <= 0 {
		return fmt.Errorf("Critical config missing: 'indicators.ema_fast', 'indicators.ema_slow' and 'indicators.rsi_period' must be positive")
	}
	if ind.EMAFast >= ind.EMASlow {
		return fmt.Errorf("Config error: indicators.ema_fast (%d) must be smaller than indicators.ema_slow (%d)", ind.EMAFast, ind.EMASlow)
	}
	if ind.RSIOverbought <= 0 || ind.RSIOverbought > 100 || ind.RSIOversold < 0 || ind.RSIOversold >= 100 {
		return fmt.Errorf("Config error: indicators.rsi_overbought and indicators.rsi_oversold must lie within 0..100")
	}
	if ind.TrendDeadBand < 0 {
		return fmt.Errorf("Config error: indicators.trend_dead_band cannot be negative")
	}
	if c.BarsCount < 2 {
		return fmt.Errorf("Config error: bars_count must be at least 2")
	}
	if c.HTFBarsCount < 2 {
		return fmt.Errorf("Config error: htf_bars_count must be at least 2")
	}

	p := c.Protection
	if p.StopDistance <= 0 || p.TakeProfitDistance <= 0 {
		return fmt.Errorf("Critical config missing: 'protection.stop_distance' and 'protection.take_profit_distance' must be positive")
	}
	if p.BreakEvenTrigger <= 0 || p.TrailStep <= 0 {
		return fmt.Errorf("Critical config missing: 'protection.break_even_trigger' and 'protection.trail_step' must be positive")
	}
	if p.PointValue <= 0 {
		return fmt.Errorf("Critical config missing: 'protection.point_value' must be positive (account profit per 1.0 price move of the configured volume)")
	}
	if p.TickSize < 0 {
		return fmt.Errorf("Config error: protection.tick_size cannot be negative")
	}
	if p.MaxTradeMinutes <= 0 {
		return fmt.Errorf("Critical config missing: 'protection.max_trade_minutes' must be positive")
	}
	if c.Entry.MaxNotional < 0 {
		return fmt.Errorf("Config error: entry.max_notional cannot be negative")
	}

	n := c.Normal
	if n.PollIntervalSeconds <= 0 {
		return fmt.Errorf("Critical config missing: 'normal_config.poll_interval_seconds' must be positive")
	}
	if n.HTTPTimeoutSeconds <= 0 {
		return fmt.Errorf("Critical config missing: 'normal_config.http_timeout_seconds' must be positive")
	}
	if n.RecvWindowSeconds <= 0 {
		return fmt.Errorf("Critical config missing: 'normal_config.recv_window_seconds' must be positive")
	}
	if n.HeartbeatIntervalMinutes <= 0 {
		return fmt.Errorf("Critical config missing: 'normal_config.heartbeat_interval_minutes' must be positive")
	}
	if n.TimeSyncIntervalMinutes < 0 {
		return fmt.Errorf("Config error: normal_config.time_sync_interval_minutes cannot be negative")
	}
	if n.FaultEscalationThreshold <= 0 {
		return fmt.Errorf("Config error: normal_config.fault_escalation_threshold must be positive")
	}
	if n.LogDirectory == "" {
		return fmt.Errorf("Critical config missing: 'normal_config.log_directory' must be explicitly specified in config.yaml (e.g., 'logs')")
	}

	if c.Logs.LogLevel == "" {
		return fmt.Errorf("Critical config missing: 'logs.log_level' must be explicitly specified in config.yaml (e.g., 'info', 'debug', 'warn', 'error')")
	}
	if c.Logs.MaxSizeMB <= 0 || c.Logs.MaxBackups <= 0 || c.Logs.MaxAgeDays <= 0 {
		return fmt.Errorf("Critical config missing: 'logs.max_size_mb', 'logs.max_backups' and 'logs.max_age_days' must be positive")
	}

	if e := c.Notify.Email; e.Enabled {
		if e.SMTPHost == "" || e.SMTPPort <= 0 || e.From == "" || e.To == "" {
			return fmt.Errorf("Config error: notify.email requires smtp_host, smtp_port, from and to when enabled")
		}
	}
	if t := c.Notify.Telegram; t.Enabled && t.ChatID == "" {
		return fmt.Errorf("Config error: notify.telegram.chat_id is required when telegram is enabled")
	}

	switch c.Journal.Driver {
	case "none":
	case "file":
		if n.JournalDirectory == "" {
			return fmt.Errorf("Critical config missing: 'normal_config.journal_directory' is required for the file journal")
		}
	case "postgres":
	default:
		return fmt.Errorf("Config error: journal.driver must be 'file', 'postgres' or 'none'")
	}

	if c.UseSimulation {
		s := c.Simulation
		if s.InitialPrice <= 0 || s.ContractSize <= 0 {
			return fmt.Errorf("Config error: simulation.initial_price and simulation.contract_size must be positive when use_simulation is true")
		}
		if s.Volatility < 0 || s.Spread < 0 || s.StepSeconds < 0 {
			return fmt.Errorf("Config error: simulation.volatility, simulation.spread and simulation.step_seconds cannot be negative")
		}
	}

	return nil
}

type EnvConfig struct {
	ApiKey           string
	ApiSecret        string
	BaseURL          string
	SMTPPassword     string
	TelegramBotToken string
	PostgresDSN      string
}

func LoadEnvConfig() *EnvConfig {
	return &EnvConfig{
		ApiKey:           os.Getenv("BINANCE_API_KEY"),
		ApiSecret:        os.Getenv("BINANCE_SECRET_KEY"),
		BaseURL:          os.Getenv("BINANCE_FUTURES_BASE_URL"),
		SMTPPassword:     os.Getenv("SMTP_APP_PASSWORD"),
		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		PostgresDSN:      os.Getenv("JOURNAL_POSTGRES_DSN"),
	}
}
