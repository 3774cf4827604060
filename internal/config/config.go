package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"fairprice-bot/internal/instrument"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log         LoggingConfig   `yaml:"log"`
	Venue       VenueConfig     `yaml:"venue"`
	REST        RESTConfig      `yaml:"rest"`
	WS          WSConfig        `yaml:"ws"`
	Instruments []string        `yaml:"instruments"`
	Estimator   EstimatorConfig `yaml:"estimator"`
	Sizing      SizingConfig    `yaml:"sizing"`
	Risk        RiskConfig      `yaml:"risk"`
	Pipeline    PipelineConfig  `yaml:"pipeline"`
	State       StateConfig     `yaml:"state"`
	Timescale   TimescaleConfig `yaml:"timescale"`
	Metrics     MetricsConfig   `yaml:"metrics"`
	Telegram    TelegramConfig  `yaml:"telegram"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// VenueConfig selects the order sink and market data source. Name is
// "paper" or "hyperliquid".
type VenueConfig struct {
	Name          string             `yaml:"name"`
	FeeRate       float64            `yaml:"fee_rate"`
	Mainnet       *bool              `yaml:"mainnet"`
	PrivateKey    string             `yaml:"private_key"`
	WalletAddress string             `yaml:"wallet_address"`
	VaultAddress  string             `yaml:"vault_address"`
	PaperBalances map[string]float64 `yaml:"paper_balances"`
	PaperTicks    string             `yaml:"paper_ticks"`
	PaperSpread   float64            `yaml:"paper_spread"`
	TickInterval  time.Duration      `yaml:"tick_interval"`
}

func (v VenueConfig) MainnetValue() bool {
	if v.Mainnet == nil {
		return true
	}
	return *v.Mainnet
}

type RESTConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type WSConfig struct {
	URL            string        `yaml:"url"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	PingInterval   time.Duration `yaml:"ping_interval"`
}

// EstimatorConfig drives the cointegration fair-price estimator. Half-lives
// are in ticks.
type EstimatorConfig struct {
	WindowSize          int     `yaml:"window_size"`
	CointegrationPeriod int     `yaml:"cointegration_period"`
	TrainFraction       float64 `yaml:"train_fraction"`
	MaxPValue           float64 `yaml:"max_p_value"`
	DuplicateCosine     float64 `yaml:"duplicate_cosine"`
	ADFLags             *int    `yaml:"adf_lags"`
	PriceHalfLife       float64 `yaml:"price_half_life"`
	TrendHalfLife       float64 `yaml:"trend_half_life"`
	VolumeHalfLife      float64 `yaml:"volume_half_life"`
	ErrorHalfLife       float64 `yaml:"error_half_life"`
	DisagreementPenalty float64 `yaml:"disagreement_penalty"`
	MaxVolumePenalty    float64 `yaml:"max_volume_penalty"`
}

// ADFLagsValue is the number of lagged differences in the ADF regression.
// Zero is a valid setting; an unset field means one lag.
func (e EstimatorConfig) ADFLagsValue() int {
	if e.ADFLags == nil {
		return 1
	}
	return *e.ADFLags
}

type SizingConfig struct {
	SizeParameter  float64 `yaml:"size_parameter"`
	MinEdgeToEnter float64 `yaml:"min_edge_to_enter"`
	MinEdgeToClose float64 `yaml:"min_edge_to_close"`
	TrendCutoff    float64 `yaml:"trend_cutoff"`
	TrendWindow    int     `yaml:"trend_window"`
	TrendHalfLife  float64 `yaml:"trend_half_life"`
}

type RiskConfig struct {
	MaxOrderNotional    float64 `yaml:"max_order_notional"`
	MaxPositionNotional float64 `yaml:"max_position_notional"`
	MinOrderNotional    float64 `yaml:"min_order_notional"`
}

type PipelineConfig struct {
	TickCapacity   int           `yaml:"tick_capacity"`
	BookCapacity   int           `yaml:"book_capacity"`
	BeliefCapacity int           `yaml:"belief_capacity"`
	OrderRetries   int           `yaml:"order_retries"`
	RetryBackoff   time.Duration `yaml:"retry_backoff"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type TimescaleConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	QueueSize       int           `yaml:"queue_size"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	// RecordBeliefs also journals every published fair value.
	RecordBeliefs bool `yaml:"record_beliefs"`
}

type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

func (m MetricsConfig) EnabledValue() bool {
	if m.Enabled == nil {
		return false
	}
	return *m.Enabled
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  string `yaml:"chat_id"`
	Prefix  string `yaml:"prefix"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	return &cfg, validate(&cfg)
}

// Keys parses Instruments in sorted order.
func (c *Config) Keys() ([]instrument.Key, error) {
	keys := make([]instrument.Key, 0, len(c.Instruments))
	for _, raw := range c.Instruments {
		key, err := instrument.Parse(raw)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	instrument.Sort(keys)
	return keys, nil
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("FP_PRIVATE_KEY")); v != "" {
		cfg.Venue.PrivateKey = v
	}
	if v := strings.TrimSpace(os.Getenv("FP_WALLET_ADDRESS")); v != "" {
		cfg.Venue.WalletAddress = v
	}
	if v := strings.TrimSpace(os.Getenv("FP_TELEGRAM_TOKEN")); v != "" {
		cfg.Telegram.Token = v
	}
	if v := strings.TrimSpace(os.Getenv("FP_TELEGRAM_CHAT_ID")); v != "" {
		cfg.Telegram.ChatID = v
	}
	if v := strings.TrimSpace(os.Getenv("FP_TIMESCALE_DSN")); v != "" {
		cfg.Timescale.DSN = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Venue.Name == "" {
		cfg.Venue.Name = "paper"
	}
	if cfg.Venue.PaperSpread == 0 {
		cfg.Venue.PaperSpread = 0.0005
	}
	if cfg.Venue.TickInterval == 0 {
		cfg.Venue.TickInterval = time.Second
	}
	if cfg.REST.BaseURL == "" {
		cfg.REST.BaseURL = "https://api.hyperliquid.xyz"
	}
	if cfg.REST.Timeout == 0 {
		cfg.REST.Timeout = 10 * time.Second
	}
	if cfg.WS.URL == "" {
		cfg.WS.URL = wsFromREST(cfg.REST.BaseURL)
	}
	if cfg.WS.ReconnectDelay == 0 {
		cfg.WS.ReconnectDelay = 3 * time.Second
	}
	if cfg.WS.PingInterval == 0 {
		cfg.WS.PingInterval = 30 * time.Second
	}

	est := &cfg.Estimator
	if est.WindowSize == 0 {
		est.WindowSize = 200
	}
	if est.CointegrationPeriod == 0 {
		est.CointegrationPeriod = 50
	}
	if est.TrainFraction == 0 {
		est.TrainFraction = 0.7
	}
	if est.MaxPValue == 0 {
		est.MaxPValue = 0.05
	}
	if est.DuplicateCosine == 0 {
		est.DuplicateCosine = 0.95
	}
	if est.ADFLags == nil {
		lags := 1
		est.ADFLags = &lags
	}
	if est.PriceHalfLife == 0 {
		est.PriceHalfLife = 10
	}
	if est.TrendHalfLife == 0 {
		est.TrendHalfLife = 20
	}
	if est.VolumeHalfLife == 0 {
		est.VolumeHalfLife = 50
	}
	if est.ErrorHalfLife == 0 {
		est.ErrorHalfLife = 20
	}
	if est.DisagreementPenalty == 0 {
		est.DisagreementPenalty = 1
	}
	if est.MaxVolumePenalty == 0 {
		est.MaxVolumePenalty = 10
	}

	if cfg.Sizing.SizeParameter == 0 {
		cfg.Sizing.SizeParameter = 100
	}
	if cfg.Sizing.MinEdgeToEnter == 0 {
		cfg.Sizing.MinEdgeToEnter = 0.002
	}
	if cfg.Sizing.MinEdgeToClose == 0 {
		cfg.Sizing.MinEdgeToClose = 0.0005
	}
	if cfg.Sizing.TrendWindow == 0 {
		cfg.Sizing.TrendWindow = 20
	}
	if cfg.Sizing.TrendHalfLife == 0 {
		cfg.Sizing.TrendHalfLife = 5
	}

	if cfg.Pipeline.TickCapacity == 0 {
		cfg.Pipeline.TickCapacity = 64
	}
	if cfg.Pipeline.BookCapacity == 0 {
		cfg.Pipeline.BookCapacity = 1024
	}
	if cfg.Pipeline.BeliefCapacity == 0 {
		cfg.Pipeline.BeliefCapacity = 16
	}
	if cfg.Pipeline.RetryBackoff == 0 {
		cfg.Pipeline.RetryBackoff = 500 * time.Millisecond
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/fairprice-bot.db"
	}
	if cfg.Timescale.Schema == "" {
		cfg.Timescale.Schema = "public"
	}
	if cfg.Timescale.QueueSize == 0 {
		cfg.Timescale.QueueSize = 256
	}
	if cfg.Metrics.Enabled == nil {
		enabled := true
		cfg.Metrics.Enabled = &enabled
	}
	if cfg.Metrics.Address == "" {
		cfg.Metrics.Address = "127.0.0.1:9001"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

func wsFromREST(base string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://") + "/ws"
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://") + "/ws"
	default:
		return "wss://api.hyperliquid.xyz/ws"
	}
}

func validate(cfg *Config) error {
	keys, err := cfg.Keys()
	if err != nil {
		return fmt.Errorf("instruments: %w", err)
	}
	if len(keys) < 2 {
		return errors.New("at least two instruments are required")
	}
	for i := 1; i < len(keys); i++ {
		if keys[i] == keys[i-1] {
			return fmt.Errorf("duplicate instrument %s", keys[i])
		}
	}
	switch cfg.Venue.Name {
	case "paper":
	case "hyperliquid":
		if cfg.Venue.PrivateKey == "" {
			return errors.New("venue.private_key is required for hyperliquid")
		}
	default:
		return fmt.Errorf("unknown venue %q", cfg.Venue.Name)
	}
	if cfg.Venue.FeeRate < 0 {
		return errors.New("venue.fee_rate must be >= 0")
	}
	if cfg.Venue.PaperSpread < 0 || cfg.Venue.PaperSpread >= 1 {
		return errors.New("venue.paper_spread must be in [0, 1)")
	}
	est := cfg.Estimator
	if est.WindowSize < 20 {
		return errors.New("estimator.window_size must be >= 20")
	}
	if est.TrainFraction <= 0 || est.TrainFraction >= 1 {
		return errors.New("estimator.train_fraction must be in (0, 1)")
	}
	if est.MaxPValue <= 0 || est.MaxPValue >= 1 {
		return errors.New("estimator.max_p_value must be in (0, 1)")
	}
	if est.ADFLagsValue() < 0 {
		return fmt.Errorf("estimator.adf_lags must be >= 0, got %d", est.ADFLagsValue())
	}
	if est.CointegrationPeriod <= 0 {
		return errors.New("estimator.cointegration_period must be > 0")
	}
	if est.MaxVolumePenalty < 1 {
		return errors.New("estimator.max_volume_penalty must be >= 1")
	}
	if cfg.Sizing.SizeParameter <= 0 {
		return errors.New("sizing.size_parameter must be > 0")
	}
	if cfg.Sizing.MinEdgeToClose > cfg.Sizing.MinEdgeToEnter {
		return errors.New("sizing.min_edge_to_close exceeds sizing.min_edge_to_enter")
	}
	if cfg.Sizing.TrendWindow < 2 {
		return errors.New("sizing.trend_window must be >= 2")
	}
	if cfg.Risk.MaxOrderNotional > 0 && cfg.Risk.MinOrderNotional > cfg.Risk.MaxOrderNotional {
		return errors.New("risk.min_order_notional exceeds risk.max_order_notional")
	}
	if cfg.Timescale.Enabled && strings.TrimSpace(cfg.Timescale.DSN) == "" {
		return errors.New("timescale.dsn is required when enabled")
	}
	if cfg.Telegram.Enabled && (cfg.Telegram.Token == "" || cfg.Telegram.ChatID == "") {
		return errors.New("telegram token and chat_id are required when enabled")
	}
	return nil
}
