package config

// Package config handles configuration loading for the NeuroX OMS.
// It supports YAML config files with environment variable overrides.

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/neuroxhq/neurox-oms/pkg/models"
)

// Config represents the complete pipeline configuration.
type Config struct {
	State   StateConfig   `mapstructure:"state"   yaml:"state"`
	Risk    RiskConfig    `mapstructure:"risk"    yaml:"risk"`
	Gate    GateConfig    `mapstructure:"gate"    yaml:"gate"`
	Broker  BrokerConfig  `mapstructure:"broker"  yaml:"broker"`
	OMS     OMSConfig     `mapstructure:"oms"     yaml:"oms"`
	Alerts  AlertsConfig  `mapstructure:"alerts"  yaml:"alerts"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// StateConfig locates the shared state directory.
type StateConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// RiskConfig holds the hard greek limits and de-risk planner settings.
type RiskConfig struct {
	MaxAbsDelta         float64 `mapstructure:"max_abs_delta"          yaml:"max_abs_delta"`
	MaxAbsGamma         float64 `mapstructure:"max_abs_gamma"          yaml:"max_abs_gamma"`
	MaxAbsVega          float64 `mapstructure:"max_abs_vega"           yaml:"max_abs_vega"`
	BufferPct           float64 `mapstructure:"buffer_pct"             yaml:"buffer_pct"`
	MaxContractsToClose int     `mapstructure:"max_contracts_to_close" yaml:"max_contracts_to_close"`
	DefaultIV           float64 `mapstructure:"default_iv"             yaml:"default_iv"`
	RiskFreeRate        float64 `mapstructure:"risk_free_rate"         yaml:"risk_free_rate"`
	AccountEquity       float64 `mapstructure:"account_equity"         yaml:"account_equity"`
	MaxDefinedRiskPct   float64 `mapstructure:"max_defined_risk_pct"   yaml:"max_defined_risk_pct"`
	DeriskLoopRounds    int     `mapstructure:"derisk_loop_rounds"     yaml:"derisk_loop_rounds"`
}

// Limits packs the hard limits into the shared model shape.
func (r RiskConfig) Limits() models.Limits {
	return models.Limits{
		MaxAbsDelta: r.MaxAbsDelta,
		MaxAbsGamma: r.MaxAbsGamma,
		MaxAbsVega:  r.MaxAbsVega,
	}
}

// GateConfig holds the pre-trade gateway settings.
type GateConfig struct {
	MaxUnderlierSpreadPct float64          `mapstructure:"max_underlier_spread_pct" yaml:"max_underlier_spread_pct"`
	Candidates            []GateCandidate  `mapstructure:"candidates"               yaml:"candidates"`
}

// GateCandidate is one configured vertical the gateway evaluates.
type GateCandidate struct {
	Name         string  `mapstructure:"name"          yaml:"name"`
	Underlier    string  `mapstructure:"underlier"     yaml:"underlier"`
	IsCall       bool    `mapstructure:"is_call"       yaml:"is_call"`
	KLong        float64 `mapstructure:"k_long"        yaml:"k_long"`
	KShort       float64 `mapstructure:"k_short"       yaml:"k_short"`
	DTEDays      int     `mapstructure:"dte_days"      yaml:"dte_days"`
	QtyRequested int     `mapstructure:"qty_requested" yaml:"qty_requested"`
	IVLong       float64 `mapstructure:"iv_long"       yaml:"iv_long"`
	IVShort      float64 `mapstructure:"iv_short"      yaml:"iv_short"`
	Tag          string  `mapstructure:"tag"           yaml:"tag"`
}

// BrokerConfig holds broker connectivity and live-order guards.
type BrokerConfig struct {
	Mode            string  `mapstructure:"mode"              yaml:"mode"` // "PLAN_ONLY" or "LIVE"
	BaseURL         string  `mapstructure:"base_url"          yaml:"base_url"`
	DataURL         string  `mapstructure:"data_url"          yaml:"data_url"`
	APIKey          string  `mapstructure:"api_key"           yaml:"api_key"`
	APISecret       string  `mapstructure:"api_secret"        yaml:"api_secret"`
	AllowLiveOrders bool    `mapstructure:"allow_live_orders" yaml:"allow_live_orders"`
	LiveLimitPrice  float64 `mapstructure:"live_limit_price"  yaml:"live_limit_price"`
	TimeoutSec      int     `mapstructure:"timeout_sec"       yaml:"timeout_sec"`
}

// ExecMode maps the configured mode string onto the model enum. Anything
// that is not exactly LIVE runs plan-only.
func (b BrokerConfig) ExecMode() models.ExecMode {
	if b.Mode == string(models.Live) {
		return models.Live
	}
	return models.PlanOnly
}

// OMSConfig holds execution-layer settings.
type OMSConfig struct {
	IntentMaxAgeSec int    `mapstructure:"intent_max_age_sec" yaml:"intent_max_age_sec"`
	FillMaxSeconds  int    `mapstructure:"fill_max_seconds"   yaml:"fill_max_seconds"`
	OrderTagPrefix  string `mapstructure:"order_tag_prefix"   yaml:"order_tag_prefix"`
}

// AlertsConfig holds order-status notification settings.
type AlertsConfig struct {
	MinSeverity   string `mapstructure:"min_severity"   yaml:"min_severity"` // YELLOW, ORANGE or RED
	TelegramToken string `mapstructure:"telegram_token" yaml:"telegram_token"`
	TelegramChat  int64  `mapstructure:"telegram_chat"  yaml:"telegram_chat"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `mapstructure:"format" yaml:"format"` // "text" or "json"
}

// Load reads the configuration from file and environment variables.
// Config file search order:
//  1. ./config/config.yaml (project root)
//  2. ~/.neurox/config.yaml (home directory)
//  3. /etc/neurox/config.yaml (system)
//
// Environment variables override config file values.
// Format: NEUROX_<SECTION>_<KEY>, e.g., NEUROX_BROKER_API_KEY. The short
// operational names (STATE_DIR, BROKER_MODE, ...) are also honored.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(filepath.Join(homeDir(), ".neurox"))
	v.AddConfigPath("/etc/neurox")

	v.SetEnvPrefix("NEUROX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found — that's fine, use defaults + env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	overrideFromEnv(&cfg)

	return &cfg, nil
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetEnvPrefix("NEUROX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	overrideFromEnv(&cfg)
	return &cfg, nil
}

// setDefaults sets sensible defaults for all config values.
func setDefaults(v *viper.Viper) {
	// State defaults
	v.SetDefault("state.dir", "state")

	// Risk defaults
	v.SetDefault("risk.max_abs_delta", 200.0)
	v.SetDefault("risk.max_abs_gamma", 10.0)
	v.SetDefault("risk.max_abs_vega", 20000.0)
	v.SetDefault("risk.buffer_pct", 0.90)
	v.SetDefault("risk.max_contracts_to_close", 500)
	v.SetDefault("risk.default_iv", 0.25)
	v.SetDefault("risk.risk_free_rate", 0.04)
	v.SetDefault("risk.account_equity", 100000.0)
	v.SetDefault("risk.max_defined_risk_pct", 0.02)
	v.SetDefault("risk.derisk_loop_rounds", 5)

	// Gate defaults
	v.SetDefault("gate.max_underlier_spread_pct", 1.0)

	// Broker defaults (safety-first)
	v.SetDefault("broker.mode", "PLAN_ONLY")
	v.SetDefault("broker.base_url", "https://paper-api.alpaca.markets")
	v.SetDefault("broker.data_url", "https://data.alpaca.markets")
	v.SetDefault("broker.allow_live_orders", false)
	v.SetDefault("broker.live_limit_price", 0.0)
	v.SetDefault("broker.timeout_sec", 10)

	// OMS defaults
	v.SetDefault("oms.intent_max_age_sec", 300)
	v.SetDefault("oms.fill_max_seconds", 60)
	v.SetDefault("oms.order_tag_prefix", "")

	// Alert defaults
	v.SetDefault("alerts.min_severity", "YELLOW")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// overrideFromEnv reads the short operational variable names the runbooks
// use, plus credentials that must never live in a config file.
func overrideFromEnv(cfg *Config) {
	if dir := os.Getenv("STATE_DIR"); dir != "" {
		cfg.State.Dir = dir
	}
	if mode := os.Getenv("BROKER_MODE"); mode != "" {
		cfg.Broker.Mode = mode
	}
	if v := os.Getenv("ALLOW_LIVE_ORDERS"); v != "" {
		cfg.Broker.AllowLiveOrders = v == "1"
	}
	if v, ok := envFloat("LIVE_LIMIT_PRICE"); ok {
		cfg.Broker.LiveLimitPrice = v
	}
	if v, ok := envInt("OMS_INTENT_MAX_AGE_SEC"); ok {
		cfg.OMS.IntentMaxAgeSec = v
	}
	if v := os.Getenv("ORDER_TAG_PREFIX"); v != "" {
		cfg.OMS.OrderTagPrefix = v
	}
	if v, ok := envFloat("RISK_ACCOUNT_EQUITY"); ok {
		cfg.Risk.AccountEquity = v
	}
	if v, ok := envFloat("RISK_MAX_DEFINED_RISK_PCT"); ok {
		cfg.Risk.MaxDefinedRiskPct = v
	}
	if v, ok := envFloat("RISK_FREE_RATE"); ok {
		cfg.Risk.RiskFreeRate = v
	}
	if v, ok := envFloat("GATE_MAX_UNDERLIER_SPREAD_PCT"); ok {
		cfg.Gate.MaxUnderlierSpreadPct = v
	}
	if key := os.Getenv("ALPACA_API_KEY"); key != "" {
		cfg.Broker.APIKey = key
	}
	if secret := os.Getenv("ALPACA_SECRET_KEY"); secret != "" {
		cfg.Broker.APISecret = secret
	}
	if url := os.Getenv("ALPACA_BASE_URL"); url != "" {
		cfg.Broker.BaseURL = url
	}
	if token := os.Getenv("TELEGRAM_BOT_TOKEN"); token != "" {
		cfg.Alerts.TelegramToken = token
	}
	if chat, ok := envInt("TELEGRAM_CHAT_ID"); ok {
		cfg.Alerts.TelegramChat = int64(chat)
	}
}

func envFloat(name string) (float64, bool) {
	s := os.Getenv(name)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func envInt(name string) (int, bool) {
	s := os.Getenv(name)
	if s == "" {
		return 0, false
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return v, true
}

// homeDir returns the user's home directory.
func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
