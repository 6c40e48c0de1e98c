package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// PollConfig controls the watchlist poll loop.
type PollConfig struct {
	IntervalSec    int `yaml:"interval_sec"`
	ActivityLimit  int `yaml:"activity_limit"`
	RequestDelayMS int `yaml:"request_delay_ms"`
	FetchTimeoutMS int `yaml:"fetch_timeout_ms"`
}

// TradingConfig controls copy-order placement.
type TradingConfig struct {
	OrderTimeoutMS int       `yaml:"order_timeout_ms"`
	MinOrderUSDC   float64   `yaml:"min_order_usdc"`
	SizeDecimals   int       `yaml:"size_decimals"`
	TickSize       float64   `yaml:"tick_size"`
	QuickAmounts   []float64 `yaml:"quick_amounts"` // USD buttons on buy alerts
	OppTTLMins     int       `yaml:"opportunity_ttl_minutes"`
}

// ServerConfig controls the ops HTTP API.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// DataConfig contains persistence settings.
type DataConfig struct {
	Backend string `yaml:"backend"` // "sqlite" or "postgres"
	DBPath  string `yaml:"db_path"`
}

// APIConfig holds venue endpoints.
type APIConfig struct {
	DataAPIURL  string `yaml:"data_api_url"`
	GammaAPIURL string `yaml:"gamma_api_url"`
	ClobAPIURL  string `yaml:"clob_api_url"`
	PolygonRPC  string `yaml:"polygon_rpc"`
	MarketWS    bool   `yaml:"market_ws"` // supplementary price feed
}

// Config aggregates all app configuration knobs.
type Config struct {
	Poll    PollConfig    `yaml:"poll"`
	Trading TradingConfig `yaml:"trading"`
	Server  ServerConfig  `yaml:"server"`
	Data    DataConfig    `yaml:"data"`
	API     APIConfig     `yaml:"api"`
}

// Load reads configuration from disk, falling back to defaults when the file
// is absent.
func Load(path string) (*Config, error) {
	cfg := Default()

	configPath := path
	if configPath == "" {
		configPath = filepath.Join("config", "default.yaml")
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("config: unable to read %s: %w", configPath, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: unable to parse %s: %w", configPath, err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns baseline configuration values.
func Default() Config {
	return Config{
		Poll: PollConfig{
			IntervalSec:    30,
			ActivityLimit:  30,
			RequestDelayMS: 500,
			FetchTimeoutMS: 12000,
		},
		Trading: TradingConfig{
			OrderTimeoutMS: 30000,
			MinOrderUSDC:   1.0,
			SizeDecimals:   2,
			TickSize:       0.01,
			QuickAmounts:   []float64{1, 5, 10, 25, 100},
			OppTTLMins:     60,
		},
		Server: ServerConfig{
			Port: 8081,
		},
		Data: DataConfig{
			Backend: "sqlite",
			DBPath:  "data/copytrader.db",
		},
		API: APIConfig{
			DataAPIURL:  "https://data-api.polymarket.com",
			GammaAPIURL: "https://gamma-api.polymarket.com",
			ClobAPIURL:  "https://clob.polymarket.com",
			PolygonRPC:  "https://polygon-bor-rpc.publicnode.com",
			MarketWS:    false,
		},
	}
}

func (c *Config) applyDefaults() {
	def := Default()

	if c.Poll.IntervalSec == 0 {
		c.Poll.IntervalSec = def.Poll.IntervalSec
	}
	if c.Poll.ActivityLimit == 0 {
		c.Poll.ActivityLimit = def.Poll.ActivityLimit
	}
	if c.Poll.RequestDelayMS == 0 {
		c.Poll.RequestDelayMS = def.Poll.RequestDelayMS
	}
	if c.Poll.FetchTimeoutMS == 0 {
		c.Poll.FetchTimeoutMS = def.Poll.FetchTimeoutMS
	}

	if c.Trading.OrderTimeoutMS == 0 {
		c.Trading.OrderTimeoutMS = def.Trading.OrderTimeoutMS
	}
	if c.Trading.MinOrderUSDC == 0 {
		c.Trading.MinOrderUSDC = def.Trading.MinOrderUSDC
	}
	if c.Trading.SizeDecimals == 0 {
		c.Trading.SizeDecimals = def.Trading.SizeDecimals
	}
	if c.Trading.TickSize == 0 {
		c.Trading.TickSize = def.Trading.TickSize
	}
	if len(c.Trading.QuickAmounts) == 0 {
		c.Trading.QuickAmounts = def.Trading.QuickAmounts
	}
	if c.Trading.OppTTLMins == 0 {
		c.Trading.OppTTLMins = def.Trading.OppTTLMins
	}

	if c.Server.Port == 0 {
		c.Server.Port = def.Server.Port
	}

	if c.Data.Backend == "" {
		c.Data.Backend = def.Data.Backend
	}
	if c.Data.DBPath == "" {
		c.Data.DBPath = def.Data.DBPath
	}

	if c.API.DataAPIURL == "" {
		c.API.DataAPIURL = def.API.DataAPIURL
	}
	if c.API.GammaAPIURL == "" {
		c.API.GammaAPIURL = def.API.GammaAPIURL
	}
	if c.API.ClobAPIURL == "" {
		c.API.ClobAPIURL = def.API.ClobAPIURL
	}
	if c.API.PolygonRPC == "" {
		c.API.PolygonRPC = def.API.PolygonRPC
	}
}

// RequireEnv verifies that the Telegram credentials are present. The private
// key is optional: without it the bot runs in alert-only mode.
func RequireEnv() error {
	var missing []string
	for _, key := range []string{"TELEGRAM_BOT_TOKEN", "TELEGRAM_CHAT_ID"} {
		if os.Getenv(key) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing required environment variables: %v", missing)
	}
	return nil
}

// TradingEnabled reports whether order placement credentials are configured.
func TradingEnabled() bool {
	return os.Getenv("POLYMARKET_PRIVATE_KEY") != ""
}
