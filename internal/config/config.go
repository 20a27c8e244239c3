package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"oracle-resolver/internal/logging"
)

// EnvPrefix prefixes every environment override, e.g. ORACLE_RESOLVER_DATABASE_DSN.
const EnvPrefix = "ORACLE_RESOLVER"

// Config materialises application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Logging    logging.Config   `mapstructure:"logging"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Ethereum   EthereumConfig   `mapstructure:"ethereum"`
	PriceFeed  PriceFeedConfig  `mapstructure:"pricefeed"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Optimistic OptimisticConfig `mapstructure:"optimistic"`
	Alerting   AlertingConfig   `mapstructure:"alerting"`
	Export     ExportConfig     `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity. An empty DSN runs
// every store in memory.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// SchedulerConfig governs the settlement sweep cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// EthereumConfig covers on-chain feed access.
type EthereumConfig struct {
	RPCURL         string        `mapstructure:"rpc_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// PriceFeedConfig tunes feed reads.
type PriceFeedConfig struct {
	DefaultHeartbeat time.Duration `mapstructure:"default_heartbeat"`
	CacheTTL         time.Duration `mapstructure:"cache_ttl"`
}

// CacheConfig enables the shared Redis round cache when RedisAddr is set.
type CacheConfig struct {
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	KeyPrefix     string `mapstructure:"key_prefix"`
	TLSEnabled    bool   `mapstructure:"tls_enabled"`
}

// OptimisticConfig holds the optimistic oracle deployment and economics.
// Amounts are decimal strings in whole currency units.
type OptimisticConfig struct {
	OracleAddress    string        `mapstructure:"oracle_address"`
	RequesterAddress string        `mapstructure:"requester_address"`
	Network          string        `mapstructure:"network"`
	Version          string        `mapstructure:"version"`
	Currency         string        `mapstructure:"currency"`
	CurrencyDecimals int32         `mapstructure:"currency_decimals"`
	Reward           string        `mapstructure:"reward"`
	ProposerBond     string        `mapstructure:"proposer_bond"`
	DisputerBond     string        `mapstructure:"disputer_bond"`
	Liveness         time.Duration `mapstructure:"liveness"`
	DisputeWindow    time.Duration `mapstructure:"dispute_window"`
	LedgerTimeout    time.Duration `mapstructure:"ledger_timeout"`
}

// AlertingConfig defines lifecycle notification routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Events   []string       `mapstructure:"events"`
	Channels []string       `mapstructure:"channels"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "oracle-resolver")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")

	v.SetDefault("scheduler.interval", "1m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x6f726163))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("ethereum.rpc_url", "https://polygon-rpc.com")
	v.SetDefault("ethereum.request_timeout", "10s")

	v.SetDefault("pricefeed.default_heartbeat", "1h")
	v.SetDefault("pricefeed.cache_ttl", "30s")

	v.SetDefault("cache.key_prefix", "oracle-resolver")

	v.SetDefault("optimistic.oracle_address", "0x5953f2538F613E05bAED8A5AeFa8e6622467AD3D")
	v.SetDefault("optimistic.requester_address", "0x0000000000000000000000000000000000000000")
	v.SetDefault("optimistic.network", "Polygon")
	v.SetDefault("optimistic.version", "OptimisticOracle V3")
	v.SetDefault("optimistic.currency", "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174")
	v.SetDefault("optimistic.currency_decimals", 6)
	v.SetDefault("optimistic.reward", "10")
	v.SetDefault("optimistic.proposer_bond", "100")
	v.SetDefault("optimistic.disputer_bond", "100")
	v.SetDefault("optimistic.liveness", "2h")
	v.SetDefault("optimistic.dispute_window", "48h")
	v.SetDefault("optimistic.ledger_timeout", "30s")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.events", []string{"proposed", "disputed", "escalated", "settled"})
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.PriceFeed.DefaultHeartbeat < time.Second {
		return fmt.Errorf("pricefeed.default_heartbeat must be at least one second")
	}
	if c.PriceFeed.CacheTTL < 0 {
		return fmt.Errorf("pricefeed.cache_ttl cannot be negative")
	}

	o := c.Optimistic
	for name, addr := range map[string]string{
		"optimistic.oracle_address":    o.OracleAddress,
		"optimistic.requester_address": o.RequesterAddress,
		"optimistic.currency":          o.Currency,
	} {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("%s is not a valid address: %q", name, addr)
		}
	}
	for name, amount := range map[string]string{
		"optimistic.reward":        o.Reward,
		"optimistic.proposer_bond": o.ProposerBond,
		"optimistic.disputer_bond": o.DisputerBond,
	} {
		d, err := decimal.NewFromString(amount)
		if err != nil {
			return fmt.Errorf("%s must be a decimal: %w", name, err)
		}
		if d.IsNegative() {
			return fmt.Errorf("%s cannot be negative", name)
		}
	}
	if o.Liveness <= 0 || o.DisputeWindow <= 0 {
		return fmt.Errorf("optimistic.liveness and optimistic.dispute_window must be greater than zero")
	}

	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	return nil
}

// IsProduction reports whether error details must be hidden from callers.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.App.Environment, "production")
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}

// Amount parses one of the validated optimistic decimal settings.
func Amount(v string) decimal.Decimal {
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero
	}
	return d
}
