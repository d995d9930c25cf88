// Package config loads storefront configuration.
//
// Priority (highest to lowest):
//  1. Environment variables with STOREFRONT_ prefix (e.g. STOREFRONT_STORE_DRIVER)
//  2. storefront.yaml in the working directory or /etc/storefront
//  3. Built-in defaults
//
// A .env file, if present, is loaded into the environment first.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/warp/storefront/catalog"
)

const envPrefix = "STOREFRONT"

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config is the full application configuration.
type Config struct {
	App        AppConfig
	HTTP       HTTPConfig
	Log        LogConfig
	Store      StoreConfig
	Chain      ChainConfig
	Storefront StorefrontConfig
	Token      TokenConfig
	RabbitMQ   RabbitMQConfig
	Redis      RedisConfig
	Seed       SeedConfig
}

type AppConfig struct {
	Name string
	Env  string
}

type HTTPConfig struct {
	Addr             string
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	IdleTimeout      time.Duration
	ShutdownTimeout  time.Duration
	CORSAllowOrigins []string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

type StoreConfig struct {
	Driver          string
	SQLitePath      string
	PostgresURL     string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// ChainConfig configures the block clock. A zero Genesis selects a local
// chain, mined every BlockTime when AutoMine is set; otherwise heights
// advance every BlockTime since Genesis.
type ChainConfig struct {
	BlockTime time.Duration
	Genesis   time.Time
	AutoMine  bool
}

type StorefrontConfig struct {
	Owner        string
	Address      string // store account; defaults to Owner
	RefundWindow uint64
	RefundRate   string
}

type TokenConfig struct {
	Domain      string
	Faucet      bool
	FaucetLimit uint64
	Allocations map[string]uint64 // address -> initial balance
}

type RabbitMQConfig struct {
	URL   string
	Queue string
}

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	DedupeTTL time.Duration
}

type SeedConfig struct {
	Path string
}

// Load reads configuration from .env, storefront.yaml and the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("storefront")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/storefront")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
		},
		HTTP: HTTPConfig{
			Addr:             v.GetString("http.addr"),
			ReadTimeout:      v.GetDuration("http.read_timeout"),
			WriteTimeout:     v.GetDuration("http.write_timeout"),
			IdleTimeout:      v.GetDuration("http.idle_timeout"),
			ShutdownTimeout:  v.GetDuration("http.shutdown_timeout"),
			CORSAllowOrigins: v.GetStringSlice("http.cors_allow_origins"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Store: StoreConfig{
			Driver:          strings.ToLower(v.GetString("store.driver")),
			SQLitePath:      v.GetString("store.sqlite_path"),
			PostgresURL:     v.GetString("store.postgres_url"),
			MaxOpenConns:    v.GetInt("store.max_open_conns"),
			MaxIdleConns:    v.GetInt("store.max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("store.conn_max_lifetime"),
		},
		Chain: ChainConfig{
			BlockTime: v.GetDuration("chain.block_time"),
			Genesis:   v.GetTime("chain.genesis"),
			AutoMine:  v.GetBool("chain.auto_mine"),
		},
		Storefront: StorefrontConfig{
			Owner:        v.GetString("storefront.owner"),
			Address:      v.GetString("storefront.address"),
			RefundWindow: v.GetUint64("storefront.refund_window"),
			RefundRate:   v.GetString("storefront.refund_rate"),
		},
		Token: TokenConfig{
			Domain:      v.GetString("token.domain"),
			Faucet:      v.GetBool("token.faucet"),
			FaucetLimit: v.GetUint64("token.faucet_limit"),
			Allocations: allocations(v.GetStringMap("token.allocations")),
		},
		RabbitMQ: RabbitMQConfig{
			URL:   v.GetString("rabbitmq.url"),
			Queue: v.GetString("rabbitmq.queue"),
		},
		Redis: RedisConfig{
			Addr:      v.GetString("redis.addr"),
			Password:  v.GetString("redis.password"),
			DB:        v.GetInt("redis.db"),
			DedupeTTL: v.GetDuration("redis.dedupe_ttl"),
		},
		Seed: SeedConfig{
			Path: v.GetString("seed.path"),
		},
	}

	if cfg.Storefront.Address == "" {
		cfg.Storefront.Address = cfg.Storefront.Owner
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "storefront")
	v.SetDefault("app.env", "development")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", 10*time.Second)
	v.SetDefault("http.write_timeout", 10*time.Second)
	v.SetDefault("http.idle_timeout", 60*time.Second)
	v.SetDefault("http.shutdown_timeout", 10*time.Second)
	v.SetDefault("http.cors_allow_origins", []string{"*"})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stdout")

	v.SetDefault("store.driver", DriverMemory)
	v.SetDefault("store.sqlite_path", "./data/storefront.db")
	v.SetDefault("store.max_open_conns", 10)
	v.SetDefault("store.max_idle_conns", 5)
	v.SetDefault("store.conn_max_lifetime", 30*time.Minute)

	v.SetDefault("chain.block_time", 12*time.Second)
	v.SetDefault("chain.auto_mine", true)

	v.SetDefault("storefront.refund_window", catalog.DefaultRefundWindow)
	v.SetDefault("storefront.refund_rate", catalog.DefaultRefundRate.String())

	v.SetDefault("token.domain", "storefront-token")
	v.SetDefault("token.faucet", false)
	v.SetDefault("token.faucet_limit", 1000)

	v.SetDefault("rabbitmq.queue", "storefront.events")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.dedupe_ttl", 24*time.Hour)
}

func allocations(raw map[string]any) map[string]uint64 {
	out := make(map[string]uint64, len(raw))
	for addr, value := range raw {
		switch n := value.(type) {
		case int:
			out[addr] = uint64(n)
		case int64:
			out[addr] = uint64(n)
		case uint64:
			out[addr] = n
		case float64:
			out[addr] = uint64(n)
		}
	}
	return out
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	var errs []error

	owner, err := catalog.ParseAddress(c.Storefront.Owner)
	if err != nil {
		errs = append(errs, fmt.Errorf("storefront.owner: %w", err))
	} else if owner.IsZero() {
		errs = append(errs, errors.New("storefront.owner: zero address"))
	}
	if _, err := catalog.ParseAddress(c.Storefront.Address); err != nil {
		errs = append(errs, fmt.Errorf("storefront.address: %w", err))
	}
	if _, err := c.RefundPolicy(); err != nil {
		errs = append(errs, fmt.Errorf("storefront refund policy: %w", err))
	}

	switch c.Store.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Store.SQLitePath == "" {
			errs = append(errs, errors.New("store.sqlite_path is required for the sqlite driver"))
		}
	case DriverPostgres:
		if c.Store.PostgresURL == "" {
			errs = append(errs, errors.New("store.postgres_url is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver: unknown driver %q", c.Store.Driver))
	}

	// A local chain restarts at height 1, below the purchase heights a
	// durable store kept.
	if (c.Store.Driver == DriverSQLite || c.Store.Driver == DriverPostgres) && c.Chain.Genesis.IsZero() {
		errs = append(errs, fmt.Errorf("chain.genesis is required for the %s driver", c.Store.Driver))
	}
	if c.Chain.BlockTime <= 0 {
		errs = append(errs, errors.New("chain.block_time must be positive"))
	}
	if c.Token.Domain == "" {
		errs = append(errs, errors.New("token.domain is required"))
	}
	for addr := range c.Token.Allocations {
		if _, err := catalog.ParseAddress(addr); err != nil {
			errs = append(errs, fmt.Errorf("token.allocations: %w", err))
		}
	}

	return errors.Join(errs...)
}

// RefundPolicy builds the refund policy from the storefront section.
func (c *Config) RefundPolicy() (catalog.RefundPolicy, error) {
	rate, err := decimal.NewFromString(c.Storefront.RefundRate)
	if err != nil {
		return catalog.RefundPolicy{}, err
	}
	p := catalog.RefundPolicy{Window: c.Storefront.RefundWindow, Rate: rate}
	if err := p.Validate(); err != nil {
		return catalog.RefundPolicy{}, err
	}
	return p, nil
}

// IsProduction reports whether the app runs in production.
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}
