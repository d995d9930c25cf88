package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/storefront/catalog"
)

const owner = "0x00000000000000000000000000000000000000aa"

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "storefront", cfg.App.Name)
	assert.Equal(t, "development", cfg.App.Env)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 10*time.Second, cfg.HTTP.ShutdownTimeout)
	assert.Equal(t, []string{"*"}, cfg.HTTP.CORSAllowOrigins)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, DriverMemory, cfg.Store.Driver)
	assert.Equal(t, 12*time.Second, cfg.Chain.BlockTime)
	assert.True(t, cfg.Chain.Genesis.IsZero())
	assert.True(t, cfg.Chain.AutoMine)
	assert.Equal(t, uint64(100), cfg.Storefront.RefundWindow)
	assert.Equal(t, "0.8", cfg.Storefront.RefundRate)
	assert.Equal(t, "storefront-token", cfg.Token.Domain)
	assert.False(t, cfg.Token.Faucet)
	assert.Equal(t, "storefront.events", cfg.RabbitMQ.Queue)
	assert.Equal(t, 24*time.Hour, cfg.Redis.DedupeTTL)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("STOREFRONT_APP_ENV", "production")
	t.Setenv("STOREFRONT_HTTP_ADDR", ":9090")
	t.Setenv("STOREFRONT_STORE_DRIVER", "SQLite")
	t.Setenv("STOREFRONT_STORE_SQLITE_PATH", "/tmp/shop.db")
	t.Setenv("STOREFRONT_CHAIN_BLOCK_TIME", "2s")
	t.Setenv("STOREFRONT_CHAIN_GENESIS", "2025-01-01T00:00:00Z")
	t.Setenv("STOREFRONT_STOREFRONT_OWNER", owner)
	t.Setenv("STOREFRONT_STOREFRONT_REFUND_WINDOW", "50")
	t.Setenv("STOREFRONT_STOREFRONT_REFUND_RATE", "0.5")
	t.Setenv("STOREFRONT_TOKEN_FAUCET", "true")
	t.Setenv("STOREFRONT_TOKEN_ALLOCATIONS", `{"`+owner+`": 1000}`)
	t.Setenv("STOREFRONT_REDIS_DB", "3")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, DriverSQLite, cfg.Store.Driver)
	assert.Equal(t, "/tmp/shop.db", cfg.Store.SQLitePath)
	assert.Equal(t, 2*time.Second, cfg.Chain.BlockTime)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), cfg.Chain.Genesis.UTC())
	assert.Equal(t, owner, cfg.Storefront.Owner)
	assert.Equal(t, owner, cfg.Storefront.Address, "store account defaults to the owner")
	assert.Equal(t, uint64(50), cfg.Storefront.RefundWindow)
	assert.True(t, cfg.Token.Faucet)
	assert.Equal(t, map[string]uint64{owner: 1000}, cfg.Token.Allocations)
	assert.Equal(t, 3, cfg.Redis.DB)

	require.NoError(t, cfg.Validate())
	policy, err := cfg.RefundPolicy()
	require.NoError(t, err)
	assert.Equal(t, uint64(50), policy.Window)
	assert.True(t, policy.Rate.Equal(decimal.RequireFromString("0.5")))
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Store:      StoreConfig{Driver: DriverMemory},
			Chain:      ChainConfig{BlockTime: time.Second},
			Storefront: StorefrontConfig{Owner: owner, Address: owner, RefundWindow: 100, RefundRate: "0.8"},
			Token:      TokenConfig{Domain: "test"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing owner", mutate: func(c *Config) { c.Storefront.Owner = "" }, wantErr: "storefront.owner"},
		{name: "zero owner", mutate: func(c *Config) { c.Storefront.Owner = string(catalog.ZeroAddress) }, wantErr: "zero address"},
		{name: "bad store address", mutate: func(c *Config) { c.Storefront.Address = "0x12" }, wantErr: "storefront.address"},
		{name: "rate above one", mutate: func(c *Config) { c.Storefront.RefundRate = "1.5" }, wantErr: "refund rate"},
		{name: "rate not a number", mutate: func(c *Config) { c.Storefront.RefundRate = "most" }, wantErr: "refund policy"},
		{name: "zero refund window", mutate: func(c *Config) { c.Storefront.RefundWindow = 0 }, wantErr: "refund window"},
		{name: "sqlite without genesis", mutate: func(c *Config) {
			c.Store = StoreConfig{Driver: DriverSQLite, SQLitePath: "shop.db"}
		}, wantErr: "chain.genesis"},
		{name: "postgres without genesis", mutate: func(c *Config) {
			c.Store = StoreConfig{Driver: DriverPostgres, PostgresURL: "postgres://localhost/shop"}
		}, wantErr: "chain.genesis"},
		{name: "sqlite with genesis", mutate: func(c *Config) {
			c.Store = StoreConfig{Driver: DriverSQLite, SQLitePath: "shop.db"}
			c.Chain.Genesis = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		}},
		{name: "unknown driver", mutate: func(c *Config) { c.Store.Driver = "mysql" }, wantErr: "unknown driver"},
		{name: "postgres without url", mutate: func(c *Config) { c.Store.Driver = DriverPostgres }, wantErr: "postgres_url"},
		{name: "sqlite without path", mutate: func(c *Config) { c.Store.Driver = DriverSQLite }, wantErr: "sqlite_path"},
		{name: "zero block time", mutate: func(c *Config) { c.Chain.BlockTime = 0 }, wantErr: "block_time"},
		{name: "empty domain", mutate: func(c *Config) { c.Token.Domain = "" }, wantErr: "token.domain"},
		{name: "bad allocation", mutate: func(c *Config) { c.Token.Allocations = map[string]uint64{"bob": 1} }, wantErr: "token.allocations"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
