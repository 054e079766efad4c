package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"fixedlend/crypto"
	"fixedlend/native/lending"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "lendingd.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "lendingd.toml")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":8088", cfg.ListenAddress)
	require.Equal(t, DatabaseLevelDB, cfg.Database)
	require.FileExists(t, path)
	require.FileExists(t, cfg.ExecutorKeystorePath)
	require.Len(t, cfg.Markets, 1)

	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.ExecutorKeystorePath, reloaded.ExecutorKeystorePath)
	require.Equal(t, cfg.Markets, reloaded.Markets)
	require.Equal(t, cfg.Engine, reloaded.Engine)

	key, err := crypto.LoadExecutorKey(reloaded.ExecutorKeystorePath, reloaded.PassphraseEnv())
	require.NoError(t, err)
	require.False(t, key.PubKey().Address().IsZero())
}

func TestLoadParsesMarkets(t *testing.T) {
	path := writeConfig(t, `ListenAddress = "127.0.0.1:9000"
Database = "memory"
TimelockSeconds = 600

[engine]
MaturityIntervalSeconds = 86400
MaxFuturePools = 4
MaxSmartPoolDraw = "0.5"

[[market]]
Symbol = "usdc"
Name = "USD Coin"
Decimals = 6
CollateralFactor = "0.8"

[[market]]
Symbol = "WBTC"
Name = "Wrapped Bitcoin"
Decimals = 8
CollateralFactor = "0.6"
[market.rate_model]
CurveA = "0.06"
PenaltyRatePerDay = "0.01"

[logging]
Level = "debug"

[indexer]
Driver = "sqlite"
DSN = "file::memory:"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9000", cfg.ListenAddress)
	require.Equal(t, DatabaseMemory, cfg.Database)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.Equal(t, "lendingd", cfg.Observability.ServiceName)
	require.Equal(t, int64(600), int64(cfg.Timelock().Seconds()))

	engine, err := cfg.Engine.LendingConfig()
	require.NoError(t, err)
	require.Equal(t, uint64(86400), engine.Calendar.Interval)
	require.Equal(t, uint64(4), engine.Calendar.MaxFuturePools)
	require.Equal(t, "500000000000000000", engine.MaxSmartPoolDraw.String())

	require.Len(t, cfg.Markets, 2)
	require.Equal(t, "USDC", cfg.Markets[0].Asset().Symbol)

	factor, err := cfg.Markets[1].Factor()
	require.NoError(t, err)
	require.Equal(t, "600000000000000000", factor.String())

	model, err := cfg.Markets[1].RateModel.Model()
	require.NoError(t, err)
	require.Equal(t, "60000000000000000", model.CurveA.String())
	require.Equal(t, "10000000000000000", model.Penalty.String())
	require.Equal(t, lending.DefaultCurveModel().CurveB, model.CurveB)

	defaultFactor, err := (MarketConfig{Symbol: "DAI"}).Factor()
	require.NoError(t, err)
	require.Nil(t, defaultFactor)
}

func TestLoadRejectsDeprecatedAdminKey(t *testing.T) {
	path := writeConfig(t, "AdminKey = \"deadbeef\"\n")
	_, err := Load(path)
	require.ErrorContains(t, err, "AdminKey")
}

func TestValidateConfig(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{Database: DatabaseMemory, Engine: DefaultEngineConfig(), Markets: DefaultMarkets()}
		return cfg
	}
	require.NoError(t, ValidateConfig(valid()))

	cases := map[string]func(*Config){
		"database":       func(c *Config) { c.Database = "bolt" },
		"timelock":       func(c *Config) { c.TimelockSeconds = 5 },
		"admin":          func(c *Config) { c.Admins = []string{"not-an-address"} },
		"draw":           func(c *Config) { c.Engine.MaxSmartPoolDraw = "1.5" },
		"duplicate":      func(c *Config) { c.Markets = append(c.Markets, c.Markets[0]) },
		"symbol":         func(c *Config) { c.Markets[0].Symbol = " " },
		"factor":         func(c *Config) { c.Markets[0].CollateralFactor = "1.2" },
		"factor decimal": func(c *Config) { c.Markets[0].CollateralFactor = "0.8x" },
		"curve":          func(c *Config) { c.Markets[0].RateModel.MaxUtilization = "0.9" },
		"decimals":       func(c *Config) { c.Markets[0].Decimals = 40 },
		"indexer":        func(c *Config) { c.Indexer.Driver = "mysql" },
		"webhook":        func(c *Config) { c.Webhook.URL = "ftp://hooks.local" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := valid()
			mutate(cfg)
			require.Error(t, ValidateConfig(cfg))
		})
	}
}

func TestWebhookSecretFromEnv(t *testing.T) {
	t.Setenv("LENDING_TEST_WEBHOOK", " s3cret ")
	hook := WebhookConfig{URL: "https://hooks.local/lending", SecretEnv: "LENDING_TEST_WEBHOOK"}
	require.Equal(t, []byte("s3cret"), hook.Secret())
}
