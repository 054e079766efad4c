package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"fixedlend/native/lending"
)

// DefaultTimelockSeconds delays proposals queued by non-admin callers.
const DefaultTimelockSeconds = 48 * 60 * 60

// EngineConfig carries the engine-wide tunables. Fractions are decimal
// strings so they convert to fixed point without float rounding.
type EngineConfig struct {
	MaturityIntervalSeconds uint64 `toml:"MaturityIntervalSeconds"`
	MaxFuturePools          uint64 `toml:"MaxFuturePools"`
	MaxSmartPoolDraw        string `toml:"MaxSmartPoolDraw"`
}

// RateModelConfig describes the hyperbolic borrow curve of a market. Empty
// fields fall back to the default curve.
type RateModelConfig struct {
	CurveA            string `toml:"CurveA"`
	CurveB            string `toml:"CurveB"`
	MaxUtilization    string `toml:"MaxUtilization"`
	PenaltyRatePerDay string `toml:"PenaltyRatePerDay"`
	SmartPoolRate     string `toml:"SmartPoolRate"`
}

// MarketConfig lists one market at startup.
type MarketConfig struct {
	Symbol           string          `toml:"Symbol"`
	Name             string          `toml:"Name"`
	Decimals         uint8           `toml:"Decimals"`
	CollateralFactor string          `toml:"CollateralFactor"`
	RateModel        RateModelConfig `toml:"rate_model"`
}

// LoggingConfig controls the slog handler. A non-empty File enables rotated
// file output next to stdout.
type LoggingConfig struct {
	Level      string `toml:"Level"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

type ObservabilityConfig struct {
	ServiceName    string `toml:"ServiceName"`
	Environment    string `toml:"Environment"`
	OTLPEndpoint   string `toml:"OTLPEndpoint"`
	OTLPInsecure   bool   `toml:"OTLPInsecure"`
	MetricsAddress string `toml:"MetricsAddress"`
	// TraceSampleRatio is the share of root traces exported. Zero keeps all.
	TraceSampleRatio float64 `toml:"TraceSampleRatio"`
}

// IndexerConfig selects the SQL sink for lending events. An empty Driver
// disables indexing.
type IndexerConfig struct {
	Driver string `toml:"Driver"`
	DSN    string `toml:"DSN"`
}

// WebhookConfig forwards emitted events to an HTTP endpoint. The signing
// secret is read from the SecretEnv environment variable.
type WebhookConfig struct {
	URL         string   `toml:"URL"`
	SecretEnv   string   `toml:"SecretEnv"`
	Events      []string `toml:"Events"`
	MaxAttempts int      `toml:"MaxAttempts"`
}

// Secret returns the webhook signing secret from the environment.
func (w WebhookConfig) Secret() []byte {
	return []byte(strings.TrimSpace(os.Getenv(w.SecretEnv)))
}

// DefaultEngineConfig mirrors lending.DefaultConfig.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MaturityIntervalSeconds: lending.DefaultMaturityInterval,
		MaxFuturePools:          lending.DefaultMaxFuturePools,
		MaxSmartPoolDraw:        "1",
	}
}

// DefaultMarkets lists a single six-decimal stablecoin market on the default
// curve.
func DefaultMarkets() []MarketConfig {
	return []MarketConfig{{
		Symbol:           "USDC",
		Name:             "USD Coin",
		Decimals:         6,
		CollateralFactor: "0.8",
		RateModel: RateModelConfig{
			CurveA:            "0.0495",
			CurveB:            "-0.025",
			MaxUtilization:    "1.1",
			PenaltyRatePerDay: "0.02",
			SmartPoolRate:     "0.1",
		},
	}}
}

// Timelock returns the proposal delay.
func (c *Config) Timelock() time.Duration {
	if c.TimelockSeconds == 0 {
		return DefaultTimelockSeconds * time.Second
	}
	return time.Duration(c.TimelockSeconds) * time.Second
}

// LendingConfig converts the engine section into runtime parameters.
func (e EngineConfig) LendingConfig() (lending.Config, error) {
	cfg := lending.DefaultConfig()
	if e.MaturityIntervalSeconds != 0 {
		cfg.Calendar.Interval = e.MaturityIntervalSeconds
	}
	if e.MaxFuturePools != 0 {
		cfg.Calendar.MaxFuturePools = e.MaxFuturePools
	}
	if strings.TrimSpace(e.MaxSmartPoolDraw) != "" {
		draw, err := lending.ParseWad(e.MaxSmartPoolDraw)
		if err != nil {
			return lending.Config{}, fmt.Errorf("engine.MaxSmartPoolDraw: %w", err)
		}
		cfg.MaxSmartPoolDraw = draw
	}
	if err := cfg.Validate(); err != nil {
		return lending.Config{}, err
	}
	return cfg, nil
}

// Asset returns the asset metadata of the market.
func (m MarketConfig) Asset() lending.Asset {
	return lending.Asset{
		Symbol:   strings.ToUpper(strings.TrimSpace(m.Symbol)),
		Name:     strings.TrimSpace(m.Name),
		Decimals: m.Decimals,
	}
}

// Factor parses the collateral factor. An empty value returns nil so the
// engine default applies.
func (m MarketConfig) Factor() (*big.Int, error) {
	if strings.TrimSpace(m.CollateralFactor) == "" {
		return nil, nil
	}
	factor, err := lending.ParseWad(m.CollateralFactor)
	if err != nil {
		return nil, fmt.Errorf("market %s CollateralFactor: %w", m.Symbol, err)
	}
	if err := lending.ValidateCollateralFactor(factor); err != nil {
		return nil, fmt.Errorf("market %s: %w", m.Symbol, err)
	}
	return factor, nil
}

// Model builds the market's rate curve.
func (r RateModelConfig) Model() (*lending.CurveModel, error) {
	model := lending.DefaultCurveModel()
	fields := []struct {
		name  string
		value string
		dst   **big.Int
	}{
		{"CurveA", r.CurveA, &model.CurveA},
		{"CurveB", r.CurveB, &model.CurveB},
		{"MaxUtilization", r.MaxUtilization, &model.MaxUtilization},
		{"PenaltyRatePerDay", r.PenaltyRatePerDay, &model.Penalty},
		{"SmartPoolRate", r.SmartPoolRate, &model.SmartPoolShare},
	}
	for _, field := range fields {
		if strings.TrimSpace(field.value) == "" {
			continue
		}
		parsed, err := lending.ParseWad(field.value)
		if err != nil {
			return nil, fmt.Errorf("rate_model.%s: %w", field.name, err)
		}
		*field.dst = parsed
	}
	if err := model.Validate(); err != nil {
		return nil, err
	}
	return model, nil
}
