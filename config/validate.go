package config

import (
	"fmt"
	"strings"

	"fixedlend/crypto"
)

var (
	MinTimelockSeconds = uint64(60)
	MaxMarketDecimals  = uint8(36)
)

// ValidateConfig checks ranges and parses every fractional parameter once so
// startup fails before anything is listed.
func ValidateConfig(c *Config) error {
	if c == nil {
		return fmt.Errorf("config: nil")
	}
	switch c.Database {
	case DatabaseLevelDB, DatabaseMemory:
	default:
		return fmt.Errorf("config: unknown Database %q", c.Database)
	}
	if c.TimelockSeconds != 0 && c.TimelockSeconds < MinTimelockSeconds {
		return fmt.Errorf("config: TimelockSeconds below %d", MinTimelockSeconds)
	}
	for _, admin := range c.Admins {
		if _, err := crypto.DecodeAddress(strings.TrimSpace(admin)); err != nil {
			return fmt.Errorf("config: admin %q: %w", admin, err)
		}
	}
	if _, err := c.Engine.LendingConfig(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	seen := make(map[string]struct{}, len(c.Markets))
	for _, market := range c.Markets {
		asset := market.Asset()
		if asset.Symbol == "" {
			return fmt.Errorf("config: market symbol required")
		}
		if _, dup := seen[asset.Symbol]; dup {
			return fmt.Errorf("config: market %s listed twice", asset.Symbol)
		}
		seen[asset.Symbol] = struct{}{}
		if asset.Decimals > MaxMarketDecimals {
			return fmt.Errorf("config: market %s decimals above %d", asset.Symbol, MaxMarketDecimals)
		}
		if _, err := market.Factor(); err != nil {
			return fmt.Errorf("config: %w", err)
		}
		if _, err := market.RateModel.Model(); err != nil {
			return fmt.Errorf("config: market %s: %w", asset.Symbol, err)
		}
	}
	switch strings.ToLower(strings.TrimSpace(c.Indexer.Driver)) {
	case "", "postgres", "sqlite":
	default:
		return fmt.Errorf("config: unknown indexer driver %q", c.Indexer.Driver)
	}
	if url := strings.TrimSpace(c.Webhook.URL); url != "" {
		if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
			return fmt.Errorf("config: webhook URL %q must be http(s)", url)
		}
		if c.Webhook.MaxAttempts < 0 {
			return fmt.Errorf("config: webhook MaxAttempts must not be negative")
		}
	}
	return nil
}
