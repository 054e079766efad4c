package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"fixedlend/crypto"
)

// Config is the lendingd daemon configuration.
type Config struct {
	ListenAddress         string   `toml:"ListenAddress"`
	DataDir               string   `toml:"DataDir"`
	Database              string   `toml:"Database"`
	GatewayConfig         string   `toml:"GatewayConfig"`
	OracleSnapshot        string   `toml:"OracleSnapshot"`
	ExecutorKeystorePath  string   `toml:"ExecutorKeystorePath"`
	ExecutorPassphraseEnv string   `toml:"ExecutorPassphraseEnv"`
	Admins                []string `toml:"Admins"`
	TimelockSeconds       uint64   `toml:"TimelockSeconds"`

	Engine        EngineConfig        `toml:"engine"`
	Markets       []MarketConfig      `toml:"market"`
	Logging       LoggingConfig       `toml:"logging"`
	Observability ObservabilityConfig `toml:"observability"`
	Indexer       IndexerConfig       `toml:"indexer"`
	Webhook       WebhookConfig       `toml:"webhook"`
}

const (
	DatabaseLevelDB = "leveldb"
	DatabaseMemory  = "memory"

	defaultPassphraseEnv = "FIXEDLEND_EXECUTOR_PASSPHRASE"
	defaultWebhookEnv    = "FIXEDLEND_WEBHOOK_SECRET"
)

// Load loads the configuration from the given path, writing a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}

	for _, undecoded := range meta.Undecoded() {
		if len(undecoded) == 1 && undecoded[0] == "AdminKey" {
			return nil, fmt.Errorf("config file %s uses deprecated AdminKey field; move the key into ExecutorKeystorePath", path)
		}
	}

	if err := ensureKeystore(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Database) == "" {
		c.Database = DatabaseLevelDB
	}
	if strings.TrimSpace(c.ExecutorPassphraseEnv) == "" {
		c.ExecutorPassphraseEnv = defaultPassphraseEnv
	}
	if strings.TrimSpace(c.Webhook.SecretEnv) == "" {
		c.Webhook.SecretEnv = defaultWebhookEnv
	}
	if c.Admins == nil {
		c.Admins = []string{}
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
	if strings.TrimSpace(c.Observability.ServiceName) == "" {
		c.Observability.ServiceName = "lendingd"
	}
	if strings.TrimSpace(c.Observability.Environment) == "" {
		c.Observability.Environment = "dev"
	}
}

func ensureKeystore(configPath string, cfg *Config) error {
	keystorePath := cfg.ExecutorKeystorePath
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath)
	}

	if _, err := os.Stat(keystorePath); os.IsNotExist(err) {
		key, genErr := crypto.GeneratePrivateKey()
		if genErr != nil {
			return genErr
		}
		if err := crypto.SaveExecutorKey(keystorePath, key, cfg.PassphraseEnv()); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	if cfg.ExecutorKeystorePath != keystorePath {
		cfg.ExecutorKeystorePath = keystorePath
		return persist(configPath, cfg)
	}

	return nil
}

// PassphraseEnv names the environment variable holding the executor
// keystore passphrase.
func (c *Config) PassphraseEnv() string {
	if env := strings.TrimSpace(c.ExecutorPassphraseEnv); env != "" {
		return env
	}
	return defaultPassphraseEnv
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}

	keystorePath := defaultKeystorePath(path)
	if err := crypto.SaveExecutorKey(keystorePath, key, defaultPassphraseEnv); err != nil {
		return nil, err
	}

	cfg := &Config{
		ListenAddress:        ":8088",
		DataDir:              "./lending-data",
		Database:             DatabaseLevelDB,
		ExecutorKeystorePath: keystorePath,
		Admins:               []string{},
		TimelockSeconds:      uint64(DefaultTimelockSeconds),
		Engine:               DefaultEngineConfig(),
		Markets:              DefaultMarkets(),
	}
	cfg.applyDefaults()

	if err := persist(path, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "executor.keystore")
}
