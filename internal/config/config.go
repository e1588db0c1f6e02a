package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"time"

	"github.com/cmwaters/verdict/database"
	"github.com/cmwaters/verdict/tally"
	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type ctxKey string

const configContextKey ctxKey = "verdict.config"

// EnvPrefix prefixes every environment override, e.g. VERDICT_BIND_ADDR.
const EnvPrefix = "verdict"

func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configContextKey, cfg)
}

func FromContext(ctx context.Context) *Config {
	cfg, ok := ctx.Value(configContextKey).(*Config)
	if !ok {
		return nil
	}
	return cfg
}

const (
	LedgerFungible    = "fungible"
	LedgerNonFungible = "non-fungible"
)

// LedgerConfig seeds an in-memory weight source.
type LedgerConfig struct {
	Address string `yaml:"address"`
	Kind    string `yaml:"kind"`
	// Balances maps holders to decimal amounts for fungible ledgers.
	Balances map[string]string `yaml:"balances,omitempty"`
	// Tokens maps token ids to owners for non-fungible ledgers.
	Tokens map[uint64]string `yaml:"tokens,omitempty"`
}

// TargetConfig routes calls for a target address to an HTTP endpoint.
type TargetConfig struct {
	Address string `yaml:"address"`
	URL     string `yaml:"url"`
}

type Config struct {
	DataDir          string        `yaml:"dataDir"          split_words:"true"`
	StorePlugin      string        `yaml:"storePlugin"      split_words:"true"`
	PostgresDSN      string        `yaml:"postgresDsn"      envconfig:"POSTGRES_DSN"`
	BindAddr         string        `yaml:"bindAddr"         split_words:"true"`
	MetricsAddr      string        `yaml:"metricsAddr"      split_words:"true"`
	P2PListen        []string      `yaml:"p2pListen"        envconfig:"P2P_LISTEN"`
	P2PBootstrap     []string      `yaml:"p2pBootstrap"     envconfig:"P2P_BOOTSTRAP"`
	Topic            string        `yaml:"topic"`
	MajorityDuration time.Duration `yaml:"majorityDuration" split_words:"true"`
	MinDuration      time.Duration `yaml:"minDuration"      split_words:"true"`
	QuorumBasis      string        `yaml:"quorumBasis"      split_words:"true"`

	Ledgers []LedgerConfig `yaml:"ledgers" ignored:"true"`
	Targets []TargetConfig `yaml:"targets" ignored:"true"`
}

func defaultConfig() *Config {
	return &Config{
		DataDir:          ".verdict",
		StorePlugin:      database.PluginSqlite,
		BindAddr:         "127.0.0.1:8545",
		MetricsAddr:      "127.0.0.1:12798",
		Topic:            "verdict",
		MajorityDuration: 72 * time.Hour,
		QuorumBasis:      tally.QuorumParticipation.String(),
	}
}

// LoadConfig reads defaults, then the YAML file if given, then a .env file
// in the working directory, then VERDICT_* environment variables.
func LoadConfig(configFile string) (*Config, error) {
	cfg := defaultConfig()
	if configFile != "" {
		buf, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if err := yaml.Unmarshal(buf, cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env: %w", err)
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("error processing environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if !slices.Contains(database.Plugins, c.StorePlugin) {
		return fmt.Errorf("unknown store plugin %q, have %v", c.StorePlugin, database.Plugins)
	}
	if c.StorePlugin == database.PluginPostgres && c.PostgresDSN == "" {
		return errors.New("postgres store requires postgresDsn")
	}
	if _, err := tally.ParseQuorumBasis(c.QuorumBasis); err != nil {
		return err
	}
	if c.MajorityDuration < c.MinDuration {
		return fmt.Errorf("majority duration %s below minimum %s", c.MajorityDuration, c.MinDuration)
	}
	for _, l := range c.Ledgers {
		if !common.IsHexAddress(l.Address) {
			return fmt.Errorf("ledger address %q is not an address", l.Address)
		}
		if l.Kind != LedgerFungible && l.Kind != LedgerNonFungible {
			return fmt.Errorf("ledger %s: unknown kind %q", l.Address, l.Kind)
		}
	}
	for _, t := range c.Targets {
		if !common.IsHexAddress(t.Address) {
			return fmt.Errorf("target address %q is not an address", t.Address)
		}
		if t.URL == "" {
			return fmt.Errorf("target %s has no url", t.Address)
		}
	}
	return nil
}
