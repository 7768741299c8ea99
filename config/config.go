package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Settlement holds the clearing engine parameters.
type Settlement struct {
	GracePeriodSeconds    int64  `toml:"GracePeriodSeconds"`
	MaxOracleDelaySeconds int64  `toml:"MaxOracleDelaySeconds"`
	MaxReputation         uint64 `toml:"MaxReputation"`
	InitialReputation     uint64 `toml:"InitialReputation"`
	RegistrationFee       string `toml:"RegistrationFee"`
	Treasury              string `toml:"Treasury"`
}

// Gateway holds the HTTP gateway parameters.
type Gateway struct {
	ListenAddress    string  `toml:"ListenAddress"`
	JWTSecret        string  `toml:"JWTSecret"`
	RateLimitPerSec  float64 `toml:"RateLimitPerSec"`
	RateLimitBurst   int     `toml:"RateLimitBurst"`
	IdempotencyStore string  `toml:"IdempotencyStore"`
}

type Config struct {
	RPCAddress   string     `toml:"RPCAddress"`
	DataDir      string     `toml:"DataDir"`
	Environment  string     `toml:"Environment"`
	LogLevel     string     `toml:"LogLevel"`
	FeedManifest string     `toml:"FeedManifest"`
	Settlement   Settlement `toml:"Settlement"`
	Gateway      Gateway    `toml:"Gateway"`
}

// Load reads the configuration at the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.RPCAddress) == "" {
		c.RPCAddress = ":8545"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./comclear-data"
	}
	if strings.TrimSpace(c.Environment) == "" {
		c.Environment = "local"
	}
	if strings.TrimSpace(c.LogLevel) == "" {
		c.LogLevel = "info"
	}
	if c.Settlement.GracePeriodSeconds <= 0 {
		c.Settlement.GracePeriodSeconds = 24 * 60 * 60
	}
	if c.Settlement.MaxOracleDelaySeconds <= 0 {
		c.Settlement.MaxOracleDelaySeconds = 60 * 60
	}
	if c.Settlement.MaxReputation == 0 {
		c.Settlement.MaxReputation = 100
	}
	if strings.TrimSpace(c.Settlement.RegistrationFee) == "" {
		c.Settlement.RegistrationFee = "0"
	}
	if strings.TrimSpace(c.Gateway.ListenAddress) == "" {
		c.Gateway.ListenAddress = ":8080"
	}
	if c.Gateway.RateLimitPerSec <= 0 {
		c.Gateway.RateLimitPerSec = 50
	}
	if c.Gateway.RateLimitBurst <= 0 {
		c.Gateway.RateLimitBurst = 100
	}
	if strings.TrimSpace(c.Gateway.IdempotencyStore) == "" {
		c.Gateway.IdempotencyStore = filepath.Join(c.DataDir, "gateway-idempotency.db")
	}
}

// Validate rejects configurations that cannot be applied.
func (c *Config) Validate() error {
	if _, ok := new(big.Int).SetString(c.Settlement.RegistrationFee, 10); !ok {
		return fmt.Errorf("config: RegistrationFee %q is not a base-10 integer", c.Settlement.RegistrationFee)
	}
	if c.Settlement.InitialReputation > c.Settlement.MaxReputation {
		return fmt.Errorf("config: InitialReputation %d exceeds MaxReputation %d",
			c.Settlement.InitialReputation, c.Settlement.MaxReputation)
	}
	if fee := c.RegistrationFee(); fee.Sign() < 0 {
		return fmt.Errorf("config: RegistrationFee must not be negative")
	}
	return nil
}

// RegistrationFee parses the configured fee. Validate guarantees the string
// decodes, so a zero value is returned on any residual parse failure.
func (c *Config) RegistrationFee() *big.Int {
	fee, ok := new(big.Int).SetString(c.Settlement.RegistrationFee, 10)
	if !ok {
		return big.NewInt(0)
	}
	return fee
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.Settlement.InitialReputation = 50

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
