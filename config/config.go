package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"vaultdca/native/dca"
)

type Config struct {
	ListenAddress  string `toml:"ListenAddress"`
	MetricsAddress string `toml:"MetricsAddress"`
	DataDir        string `toml:"DataDir"`
	Namespace      string `toml:"Namespace"`

	EpochIntervalSeconds int64  `toml:"EpochIntervalSeconds"`
	AssetToken           string `toml:"AssetToken"`
	TargetToken          string `toml:"TargetToken"`

	AdminAddress  string `toml:"AdminAddress"`
	KeeperAddress string `toml:"KeeperAddress"`

	// Simulator knobs for the reference daemon. SimGrowthBps is applied to
	// the vault share price each keeper tick; SwapRateWad prices the
	// fixed-rate converter.
	SimGrowthBps int64  `toml:"SimGrowthBps"`
	SwapRateWad  string `toml:"SwapRateWad"`

	LogFile       string `toml:"LogFile"`
	LogMaxSizeMB  int    `toml:"LogMaxSizeMB"`
	LogMaxBackups int    `toml:"LogMaxBackups"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the loaded configuration against engine bounds.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ListenAddress) == "" {
		return fmt.Errorf("config: ListenAddress must not be empty")
	}
	if err := dca.ValidateEpochInterval(c.EpochIntervalSeconds); err != nil {
		return fmt.Errorf("config: EpochIntervalSeconds: %w", err)
	}
	if strings.TrimSpace(c.AssetToken) == "" || strings.TrimSpace(c.TargetToken) == "" {
		return fmt.Errorf("config: AssetToken and TargetToken must not be empty")
	}
	if strings.EqualFold(c.AssetToken, c.TargetToken) {
		return fmt.Errorf("config: AssetToken and TargetToken must differ")
	}
	if c.AdminAddress != "" {
		if _, err := ParseAddress(c.AdminAddress); err != nil {
			return fmt.Errorf("config: AdminAddress: %w", err)
		}
	}
	if c.KeeperAddress != "" {
		if _, err := ParseAddress(c.KeeperAddress); err != nil {
			return fmt.Errorf("config: KeeperAddress: %w", err)
		}
	}
	if c.SimGrowthBps <= -10_000 {
		return fmt.Errorf("config: SimGrowthBps would wipe out the share price")
	}
	return nil
}

// ParseAddress decodes a 20-byte hex address, with or without a 0x prefix.
func ParseAddress(raw string) ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return addr, fmt.Errorf("invalid hex address %q: %w", raw, err)
	}
	if len(decoded) != 20 {
		return addr, fmt.Errorf("address %q must be 20 bytes, got %d", raw, len(decoded))
	}
	copy(addr[:], decoded)
	return addr, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":8080"
	}
	if strings.TrimSpace(cfg.MetricsAddress) == "" {
		cfg.MetricsAddress = ":9090"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./dca-data"
	}
	if strings.TrimSpace(cfg.Namespace) == "" {
		cfg.Namespace = "default"
	}
	if cfg.EpochIntervalSeconds == 0 {
		cfg.EpochIntervalSeconds = dca.DefaultEpochInterval
	}
	if strings.TrimSpace(cfg.AssetToken) == "" {
		cfg.AssetToken = dca.DefaultAssetToken
	}
	if strings.TrimSpace(cfg.TargetToken) == "" {
		cfg.TargetToken = dca.DefaultTargetToken
	}
	if strings.TrimSpace(cfg.SwapRateWad) == "" {
		cfg.SwapRateWad = "1000000000000000000"
	}
	if cfg.LogMaxSizeMB == 0 {
		cfg.LogMaxSizeMB = 100
	}
	if cfg.LogMaxBackups == 0 {
		cfg.LogMaxBackups = 3
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	applyDefaults(cfg)
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}
