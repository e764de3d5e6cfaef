package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"sourprotocol/native/handshake"
	"sourprotocol/native/treasury"
)

// Config is the on-disk service configuration for sourd.
type Config struct {
	RPCAddress     string `toml:"RPCAddress"`
	MetricsAddress string `toml:"MetricsAddress"`
	DataDir        string `toml:"DataDir"`
	NetworkName    string `toml:"NetworkName"`

	Protocol ProtocolSection `toml:"protocol"`
	Treasury TreasurySection `toml:"treasury"`
}

// ProtocolSection holds the escrow fee parameters applied when the protocol
// config is first initialised.
type ProtocolSection struct {
	Authority        string `toml:"Authority"`
	Treasury         string `toml:"Treasury"`
	KeepersPool      string `toml:"KeepersPool"`
	Commons          string `toml:"Commons"`
	PinchBps         uint32 `toml:"PinchBps"`
	TreasuryShareBps uint32 `toml:"TreasuryShareBps"`
	KeepersShareBps  uint32 `toml:"KeepersShareBps"`
	CommonsShareBps  uint32 `toml:"CommonsShareBps"`
}

// TreasurySection holds the batch engine parameters applied when the treasury
// config is first initialised.
type TreasurySection struct {
	Authority       string `toml:"Authority"`
	BatchThreshold  string `toml:"BatchThreshold"`
	KeeperRewardBps uint32 `toml:"KeeperRewardBps"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the parameter invariants that would otherwise only fail at
// engine initialisation time.
func (c *Config) Validate() error {
	if c.Protocol.PinchBps > handshake.MaxPinchBps {
		return fmt.Errorf("protocol.PinchBps must be at most %d", handshake.MaxPinchBps)
	}
	sum := uint64(c.Protocol.TreasuryShareBps) + uint64(c.Protocol.KeepersShareBps) + uint64(c.Protocol.CommonsShareBps)
	if sum != 10_000 {
		return fmt.Errorf("protocol share rates must sum to 10000 bps, got %d", sum)
	}
	if c.Treasury.KeeperRewardBps > treasury.MaxKeeperRewardBps {
		return fmt.Errorf("treasury.KeeperRewardBps must be at most %d", treasury.MaxKeeperRewardBps)
	}
	if _, err := c.BatchThreshold(); err != nil {
		return err
	}
	return nil
}

// BatchThreshold parses the configured threshold into a big.Int.
func (c *Config) BatchThreshold() (*big.Int, error) {
	raw := strings.TrimSpace(c.Treasury.BatchThreshold)
	if raw == "" {
		return big.NewInt(0), nil
	}
	threshold, ok := new(big.Int).SetString(raw, 10)
	if !ok || threshold.Sign() < 0 {
		return nil, fmt.Errorf("treasury.BatchThreshold must be a non-negative integer, got %q", raw)
	}
	return threshold, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = ":8645"
	}
	if strings.TrimSpace(cfg.MetricsAddress) == "" {
		cfg.MetricsAddress = ":9464"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./sourd-data"
	}
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "sour-local"
	}
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{
		Protocol: ProtocolSection{
			PinchBps:         200,
			TreasuryShareBps: 5_000,
			KeepersShareBps:  3_000,
			CommonsShareBps:  2_000,
		},
		Treasury: TreasurySection{
			BatchThreshold:  "1000000",
			KeeperRewardBps: 50,
		},
	}
	applyDefaults(cfg)
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return toml.NewEncoder(file).Encode(cfg)
}
