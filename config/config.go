package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// TokenConfig declares an asset registered at bootstrap.
type TokenConfig struct {
	Symbol   string `toml:"Symbol"`
	Name     string `toml:"Name"`
	Decimals uint8  `toml:"Decimals"`
}

// Allocation seeds an address with native units (used for storage bonds) and
// optional token balances, keyed by registered symbol.
type Allocation struct {
	Address  string            `toml:"Address"`
	Native   uint64            `toml:"Native"`
	Balances map[string]uint64 `toml:"Balances"`
}

type Config struct {
	RPCAddress  string        `toml:"RPCAddress"`
	RPCToken    string        `toml:"RPCToken"`
	DataDir     string        `toml:"DataDir"`
	NetworkName string        `toml:"NetworkName"`
	LogFile     string        `toml:"LogFile"`
	Tokens      []TokenConfig `toml:"Tokens"`
	Allocations []Allocation  `toml:"Allocations"`
}

// Load loads the configuration from the given path. A missing file is
// populated with defaults and written back so a first run is self-describing.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "swapvault-local"
	}
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = ":8080"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./swapvault-data"
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *Config) error {
	seen := make(map[string]struct{}, len(cfg.Tokens))
	for _, token := range cfg.Tokens {
		symbol := strings.ToUpper(strings.TrimSpace(token.Symbol))
		if symbol == "" {
			return fmt.Errorf("config: token with empty symbol")
		}
		if _, dup := seen[symbol]; dup {
			return fmt.Errorf("config: duplicate token symbol %s", symbol)
		}
		seen[symbol] = struct{}{}
	}
	for _, alloc := range cfg.Allocations {
		if strings.TrimSpace(alloc.Address) == "" {
			return fmt.Errorf("config: allocation with empty address")
		}
		for symbol := range alloc.Balances {
			normalized := strings.ToUpper(strings.TrimSpace(symbol))
			if _, ok := seen[normalized]; !ok {
				return fmt.Errorf("config: allocation %s references unknown token %s", alloc.Address, symbol)
			}
		}
	}
	return nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		RPCAddress:  ":8080",
		DataDir:     "./swapvault-data",
		NetworkName: "swapvault-local",
		Tokens:      []TokenConfig{},
		Allocations: []Allocation{},
	}
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
